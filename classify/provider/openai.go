// Package provider holds the OpenAI-backed implementation of the external
// classification service.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/Shinhunjun/nk-coercive-diplomacy-reddit-sub001/classify"
	"github.com/Shinhunjun/nk-coercive-diplomacy-reddit-sub001/fileutils"
)

// stanceResponse is the only shape the model is allowed to return. The
// schema is enforced server-side via strict structured outputs; the lenient
// decode below is a second line of defense.
type stanceResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

var stanceSchema = generateSchema[stanceResponse]()

// StanceClassifier calls the OpenAI Responses API with a fixed instruction
// block describing the closed label vocabulary.
type StanceClassifier struct {
	client       *openai.Client
	model        string
	instructions string
}

// NewStanceClassifier builds a classifier. The instruction text should name
// every allowed label; see the stance-classifier command for composition.
func NewStanceClassifier(apiKey, model, instructions string) (*StanceClassifier, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("provider: api key is empty")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("provider: model is empty")
	}
	if strings.TrimSpace(instructions) == "" {
		return nil, errors.New("provider: instructions are empty")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &StanceClassifier{client: &client, model: model, instructions: instructions}, nil
}

// Classify sends one comment body and parses the structured response.
// Callers own retry-across-runs semantics; within a call only transient
// rate-limit and server errors are retried.
func (s *StanceClassifier) Classify(ctx context.Context, text string) (classify.Result, error) {
	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        "StanceClassification",
			Schema:      stanceSchema,
			Strict:      openai.Bool(true),
			Description: openai.String("Comment stance classification JSON"),
			Type:        "json_schema",
		},
	}

	params := responses.ResponseNewParams{
		Model:           s.model,
		MaxOutputTokens: openai.Int(500),
		Instructions:    openai.String(s.instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(buildCommentInput(text), responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: format,
		},
	}

	resp, err := callWithRetry(ctx, s.client, params)
	if err != nil {
		return classify.Result{}, err
	}

	var out stanceResponse
	if err := decodeStanceJSON(resp.OutputText(), &out); err != nil {
		return classify.Result{}, fmt.Errorf("unmarshal classification: %w", err)
	}
	return classify.Result{
		Label:      strings.TrimSpace(out.Label),
		Confidence: out.Confidence,
		Rationale:  strings.TrimSpace(out.Rationale),
	}, nil
}

// decodeStanceJSON parses the model's output text into v. Strict structured
// outputs make stray prose rare, but a response wrapped in a code fence or
// preamble still has its first top-level object extracted and decoded.
func decodeStanceJSON(outputText string, v any) error {
	s := strings.TrimSpace(outputText)
	if s == "" {
		return io.ErrUnexpectedEOF
	}
	if json.Unmarshal([]byte(s), v) == nil {
		return nil
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end <= start {
		return fmt.Errorf("no JSON object in model output (len=%d)", len(s))
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("decode extracted JSON: %w", err)
	}
	return nil
}

func buildCommentInput(text string) string {
	var b strings.Builder
	b.WriteString("comment:\n")
	b.WriteString(fileutils.SanitizeNewlines(fileutils.Truncate(text, 8000)))
	b.WriteString("\n")
	return b.String()
}

func callWithRetry(ctx context.Context, client *openai.Client, params responses.ResponseNewParams) (*responses.Response, error) {
	const maxRetries = 3
	rateLimitWaitTimes := []time.Duration{65 * time.Second, 100 * time.Second, 135 * time.Second}
	serverErrorWaitTimes := []time.Duration{5 * time.Second, 30 * time.Second, 60 * time.Second}

	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err := client.Responses.New(ctx, params)
		if err != nil {
			if isRateLimitError(err) {
				if attempt < maxRetries-1 {
					if sleepErr := sleepCtx(ctx, rateLimitWaitTimes[attempt]); sleepErr != nil {
						return nil, sleepErr
					}
					continue
				}
			} else if isServerError(err) {
				if attempt < maxRetries-1 {
					if sleepErr := sleepCtx(ctx, serverErrorWaitTimes[attempt]); sleepErr != nil {
						return nil, sleepErr
					}
					continue
				}
			}
			return nil, err
		}
		return resp, nil
	}
	return nil, fmt.Errorf("failed after %d attempts due to OpenAI API issues", maxRetries)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "server_error")
}

func generateSchema[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)
	schemaObj, err := schemaToMap(schema)
	if err != nil {
		panic(err)
	}
	ensureOpenAICompliance(schemaObj)
	return schemaObj
}

func schemaToMap(schema *jsonschema.Schema) (map[string]interface{}, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

const (
	propertiesKey           = "properties"
	additionalPropertiesKey = "additionalProperties"
	typeKey                 = "type"
	requiredKey             = "required"
	itemsKey                = "items"
)

func ensureOpenAICompliance(schema map[string]interface{}) {
	if schemaType, ok := schema[typeKey].(string); ok && schemaType == "object" {
		schema[additionalPropertiesKey] = false

		if properties, ok := schema[propertiesKey].(map[string]interface{}); ok {
			var requiredFields []string
			for propName := range properties {
				requiredFields = append(requiredFields, propName)
			}
			if len(requiredFields) > 0 {
				schema[requiredKey] = requiredFields
			}
		}
	}

	if properties, ok := schema[propertiesKey].(map[string]interface{}); ok {
		for _, prop := range properties {
			if propMap, ok := prop.(map[string]interface{}); ok {
				ensureOpenAICompliance(propMap)
			}
		}
	}

	if items, ok := schema[itemsKey].(map[string]interface{}); ok {
		ensureOpenAICompliance(items)
	}

	if additionalProps, ok := schema[additionalPropertiesKey].(map[string]interface{}); ok {
		ensureOpenAICompliance(additionalProps)
	}
}
