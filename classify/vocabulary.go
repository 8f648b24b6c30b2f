package classify

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Result is the classification outcome for a single record.
type Result struct {
	Label      string
	Confidence float64
	Rationale  string
}

// Vocabulary is the closed set of labels the classification service may
// return, plus the fallback substituted for anything outside the set.
type Vocabulary struct {
	Labels   []string `yaml:"labels"`
	Fallback string   `yaml:"fallback"`
}

// Validate reports configuration problems that should halt before any work.
func (v Vocabulary) Validate() error {
	if len(v.Labels) == 0 {
		return errors.New("vocabulary: no labels configured")
	}
	if strings.TrimSpace(v.Fallback) == "" {
		return errors.New("vocabulary: fallback label is empty")
	}
	for _, l := range v.Labels {
		if strings.TrimSpace(l) == "" {
			return errors.New("vocabulary: empty label")
		}
	}
	return nil
}

// Clamp normalizes a returned label into the vocabulary. Labels are matched
// case-insensitively after trimming; anything else maps to the fallback.
// The second return reports whether the input was inside the vocabulary.
func (v Vocabulary) Clamp(label string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(label))
	for _, l := range v.Labels {
		if strings.ToLower(strings.TrimSpace(l)) == needle {
			return l, true
		}
	}
	return v.Fallback, false
}

// PromptList renders the labels for inclusion in model instructions.
func (v Vocabulary) PromptList() string {
	quoted := make([]string, 0, len(v.Labels))
	for _, l := range v.Labels {
		quoted = append(quoted, `"`+l+`"`)
	}
	return strings.Join(quoted, ", ")
}

// LoadVocabulary reads a vocabulary YAML file.
func LoadVocabulary(path string) (Vocabulary, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("LoadVocabulary: %w", err)
	}
	var v Vocabulary
	if err := yaml.Unmarshal(b, &v); err != nil {
		return Vocabulary{}, fmt.Errorf("LoadVocabulary: unmarshal: %w", err)
	}
	if err := v.Validate(); err != nil {
		return Vocabulary{}, err
	}
	return v, nil
}
