// Package reddit implements the comment-search side of collection against a
// Pushshift-style HTTP/JSON endpoint.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Shinhunjun/nk-coercive-diplomacy-reddit-sub001/collect"
)

// Config carries the endpoint settings for the search client. Zero values
// fall back to the defaults below.
type Config struct {
	BaseURL        string
	PageSize       int
	MaxReplies     int
	PageDelay      time.Duration
	RequestTimeout time.Duration
	UserAgent      string
}

const (
	defaultPageSize       = 100
	defaultMaxReplies     = 5000
	defaultPageDelay      = time.Second
	defaultRequestTimeout = 20 * time.Second
)

// Client pages through the comment-search endpoint one thread at a time.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

var _ collect.SearchClient = (*Client)(nil)

// NewClient builds a search client from configuration.
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("reddit: base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("reddit: invalid base_url: %w", err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxReplies <= 0 {
		cfg.MaxReplies = defaultMaxReplies
	}
	if cfg.PageDelay <= 0 {
		cfg.PageDelay = defaultPageDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
		log:  log,
	}, nil
}

// SearchComments fetches every reply for one thread, newest first, advancing
// a "before" cursor down the created_utc timeline until a page comes back
// empty or the per-thread safety cap is hit. One transport or decode error
// aborts the whole thread; the caller retries it from scratch.
func (c *Client) SearchComments(ctx context.Context, threadID string) ([]collect.RawReply, error) {
	var (
		out    []collect.RawReply
		cursor int64
	)

	for {
		page, err := c.fetchPage(ctx, threadID, cursor)
		if err != nil {
			return nil, fmt.Errorf("thread %s: %w", threadID, err)
		}
		if len(page) == 0 {
			break
		}

		minCreated := page[0].CreatedAt
		for _, r := range page {
			if r.CreatedAt < minCreated {
				minCreated = r.CreatedAt
			}
		}
		out = append(out, page...)

		if len(out) >= c.cfg.MaxReplies {
			c.log.Warn("reply cap reached",
				zap.String("thread_id", threadID),
				zap.Int("cap", c.cfg.MaxReplies))
			out = out[:c.cfg.MaxReplies]
			break
		}
		// A page where every reply shares one timestamp cannot move the
		// cursor; bail out rather than refetch the same page forever.
		if cursor != 0 && minCreated >= cursor {
			c.log.Warn("cursor stalled, stopping early",
				zap.String("thread_id", threadID),
				zap.Int64("cursor", cursor))
			break
		}
		cursor = minCreated

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.PageDelay):
		}
	}
	return out, nil
}

type searchResponse struct {
	Data []wireComment `json:"data"`
}

// wireComment tolerates the loosely typed fields the endpoint is known to
// return: score may be a string or missing, created_utc may be a float.
type wireComment struct {
	ID         string          `json:"id"`
	ParentID   string          `json:"parent_id"`
	Body       string          `json:"body"`
	Score      json.RawMessage `json:"score"`
	CreatedUTC json.Number     `json:"created_utc"`
	LinkID     string          `json:"link_id"`
}

func (w wireComment) toReply(threadID string) collect.RawReply {
	score := 0
	if len(w.Score) > 0 {
		if err := json.Unmarshal(w.Score, &score); err != nil {
			score = 0
		}
	}
	var created int64
	if f, err := w.CreatedUTC.Float64(); err == nil {
		created = int64(f)
	}
	linkID := w.LinkID
	if linkID == "" {
		linkID = threadID
	}
	return collect.RawReply{
		ID:        w.ID,
		ParentID:  w.ParentID,
		Body:      w.Body,
		Score:     score,
		CreatedAt: created,
		ThreadID:  linkID,
	}
}

func (c *Client) fetchPage(ctx context.Context, threadID string, before int64) ([]collect.RawReply, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("link_id", threadID)
	q.Set("size", strconv.Itoa(c.cfg.PageSize))
	q.Set("sort", "desc")
	q.Set("sort_type", "created_utc")
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/reddit/comment/search?" + q.Encode()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search page: %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}

	page := make([]collect.RawReply, 0, len(body.Data))
	for _, w := range body.Data {
		page = append(page, w.toReply(threadID))
	}
	return page, nil
}
