// Package ollama implements client.VisionClient on top of the Ollama API.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog/log"

	"github.com/menta2k/brandimage/pkg/types"
)

// DefaultTimeout bounds a request when the caller's context has no deadline.
const DefaultTimeout = 2 * time.Minute

// Client wraps the Ollama API client
type Client struct {
	client  *api.Client
	timeout time.Duration
}

// NewClient creates a new Ollama client for the server at ollamaURL. Any path
// of the URL, like /api/chat, is ignored.
func NewClient(ollamaURL string) (*Client, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: scheme and host are required", ollamaURL)
	}

	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{
		client:  api.NewClient(baseURL, http.DefaultClient),
		timeout: DefaultTimeout,
	}, nil
}

// SetTimeout changes the timeout applied to requests without a deadline.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SimpleQuery asks prompt about image without expecting JSON back.
func (c *Client) SimpleQuery(ctx context.Context, model, prompt string, image []byte) (string, error) {
	return c.chat(ctx, model, prompt, image, nil)
}

// LocateSubject asks the model for the primary subject of image.
func (c *Client) LocateSubject(ctx context.Context, model, prompt string, image []byte) (*types.SubjectResult, error) {
	// Low temperature keeps the coordinates stable between runs.
	options := map[string]any{
		"temperature": 0.2,
		"num_ctx":     4096,
	}

	content, err := c.chat(ctx, model, prompt, image, options)
	if err != nil {
		return nil, err
	}
	if content == "" {
		return nil, fmt.Errorf("empty response from ollama")
	}
	return ParseSubjectResult(content), nil
}

func (c *Client) chat(ctx context.Context, model, prompt string, image []byte, options map[string]any) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  []api.ImageData{api.ImageData(image)},
			},
		},
		Stream:  &streamFalse,
		Options: options,
	}

	start := time.Now()
	var content strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat error: %w", err)
	}

	log.Debug().
		Str("model", model).
		Dur("elapsed", time.Since(start)).
		Int("response_len", content.Len()).
		Msg("Ollama chat completed")

	return content.String(), nil
}

// noSubject is returned when the model answer cannot be used.
func noSubject(description string) *types.SubjectResult {
	return &types.SubjectResult{
		Primary: types.Subject{
			Label: "none",
			Box:   types.Box{X: 0.25, Y: 0.25, W: 0.5, H: 0.5},
			Cx:    0.5,
			Cy:    0.5,
		},
		Description: description,
		Tags:        []string{"fallback"},
	}
}

// ParseSubjectResult parses the JSON answer of a vision model. Answers
// that are not JSON map to a "none" subject.
func ParseSubjectResult(raw string) *types.SubjectResult {
	raw = sanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "{") {
		return noSubject("model returned non-JSON response")
	}

	var result types.SubjectResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		log.Debug().Err(err).Str("raw", raw).Msg("Unparseable model response")
		return noSubject("failed to parse model response")
	}
	return &result
}

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments, and trailing commas from a
// model answer and keeps only the outermost object.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
