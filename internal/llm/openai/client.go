package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joseph-ayodele/menu-safety/internal/common"
	"github.com/joseph-ayodele/menu-safety/internal/llm"
)

var _ llm.Analyzer = (*Client)(nil)

// Analyze implements llm.Analyzer using text-only chat/completions in JSON mode.
// The returned bytes are the assistant message content, unvalidated.
func (c *Client) Analyze(ctx context.Context, req llm.AnalyzeRequest) ([]byte, error) {
	rid := common.RequestIDFromContext(ctx)
	start := time.Now()

	c.log.Info("llm.analyze.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"allergies", len(req.Allergies),
		"menu_items", len(req.MenuItems),
		"language", req.Language,
	)

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt(req)},
			{"role": "user", "content": llm.BuildUserPrompt(req) + "\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(llm.BuildVerdictJSONSchema())},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.log.Error("llm.analyze.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("llm.analyze.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("llm.analyze.no_choices",
			"req_id", rid,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, errors.New("no choices in openai response")
	}
	content := strings.TrimSpace(cc.Choices[0].Message.Content)

	c.log.Info("llm.analyze.ok",
		"req_id", rid,
		"content_bytes", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return []byte(content), nil
}

// post sends body, retrying with backoff while the provider answers 429/5xx.
func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	backoff := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		raw, err := llm.SendJSON(ctx, c.httpClient, url, body, headers, c.log)
		var se *llm.StatusError
		if err == nil || !errors.As(err, &se) || !se.Retryable() || attempt >= c.cfg.MaxRetries {
			if err != nil {
				return nil, fmt.Errorf("openai: %w", err)
			}
			return raw, nil
		}
		c.log.Warn("llm.analyze.retry", "status", se.Code, "attempt", attempt+1, "backoff_ms", backoff.Milliseconds())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
