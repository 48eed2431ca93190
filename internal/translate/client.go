// Package translate rewrites cue text into a target language through a
// batch translation backend, preserving cue count, order, and timing.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxsub/subgen/internal/config"
	"github.com/voxsub/subgen/internal/cue"
	"github.com/voxsub/subgen/internal/retry"
)

var (
	// ErrCountMismatch means the backend returned a different number of
	// translations than texts submitted. Never silently truncated or
	// padded.
	ErrCountMismatch = errors.New("translation count mismatch")

	// ErrBackend is a non-transient translation backend failure.
	ErrBackend = errors.New("translation backend error")
)

// transientError marks a failure worth retrying (rate limit, 5xx).
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// IsTransient reports whether err is a retryable backend failure.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Client calls a JSON batch-translation endpoint.
type Client struct {
	url        string
	apiKey     string
	batchChars int
	httpc      *http.Client
	policy     retry.Policy
	log        zerolog.Logger
}

// NewClient creates a translation client from config with the shared retry policy.
func NewClient(cfg config.TranslateConfig, rcfg config.RetryConfig, log zerolog.Logger) *Client {
	return &Client{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		batchChars: cfg.BatchChars,
		httpc:      &http.Client{Timeout: cfg.Timeout},
		policy: retry.Policy{
			MaxAttempts: rcfg.MaxAttempts,
			BaseDelay:   rcfg.BaseDelay,
			Multiplier:  rcfg.Multiplier,
			Retryable:   IsTransient,
		},
		log: log.With().Str("component", "translate").Logger(),
	}
}

type translateRequest struct {
	SourceLanguage string   `json:"source_language"`
	TargetLanguage string   `json:"target_language"`
	Texts          []string `json:"texts"`
}

type translateResponse struct {
	Translations []string `json:"translations"`
}

// Translate returns a new cue sequence with translated text and the
// original timings and indices. Cue count and order are preserved
// exactly; any batch failure fails the whole call so mixed-language
// output is never produced. Calling with sourceLang == targetLang is an
// identity pass.
func (c *Client) Translate(ctx context.Context, cues []cue.Cue, sourceLang, targetLang string) ([]cue.Cue, error) {
	if sourceLang == targetLang || len(cues) == 0 {
		return cues, nil
	}

	translated := make([]string, 0, len(cues))
	for _, batch := range batchCues(cues, c.batchChars) {
		texts := make([]string, len(batch))
		for i, b := range batch {
			texts[i] = b.Text
		}

		out, err := c.translateBatch(ctx, texts, sourceLang, targetLang)
		if err != nil {
			return nil, err
		}
		translated = append(translated, out...)
	}

	if len(translated) != len(cues) {
		return nil, fmt.Errorf("%w: sent %d cues, got %d translations",
			ErrCountMismatch, len(cues), len(translated))
	}

	out := make([]cue.Cue, len(cues))
	for i, c := range cues {
		out[i] = cue.Cue{
			Index: c.Index,
			Start: c.Start,
			End:   c.End,
			Text:  translated[i],
		}
	}
	return out, nil
}

// batchCues groups cues so each batch stays under the character budget.
// A single cue always gets a batch even if it exceeds the budget alone.
func batchCues(cues []cue.Cue, budget int) [][]cue.Cue {
	if budget <= 0 {
		return [][]cue.Cue{cues}
	}

	var batches [][]cue.Cue
	var current []cue.Cue
	chars := 0
	for _, c := range cues {
		n := len([]rune(c.Text))
		if len(current) > 0 && chars+n > budget {
			batches = append(batches, current)
			current = nil
			chars = 0
		}
		current = append(current, c)
		chars += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// translateBatch sends one batch with retry. A response whose length
// differs from the request is ErrCountMismatch, never resized.
func (c *Client) translateBatch(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	var out []string
	call := func() error {
		var err error
		out, err = c.post(ctx, texts, sourceLang, targetLang)
		return err
	}
	if err := c.policy.Do(ctx, call); err != nil {
		if IsTransient(err) {
			return nil, fmt.Errorf("%w: retries exhausted: %v", ErrBackend, err)
		}
		return nil, err
	}

	if len(out) != len(texts) {
		return nil, fmt.Errorf("%w: batch sent %d, got %d", ErrCountMismatch, len(texts), len(out))
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	payload, err := json.Marshal(translateRequest{
		SourceLanguage: sourceLang,
		TargetLanguage: targetLang,
		Texts:          texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &transientError{fmt.Errorf("translate request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &transientError{fmt.Errorf("translate API status %d: %s", resp.StatusCode, body)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrBackend, resp.StatusCode, body)
	}

	var result translateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrBackend, err)
	}

	c.log.Debug().
		Int("texts", len(texts)).
		Dur("duration_ms", time.Since(start)).
		Msg("batch translated")
	return result.Translations, nil
}
