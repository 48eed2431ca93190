// Package speech submits extracted audio to a speech-to-text backend
// and returns timestamped transcription segments.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxsub/subgen/internal/config"
	"github.com/voxsub/subgen/internal/media"
	"github.com/voxsub/subgen/internal/retry"
)

// Segment is a raw timestamped span of recognized speech.
type Segment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Client calls an OpenAI-compatible /audio/transcriptions endpoint with
// segment-level timestamps. Audio longer than the async threshold is
// submitted as a background task and polled to completion.
type Client struct {
	url            string
	apiKey         string
	model          string
	timeout        time.Duration
	asyncThreshold time.Duration
	pollInterval   time.Duration
	httpc          *http.Client
	policy         retry.Policy
	log            zerolog.Logger
}

// NewClient creates a speech client from config with the shared retry policy.
func NewClient(cfg config.SpeechConfig, rcfg config.RetryConfig, log zerolog.Logger) *Client {
	return &Client{
		url:            cfg.URL,
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		timeout:        cfg.Timeout,
		asyncThreshold: cfg.AsyncThreshold,
		pollInterval:   cfg.PollInterval,
		httpc:          &http.Client{Timeout: cfg.Timeout},
		policy: retry.Policy{
			MaxAttempts: rcfg.MaxAttempts,
			BaseDelay:   rcfg.BaseDelay,
			Multiplier:  rcfg.Multiplier,
			Retryable:   IsTransient,
		},
		log: log.With().Str("component", "speech").Logger(),
	}
}

// transcriptionResult is the backend's verbose_json response body.
type transcriptionResult struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
}

// taskResponse is the 202 body for a background transcription task.
type taskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`

	// Populated once Status is "completed".
	Result *transcriptionResult `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// Transcribe sends the audio to the backend and returns its segments
// sorted by start time. The language tag is validated before any
// network call; zero-duration audio returns an empty sequence without
// one. The overall timeout is all-or-nothing: expiry returns ErrTimeout
// and no partial result.
func (c *Client) Transcribe(ctx context.Context, audio *media.Audio, languageCode string) ([]Segment, error) {
	lang := NormalizeLanguage(languageCode)
	if lang == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, languageCode)
	}

	if audio.Duration == 0 {
		return []Segment{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	background := audio.Duration > c.asyncThreshold.Seconds()

	var status int
	var body []byte
	submit := func() error {
		var err error
		status, body, err = c.submit(ctx, audio.Path, lang, background)
		return err
	}
	if err := c.policy.Do(ctx, submit); err != nil {
		return nil, c.classify(ctx, err)
	}

	var result *transcriptionResult
	switch status {
	case http.StatusOK:
		var r transcriptionResult
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", ErrBackend, err)
		}
		result = &r
	case http.StatusAccepted:
		var task taskResponse
		if err := json.Unmarshal(body, &task); err != nil {
			return nil, fmt.Errorf("%w: decode task response: %v", ErrBackend, err)
		}
		r, err := c.poll(ctx, task.TaskID)
		if err != nil {
			return nil, err
		}
		result = r
	default:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrBackend, status)
	}

	segments := result.Segments
	sort.SliceStable(segments, func(i, j int) bool { return segments[i].Start < segments[j].Start })

	c.log.Debug().
		Int("segments", len(segments)).
		Str("language", lang).
		Float64("audio_duration", audio.Duration).
		Msg("transcription complete")
	return segments, nil
}

// submit POSTs the audio as multipart/form-data. Transient backend
// failures (429, 5xx) come back wrapped for the retry policy; other
// non-2xx statuses are fatal.
func (c *Client) submit(ctx context.Context, audioPath, lang string, background bool) (int, []byte, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: open audio file: %v", ErrBackend, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return 0, nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return 0, nil, fmt.Errorf("copy audio data: %w", err)
	}

	if c.model != "" {
		w.WriteField("model", c.model)
	}
	w.WriteField("language", lang)
	w.WriteField("response_format", "verbose_json")
	w.WriteField("timestamp_granularities[]", "segment")
	if background {
		w.WriteField("background", "true")
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, &transientError{fmt.Errorf("speech request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &transientError{fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return 0, nil, &transientError{fmt.Errorf("speech API status %d: %s", resp.StatusCode, body)}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return 0, nil, fmt.Errorf("%w: status %d: %s", ErrBackend, resp.StatusCode, body)
	}
	return resp.StatusCode, body, nil
}

// poll checks the background task until it completes or ctx expires.
// Transient poll failures are tolerated; the overall deadline converts
// to ErrTimeout.
func (c *Client) poll(ctx context.Context, taskID string) (*transcriptionResult, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: backend accepted task without an id", ErrBackend)
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: task %s", ErrTimeout, taskID)
		case <-ticker.C:
		}

		task, err := c.pollOnce(ctx, taskID)
		if err != nil {
			if IsTransient(err) {
				c.log.Warn().Err(err).Str("task_id", taskID).Msg("poll failed, will retry")
				continue
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: task %s", ErrTimeout, taskID)
			}
			return nil, err
		}

		switch task.Status {
		case "completed":
			if task.Result == nil {
				return nil, fmt.Errorf("%w: task %s completed without result", ErrBackend, taskID)
			}
			return task.Result, nil
		case "failed":
			return nil, fmt.Errorf("%w: task %s: %s", ErrBackend, taskID, task.Error)
		default:
			// queued / processing — keep polling
		}
	}
}

func (c *Client) pollOnce(ctx context.Context, taskID string) (*taskResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("create poll request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transientError{fmt.Errorf("poll request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{fmt.Errorf("read poll response: %w", err)}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &transientError{fmt.Errorf("poll status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: poll status %d: %s", ErrBackend, resp.StatusCode, body)
	}

	var task taskResponse
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("%w: decode poll response: %v", ErrBackend, err)
	}
	return &task, nil
}

// classify maps retry-loop exits onto the package error taxonomy.
func (c *Client) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if IsTransient(err) {
		// Retries exhausted on a transient class.
		return fmt.Errorf("%w: retries exhausted: %v", ErrBackend, err)
	}
	return err
}

// Model returns the configured recognition model identifier.
func (c *Client) Model() string { return c.model }
