package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxsub/subgen/internal/config"
	"github.com/voxsub/subgen/internal/cue"
)

func testClient(t *testing.T, url string, batchChars int) *Client {
	t.Helper()
	return NewClient(
		config.TranslateConfig{URL: url, Timeout: 5 * time.Second, BatchChars: batchChars},
		config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2},
		zerolog.Nop(),
	)
}

// echoBackend translates by uppercasing, preserving count and order.
func echoBackend(t *testing.T, calls *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		out := make([]string, len(req.Texts))
		for i, s := range req.Texts {
			out[i] = strings.ToUpper(s)
		}
		json.NewEncoder(w).Encode(translateResponse{Translations: out})
	}
}

func TestTranslateIdentityPass(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(echoBackend(t, &calls))
	defer srv.Close()

	cues := []cue.Cue{{Index: 1, Start: 0, End: 1, Text: "unchanged"}}
	got, err := testClient(t, srv.URL, 0).Translate(context.Background(), cues, "de", "de")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got[0].Text != "unchanged" {
		t.Errorf("Text = %q, want unchanged", got[0].Text)
	}
	if calls.Load() != 0 {
		t.Errorf("backend saw %d calls, want 0 for identity pass", calls.Load())
	}
}

func TestTranslatePreservesTimingAndOrder(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(echoBackend(t, &calls))
	defer srv.Close()

	cues := []cue.Cue{
		{Index: 1, Start: 0, End: 1.2, Text: "hallo welt"},
		{Index: 2, Start: 1.5, End: 3, Text: "zweiter satz"},
	}
	got, err := testClient(t, srv.URL, 0).Translate(context.Background(), cues, "de", "en")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d cues, want 2", len(got))
	}
	if got[0].Text != "HALLO WELT" || got[1].Text != "ZWEITER SATZ" {
		t.Errorf("texts = %q, %q", got[0].Text, got[1].Text)
	}
	// Timing and indices are immutable under translation.
	if got[0].Index != 1 || got[0].Start != 0 || got[0].End != 1.2 {
		t.Errorf("cue 1 timing mutated: %+v", got[0])
	}
	if got[1].Index != 2 || got[1].Start != 1.5 || got[1].End != 3 {
		t.Errorf("cue 2 timing mutated: %+v", got[1])
	}
	// Input untouched (translation returns new cues).
	if cues[0].Text != "hallo welt" {
		t.Errorf("input mutated: %q", cues[0].Text)
	}
}

func TestTranslateBatchesByCharBudget(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(echoBackend(t, &calls))
	defer srv.Close()

	cues := make([]cue.Cue, 10)
	for i := range cues {
		cues[i] = cue.Cue{Index: i + 1, Start: float64(i), End: float64(i) + 0.9, Text: strings.Repeat("x", 30)}
	}

	// Budget of 100 chars → 3 cues of 30 per batch → 4 batches.
	got, err := testClient(t, srv.URL, 100).Translate(context.Background(), cues, "de", "en")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d cues, want 10", len(got))
	}
	if calls.Load() != 4 {
		t.Errorf("backend calls = %d, want 4", calls.Load())
	}
}

func TestTranslateCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(translateResponse{Translations: []string{"only one"}})
	}))
	defer srv.Close()

	cues := []cue.Cue{
		{Index: 1, Start: 0, End: 1, Text: "one"},
		{Index: 2, Start: 1, End: 2, Text: "two"},
	}
	got, err := testClient(t, srv.URL, 0).Translate(context.Background(), cues, "de", "en")
	if !errors.Is(err, ErrCountMismatch) {
		t.Fatalf("Translate = %v, want ErrCountMismatch", err)
	}
	if got != nil {
		t.Error("count mismatch must not return cues")
	}
}

func TestTranslateBatchFailureFailsWholeCall(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// First batch succeeds.
			var req translateRequest
			json.NewDecoder(r.Body).Decode(&req)
			json.NewEncoder(w).Encode(translateResponse{Translations: req.Texts})
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cues := []cue.Cue{
		{Index: 1, Start: 0, End: 1, Text: strings.Repeat("a", 50)},
		{Index: 2, Start: 1, End: 2, Text: strings.Repeat("b", 50)},
	}
	got, err := testClient(t, srv.URL, 60).Translate(context.Background(), cues, "de", "en")
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("Translate = %v, want ErrBackend", err)
	}
	if got != nil {
		t.Error("partial translation must not be returned")
	}
}

func TestTranslateTransientRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var req translateRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(translateResponse{Translations: req.Texts})
	}))
	defer srv.Close()

	cues := []cue.Cue{{Index: 1, Start: 0, End: 1, Text: "retry me"}}
	got, err := testClient(t, srv.URL, 0).Translate(context.Background(), cues, "de", "en")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got[0].Text != "retry me" {
		t.Errorf("Text = %q", got[0].Text)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestBatchCues(t *testing.T) {
	cues := []cue.Cue{
		{Text: strings.Repeat("a", 60)},
		{Text: strings.Repeat("b", 60)},
		{Text: strings.Repeat("c", 200)}, // alone over budget, still gets a batch
	}
	batches := batchCues(cues, 100)
	if len(batches) != 3 {
		t.Fatalf("batches = %d, want 3", len(batches))
	}
	for i, b := range batches {
		if len(b) != 1 {
			t.Errorf("batch %d has %d cues, want 1", i, len(b))
		}
	}

	if got := batchCues(cues, 0); len(got) != 1 {
		t.Errorf("zero budget should yield a single batch, got %d", len(got))
	}
}
