package media

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestProbeMissingFile(t *testing.T) {
	_, err := Probe(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"))
	if !errors.Is(err, ErrUnreadableSource) {
		t.Fatalf("Probe = %v, want ErrUnreadableSource", err)
	}
}

func TestExtractMissingFile(t *testing.T) {
	_, cleanup, err := Extract(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"), t.TempDir(), 16000)
	defer cleanup()
	if !errors.Is(err, ErrUnreadableSource) {
		t.Fatalf("Extract = %v, want ErrUnreadableSource", err)
	}
}

func TestLastLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"one line", "one line"},
		{"first\nsecond\nthird\n", "third"},
		{"first\n  spaced  \n", "spaced"},
	}
	for _, tt := range tests {
		if got := lastLine(tt.in); got != tt.want {
			t.Errorf("lastLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
