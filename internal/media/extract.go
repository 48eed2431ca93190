// Package media turns a local video file into the mono PCM audio the
// speech backend expects, using ffprobe/ffmpeg.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Audio is the extracted audio track: a mono 16-bit PCM WAV on disk.
// It lives only for the duration of one pipeline run; the cleanup
// function returned by Extract removes it.
type Audio struct {
	Path       string
	Duration   float64 // seconds
	SampleRate int
}

// ffmpegAvailable caches whether ffmpeg/ffprobe are in PATH (checked once at startup).
var ffmpegAvailable *bool

// CheckFFmpeg checks if ffmpeg and ffprobe are available in PATH. Call once at startup.
func CheckFFmpeg() bool {
	if ffmpegAvailable != nil {
		return *ffmpegAvailable
	}
	_, errF := exec.LookPath("ffmpeg")
	_, errP := exec.LookPath("ffprobe")
	avail := errF == nil && errP == nil
	ffmpegAvailable = &avail
	return avail
}

// Probe reads container metadata with ffprobe. A container ffprobe
// cannot read is an unreadable source.
func Probe(ctx context.Context, videoPath string) (duration float64, err error) {
	if _, err := os.Stat(videoPath); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUnreadableSource, videoPath)
	}

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("%w: ffprobe %s: %v", ErrUnreadableSource, filepath.Base(videoPath), err)
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("%w: parse ffprobe output: %v", ErrUnreadableSource, err)
	}
	if probe.Format.Duration == "" {
		return 0, fmt.Errorf("%w: container has no duration", ErrUnreadableSource)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(probe.Format.Duration), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad duration %q", ErrUnreadableSource, probe.Format.Duration)
	}
	return d, nil
}

// Extract produces a mono WAV at the given sample rate from the video's
// audio track. The WAV is written under workDir; the returned cleanup
// removes it and must be called on every exit path.
func Extract(ctx context.Context, videoPath, workDir string, sampleRate int) (*Audio, func(), error) {
	noop := func() {}

	duration, err := Probe(ctx, videoPath)
	if err != nil {
		return nil, noop, err
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, noop, fmt.Errorf("%w: workdir: %v", ErrResampleFailed, err)
	}

	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	outPath := filepath.Join(workDir, fmt.Sprintf("%s_%dhz_mono.wav", base, sampleRate))

	// ffmpeg -y -i input -vn -ac 1 -ar <rate> -f wav output
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y", "-i", videoPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "wav",
		outPath,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// Clean up partial output
		os.Remove(outPath)
		return nil, noop, fmt.Errorf("%w: ffmpeg: %v: %s", ErrResampleFailed, err, lastLine(stderr.String()))
	}

	cleanup := func() { os.Remove(outPath) }
	return &Audio{Path: outPath, Duration: duration, SampleRate: sampleRate}, cleanup, nil
}

// lastLine returns the final non-empty line of ffmpeg stderr, which
// carries the actual failure reason.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
