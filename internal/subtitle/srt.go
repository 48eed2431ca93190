// Package subtitle serializes cue sequences to the SubRip (.srt) text
// format and parses them back.
package subtitle

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/voxsub/subgen/internal/cue"
)

// Document is an immutable, ordered cue sequence ready for serialization.
type Document struct {
	Cues       []cue.Cue
	SourceLang string
	TargetLang string
}

// Compose renders the document as SRT: index line, timing line with
// comma millisecond separator, text, blank separator. The final cue also
// ends with exactly one blank line.
func Compose(doc Document) []byte {
	var b strings.Builder
	for _, c := range doc.Cues {
		b.WriteString(strconv.Itoa(c.Index))
		b.WriteByte('\n')
		b.WriteString(FormatTimestamp(c.Start))
		b.WriteString(" --> ")
		b.WriteString(FormatTimestamp(c.End))
		b.WriteByte('\n')
		b.WriteString(c.Text)
		b.WriteString("\n\n")
	}
	return []byte(b.String())
}

// PlainText renders just the cue text, one line per cue. This is the
// transcript sidecar persisted next to the SRT.
func PlainText(doc Document) []byte {
	var b strings.Builder
	for _, c := range doc.Cues {
		b.WriteString(c.Text)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// FormatTimestamp renders seconds as HH:MM:SS,mmm with zero padding.
// Hours are always two digits, even at zero.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// ParseTimestamp is the inverse of FormatTimestamp.
func ParseTimestamp(ts string) (float64, error) {
	var h, m, s, ms int
	if _, err := fmt.Sscanf(strings.TrimSpace(ts), "%d:%d:%d,%d", &h, &m, &s, &ms); err != nil {
		return 0, fmt.Errorf("bad timestamp %q: %w", ts, err)
	}
	return float64(h)*3600 + float64(m)*60 + float64(s) + float64(ms)/1000, nil
}

// Parse reads SRT data back into cues. Used for round-trip verification
// and for reading artifacts back out of storage.
func Parse(data []byte) ([]cue.Cue, error) {
	var cues []cue.Cue
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		idx, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("expected cue index, got %q", line)
		}

		if !sc.Scan() {
			return nil, fmt.Errorf("cue %d: missing timing line", idx)
		}
		timing := sc.Text()
		parts := strings.Split(timing, " --> ")
		if len(parts) != 2 {
			return nil, fmt.Errorf("cue %d: bad timing line %q", idx, timing)
		}
		start, err := ParseTimestamp(parts[0])
		if err != nil {
			return nil, fmt.Errorf("cue %d: %w", idx, err)
		}
		end, err := ParseTimestamp(parts[1])
		if err != nil {
			return nil, fmt.Errorf("cue %d: %w", idx, err)
		}

		var text []string
		for sc.Scan() {
			l := sc.Text()
			if strings.TrimSpace(l) == "" {
				break
			}
			text = append(text, l)
		}
		if len(text) == 0 {
			return nil, fmt.Errorf("cue %d: empty text", idx)
		}

		cues = append(cues, cue.Cue{
			Index: idx,
			Start: start,
			End:   end,
			Text:  strings.Join(text, "\n"),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return cues, nil
}
