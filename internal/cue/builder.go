// Package cue shapes raw timestamped transcription segments into
// subtitle cues: overlap normalization, length/duration splitting,
// short-segment merging, and sequential index assignment.
package cue

import (
	"sort"
	"strings"
)

// Segment is a raw timestamped span of recognized speech, as returned
// by the speech backend. Times are seconds from the start of the audio.
type Segment struct {
	Text       string
	Start      float64
	End        float64
	Confidence float64
}

// Cue is one subtitle entry. Index is 1-based and sequential across the
// built sequence. Timing is fixed once built; only Text changes when a
// translation pass rewrites it.
type Cue struct {
	Index int
	Start float64
	End   float64
	Text  string
}

// Options are the cue-shaping thresholds. All durations are seconds.
type Options struct {
	// MaxChars caps the text length of a single cue.
	MaxChars int
	// MaxDuration caps how long a single cue stays on screen.
	MaxDuration float64
	// MergeBelow merges an adjacent pair of cues when their combined
	// duration is under this threshold and both caps stay satisfied.
	MergeBelow float64
}

// DefaultOptions mirror common subtitle authoring limits.
func DefaultOptions() Options {
	return Options{MaxChars: 42, MaxDuration: 6, MergeBelow: 1}
}

// Build converts segments into cues. It is total: malformed input
// (negative times, overlap, empty text) is normalized or dropped, never
// rejected. Output cues are ordered, non-overlapping, each with
// start < end and text within MaxChars, indexed 1..N with no gaps.
func Build(segments []Segment, opts Options) []Cue {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultOptions().MaxChars
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultOptions().MaxDuration
	}

	normalized := normalize(segments)

	var pieces []Segment
	for _, seg := range normalized {
		pieces = append(pieces, split(seg, opts)...)
	}

	pieces = merge(pieces, opts)

	cues := make([]Cue, 0, len(pieces))
	for _, p := range pieces {
		text := strings.TrimSpace(p.Text)
		if text == "" || p.End <= p.Start {
			continue
		}
		cues = append(cues, Cue{
			Index: len(cues) + 1,
			Start: p.Start,
			End:   p.End,
			Text:  text,
		})
	}
	return cues
}

// normalize sorts by start and truncates overlap, preferring the earlier
// segment's end as the later segment's effective start. Segments that
// collapse to zero or negative duration are dropped.
func normalize(segments []Segment) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		if s.Start < 0 {
			s.Start = 0
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	kept := out[:0]
	var prevEnd float64
	for _, s := range out {
		if s.Start < prevEnd {
			s.Start = prevEnd
		}
		if s.End <= s.Start {
			continue
		}
		kept = append(kept, s)
		prevEnd = s.End
	}
	return kept
}

// split cuts a segment into pieces that satisfy both the character and
// duration caps. Cuts land on the nearest sentence or word boundary
// before the cap; timing is divided proportionally to character count,
// so the pieces tile the original span exactly.
func split(seg Segment, opts Options) []Segment {
	runes := []rune(strings.TrimSpace(seg.Text))
	dur := seg.End - seg.Start

	overChars := len(runes) > opts.MaxChars
	overDur := dur > opts.MaxDuration
	if !overChars && !overDur {
		seg.Text = string(runes)
		return []Segment{seg}
	}

	// Cut budget: whichever constraint binds tighter in characters.
	budget := opts.MaxChars
	if overDur {
		byDur := int(float64(len(runes)) * opts.MaxDuration / dur)
		if byDur < budget {
			budget = byDur
		}
	}
	if budget < 1 {
		budget = 1
	}

	cut := cutPoint(runes, budget)
	head := strings.TrimSpace(string(runes[:cut]))
	tail := strings.TrimSpace(string(runes[cut:]))
	if tail == "" {
		seg.Text = head
		return []Segment{seg}
	}

	mid := seg.Start + dur*float64(cut)/float64(len(runes))
	first := Segment{Text: head, Start: seg.Start, End: mid, Confidence: seg.Confidence}
	rest := Segment{Text: tail, Start: mid, End: seg.End, Confidence: seg.Confidence}
	return append([]Segment{first}, split(rest, opts)...)
}

// cutPoint finds the rune index to cut at, preferring the last sentence
// boundary within the budget, then the last word boundary, then a hard
// cut at the budget.
func cutPoint(runes []rune, budget int) int {
	if budget >= len(runes) {
		return len(runes)
	}

	sentence := -1
	word := -1
	for i := 0; i < budget; i++ {
		switch runes[i] {
		case '.', '!', '?':
			// Cut after the punctuation mark.
			sentence = i + 1
		case ' ':
			word = i
		}
	}
	// A sentence boundary at the very start gives an empty head; skip it.
	if sentence > 1 {
		return sentence
	}
	if word > 0 {
		return word
	}
	return budget
}

// merge joins an adjacent pair when their combined duration is under the
// merge threshold and the merged cue still satisfies both caps.
func merge(pieces []Segment, opts Options) []Segment {
	if opts.MergeBelow <= 0 || len(pieces) < 2 {
		return pieces
	}

	out := make([]Segment, 0, len(pieces))
	for _, s := range pieces {
		if len(out) > 0 {
			prev := &out[len(out)-1]
			combinedDur := s.End - prev.Start
			combined := prev.Text + " " + s.Text
			if combinedDur < opts.MergeBelow &&
				combinedDur <= opts.MaxDuration &&
				len([]rune(combined)) <= opts.MaxChars {
				prev.Text = combined
				prev.End = s.End
				continue
			}
		}
		out = append(out, s)
	}
	return out
}
