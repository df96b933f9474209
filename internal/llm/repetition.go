package llm

import "strings"

// Repetition-abort thresholds for streamed output.
const (
	// repeatSubstringLen is the minimum substring length whose repetition
	// counts toward an abort.
	repeatSubstringLen = 20
	// repeatCount aborts after this many consecutive exact repetitions.
	repeatCount = 3
	// uniqueRatioWindow is the trailing window checked for character variety.
	uniqueRatioWindow = 100
	// uniqueRatioFloor aborts when the trailing window's unique-character
	// ratio drops below this value.
	uniqueRatioFloor = 0.15
)

// repetitionDetector watches a growing stream of text and reports when the
// model has entered a degenerate loop. Both checks run over a bounded trailing
// window so cost stays constant per chunk.
type repetitionDetector struct {
	tail    strings.Builder
	maxTail int
}

func newRepetitionDetector() *repetitionDetector {
	return &repetitionDetector{
		maxTail: repeatSubstringLen*repeatCount*4 + uniqueRatioWindow,
	}
}

// Write appends a streamed chunk and reports whether generation must abort.
func (d *repetitionDetector) Write(chunk string) (looping bool) {
	d.tail.WriteString(chunk)
	s := d.tail.String()
	if len(s) > d.maxTail {
		s = s[len(s)-d.maxTail:]
		d.tail.Reset()
		d.tail.WriteString(s)
	}
	return hasConsecutiveRepeats(s) || lowUniqueRatio(s)
}

// hasConsecutiveRepeats reports whether the tail ends with repeatCount or more
// back-to-back copies of some substring of at least repeatSubstringLen bytes.
func hasConsecutiveRepeats(s string) bool {
	n := len(s)
	maxPeriod := n / repeatCount
	for period := repeatSubstringLen; period <= maxPeriod; period++ {
		unit := s[n-period:]
		repeats := 1
		for repeats < repeatCount {
			start := n - (repeats+1)*period
			if start < 0 || s[start:start+period] != unit {
				break
			}
			repeats++
		}
		if repeats >= repeatCount {
			return true
		}
	}
	return false
}

// lowUniqueRatio reports whether the trailing window has collapsed to too few
// distinct characters.
func lowUniqueRatio(s string) bool {
	if len(s) < uniqueRatioWindow {
		return false
	}
	window := s[len(s)-uniqueRatioWindow:]
	seen := make(map[rune]struct{}, 16)
	total := 0
	for _, r := range window {
		seen[r] = struct{}{}
		total++
	}
	if total == 0 {
		return false
	}
	return float64(len(seen))/float64(total) < uniqueRatioFloor
}
