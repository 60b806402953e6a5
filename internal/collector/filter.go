package collector

import (
	"regexp"
	"strings"
)

// The informativeness filter drops transcription noise before it reaches the
// store. The rule set is deliberately closed and deterministic; changing it
// changes what a deployment persists, so additions belong here and nowhere
// else.

// fillerPhrases are whole-segment hallucinations the transcription engine
// emits on silence or music. Matched case-insensitively after trimming.
var fillerPhrases = map[string]struct{}{
	"you":                  {},
	".":                    {},
	"thank you":            {},
	"thank you.":           {},
	"thanks for watching":  {},
	"thanks for watching!": {},
	"bye":                  {},
	"bye.":                 {},
	"okay.":                {},
	"hmm":                  {},
}

var (
	// Engine noise markers: [BLANK_AUDIO], <no audio>, <inaudible> and the
	// bare angle-bracket artifacts the decoder produces on garbage input.
	noisePattern = regexp.MustCompile(`(?i)^(\[blank_audio\]|<no audio>|<inaudible>|<>|<3|>+|<+)$`)

	// A real word: at least three letters, not an engine artifact.
	wordPattern = regexp.MustCompile(`^[^<\[].{2,}`)
)

// minSegmentLength is the shortest trimmed text worth keeping.
const minSegmentLength = 3

// Informative reports whether text carries actual speech. Non-informative
// segments are dropped but still dedup-marked so retries stay cheap.
func Informative(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minSegmentLength {
		return false
	}
	if _, filler := fillerPhrases[strings.ToLower(trimmed)]; filler {
		return false
	}
	if noisePattern.MatchString(trimmed) {
		return false
	}
	for _, word := range strings.Fields(trimmed) {
		if wordPattern.MatchString(word) {
			return true
		}
	}
	return false
}
