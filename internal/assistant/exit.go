package assistant

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// DefaultExitPhrases end the conversation when spoken on their own.
var DefaultExitPhrases = []string{"exit", "quit", "goodbye", "bye", "stop"}

// DefaultExitSimilarity is the Jaro-Winkler score a phonetically matching
// utterance needs to count as an exit phrase.
const DefaultExitSimilarity = 0.88

// fillers are dropped from both ends of an utterance before matching so that
// "okay, goodbye then" still ends the session.
var fillers = map[string]struct{}{
	"ok": {}, "okay": {}, "alright": {}, "well": {}, "so": {}, "um": {}, "uh": {},
	"then": {}, "now": {}, "please": {}, "thanks": {},
}

type exitPhrase struct {
	text    string
	compact string
	codes   map[string]struct{}
}

// ExitMatcher recognises exit phrases in transcribed speech. The whole
// utterance must be the phrase: "stop" ends the session, "stop the music"
// does not. Transcription slips such as "good buy" or "by" are tolerated when
// they sound like the phrase (shared Double Metaphone code) and are spelled
// close enough (Jaro-Winkler).
type ExitMatcher struct {
	phrases   []exitPhrase
	threshold float64
}

// NewExitMatcher builds a matcher for phrases. A threshold outside (0, 1]
// selects [DefaultExitSimilarity].
func NewExitMatcher(phrases []string, threshold float64) *ExitMatcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultExitSimilarity
	}
	m := &ExitMatcher{threshold: threshold}
	for _, p := range phrases {
		tokens := tokenize(p)
		if len(tokens) == 0 {
			continue
		}
		compact := strings.Join(tokens, "")
		m.phrases = append(m.phrases, exitPhrase{
			text:    strings.Join(tokens, " "),
			compact: compact,
			codes:   metaphoneCodes(compact),
		})
	}
	return m
}

// Match reports whether text is an exit phrase and returns the phrase it
// matched.
func (m *ExitMatcher) Match(text string) (string, bool) {
	tokens := trimFillers(tokenize(text))
	if len(tokens) == 0 {
		return "", false
	}
	compact := strings.Join(tokens, "")

	for _, p := range m.phrases {
		if compact == p.compact {
			return p.text, true
		}
	}

	codes := metaphoneCodes(compact)
	best, bestScore := "", 0.0
	for _, p := range m.phrases {
		if !overlap(codes, p.codes) {
			continue
		}
		if s := matchr.JaroWinkler(compact, p.compact, false); s >= m.threshold && s > bestScore {
			best, bestScore = p.text, s
		}
	}
	return best, best != ""
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func trimFillers(tokens []string) []string {
	for len(tokens) > 0 {
		if _, ok := fillers[tokens[0]]; !ok {
			break
		}
		tokens = tokens[1:]
	}
	for len(tokens) > 0 {
		if _, ok := fillers[tokens[len(tokens)-1]]; !ok {
			break
		}
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

func metaphoneCodes(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
