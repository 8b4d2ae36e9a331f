package llm

import (
	"regexp"
	"strings"
)

var (
	mdLink     = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdBullet   = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+`)
	mdHeading  = regexp.MustCompile(`(?m)^\s*#{1,6}\s*`)
	mdEmphasis = strings.NewReplacer("**", "", "__", "", "`", "", "*", "")
	whitespace = regexp.MustCompile(`\s+`)
)

// Speakable strips the markdown that chat models like to emit, so a TTS
// engine does not read asterisks and hashes aloud. Lists are flattened into
// one line.
func Speakable(content string) string {
	s := mdLink.ReplaceAllString(content, "$1")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdBullet.ReplaceAllString(s, "")
	s = mdEmphasis.Replace(s)
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// reasoningPrefixes name model families that reject a sampling temperature.
var reasoningPrefixes = []string{"o1", "o3", "o4", "gpt-5"}

// SupportsTemperature reports whether model accepts a temperature parameter.
func SupportsTemperature(model string) bool {
	lower := strings.ToLower(model)
	for _, p := range reasoningPrefixes {
		if strings.HasPrefix(lower, p) {
			return false
		}
	}
	return true
}
