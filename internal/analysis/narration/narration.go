package narration

import "strings"

// MinSpokenLength is the trimmed length an autonomous description must exceed
// before it is read aloud.
const MinSpokenLength = 20

// NoDescription replaces empty or malformed oracle output.
const NoDescription = "No description available"

// sentinels mark replies that mean "nothing worth saying".
var sentinels = []string{"exploring", "wait for"}

// Worthy reports whether an autonomous description should be spoken.
func Worthy(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= MinSpokenLength {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, s := range sentinels {
		if strings.Contains(lower, s) {
			return false
		}
	}
	return true
}

// Normalize trims oracle output and substitutes NoDescription for blanks.
func Normalize(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return NoDescription
	}
	return trimmed
}
