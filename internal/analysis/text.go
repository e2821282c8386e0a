package analysis

import "unicode/utf16"

// TextLength counts s in UTF-16 code units, so characters outside the Basic
// Multilingual Plane count twice. Content thresholds are measured this way.
func TextLength(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
			continue
		}
		n++
	}
	return n
}
