package session

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// toUTF8 passes valid UTF-8 through and reads anything else as
// ISO-8859-1, the usual encoding of legacy DVB service names.
func toUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	out, err := charmap.ISO8859_1.NewDecoder().String(s)
	if err != nil {
		return string([]rune(s))
	}
	return out
}
