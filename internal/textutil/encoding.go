// Package textutil provides text encoding repair for email content.
package textutil

import (
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// fallbackEncodings are tried in order of likelihood for email content
// when charset detection fails. Single-byte Western encodings first,
// then multi-byte Asian encodings.
var fallbackEncodings = []encoding.Encoding{
	charmap.Windows1252,
	charmap.ISO8859_1,
	charmap.ISO8859_15,
	japanese.ShiftJIS,
	japanese.EUCJP,
	korean.EUCKR,
	simplifiedchinese.GBK,
	traditionalchinese.Big5,
}

// ToUTF8 converts s to valid UTF-8.
//
// Valid input is returned as-is. Otherwise the charset is detected and
// decoded; if detection is inconclusive a fixed list of common email
// encodings is tried. The second return value is false when every decode
// attempt failed and invalid bytes were replaced with U+FFFD.
func ToUTF8(s string) (string, bool) {
	if utf8.ValidString(s) {
		return s, true
	}

	data := []byte(s)

	// Detection confidence is unreliable on short samples, so accept a
	// lower threshold for them.
	minConfidence := 50
	if len(data) <= 50 {
		minConfidence = 30
	}

	detector := chardet.NewTextDetector()
	if result, err := detector.DetectBest(data); err == nil && result.Confidence >= minConfidence {
		if enc := lookupEncoding(result.Charset); enc != nil {
			if decoded, err := enc.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
				return string(decoded), true
			}
		}
	}

	for _, enc := range fallbackEncodings {
		if decoded, err := enc.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
			return string(decoded), true
		}
	}

	return Sanitize(s), false
}

// Sanitize replaces invalid UTF-8 bytes with the replacement character.
func Sanitize(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune('�')
			i++
		} else {
			sb.WriteRune(r)
			i += size
		}
	}
	return sb.String()
}

// lookupEncoding resolves an IANA charset name reported by the detector.
func lookupEncoding(name string) encoding.Encoding {
	enc, err := htmlindex.Get(strings.ToLower(name))
	if err != nil {
		return nil
	}
	return enc
}
