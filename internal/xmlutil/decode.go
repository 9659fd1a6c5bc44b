// Package xmlutil normalizes description-document bytes before
// they're handed to encoding/xml, using golang.org/x/text the way the
// teacher's fingerprint package leans on golang.org/x rather than
// hand-rolling text processing.
package xmlutil

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// NormalizeUTF8 strips a UTF-8 byte-order mark and repairs any stray
// invalid byte sequences some embedded UPnP stacks emit in their
// description documents. Invalid input goes through the x/text UTF-8
// decoder, which replaces bad sequences with U+FFFD; the BOM is
// stripped separately afterwards.
func NormalizeUTF8(body []byte) ([]byte, error) {
	if utf8.Valid(body) {
		return stripBOM(body), nil
	}
	out, _, err := transform.Bytes(unicode.UTF8.NewDecoder(), body)
	if err != nil {
		return nil, err
	}
	return stripBOM(out), nil
}

func stripBOM(body []byte) []byte {
	const bom = "\xef\xbb\xbf"
	if len(body) >= len(bom) && string(body[:len(bom)]) == bom {
		return body[len(bom):]
	}
	return body
}
