// Package charsets resolves declared MIME charsets to decoders, with a
// permissive utf-8 fallback for unknown or broken declarations.
package charsets

import (
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// Decode converts b from the named charset to utf-8. The returned flag is
// true when the conversion was exact; false means the charset was unknown or
// the bytes did not decode cleanly and the result is a lossy best effort.
func Decode(name string, b []byte) (string, bool) {
	enc := lookup(name)
	if enc == nil {
		return lossyUTF8(b), isCleanUTF8(name, b)
	}

	decoded, _, err := transform.Bytes(enc.NewDecoder(), b)
	if err != nil {
		return lossyUTF8(b), false
	}
	if !utf8.Valid(decoded) {
		return lossyUTF8(decoded), false
	}
	return string(decoded), true
}

// Reader wraps r so that it yields utf-8. It is shaped for use as the
// CharsetReader of a mime.WordDecoder.
func Reader(name string, r io.Reader) (io.Reader, error) {
	enc := lookup(name)
	if enc == nil {
		// Unknown charsets pass through; the word decoder keeps the bytes.
		return r, nil
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

func lookup(name string) encoding.Encoding {
	name = strings.TrimSpace(strings.ToLower(name))
	switch name {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil
	}
	return enc
}

func isCleanUTF8(name string, b []byte) bool {
	name = strings.TrimSpace(strings.ToLower(name))
	switch name {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return utf8.Valid(b)
	}
	// Named charset we could not resolve: the output is a guess.
	return false
}

func lossyUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}
