package classify

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime/quotedprintable"
)

// DecodeTransfer resolves a part's Content-Transfer-Encoding, returning the
// recovered payload bytes and whether the decode was exact. Unknown or
// identity encodings (7bit, 8bit, binary, "") pass the payload through
// unchanged. Broken input decodes best-effort: whatever was recovered before
// the error is returned with exact=false.
func DecodeTransfer(encoding string, payload []byte) ([]byte, bool) {
	switch encoding {
	case "base64":
		return decodeBase64(payload)
	case "quoted-printable":
		return decodeQuotedPrintable(payload)
	default:
		return payload, true
	}
}

func decodeBase64(payload []byte) ([]byte, bool) {
	// Transported base64 is wrapped in whitespace; strip it before decode
	// so line breaks do not count as corruption.
	compact := make([]byte, 0, len(payload))
	for _, b := range payload {
		switch b {
		case '\r', '\n', ' ', '\t':
		default:
			compact = append(compact, b)
		}
	}

	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(compact)))
	n, err := base64.StdEncoding.Decode(decoded, compact)
	if err == nil {
		return decoded[:n], true
	}

	// Retry without padding requirements before settling for the partial
	// prefix recovered above.
	if raw, rawErr := base64.RawStdEncoding.DecodeString(string(bytes.TrimRight(compact, "="))); rawErr == nil {
		return raw, false
	}
	return decoded[:n], false
}

func decodeQuotedPrintable(payload []byte) ([]byte, bool) {
	decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(payload)))
	if err != nil {
		return decoded, false
	}
	return decoded, true
}
