// Package decoder parses one raw message into headers and a MIME part tree.
// Parsing is forgiving: malformed encoded-words and unknown charsets degrade
// to the raw value, and only input without any recognizable header section
// is rejected outright.
package decoder

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/dhcgn/mail-extract/charsets"
	"github.com/dhcgn/mail-extract/model"
)

// ErrMessageParse marks structurally unrecoverable input. The message is
// skipped; the run continues.
var ErrMessageParse = errors.New("unparseable message")

const (
	// maxDepth bounds the part tree so adversarial nesting cannot exhaust
	// the stack. Parts below the limit are kept as opaque leaves.
	maxDepth = 32

	// surrogateHeaderBytes is how much of the raw message feeds the
	// synthesized id when Message-ID is missing or malformed.
	surrogateHeaderBytes = 256
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charsets.Reader}

// Decode parses a raw message into a Message with its full part tree.
func Decode(raw model.RawMessage) (*model.Message, error) {
	parsed, err := mail.ReadMessage(bytes.NewReader(raw.Raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessageParse, err)
	}

	headers := decodeHeaders(textproto.MIMEHeader(parsed.Header))

	body, err := io.ReadAll(parsed.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrMessageParse, err)
	}

	root, err := buildPart(headers, body, 0)
	if err != nil {
		return nil, err
	}

	id, synthetic := messageID(headers, raw)

	return &model.Message{
		ID:          id,
		SyntheticID: synthetic,
		Ordinal:     raw.Ordinal,
		Size:        int64(len(raw.Raw)),
		Headers:     headers,
		Root:        root,
	}, nil
}

// DecodeHeaderValue resolves RFC 2047 encoded-words to readable text. A
// malformed encoded-word keeps its raw form instead of failing.
func DecodeHeaderValue(value string) string {
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func decodeHeaders(src textproto.MIMEHeader) model.Header {
	headers := make(model.Header, len(src))
	for name, values := range src {
		for _, value := range values {
			headers.Add(name, DecodeHeaderValue(value))
		}
	}
	return headers
}

// messageID extracts the Message-ID header, stripped of angle brackets and
// whitespace. Absent or empty ids get a surrogate that is unique within the
// run and visibly synthetic.
func messageID(headers model.Header, raw model.RawMessage) (id string, synthetic bool) {
	id = strings.Trim(headers.Get("Message-Id"), " \t<>")
	if id != "" {
		return id, false
	}

	head := raw.Raw
	if len(head) > surrogateHeaderBytes {
		head = head[:surrogateHeaderBytes]
	}

	digest := sha256.New()
	var prefix [16]byte
	binary.BigEndian.PutUint64(prefix[:8], uint64(raw.Ordinal))
	binary.BigEndian.PutUint64(prefix[8:], uint64(len(raw.Raw)))
	digest.Write(prefix[:])
	digest.Write(head)

	return "msg-" + hex.EncodeToString(digest.Sum(nil))[:12], true
}

type headerGetter interface {
	Get(string) string
}

func buildPart(header headerGetter, body []byte, depth int) (*model.Part, error) {
	part := &model.Part{Header: captureHeader(header)}

	mediaType, params, err := mime.ParseMediaType(header.Get("Content-Type"))
	if err != nil {
		mediaType, params = "text/plain", nil
	}
	part.ContentType = strings.ToLower(mediaType)
	part.Charset = params["charset"]
	part.TransferEncoding = strings.ToLower(strings.TrimSpace(header.Get("Content-Transfer-Encoding")))
	part.ContentID = strings.Trim(header.Get("Content-Id"), " \t<>")

	disposition, dispParams, err := mime.ParseMediaType(header.Get("Content-Disposition"))
	if err == nil {
		part.Disposition = strings.ToLower(disposition)
	}
	part.Filename = partFilename(dispParams, params)

	boundary := params["boundary"]
	if !part.IsMultipart() || boundary == "" || depth >= maxDepth {
		// Multiparts with no usable boundary and over-deep trees are kept
		// as opaque leaves rather than rejected.
		part.Payload = body
		return part, nil
	}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		// NextRawPart keeps the payload bytes exactly as transported; the
		// classifier owns transfer-encoding decode.
		sub, err := reader.NextRawPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: multipart boundary %q: %v", ErrMessageParse, boundary, err)
		}

		payload, err := io.ReadAll(sub)
		if err != nil {
			return nil, fmt.Errorf("%w: read part: %v", ErrMessageParse, err)
		}

		child, err := buildPart(sub.Header, payload, depth+1)
		if err != nil {
			return nil, err
		}
		part.Children = append(part.Children, child)
	}

	return part, nil
}

// partFilename pulls the declared name from Content-Disposition or the
// legacy Content-Type name parameter, decoding any encoded-words.
func partFilename(dispParams, typeParams map[string]string) string {
	name := dispParams["filename"]
	if name == "" {
		name = typeParams["name"]
	}
	if name == "" {
		return ""
	}
	return DecodeHeaderValue(name)
}

func captureHeader(header headerGetter) model.Header {
	captured := make(model.Header)
	switch h := header.(type) {
	case model.Header:
		return h
	case textproto.MIMEHeader:
		for name, values := range h {
			for _, value := range values {
				captured.Add(name, value)
			}
		}
	}
	return captured
}
