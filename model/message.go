package model

import (
	"net/textproto"
	"strings"
	"time"
)

// RawMessage is one undecoded message pulled out of a container.
// Ordinal is the 0-based position within the container traversal and is
// stable for the whole run.
type RawMessage struct {
	Ordinal int
	Raw     []byte
}

// Envelope wraps a raw message alongside an optional error encountered while
// reading it from the container.
type Envelope struct {
	Message RawMessage
	Err     error
}

// Header is a case-insensitive header mapping. Keys are canonicalized with
// textproto; values for repeated headers keep their original order.
type Header map[string][]string

// Get returns the first value for the named header, or "".
func (h Header) Get(name string) string {
	values := h[textproto.CanonicalMIMEHeaderKey(name)]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Values returns all values for the named header in original order.
func (h Header) Values(name string) []string {
	return h[textproto.CanonicalMIMEHeaderKey(name)]
}

// Add appends a value under the canonical form of name.
func (h Header) Add(name, value string) {
	key := textproto.CanonicalMIMEHeaderKey(name)
	h[key] = append(h[key], value)
}

// Part is a node in a message's MIME tree. Container parts (multipart/*)
// carry only Children; leaf parts carry only Payload.
type Part struct {
	ContentType      string // type/subtype, lowercased
	Charset          string
	TransferEncoding string
	Disposition      string // "attachment", "inline" or ""
	Filename         string
	ContentID        string // without angle brackets
	Header           Header
	Payload          []byte
	Children         []*Part
}

// IsMultipart reports whether the part is a container node.
func (p *Part) IsMultipart() bool {
	return strings.HasPrefix(p.ContentType, "multipart/")
}

// Message is one decoded email unit.
type Message struct {
	ID          string
	SyntheticID bool // true when ID was generated, not taken from Message-ID
	Ordinal     int
	Size        int64
	Headers     Header
	Root        *Part
}

// Role tags what a classified leaf part is for.
type Role string

const (
	RoleBody       Role = "body"
	RoleInline     Role = "inline"
	RoleAttachment Role = "attachment"
)

// Fidelity records whether a decode step recovered the content exactly or
// had to fall back to a lossy best effort.
type Fidelity string

const (
	FidelityExact Fidelity = "exact"
	FidelityLossy Fidelity = "best-effort-lossy"
)

// ClassifiedPart is a leaf part with its role resolved and its payload fully
// decoded (transfer-encoding always, charset for text parts).
type ClassifiedPart struct {
	Part     *Part
	Role     Role
	Payload  []byte
	Name     string // resolved display name, may be ""
	Fidelity Fidelity
}

// MetadataRecord is one metadata table row.
type MetadataRecord struct {
	MessageID       string
	From            string
	To              string
	Cc              string
	Bcc             string
	Subject         string
	Date            time.Time
	RawDate         string
	DateParsed      bool
	SizeBytes       int64
	AttachmentCount int
	ContainerIndex  int
	ContentType     string
	UserAgent       string
	Body            string
}

// ExtractedFile describes one part persisted to disk.
type ExtractedFile struct {
	Path      string
	Name      string
	MessageID string
	Role      Role
	SizeBytes int64
}

// ProcessingError records a non-fatal per-message or per-part failure.
type ProcessingError struct {
	Stage          string
	ContainerIndex int
	MessageID      string
	Err            error
}

func (e ProcessingError) Error() string {
	if e.MessageID != "" {
		return e.Stage + " message " + e.MessageID + ": " + e.Err.Error()
	}
	return e.Stage + ": " + e.Err.Error()
}

func (e ProcessingError) Unwrap() error {
	return e.Err
}

// Result summarizes one run for the caller.
type Result struct {
	MessagesProcessed int
	MessagesSkipped   int
	MessagesFiltered  int
	FilesExtracted    int
	Errors            []ProcessingError
	Duration          time.Duration
}
