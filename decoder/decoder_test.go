package decoder

import (
	"errors"
	"strings"
	"testing"

	"github.com/dhcgn/mail-extract/model"
)

const simpleEML = "From: a@x.com\r\n" +
	"To: b@x.com\r\n" +
	"Subject: Hi\r\n" +
	"Message-ID: <one@x.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hello there\r\n"

func TestDecodeSimpleMessage(t *testing.T) {
	msg, err := Decode(model.RawMessage{Ordinal: 0, Raw: []byte(simpleEML)})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if msg.ID != "one@x.com" {
		t.Errorf("expected message id one@x.com, got %q", msg.ID)
	}
	if msg.SyntheticID {
		t.Error("id from Message-ID header must not be marked synthetic")
	}
	if msg.Size != int64(len(simpleEML)) {
		t.Errorf("expected size %d, got %d", len(simpleEML), msg.Size)
	}
	if got := msg.Headers.Get("Subject"); got != "Hi" {
		t.Errorf("expected subject Hi, got %q", got)
	}

	if msg.Root == nil {
		t.Fatal("expected a root part")
	}
	if msg.Root.ContentType != "text/plain" {
		t.Errorf("expected text/plain root, got %q", msg.Root.ContentType)
	}
	if len(msg.Root.Children) != 0 {
		t.Errorf("expected leaf root, got %d children", len(msg.Root.Children))
	}
	if !strings.Contains(string(msg.Root.Payload), "Hello there") {
		t.Errorf("unexpected payload: %q", msg.Root.Payload)
	}
}

func TestDecodeMessageID(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantID    string
		synthetic bool
	}{
		{
			name:   "well formed",
			header: "Message-ID: <abc@host>\r\n",
			wantID: "abc@host",
		},
		{
			name:   "extra whitespace",
			header: "Message-ID:   <abc@host>  \r\n",
			wantID: "abc@host",
		},
		{
			name:      "missing",
			header:    "",
			synthetic: true,
		},
		{
			name:      "empty brackets",
			header:    "Message-ID: <>\r\n",
			synthetic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := "From: a@x.com\r\n" + tt.header + "\r\nbody\r\n"
			msg, err := Decode(model.RawMessage{Ordinal: 3, Raw: []byte(raw)})
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if msg.SyntheticID != tt.synthetic {
				t.Fatalf("synthetic=%v, want %v", msg.SyntheticID, tt.synthetic)
			}
			if tt.synthetic {
				if !strings.HasPrefix(msg.ID, "msg-") {
					t.Errorf("surrogate id %q missing msg- prefix", msg.ID)
				}
				return
			}
			if msg.ID != tt.wantID {
				t.Errorf("id = %q, want %q", msg.ID, tt.wantID)
			}
		})
	}
}

func TestSurrogateIDsDifferPerOrdinal(t *testing.T) {
	raw := []byte("From: a@x.com\r\n\r\nbody\r\n")

	first, err := Decode(model.RawMessage{Ordinal: 0, Raw: raw})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	second, err := Decode(model.RawMessage{Ordinal: 1, Raw: raw})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if first.ID == second.ID {
		t.Errorf("surrogate ids must be unique within a run, both were %q", first.ID)
	}
}

func TestDecodeEncodedWordHeaders(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"q-encoded latin1", "=?ISO-8859-1?Q?caf=E9?=", "café"},
		{"b-encoded utf8", "=?UTF-8?B?SGVsbG8=?=", "Hello"},
		{"plain", "nothing encoded", "nothing encoded"},
		{"malformed keeps raw", "=?bogus-charset?x?zz?=", "=?bogus-charset?x?zz?="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeHeaderValue(tt.value); got != tt.want {
				t.Errorf("DecodeHeaderValue(%q) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestDecodeMultipartTree(t *testing.T) {
	raw := "From: a@x.com\r\n" +
		"Message-ID: <tree@x.com>\r\n" +
		"Content-Type: multipart/mixed; boundary=outer\r\n" +
		"\r\n" +
		"--outer\r\n" +
		"Content-Type: multipart/alternative; boundary=inner\r\n" +
		"\r\n" +
		"--inner\r\n" +
		"Content-Type: text/plain; charset=us-ascii\r\n" +
		"\r\n" +
		"plain body\r\n" +
		"--inner\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<b>html body</b>\r\n" +
		"--inner--\r\n" +
		"--outer\r\n" +
		"Content-Type: application/pdf; name=\"report.pdf\"\r\n" +
		"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"JVBERi0=\r\n" +
		"--outer--\r\n"

	msg, err := Decode(model.RawMessage{Raw: []byte(raw)})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	root := msg.Root
	if root.ContentType != "multipart/mixed" {
		t.Fatalf("root content type = %q", root.ContentType)
	}
	if len(root.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(root.Children))
	}

	alt := root.Children[0]
	if alt.ContentType != "multipart/alternative" || len(alt.Children) != 2 {
		t.Fatalf("alternative branch = %q with %d children", alt.ContentType, len(alt.Children))
	}
	if alt.Children[0].ContentType != "text/plain" || alt.Children[1].ContentType != "text/html" {
		t.Errorf("alternative children in wrong order: %q, %q",
			alt.Children[0].ContentType, alt.Children[1].ContentType)
	}

	pdf := root.Children[1]
	if pdf.Filename != "report.pdf" {
		t.Errorf("expected filename report.pdf, got %q", pdf.Filename)
	}
	if pdf.Disposition != "attachment" {
		t.Errorf("expected disposition attachment, got %q", pdf.Disposition)
	}
	if pdf.TransferEncoding != "base64" {
		t.Errorf("expected base64 transfer encoding, got %q", pdf.TransferEncoding)
	}
	// Payload stays transport-encoded; the classifier decodes it.
	if !strings.Contains(string(pdf.Payload), "JVBERi0=") {
		t.Errorf("expected raw base64 payload, got %q", pdf.Payload)
	}
}

func TestDecodeFilenameFromContentTypeName(t *testing.T) {
	raw := "From: a@x.com\r\n" +
		"Content-Type: multipart/mixed; boundary=b\r\n" +
		"\r\n" +
		"--b\r\n" +
		"Content-Type: image/png; name=\"logo.png\"\r\n" +
		"\r\n" +
		"fakepng\r\n" +
		"--b--\r\n"

	msg, err := Decode(model.RawMessage{Raw: []byte(raw)})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got := msg.Root.Children[0].Filename; got != "logo.png" {
		t.Errorf("expected filename from name param, got %q", got)
	}
}

func TestDecodeRejectsHeaderlessInput(t *testing.T) {
	_, err := Decode(model.RawMessage{Raw: []byte("this is not an email at all")})
	if !errors.Is(err, ErrMessageParse) {
		t.Fatalf("expected ErrMessageParse, got %v", err)
	}
}

func TestDecodeRejectsCorruptBoundary(t *testing.T) {
	raw := "From: a@x.com\r\n" +
		"Content-Type: multipart/mixed; boundary=b\r\n" +
		"\r\n" +
		"--b\r\n" +
		"this line is not a header and has no separator\r\n" +
		"--b--\r\n"

	_, err := Decode(model.RawMessage{Raw: []byte(raw)})
	if !errors.Is(err, ErrMessageParse) {
		t.Fatalf("expected ErrMessageParse, got %v", err)
	}
}

func TestDecodeMultipartWithoutBoundaryDegradesToLeaf(t *testing.T) {
	raw := "From: a@x.com\r\n" +
		"Content-Type: multipart/mixed\r\n" +
		"\r\n" +
		"opaque content\r\n"

	msg, err := Decode(model.RawMessage{Raw: []byte(raw)})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(msg.Root.Children) != 0 {
		t.Fatalf("expected opaque leaf, got %d children", len(msg.Root.Children))
	}
	if !strings.Contains(string(msg.Root.Payload), "opaque content") {
		t.Errorf("payload not preserved: %q", msg.Root.Payload)
	}
}
