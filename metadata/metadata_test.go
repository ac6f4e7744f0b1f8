package metadata

import (
	"testing"
	"time"

	"github.com/dhcgn/mail-extract/model"
)

func baseMessage() *model.Message {
	headers := make(model.Header)
	headers.Add("From", "Alice <a@x.com>")
	headers.Add("To", "b@x.com")
	headers.Add("To", "c@x.com")
	headers.Add("Cc", "d@x.com")
	headers.Add("Subject", "Quarterly report")
	headers.Add("Date", "Thu, 15 Jan 2026 10:30:00 +0100")
	headers.Add("User-Agent", "TestMailer/1.0")

	return &model.Message{
		ID:      "one@x.com",
		Ordinal: 4,
		Size:    2048,
		Headers: headers,
		Root:    &model.Part{ContentType: "multipart/mixed"},
	}
}

func TestExtractFields(t *testing.T) {
	parts := []model.ClassifiedPart{
		{Role: model.RoleBody, Payload: []byte("body text")},
		{Role: model.RoleAttachment},
		{Role: model.RoleInline},
	}

	record := Extract(baseMessage(), parts)

	if record.MessageID != "one@x.com" {
		t.Errorf("message id = %q", record.MessageID)
	}
	if record.From != "Alice <a@x.com>" {
		t.Errorf("from = %q", record.From)
	}
	if record.To != "b@x.com, c@x.com" {
		t.Errorf("repeated To headers not flattened in order: %q", record.To)
	}
	if record.Cc != "d@x.com" {
		t.Errorf("cc = %q", record.Cc)
	}
	if record.Bcc != "" {
		t.Errorf("absent Bcc should be empty, got %q", record.Bcc)
	}
	if record.Subject != "Quarterly report" {
		t.Errorf("subject = %q", record.Subject)
	}
	if record.SizeBytes != 2048 {
		t.Errorf("size = %d", record.SizeBytes)
	}
	if record.ContainerIndex != 4 {
		t.Errorf("container index = %d", record.ContainerIndex)
	}
	if record.AttachmentCount != 2 {
		t.Errorf("attachment count = %d, want 2 (attachment + inline)", record.AttachmentCount)
	}
	if record.Body != "body text" {
		t.Errorf("body = %q", record.Body)
	}
	if record.ContentType != "multipart/mixed" {
		t.Errorf("content type = %q", record.ContentType)
	}
	if record.UserAgent != "TestMailer/1.0" {
		t.Errorf("user agent = %q", record.UserAgent)
	}
}

func TestExtractDateParsing(t *testing.T) {
	msg := baseMessage()
	record := Extract(msg, nil)

	if !record.DateParsed {
		t.Fatal("valid RFC 5322 date not parsed")
	}
	want := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	if !record.Date.Equal(want) {
		t.Errorf("date = %v, want %v", record.Date, want)
	}
}

func TestExtractUnparseableDateKeepsRaw(t *testing.T) {
	msg := baseMessage()
	msg.Headers["Date"] = []string{"sometime last Tuesday"}

	record := Extract(msg, nil)
	if record.DateParsed {
		t.Fatal("nonsense date reported as parsed")
	}
	if record.RawDate != "sometime last Tuesday" {
		t.Errorf("raw date = %q", record.RawDate)
	}
}

func TestExtractAbsentHeaders(t *testing.T) {
	msg := &model.Message{
		ID:      "bare@x.com",
		Headers: make(model.Header),
		Root:    &model.Part{ContentType: "text/plain"},
	}

	record := Extract(msg, nil)
	if record.From != "" || record.To != "" || record.Subject != "" {
		t.Errorf("absent headers must map to empty fields: %+v", record)
	}
	if record.DateParsed {
		t.Error("absent date reported as parsed")
	}
}
