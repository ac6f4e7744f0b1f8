// Package metadata maps a decoded message onto one metadata table row.
package metadata

import (
	"net/mail"
	"strings"

	"github.com/dhcgn/mail-extract/model"
)

// Extract builds the metadata record for one message. It never fails:
// absent headers become empty fields and an unparseable Date keeps its raw
// header text with DateParsed=false.
func Extract(msg *model.Message, parts []model.ClassifiedPart) model.MetadataRecord {
	record := model.MetadataRecord{
		MessageID:      msg.ID,
		From:           msg.Headers.Get("From"),
		To:             flatten(msg.Headers.Values("To")),
		Cc:             flatten(msg.Headers.Values("Cc")),
		Bcc:            flatten(msg.Headers.Values("Bcc")),
		Subject:        msg.Headers.Get("Subject"),
		SizeBytes:      msg.Size,
		ContainerIndex: msg.Ordinal,
		UserAgent:      msg.Headers.Get("User-Agent"),
	}

	if msg.Root != nil {
		record.ContentType = msg.Root.ContentType
	}

	record.RawDate = msg.Headers.Get("Date")
	if record.RawDate != "" {
		if date, err := mail.ParseDate(record.RawDate); err == nil {
			record.Date = date.UTC()
			record.DateParsed = true
		}
	}

	for _, part := range parts {
		switch part.Role {
		case model.RoleAttachment, model.RoleInline:
			record.AttachmentCount++
		case model.RoleBody:
			if record.Body == "" {
				record.Body = string(part.Payload)
			}
		}
	}

	return record
}

// flatten joins repeated header values in original order. Address lists
// inside one value already carry their own commas, so values are joined the
// same way.
func flatten(values []string) string {
	if len(values) == 0 {
		return ""
	}
	trimmed := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			trimmed = append(trimmed, v)
		}
	}
	return strings.Join(trimmed, ", ")
}
