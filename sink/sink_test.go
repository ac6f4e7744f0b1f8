package sink

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dhcgn/mail-extract/model"
)

func record(index int, id string) model.MetadataRecord {
	return model.MetadataRecord{
		MessageID:      id,
		From:           "a@x.com",
		Subject:        "Subject " + id,
		SizeBytes:      100,
		ContainerIndex: index,
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

func TestFinalizeHeaderAndOrder(t *testing.T) {
	s := New(Options{})
	// Records arrive out of order from concurrent workers.
	s.Record(record(2, "third"))
	s.Record(record(0, "first"))
	s.Record(record(1, "second"))

	path := filepath.Join(t.TempDir(), "metadata.csv")
	if err := s.Finalize(path); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	rows := readCSV(t, path)
	if len(rows) != 4 {
		t.Fatalf("expected header + 3 rows, got %d rows", len(rows))
	}

	wantHeader := []string{
		"message_id", "from", "to", "cc", "bcc", "subject", "date",
		"size_bytes", "attachment_count", "container_index",
	}
	for i, col := range wantHeader {
		if rows[0][i] != col {
			t.Errorf("header[%d] = %q, want %q", i, rows[0][i], col)
		}
	}

	for i, wantID := range []string{"first", "second", "third"} {
		if rows[i+1][0] != wantID {
			t.Errorf("row %d id = %q, want %q", i, rows[i+1][0], wantID)
		}
	}
}

func TestFinalizeDateColumn(t *testing.T) {
	s := New(Options{})

	parsed := record(0, "parsed")
	parsed.Date = time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	parsed.DateParsed = true
	parsed.RawDate = "Thu, 15 Jan 2026 10:30:00 +0100"
	s.Record(parsed)

	raw := record(1, "raw")
	raw.RawDate = "sometime last Tuesday"
	s.Record(raw)

	path := filepath.Join(t.TempDir(), "metadata.csv")
	if err := s.Finalize(path); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	rows := readCSV(t, path)
	if rows[1][6] != "2026-01-15T09:30:00Z" {
		t.Errorf("parsed date column = %q", rows[1][6])
	}
	if rows[2][6] != "sometime last Tuesday" {
		t.Errorf("unparsed date column = %q", rows[2][6])
	}
}

func TestFinalizeExtendedAndBodyColumns(t *testing.T) {
	s := New(Options{ExtendedColumns: true, IncludeBodyColumn: true})

	rec := record(0, "one")
	rec.ContentType = "multipart/mixed"
	rec.UserAgent = "TestMailer/1.0"
	rec.Body = "hello body"
	s.Record(rec)

	path := filepath.Join(t.TempDir(), "metadata.csv")
	if err := s.Finalize(path); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	rows := readCSV(t, path)
	header := rows[0]
	if header[len(header)-3] != "content_type" || header[len(header)-2] != "user_agent" || header[len(header)-1] != "body" {
		t.Errorf("extended header = %v", header)
	}
	row := rows[1]
	if row[len(row)-3] != "multipart/mixed" || row[len(row)-2] != "TestMailer/1.0" || row[len(row)-1] != "hello body" {
		t.Errorf("extended row = %v", row)
	}
}

func TestFinalizeFailsOnUnwritablePath(t *testing.T) {
	s := New(Options{})
	s.Record(record(0, "one"))

	err := s.Finalize(filepath.Join(t.TempDir(), "missing", "sub", "metadata.csv"))
	if !errors.Is(err, ErrSinkWrite) {
		t.Fatalf("expected ErrSinkWrite, got %v", err)
	}
}
