// Package sink accumulates one metadata record per message and writes the
// metadata table at the end of the run.
package sink

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dhcgn/mail-extract/model"
)

// ErrSinkWrite marks a failure to write the metadata table. The table is the
// primary deliverable, so this is fatal to the run.
var ErrSinkWrite = errors.New("write metadata table")

// Columns is the fixed header row of the metadata table.
var Columns = []string{
	"message_id", "from", "to", "cc", "bcc", "subject", "date",
	"size_bytes", "attachment_count", "container_index",
}

// ExtendedColumns are appended when extended output is enabled.
var ExtendedColumns = []string{"content_type", "user_agent"}

// Options configures the sink's optional columns.
type Options struct {
	ExtendedColumns   bool
	IncludeBodyColumn bool
}

// Sink collects records from concurrent workers and serializes them once.
type Sink struct {
	opts Options

	mu      sync.Mutex
	records []model.MetadataRecord
}

// New returns an empty sink.
func New(opts Options) *Sink {
	return &Sink{opts: opts}
}

// Record appends one record. Safe for concurrent use.
func (s *Sink) Record(record model.MetadataRecord) {
	s.mu.Lock()
	s.records = append(s.records, record)
	s.mu.Unlock()
}

// Len returns the number of accumulated records.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Finalize writes all accumulated records to path as CSV, header row first,
// rows in container traversal order. It is called exactly once per run.
func (s *Sink) Finalize(path string) error {
	s.mu.Lock()
	records := make([]model.MetadataRecord, len(s.records))
	copy(records, s.records)
	s.mu.Unlock()

	// Workers finish out of order; the table preserves container order.
	sort.Slice(records, func(i, j int) bool {
		return records[i].ContainerIndex < records[j].ContainerIndex
	})

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrSinkWrite, path, err)
	}

	csvWriter := csv.NewWriter(file)

	if err := csvWriter.Write(s.header()); err != nil {
		file.Close()
		return fmt.Errorf("%w: header: %v", ErrSinkWrite, err)
	}
	for _, record := range records {
		if err := csvWriter.Write(s.row(record)); err != nil {
			file.Close()
			return fmt.Errorf("%w: row %d: %v", ErrSinkWrite, record.ContainerIndex, err)
		}
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		file.Close()
		return fmt.Errorf("%w: flush: %v", ErrSinkWrite, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrSinkWrite, path, err)
	}
	return nil
}

func (s *Sink) header() []string {
	header := append([]string{}, Columns...)
	if s.opts.ExtendedColumns {
		header = append(header, ExtendedColumns...)
	}
	if s.opts.IncludeBodyColumn {
		header = append(header, "body")
	}
	return header
}

func (s *Sink) row(record model.MetadataRecord) []string {
	date := record.RawDate
	if record.DateParsed {
		date = record.Date.Format(time.RFC3339)
	}

	row := []string{
		record.MessageID,
		record.From,
		record.To,
		record.Cc,
		record.Bcc,
		record.Subject,
		date,
		strconv.FormatInt(record.SizeBytes, 10),
		strconv.Itoa(record.AttachmentCount),
		strconv.Itoa(record.ContainerIndex),
	}
	if s.opts.ExtendedColumns {
		row = append(row, record.ContentType, record.UserAgent)
	}
	if s.opts.IncludeBodyColumn {
		row = append(row, record.Body)
	}
	return row
}
