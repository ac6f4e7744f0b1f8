// Package writer persists classified parts as files whose names correlate
// back to their originating message and never collide within a run.
package writer

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dhcgn/mail-extract/model"
)

// ErrWrite marks a filesystem-level failure for one part. It does not abort
// the run; the part is recorded as failed and processing continues.
var ErrWrite = errors.New("write extracted file")

// Scope controls how widely the collision registry deduplicates names.
type Scope string

const (
	// ScopeMessage disambiguates per (message id, base name); the embedded
	// message id already separates messages from each other.
	ScopeMessage Scope = "message"
	// ScopeRun disambiguates on base name across the whole run.
	ScopeRun Scope = "run"
)

// Writer owns the run-wide naming registry. Write may be called from many
// worker goroutines concurrently.
type Writer struct {
	dir   string
	scope Scope

	mu       sync.Mutex
	counters map[string]int
}

// New creates the destination directory and an empty registry.
func New(dir string, scope Scope) (*Writer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: destination directory is empty", ErrWrite)
	}
	if scope != ScopeRun {
		scope = ScopeMessage
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrWrite, dir, err)
	}
	return &Writer{dir: dir, scope: scope, counters: make(map[string]int)}, nil
}

// Write persists one attachment or inline part. The final name is
// <base>_<messageID>_<n>.<ext>, where <n> is empty for the first occurrence
// of a base name and a counter afterwards. Files are created exclusively and
// never overwritten.
func (w *Writer) Write(part model.ClassifiedPart, messageID string) (model.ExtractedFile, error) {
	base, ext := resolveName(part)
	id := Sanitize(messageID)

	for {
		name := w.claimName(base, ext, id)
		path := filepath.Join(w.dir, name)

		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			// Leftover from a previous run in the same directory: take
			// the next counter.
			continue
		}
		if err != nil {
			return model.ExtractedFile{}, fmt.Errorf("%w: create %s: %v", ErrWrite, path, err)
		}

		if _, err := file.Write(part.Payload); err != nil {
			file.Close()
			os.Remove(path)
			return model.ExtractedFile{}, fmt.Errorf("%w: write %s: %v", ErrWrite, path, err)
		}
		if err := file.Close(); err != nil {
			return model.ExtractedFile{}, fmt.Errorf("%w: close %s: %v", ErrWrite, path, err)
		}

		return model.ExtractedFile{
			Path:      path,
			Name:      name,
			MessageID: messageID,
			Role:      part.Role,
			SizeBytes: int64(len(part.Payload)),
		}, nil
	}
}

// claimName reserves the next free name for (base, messageID) under the
// registry mutex.
func (w *Writer) claimName(base, ext, messageID string) string {
	key := base
	if w.scope == ScopeMessage {
		key = messageID + "\x00" + base
	}

	w.mu.Lock()
	n := w.counters[key]
	w.counters[key] = n + 1
	w.mu.Unlock()

	disambiguator := ""
	if n > 0 {
		disambiguator = strconv.Itoa(n)
	}
	return fmt.Sprintf("%s_%s_%s.%s", base, messageID, disambiguator, ext)
}

// resolveName picks the sanitized base name and extension for a part,
// synthesizing untitled.<ext> from the content type when no usable filename
// was declared.
func resolveName(part model.ClassifiedPart) (base, ext string) {
	base = Sanitize(part.Name)
	if base == "" {
		return "untitled." + extensionFor(part.Part.ContentType), extensionFor(part.Part.ContentType)
	}

	ext = strings.TrimPrefix(strings.ToLower(filepath.Ext(base)), ".")
	if ext == "" {
		ext = extensionFor(part.Part.ContentType)
	}
	return base, ext
}

func extensionFor(contentType string) string {
	switch contentType {
	case "", "application/octet-stream":
		return "bin"
	case "text/plain":
		return "txt"
	case "text/html":
		return "html"
	}
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return "bin"
	}
	return strings.TrimPrefix(exts[0], ".")
}

// Sanitize strips path separators, traversal prefixes and control
// characters from a declared filename. It can return "" when nothing
// usable remains.
func Sanitize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteRune('_')
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	cleaned := strings.Trim(b.String(), " ")
	cleaned = strings.TrimLeft(cleaned, ".")
	return cleaned
}
