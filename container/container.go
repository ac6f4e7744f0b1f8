// Package container turns an input artifact into a stream of raw messages.
// An artifact is either an mbox archive or a single message file; detection
// tries mbox framing first and falls back to treating the whole file as one
// message.
package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mail-extract/filter"
	"github.com/dhcgn/mail-extract/model"
)

// ErrContainerFormat marks input that is neither a readable single message
// nor a readable mbox archive. It is fatal to the run.
var ErrContainerFormat = errors.New("unrecognized container format")

// Kind is the detected container flavor.
type Kind int

const (
	KindSingle Kind = iota
	KindMbox
)

func (k Kind) String() string {
	if k == KindMbox {
		return "mbox"
	}
	return "single"
}

// mboxPostmark opens every message in an mbox file, including the first.
var mboxPostmark = []byte("From ")

// Options configures a container reader.
type Options struct {
	Path string
	// Filter drops raw messages before they are decoded. Nil means no
	// filtering. Dropped messages still consume their ordinal.
	Filter *filter.Filter
	// OnFiltered is called with the ordinal of each dropped message.
	OnFiltered func(ordinal int)
}

// Reader streams raw messages out of one artifact. The stream is lazy,
// finite and single-pass; it must be drained by exactly one consumer
// goroutine feeding the worker pool.
type Reader interface {
	Stream(ctx context.Context, out chan<- model.Envelope) error
	Kind() Kind
}

// NewReader probes the artifact and returns a reader for its kind.
func NewReader(opts Options, logger *slog.Logger) (Reader, error) {
	kind, err := Detect(opts.Path)
	if err != nil {
		return nil, err
	}
	return &fileReader{opts: opts, kind: kind, logger: logger}, nil
}

// Detect probes the artifact format. It fails with ErrContainerFormat for
// unreadable or empty files.
func Detect(path string) (Kind, error) {
	file, err := os.Open(path)
	if err != nil {
		return KindSingle, fmt.Errorf("%w: open %s: %v", ErrContainerFormat, path, err)
	}
	defer file.Close()

	probe := make([]byte, 1024)
	n, err := file.Read(probe)
	if err != nil && !errors.Is(err, io.EOF) {
		return KindSingle, fmt.Errorf("%w: read %s: %v", ErrContainerFormat, path, err)
	}
	probe = bytes.TrimLeft(probe[:n], "\r\n")

	if len(probe) == 0 {
		return KindSingle, fmt.Errorf("%w: %s is empty", ErrContainerFormat, path)
	}
	if bytes.HasPrefix(probe, mboxPostmark) {
		return KindMbox, nil
	}
	if !looksLikeMessage(probe) {
		return KindSingle, fmt.Errorf("%w: %s has no header section", ErrContainerFormat, path)
	}
	return KindSingle, nil
}

// Count returns the number of messages in the container. Used to size the
// progress bar before the streaming pass.
func Count(path string) (int, error) {
	kind, err := Detect(path)
	if err != nil {
		return 0, err
	}
	if kind == KindSingle {
		return 1, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, fmt.Errorf("mbox framing after message %d: %w", count, err)
		}
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			count++
			continue
		}
		count++
	}
}

type fileReader struct {
	opts   Options
	kind   Kind
	logger *slog.Logger
}

func (f *fileReader) Kind() Kind {
	return f.kind
}

func (f *fileReader) Stream(ctx context.Context, out chan<- model.Envelope) error {
	file, err := os.Open(f.opts.Path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrContainerFormat, f.opts.Path, err)
	}
	defer file.Close()

	if f.kind == KindSingle {
		raw, err := io.ReadAll(file)
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", ErrContainerFormat, f.opts.Path, err)
		}
		if f.allows(raw, 0) {
			return emit(ctx, out, model.Envelope{Message: model.RawMessage{Ordinal: 0, Raw: raw}})
		}
		return nil
	}

	reader := mboxlib.NewReader(file)
	for ordinal := 0; ; ordinal++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ordinal == 0 {
				return fmt.Errorf("%w: mbox framing: %v", ErrContainerFormat, err)
			}
			// Mid-archive framing damage: report it and stop, keeping
			// everything read so far. The envelope keeps the ordinal of
			// the broken entry.
			return emit(ctx, out, model.Envelope{
				Message: model.RawMessage{Ordinal: ordinal},
				Err:     fmt.Errorf("mbox framing after message %d: %w", ordinal-1, err),
			})
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			env := model.Envelope{
				Message: model.RawMessage{Ordinal: ordinal},
				Err:     fmt.Errorf("read message %d: %w", ordinal, err),
			}
			if emitErr := emit(ctx, out, env); emitErr != nil {
				return emitErr
			}
			continue
		}

		if !f.allows(raw, ordinal) {
			continue
		}

		if err := emit(ctx, out, model.Envelope{Message: model.RawMessage{Ordinal: ordinal, Raw: raw}}); err != nil {
			return err
		}
	}
}

func (f *fileReader) allows(raw []byte, ordinal int) bool {
	if f.opts.Filter == nil || f.opts.Filter.Allows(raw) {
		return true
	}
	if f.logger != nil {
		f.logger.Debug("message dropped by filter", "ordinal", ordinal)
	}
	if f.opts.OnFiltered != nil {
		f.opts.OnFiltered(ordinal)
	}
	return false
}

func emit(ctx context.Context, out chan<- model.Envelope, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}

// looksLikeMessage checks for at least one plausible "Name: value" header
// line before the first blank line.
func looksLikeMessage(probe []byte) bool {
	header, _ := filter.SplitRawMessage(probe)
	for _, line := range bytes.Split(header, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			break
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		if bytes.ContainsAny(line[:colon], " \t") {
			continue
		}
		return true
	}
	return false
}

// Read iterates the container's raw messages, calling fn for each. It is a
// convenience for one-shot consumers such as the inspect command.
func Read(path string, fn func(ordinal int, raw []byte) error) error {
	reader, err := NewReader(Options{Path: path}, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan model.Envelope, 8)
	done := make(chan error, 1)
	go func() {
		done <- reader.Stream(ctx, out)
		close(out)
	}()

	for env := range out {
		if env.Err != nil {
			continue
		}
		if err := fn(env.Message.Ordinal, env.Message.Raw); err != nil {
			cancel()
			for range out {
			}
			<-done
			return err
		}
	}
	return <-done
}
