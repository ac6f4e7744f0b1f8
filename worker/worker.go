// Package worker runs the per-message pipeline: decode, classify, extract
// files, record metadata. Multiple workers drain the shared message channel;
// messages are independent, so order within the pool does not matter.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dhcgn/mail-extract/classify"
	"github.com/dhcgn/mail-extract/decoder"
	"github.com/dhcgn/mail-extract/metadata"
	"github.com/dhcgn/mail-extract/model"
	"github.com/dhcgn/mail-extract/runner"
	"github.com/dhcgn/mail-extract/sink"
	"github.com/dhcgn/mail-extract/stats"
	"github.com/dhcgn/mail-extract/writer"
)

// Options configures the worker pool size.
type Options struct {
	Workers int
}

// Pool consumes raw messages and drives each through the extraction
// pipeline.
type Pool struct {
	runner *runner.Runner
	writer *writer.Writer
	sink   *sink.Sink
	logger *slog.Logger
}

// NewPool registers opts.Workers stages on the runner.
func NewPool(opts Options, r *runner.Runner, w *writer.Writer, s *sink.Sink, logger *slog.Logger) (*Pool, error) {
	if opts.Workers < 1 {
		return nil, fmt.Errorf("worker count must be positive")
	}
	if w == nil || s == nil {
		return nil, fmt.Errorf("writer and sink must not be nil")
	}

	pool := &Pool{runner: r, writer: w, sink: s, logger: logger}
	for i := 0; i < opts.Workers; i++ {
		r.AddStage(fmt.Sprintf("worker-%d", i), pool.run)
	}
	return pool, nil
}

func (p *Pool) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-p.runner.Messages():
			if !ok {
				return nil
			}
			if env.Err != nil {
				perr := model.ProcessingError{
					Stage:          string(stats.StageContainer),
					ContainerIndex: env.Message.Ordinal,
					Err:            env.Err,
				}
				p.runner.SkipMessage(perr)
				p.runner.EmitEvent(stats.Event{Stage: stats.StageContainer, Type: stats.EventTypeError, Err: env.Err})
				continue
			}
			p.process(env.Message)
		}
	}
}

func (p *Pool) process(raw model.RawMessage) {
	p.runner.EmitEvent(stats.Event{Stage: stats.StageDecode, Type: stats.EventTypeScanned})

	msg, err := decoder.Decode(raw)
	if err != nil {
		p.skip(stats.StageDecode, raw.Ordinal, "", err)
		return
	}

	parts, err := classify.Classify(msg)
	if err != nil {
		p.skip(stats.StageClassify, raw.Ordinal, msg.ID, err)
		return
	}

	files := 0
	for _, part := range parts {
		if part.Fidelity == model.FidelityLossy {
			p.runner.EmitEvent(stats.Event{Stage: stats.StageClassify, Type: stats.EventTypeLossy, MessageID: msg.ID})
		}
		if part.Role != model.RoleAttachment && part.Role != model.RoleInline {
			continue
		}

		extracted, err := p.writer.Write(part, msg.ID)
		if err != nil {
			p.runner.PartError(model.ProcessingError{
				Stage:          string(stats.StageWrite),
				ContainerIndex: raw.Ordinal,
				MessageID:      msg.ID,
				Err:            err,
			})
			p.runner.EmitEvent(stats.Event{Stage: stats.StageWrite, Type: stats.EventTypeError, MessageID: msg.ID, Err: err})
			continue
		}

		files++
		p.runner.EmitEvent(stats.Event{Stage: stats.StageWrite, Type: stats.EventTypeExtracted, MessageID: msg.ID, Detail: extracted.Name})
		if p.logger != nil {
			p.logger.Debug("extracted file", "messageID", msg.ID, "name", extracted.Name, "role", extracted.Role, "size", extracted.SizeBytes)
		}
	}

	p.sink.Record(metadata.Extract(msg, parts))
	p.runner.CountProcessed(files)
	p.runner.EmitEvent(stats.Event{Stage: stats.StageSink, Type: stats.EventTypeRecorded, MessageID: msg.ID})
}

func (p *Pool) skip(stage stats.Stage, ordinal int, id string, err error) {
	p.runner.SkipMessage(model.ProcessingError{
		Stage:          string(stage),
		ContainerIndex: ordinal,
		MessageID:      id,
		Err:            err,
	})
	p.runner.EmitEvent(stats.Event{Stage: stage, Type: stats.EventTypeSkipped, MessageID: id, Err: err})
	if p.logger != nil {
		p.logger.Warn("message skipped", "stage", stage, "ordinal", ordinal, "messageID", id, "err", err)
	}
}
