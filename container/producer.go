package container

import (
	"context"
	"log/slog"

	"github.com/dhcgn/mail-extract/runner"
	"github.com/dhcgn/mail-extract/stats"
)

// Producer reads the container on its own pipeline stage and feeds raw
// messages to the worker pool. It is the single consumer of the underlying
// artifact stream.
type Producer struct {
	reader Reader
	runner *runner.Runner
}

func NewProducer(opts Options, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	if opts.OnFiltered == nil {
		opts.OnFiltered = func(ordinal int) {
			r.CountFiltered()
			r.EmitEvent(stats.Event{Stage: stats.StageContainer, Type: stats.EventTypeFiltered})
		}
	}

	reader, err := NewReader(opts, logger)
	if err != nil {
		return nil, err
	}

	producer := &Producer{reader: reader, runner: r}
	r.AddStage("container", producer.run)
	return producer, nil
}

func (p *Producer) Kind() Kind {
	return p.reader.Kind()
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseMessages()
	return p.reader.Stream(ctx, p.runner.MessagesWriter())
}
