package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/mail-extract/config"
	"github.com/dhcgn/mail-extract/model"
	"github.com/dhcgn/mail-extract/stats"
)

type StageFunc func(context.Context) error

// Runner owns the pipeline's channels, goroutine lifecycle and the run
// result. The container producer feeds the messages channel; worker stages
// drain it.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	messages chan model.Envelope

	subMu sync.Mutex
	subs  []chan stats.Event

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	resultMu sync.Mutex
	result   model.Result

	closeMessagesOnce sync.Once
	closeEventsOnce   sync.Once
	since             time.Time
}

func New(cfg config.Config, logger *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		messages: make(chan model.Envelope, 32),
	}
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) MessagesWriter() chan<- model.Envelope {
	return r.messages
}

func (r *Runner) Messages() <-chan model.Envelope {
	return r.messages
}

func (r *Runner) CloseMessages() {
	r.closeMessagesOnce.Do(func() {
		close(r.messages)
	})
}

// EmitEvent fans the event out to every stats subscriber.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.subMu.Lock()
	subs := r.subs
	r.subMu.Unlock()

	for _, ch := range subs {
		select {
		case <-r.ctx.Done():
			return
		case ch <- evt:
		}
	}
}

// SubscribeStats registers a consumer with its own event channel, so every
// subscriber sees the full event stream. Subscribers must be registered
// before the first stage emits events.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subMu.Lock()
	r.subs = append(r.subs, ch)
	r.subMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

// CountProcessed records one fully processed message and its extracted
// file count.
func (r *Runner) CountProcessed(filesExtracted int) {
	r.resultMu.Lock()
	r.result.MessagesProcessed++
	r.result.FilesExtracted += filesExtracted
	r.resultMu.Unlock()
}

// CountFiltered records one message dropped by the raw filter.
func (r *Runner) CountFiltered() {
	r.resultMu.Lock()
	r.result.MessagesFiltered++
	r.resultMu.Unlock()
}

// SkipMessage records a message-level failure. The message produces no
// metadata row; the run continues.
func (r *Runner) SkipMessage(perr model.ProcessingError) {
	r.resultMu.Lock()
	r.result.MessagesSkipped++
	r.result.Errors = append(r.result.Errors, perr)
	r.resultMu.Unlock()
}

// PartError records a part-level failure without skipping the message.
func (r *Runner) PartError(perr model.ProcessingError) {
	r.resultMu.Lock()
	r.result.Errors = append(r.result.Errors, perr)
	r.resultMu.Unlock()
}

// Start blocks until all stages finish and returns the accumulated result.
func (r *Runner) Start() (model.Result, error) {
	r.since = time.Now()

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	err := r.err
	duration := time.Since(r.since)

	r.resultMu.Lock()
	result := r.result
	r.resultMu.Unlock()
	result.Duration = duration

	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return result, err
	}

	r.logger.Info("pipeline completed",
		"duration", duration,
		"processed", result.MessagesProcessed,
		"skipped", result.MessagesSkipped,
		"filtered", result.MessagesFiltered,
		"extracted", result.FilesExtracted,
		"errors", len(result.Errors))
	return result, nil
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		for _, ch := range r.subs {
			close(ch)
		}
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
