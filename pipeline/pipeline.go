// Package pipeline wires the container reader, worker pool and sinks onto a
// runner. It is the single entry point for one extraction run: callers hand
// in an artifact path, a destination directory and a metadata path, and get
// back a result summary.
package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/dhcgn/mail-extract/config"
	"github.com/dhcgn/mail-extract/container"
	"github.com/dhcgn/mail-extract/filter"
	"github.com/dhcgn/mail-extract/model"
	"github.com/dhcgn/mail-extract/progress"
	"github.com/dhcgn/mail-extract/runner"
	"github.com/dhcgn/mail-extract/sink"
	"github.com/dhcgn/mail-extract/stats"
	"github.com/dhcgn/mail-extract/worker"
	"github.com/dhcgn/mail-extract/writer"
)

// Run processes one artifact end to end and returns the run summary.
// Per-message and per-part failures are collected in the result; only
// container-level and metadata-table failures are returned as errors.
func Run(cfg config.Config, logger *slog.Logger) (model.Result, error) {
	rawFilter, err := filter.New(filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	})
	if err != nil {
		return model.Result{}, fmt.Errorf("filter: %w", err)
	}
	if !rawFilter.Active() {
		rawFilter = nil
	}

	// Fail on unreadable input before any goroutine is started.
	kind, err := container.Detect(cfg.InputPath)
	if err != nil {
		return model.Result{}, err
	}

	fileWriter, err := writer.New(cfg.OutputDir, writer.Scope(cfg.CollisionScope))
	if err != nil {
		return model.Result{}, err
	}

	metadataSink := sink.New(sink.Options{
		ExtendedColumns:   cfg.ExtendedColumns,
		IncludeBodyColumn: cfg.IncludeBodyColumn,
	})

	r := runner.New(cfg, logger)
	stats.NewReporter(r, logger)

	if total, countErr := container.Count(cfg.InputPath); countErr == nil {
		bar := progress.New(total, cfg.LogLevel)
		r.SubscribeStats("progress-bar", bar.Subscriber)
	}

	logger.Info("starting extraction",
		"input", cfg.InputPath,
		"kind", kind.String(),
		"outputDir", cfg.OutputDir,
		"metadata", cfg.MetadataPath,
		"workers", cfg.Workers)

	// The pool is validated before the producer stage exists, so no error
	// path ever closes the messages channel under a live sender.
	if _, err := worker.NewPool(worker.Options{Workers: cfg.Workers}, r, fileWriter, metadataSink, logger); err != nil {
		r.CloseMessages()
		_, _ = r.Start()
		return model.Result{}, err
	}

	if _, err := container.NewProducer(container.Options{
		Path:   cfg.InputPath,
		Filter: rawFilter,
	}, r, logger); err != nil {
		r.CloseMessages()
		_, _ = r.Start()
		return model.Result{}, err
	}

	result, err := r.Start()
	if err != nil {
		return result, err
	}

	if err := metadataSink.Finalize(cfg.MetadataPath); err != nil {
		return result, err
	}

	logger.Info("metadata table written", "path", cfg.MetadataPath, "rows", metadataSink.Len())
	return result, nil
}
