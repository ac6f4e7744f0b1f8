package progress

import (
	"context"
	"sync"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mail-extract/stats"
)

// Bar renders a progress bar over the message scan. It is fed from the
// stats event stream and enabled only at info level, where slog output is
// quiet enough not to fight with it.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar spanning total messages if logLevel is "info".
func New(total int, logLevel string) *Bar {
	bar := &Bar{total: total, enabled: logLevel == "info" && total > 0}

	if bar.enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Extracting messages").
			Start()
		bar.pb = pb
	}

	return bar
}

// Update advances the bar for scan events and surfaces errors above it.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned, stats.EventTypeFiltered:
		b.pb.Increment()
	case stats.EventTypeExtracted:
		if evt.Detail != "" {
			title := evt.Detail
			if len(title) > 40 {
				title = title[:37] + "..."
			}
			b.pb.UpdateTitle("Extracted: " + title)
		}
	case stats.EventTypeError, stats.EventTypeSkipped:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	b.pb.Stop()
	pterm.Success.Println("Extraction complete")
}

// Subscriber adapts the bar to the stats event stream.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}
