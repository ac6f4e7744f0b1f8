// Package filter applies regex allow/block lists to raw messages before
// they are decoded, so large archives can be narrowed to the messages under
// investigation.
package filter

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// ErrModeConflict is returned when both include and exclude patterns are set.
var ErrModeConflict = errors.New("include and exclude filters are mutually exclusive")

// Options captures the filtering configuration.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

type group struct {
	patterns []*regexp.Regexp
	hits     map[string]int
}

func (g *group) match(text string) bool {
	for _, re := range g.patterns {
		if re.MatchString(text) {
			g.hits[re.String()]++
			return true
		}
	}
	return false
}

// Filter holds the compiled allow/block lists. Matching updates per-pattern
// hit counters under an internal mutex.
type Filter struct {
	mu            sync.Mutex
	includeMode   bool
	excludeMode   bool
	includeHeader group
	includeBody   group
	excludeHeader group
	excludeBody   group
}

// Hits maps pattern text to match counts, per scope.
type Hits struct {
	IncludeHeader map[string]int
	IncludeBody   map[string]int
	ExcludeHeader map[string]int
	ExcludeBody   map[string]int
}

// New compiles the configured patterns. Include and exclude modes are
// mutually exclusive.
func New(opts Options) (*Filter, error) {
	f := &Filter{}

	var err error
	if f.includeHeader, err = compile(opts.IncludeHeader); err != nil {
		return nil, fmt.Errorf("include-header: %w", err)
	}
	if f.includeBody, err = compile(opts.IncludeBody); err != nil {
		return nil, fmt.Errorf("include-body: %w", err)
	}
	if f.excludeHeader, err = compile(opts.ExcludeHeader); err != nil {
		return nil, fmt.Errorf("exclude-header: %w", err)
	}
	if f.excludeBody, err = compile(opts.ExcludeBody); err != nil {
		return nil, fmt.Errorf("exclude-body: %w", err)
	}

	f.includeMode = len(f.includeHeader.patterns) > 0 || len(f.includeBody.patterns) > 0
	f.excludeMode = len(f.excludeHeader.patterns) > 0 || len(f.excludeBody.patterns) > 0
	if f.includeMode && f.excludeMode {
		return nil, ErrModeConflict
	}

	return f, nil
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f.includeMode || f.excludeMode
}

// Allows reports whether the raw message passes the configured lists.
func (f *Filter) Allows(raw []byte) bool {
	if !f.Active() {
		return true
	}

	header, body := SplitRawMessage(raw)
	headerText, bodyText := string(header), string(body)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.includeMode {
		return f.includeHeader.match(headerText) || f.includeBody.match(bodyText)
	}
	return !f.excludeHeader.match(headerText) && !f.excludeBody.match(bodyText)
}

// Snapshot returns a copy of the per-pattern hit counters.
func (f *Filter) Snapshot() Hits {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Hits{
		IncludeHeader: copyHits(f.includeHeader.hits),
		IncludeBody:   copyHits(f.includeBody.hits),
		ExcludeHeader: copyHits(f.excludeHeader.hits),
		ExcludeBody:   copyHits(f.excludeBody.hits),
	}
}

// SplitRawMessage splits a raw message into its header block and body at the
// first blank line.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

func compile(patterns []string) (group, error) {
	g := group{hits: make(map[string]int)}
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return group{}, fmt.Errorf("compile %q: %w", pattern, err)
		}
		g.patterns = append(g.patterns, re)
	}
	return g, nil
}

func copyHits(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
