// Package filter decides which event records a tail emits.
package filter

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/user/wahub/internal/types"
)

// caseInsensitivePrefix turns on case-insensitive matching when it leads
// a pattern.
const caseInsensitivePrefix = "(?i)"

// matchTimeout bounds a single regex evaluation.
const matchTimeout = time.Second

// Options selects records. Zero values disable each criterion; all set
// criteria must hold.
type Options struct {
	Kind       string
	SinceTS    *int64
	Grep       string
	IgnoreCase bool
	// Where is a CEL expression over ts, kind, peer, text and status.
	Where string
}

// Filter is a compiled set of Options. It is safe for concurrent use.
type Filter struct {
	kind    types.Kind
	sinceTS *int64
	re      *regexp2.Regexp
	where   *celProgram

	totalProcessed atomic.Uint64
	totalMatched   atomic.Uint64
}

// New validates and compiles opts.
func New(opts Options) (*Filter, error) {
	f := &Filter{sinceTS: opts.SinceTS}

	if opts.Kind != "" {
		k, err := types.ParseKind(opts.Kind)
		if err != nil {
			return nil, err
		}
		f.kind = k
	}

	if opts.Grep != "" {
		pattern := opts.Grep
		flags := regexp2.RegexOptions(regexp2.ECMAScript)
		if opts.IgnoreCase {
			flags |= regexp2.IgnoreCase
		}
		if strings.HasPrefix(pattern, caseInsensitivePrefix) {
			flags |= regexp2.IgnoreCase
			pattern = pattern[len(caseInsensitivePrefix):]
		}
		re, err := regexp2.Compile(pattern, flags)
		if err != nil {
			return nil, fmt.Errorf("invalid grep pattern %q: %w", opts.Grep, err)
		}
		re.MatchTimeout = matchTimeout
		f.re = re
	}

	if strings.TrimSpace(opts.Where) != "" {
		prog, err := compileWhere(opts.Where)
		if err != nil {
			return nil, fmt.Errorf("invalid where expression: %w", err)
		}
		f.where = prog
	}

	return f, nil
}

// SinceTS reports the lower timestamp bound, if any.
func (f *Filter) SinceTS() (int64, bool) {
	if f.sinceTS == nil {
		return 0, false
	}
	return *f.sinceTS, true
}

// Match decodes one raw line and tests it. Lines that do not decode as
// event records never match.
func (f *Filter) Match(line []byte) bool {
	ev, err := types.ParseEvent(line)
	if err != nil {
		f.totalProcessed.Add(1)
		return false
	}
	return f.MatchEvent(ev)
}

// MatchEvent tests a decoded record.
func (f *Filter) MatchEvent(ev *types.Event) bool {
	f.totalProcessed.Add(1)
	if !f.matches(ev) {
		return false
	}
	f.totalMatched.Add(1)
	return true
}

func (f *Filter) matches(ev *types.Event) bool {
	if f.kind != "" && ev.Kind != f.kind {
		return false
	}
	if f.sinceTS != nil && ev.TS < *f.sinceTS {
		return false
	}
	if f.re != nil {
		ok, err := f.re.MatchString(ev.Text)
		if err != nil || !ok {
			return false
		}
	}
	if f.where != nil && !f.where.eval(ev) {
		return false
	}
	return true
}

// Stats returns match counters.
func (f *Filter) Stats() map[string]any {
	return map[string]any{
		"total_processed": f.totalProcessed.Load(),
		"total_matched":   f.totalMatched.Load(),
	}
}
