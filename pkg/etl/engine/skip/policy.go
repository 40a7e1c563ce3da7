// Package skip decides which per-row extraction failures may be skipped.
package skip

import (
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

// Unlimited disables the skip limit.
const Unlimited = -1

// SkipPolicy determines whether an error raised while reading a row can be
// skipped, and tracks how many rows have been skipped.
type SkipPolicy interface {
	// ShouldSkip reports whether err is skippable and the limit still allows it.
	ShouldSkip(err error) bool
	// IncrementSkipCount records one skipped row.
	IncrementSkipCount()
	// GetSkipCount returns the number of rows skipped so far.
	GetSkipCount() int
	// GetSkipLimit returns the configured limit, or Unlimited.
	GetSkipLimit() int
}

// NewSkipPolicy creates a policy. skipLimit < 0 means no limit, 0 means no row
// may be skipped. Recoverable ExtractionErrors are always skippable; further
// registered error type names can be added through skippableExceptions.
func NewSkipPolicy(skipLimit int, skippableExceptions ...string) SkipPolicy {
	return &defaultSkipPolicy{
		skipLimit:           skipLimit,
		skippableExceptions: skippableExceptions,
	}
}

type defaultSkipPolicy struct {
	skipLimit           int
	skippableExceptions []string
	currentSkipCount    int
}

func (p *defaultSkipPolicy) ShouldSkip(err error) bool {
	if err == nil {
		return false
	}
	if p.skipLimit >= 0 && p.currentSkipCount >= p.skipLimit {
		return false
	}
	if exception.KindOf(err) == exception.ExtractionError && !exception.IsFatal(err) {
		return true
	}
	for _, typeName := range p.skippableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	return false
}

func (p *defaultSkipPolicy) IncrementSkipCount() { p.currentSkipCount++ }

func (p *defaultSkipPolicy) GetSkipCount() int { return p.currentSkipCount }

func (p *defaultSkipPolicy) GetSkipLimit() int { return p.skipLimit }

var _ SkipPolicy = (*defaultSkipPolicy)(nil)
