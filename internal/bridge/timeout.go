package bridge

import (
	"time"

	"github.com/D1nhkh01/controller/internal/codec"
)

// TimeoutPolicy implements coordinator.TimeoutPolicy with a per-command
// -kind base timeout plus a SET_JOB per-character surcharge, grounded
// on original_source/timeout_utils.py's calculate_dynamic_timeout. It
// replaces the coordinator's flat default when wired in.
type TimeoutPolicy struct {
	Base map[codec.Kind]time.Duration
	Max  time.Duration
}

// DefaultTimeoutPolicy mirrors calculate_dynamic_timeout's base table.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		Base: map[codec.Kind]time.Duration{
			codec.KindHome:          5 * time.Second,
			codec.KindReset:         5 * time.Second,
			codec.KindSetJob:        8 * time.Second,
			codec.KindGetJob:        10 * time.Second,
			codec.KindStartJob:      15 * time.Second,
			codec.KindStartSequence: 30 * time.Second,
			codec.KindToggleEcho:    3 * time.Second,
			codec.KindMoveAxis:      5 * time.Second,
			codec.KindSetSequence:   5 * time.Second,
		},
		Max: 60 * time.Second,
	}
}

// TimeoutFor implements coordinator.TimeoutPolicy.
func (p TimeoutPolicy) TimeoutFor(cmd codec.Command) time.Duration {
	base, ok := p.Base[cmd.Kind]
	if !ok {
		base = 20 * time.Second
	}
	if cmd.Kind == codec.KindSetJob {
		if cs, ok := cmd.Meta["characterStringLen"].(int); ok {
			base += time.Duration(cs) * 100 * time.Millisecond
		}
	}
	max := p.Max
	if max <= 0 {
		max = 60 * time.Second
	}
	if base > max {
		base = max
	}
	return base
}
