// Package message manages transmit buffers drawn from a finite pool.
//
// A [Buffer] has exactly one owner at a time. The caller that allocated it
// owns it until either [Buffer.Release] returns it to the pool, or a stack
// accepts it through [Buffer.Handoff]. After either of those the handle is
// detached and every further operation fails with [ErrNotOwned] without
// touching the pool.
package message

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrPoolExhausted = errors.New("message pool exhausted")
	ErrAppend        = errors.New("append rejected")
	ErrNotOwned      = errors.New("buffer is not owned by the caller")

	ErrUnknownPriority = errors.New("unknown message priority")
)

type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityNet // reserved for network control traffic
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityNet:
		return "net"
	}
	return "unknown"
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "net":
		return PriorityNet, nil
	}
	return 0, errors.Wrapf(ErrUnknownPriority, "%q", s)
}

// Settings are requested when a buffer is allocated and travel with it
// to the stack.
type Settings struct {
	LinkSecurity bool
	Priority     Priority
}

// DefaultSettings has link-layer security enabled at normal priority.
func DefaultSettings() Settings {
	return Settings{LinkSecurity: true, Priority: PriorityNormal}
}
