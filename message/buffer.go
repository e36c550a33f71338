package message

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Buffer struct {
	id       uuid.UUID
	settings Settings
	pool     *Pool

	mu   sync.Mutex
	slot *slot // nil once detached.
}

func (b *Buffer) ID() uuid.UUID { return b.id }

func (b *Buffer) Settings() Settings { return b.settings }

// Len returns the number of bytes appended so far, or 0 once detached.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.slot == nil {
		return 0
	}
	return len(b.slot.data)
}

// Owned reports whether the handle still owns its pool slot.
func (b *Buffer) Owned() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slot != nil
}

// Append copies p to the end of the buffer. It fails with [ErrAppend] if
// the result would exceed the buffer capacity; the buffer is left unchanged
// and the caller still has to release it.
func (b *Buffer) Append(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.slot == nil {
		return ErrNotOwned
	}

	if free := cap(b.slot.data) - len(b.slot.data); len(p) > free {
		return errors.Wrapf(ErrAppend, "%d bytes requested, %d available", len(p), free)
	}
	b.slot.data = append(b.slot.data, p...)

	return nil
}

// Release returns the buffer to its pool. It must be called exactly once
// for a buffer that was never handed off.
func (b *Buffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.slot == nil {
		return ErrNotOwned
	}

	s := b.slot
	b.slot = nil
	b.pool.put(s, false)

	return nil
}

// Handoff is how a stack takes ownership when submitting a buffer.
// accept receives the buffer contents and must not retain the slice.
// If accept returns nil the buffer is detached and counted as transferred;
// otherwise the caller keeps ownership and the error is returned as is.
func (b *Buffer) Handoff(accept func(data []byte) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.slot == nil {
		return ErrNotOwned
	}

	if err := accept(b.slot.data); err != nil {
		return err
	}

	s := b.slot
	b.slot = nil
	b.pool.put(s, true)

	return nil
}
