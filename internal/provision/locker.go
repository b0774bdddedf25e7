package provision

import (
	"context"
	"sync"
)

// LabelLocker is the in-process types.KeyLocker. One slot per label,
// acquired channel-style so waiting honors ctx cancellation.
type LabelLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLabelLocker() *LabelLocker {
	return &LabelLocker{slots: make(map[string]chan struct{})}
}

func (l *LabelLocker) slot(label string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[label]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[label] = ch
	}
	return ch
}

func (l *LabelLocker) Lock(ctx context.Context, label string) (func(), error) {
	ch := l.slot(label)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
