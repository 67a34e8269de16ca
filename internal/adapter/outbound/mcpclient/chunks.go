package mcpclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/i2y/nlquery/internal/domain"
)

// chunkBuffer collects the chunks of one resource read in delivery order.
// The read goroutine pushes; the consumer pulls.
type chunkBuffer struct {
	mu       sync.Mutex
	items    []string
	pos      int
	finished bool
	count    int
	err      error
	signal   chan struct{}
}

func newChunkBuffer() *chunkBuffer {
	return &chunkBuffer{signal: make(chan struct{}, 1)}
}

func (b *chunkBuffer) wake() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// push appends the chunk with the given index. An out-of-order chunk fails
// the read.
func (b *chunkBuffer) push(index int, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return
	}
	if index != len(b.items) {
		b.finished = true
		b.err = fmt.Errorf("%w: chunk %d arrived, expected %d", domain.ErrIncompleteResource, index, len(b.items))
		b.wake()
		return
	}
	b.items = append(b.items, text)
	b.wake()
}

// finish records the terminal response. The first call wins.
func (b *chunkBuffer) finish(count int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return
	}
	b.finished = true
	b.count = count
	if err != nil {
		if b.pos > 0 || len(b.items) > 0 {
			err = fmt.Errorf("%w: %w", domain.ErrIncompleteResource, err)
		}
		b.err = err
	} else if count != len(b.items) {
		b.err = fmt.Errorf("%w: server reported %d items, received %d", domain.ErrIncompleteResource, count, len(b.items))
	}
	b.wake()
}

// ready blocks until at least one item is available or the read has
// finished. It returns the terminal error if the read failed before
// producing anything.
func (b *chunkBuffer) ready(ctx context.Context) error {
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			b.mu.Unlock()
			return nil
		}
		if b.finished {
			err := b.err
			b.mu.Unlock()
			return err
		}
		b.mu.Unlock()

		select {
		case <-b.signal:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// next returns the next item. ok is false once the sequence is exhausted;
// err is then the terminal error, if any.
func (b *chunkBuffer) next(ctx context.Context) (item string, ok bool, err error) {
	for {
		b.mu.Lock()
		if b.pos < len(b.items) {
			item = b.items[b.pos]
			b.items[b.pos] = ""
			b.pos++
			b.mu.Unlock()
			return item, true, nil
		}
		if b.finished {
			err = b.err
			b.mu.Unlock()
			return "", false, err
		}
		b.mu.Unlock()

		select {
		case <-b.signal:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}
