package piwebapi

import (
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

// DefaultBatchCapacity is the size in bytes of a batch body buffer.
const DefaultBatchCapacity = 500000

type batchState int

const (
	batchIdle batchState = iota
	batchOpen
	batchFinished
)

// Batch accumulates one PI "execute batch" request body: a JSON object whose
// keys "1", "2", ... each hold a sub-request. The buffer never grows past its
// capacity; an entry that would not fit is rejected with ErrBatchOverflow and
// the buffer is left as it was.
//
// A Batch has a single writer. Start, Add and Finish must be called in that
// order; anything else returns ErrBatchState.
type Batch struct {
	capacity int
	buf      []byte
	count    int
	state    batchState
}

func NewBatch(capacity int) *Batch {
	if capacity <= 0 {
		capacity = DefaultBatchCapacity
	}
	// room for "{}"
	capacity = max(capacity, 2)
	return &Batch{capacity: capacity}
}

// Start discards any previous content and opens a new body.
func (b *Batch) Start() {
	if b.buf == nil {
		b.buf = make([]byte, 0, min(b.capacity, 64*1024))
	}
	b.buf = append(b.buf[:0], '{')
	b.count = 0
	b.state = batchOpen
}

func (b *Batch) add(sub subRequest) error {
	if b.state != batchOpen {
		return fmt.Errorf("%w: add requires an open batch", ErrBatchState)
	}
	enc, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode sub-request: %w", err)
	}
	key := strconv.Itoa(b.count + 1)

	need := len(key) + 3 + len(enc)
	if b.count > 0 {
		need++
	}
	// one byte stays reserved for the closing brace
	if free := b.capacity - len(b.buf) - 1; need > free {
		return fmt.Errorf("%w: entry %s needs %d bytes, %d free", ErrBatchOverflow, key, need, free)
	}

	if b.count > 0 {
		b.buf = append(b.buf, ',')
	}
	b.buf = append(b.buf, '"')
	b.buf = append(b.buf, key...)
	b.buf = append(b.buf, '"', ':')
	b.buf = append(b.buf, enc...)
	b.count++
	return nil
}

// Finish closes the body.
func (b *Batch) Finish() error {
	if b.state != batchOpen {
		return fmt.Errorf("%w: finish requires an open batch", ErrBatchState)
	}
	b.buf = append(b.buf, '}')
	b.state = batchFinished
	return nil
}

// Bytes returns the body accumulated so far. It aliases the internal buffer.
func (b *Batch) Bytes() []byte { return b.buf }

// Count is the number of sub-requests added since Start.
func (b *Batch) Count() int { return b.count }

func (b *Batch) Len() int { return len(b.buf) }

func (b *Batch) Cap() int { return b.capacity }

// Finished reports whether Finish was called since the last Start.
func (b *Batch) Finished() bool { return b.state == batchFinished }
