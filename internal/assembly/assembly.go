// Package assembly accumulates generated document text in numbered blocks so
// a context-window-limited generator can retrieve a bounded window around any
// point of a large document instead of the whole text.
package assembly

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/docforge/docforge/model"
)

// DefaultBlockSize is the sequence-number increment used when no explicit
// block size has been configured.
const DefaultBlockSize = 100

// Assembly holds the numbered text blocks of one document. Sequence numbers
// are non-negative and allocated in increments of the block size; removing a
// block never renumbers the others. Safe for concurrent use.
type Assembly struct {
	mu            sync.Mutex
	sourceContext string
	blockSize     int
	parts         map[int]string
}

// New creates an empty assembly.
func New() *Assembly {
	return &Assembly{parts: make(map[int]string)}
}

// SetSourceContext sets the shared context string and fixes the block size.
// The block size is immutable once set: a second call with a different size
// returns ALREADY_INITIALIZED; the same size just refreshes the context.
func (a *Assembly) SetSourceContext(text string, blockSize int) error {
	if blockSize <= 0 {
		return model.NewBadRequestError("block size must be positive")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.blockSize != 0 && a.blockSize != blockSize {
		return model.NewAlreadyInitializedError(fmt.Sprintf(
			"block size already set to %d, cannot change to %d", a.blockSize, blockSize,
		))
	}
	a.blockSize = blockSize
	a.sourceContext = text
	return nil
}

// SourceContext returns the shared context string.
func (a *Assembly) SourceContext() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sourceContext
}

// BlockSize returns the configured block size, or DefaultBlockSize if none
// has been set yet.
func (a *Assembly) BlockSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blockSizeLocked()
}

func (a *Assembly) blockSizeLocked() int {
	if a.blockSize == 0 {
		return DefaultBlockSize
	}
	return a.blockSize
}

// StoreBlock stores text at a sequence number, overwriting any existing
// block at that number. The number must be a non-negative multiple of the
// block size.
func (a *Assembly) StoreBlock(seq int, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := a.blockSizeLocked()
	if seq < 0 || seq%size != 0 {
		return model.NewBadRequestError(fmt.Sprintf(
			"sequence number %d is not a non-negative multiple of block size %d", seq, size,
		))
	}
	a.parts[seq] = text
	return nil
}

// GetBlock returns the block at a sequence number.
func (a *Assembly) GetBlock(seq int) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	text, ok := a.parts[seq]
	if !ok {
		return "", model.NewNotFoundError(fmt.Sprintf("no block at sequence number %d", seq))
	}
	return text, nil
}

// RemoveBlock drops the block at a sequence number, freeing its memory.
// Removing an absent block is a no-op.
func (a *Assembly) RemoveBlock(seq int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.parts, seq)
}

// GetAssembledText concatenates all stored blocks in sequence order. Gaps
// are skipped, not padded.
func (a *Assembly) GetAssembledText() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	seqs := a.sequenceNumbersLocked()
	var b strings.Builder
	for _, seq := range seqs {
		b.WriteString(a.parts[seq])
	}
	return b.String()
}

// GetAllSequenceNumbers returns the stored sequence numbers in ascending
// order.
func (a *Assembly) GetAllSequenceNumbers() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sequenceNumbersLocked()
}

func (a *Assembly) sequenceNumbersLocked() []int {
	seqs := make([]int, 0, len(a.parts))
	for seq := range a.parts {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	return seqs
}

// GetNextSequenceNumber returns the number the next block should use: the
// highest stored number plus the block size, or 0 for an empty assembly.
func (a *Assembly) GetNextSequenceNumber() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.parts) == 0 {
		return 0
	}
	max := 0
	for seq := range a.parts {
		if seq > max {
			max = seq
		}
	}
	return max + a.blockSizeLocked()
}

// Window is a bounded view around one block: the block itself plus the
// nearest stored neighbours on either side, for context-limited continuation
// prompts.
type Window struct {
	Previous    string
	Current     string
	Next        string
	HasPrevious bool
	HasNext     bool
}

// GetWindow returns the block at a sequence number together with its nearest
// stored neighbours. Gaps are skipped: the neighbour is the closest stored
// block, not necessarily seq±blockSize.
func (a *Assembly) GetWindow(seq int) (Window, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, ok := a.parts[seq]
	if !ok {
		return Window{}, model.NewNotFoundError(fmt.Sprintf("no block at sequence number %d", seq))
	}

	w := Window{Current: current}
	prevSeq, nextSeq := -1, -1
	for s := range a.parts {
		if s < seq && (prevSeq < 0 || s > prevSeq) {
			prevSeq = s
		}
		if s > seq && (nextSeq < 0 || s < nextSeq) {
			nextSeq = s
		}
	}
	if prevSeq >= 0 {
		w.Previous = a.parts[prevSeq]
		w.HasPrevious = true
	}
	if nextSeq >= 0 {
		w.Next = a.parts[nextSeq]
		w.HasNext = true
	}
	return w, nil
}

// ClearAndDeactivate drops all blocks and the context, releasing memory. The
// block size resets too, so the assembly can be reinitialized. Idempotent.
func (a *Assembly) ClearAndDeactivate() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.parts = make(map[int]string)
	a.sourceContext = ""
	a.blockSize = 0
}

// Len returns the number of stored blocks. For testing.
func (a *Assembly) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.parts)
}
