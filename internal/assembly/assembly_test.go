package assembly

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/docforge/docforge/model"
)

func TestAssembly_storeAndAssemble(t *testing.T) {
	a := New()
	if err := a.SetSourceContext("novel outline", 100); err != nil {
		t.Fatalf("SetSourceContext error: %v", err)
	}

	if err := a.StoreBlock(0, "a"); err != nil {
		t.Fatalf("StoreBlock(0) error: %v", err)
	}
	if err := a.StoreBlock(100, "b"); err != nil {
		t.Fatalf("StoreBlock(100) error: %v", err)
	}

	if got := a.GetAssembledText(); got != "ab" {
		t.Errorf("GetAssembledText() = %q, want %q", got, "ab")
	}
	if got := a.GetNextSequenceNumber(); got != 200 {
		t.Errorf("GetNextSequenceNumber() = %d, want 200", got)
	}
}

func TestAssembly_blockSizeImmutable(t *testing.T) {
	a := New()
	_ = a.SetSourceContext("ctx", 100)

	err := a.SetSourceContext("other", 50)
	if !model.IsCode(err, model.ErrAlreadyInitialized) {
		t.Fatalf("err = %v, want ALREADY_INITIALIZED", err)
	}

	// Same size refreshes the context without error.
	if err := a.SetSourceContext("updated", 100); err != nil {
		t.Fatalf("same-size SetSourceContext error: %v", err)
	}
	if a.SourceContext() != "updated" {
		t.Errorf("SourceContext() = %q", a.SourceContext())
	}
}

func TestAssembly_storeBlockValidatesSequence(t *testing.T) {
	a := New()
	_ = a.SetSourceContext("ctx", 100)

	for _, seq := range []int{-100, -1, 50, 101} {
		if err := a.StoreBlock(seq, "x"); !model.IsCode(err, model.ErrBadRequest) {
			t.Errorf("StoreBlock(%d) err = %v, want BAD_REQUEST", seq, err)
		}
	}
}

func TestAssembly_storeBlockOverwrites(t *testing.T) {
	a := New()
	_ = a.SetSourceContext("ctx", 100)

	_ = a.StoreBlock(0, "first")
	_ = a.StoreBlock(0, "second")

	got, err := a.GetBlock(0)
	if err != nil {
		t.Fatalf("GetBlock error: %v", err)
	}
	if got != "second" {
		t.Errorf("GetBlock(0) = %q, want second", got)
	}
	if a.Len() != 1 {
		t.Errorf("Len() = %d, want 1", a.Len())
	}
}

func TestAssembly_defaultBlockSize(t *testing.T) {
	a := New()

	// Without SetSourceContext the default size applies.
	if err := a.StoreBlock(DefaultBlockSize, "x"); err != nil {
		t.Fatalf("StoreBlock error: %v", err)
	}
	if got := a.GetNextSequenceNumber(); got != 2*DefaultBlockSize {
		t.Errorf("GetNextSequenceNumber() = %d, want %d", got, 2*DefaultBlockSize)
	}
}

func TestAssembly_removeBlockKeepsNumbering(t *testing.T) {
	a := New()
	_ = a.SetSourceContext("ctx", 100)
	_ = a.StoreBlock(0, "a")
	_ = a.StoreBlock(100, "b")
	_ = a.StoreBlock(200, "c")

	a.RemoveBlock(100)
	a.RemoveBlock(100) // idempotent

	if got := a.GetAssembledText(); got != "ac" {
		t.Errorf("GetAssembledText() = %q, want ac", got)
	}
	seqs := a.GetAllSequenceNumbers()
	if len(seqs) != 2 || seqs[0] != 0 || seqs[1] != 200 {
		t.Errorf("GetAllSequenceNumbers() = %v", seqs)
	}
	// Next number still builds on the highest stored block.
	if got := a.GetNextSequenceNumber(); got != 300 {
		t.Errorf("GetNextSequenceNumber() = %d, want 300", got)
	}
}

func TestAssembly_getBlockNotFound(t *testing.T) {
	a := New()
	_ = a.SetSourceContext("ctx", 100)

	if _, err := a.GetBlock(0); !model.IsCode(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestAssembly_emptyNextSequenceIsZero(t *testing.T) {
	a := New()
	_ = a.SetSourceContext("ctx", 100)

	if got := a.GetNextSequenceNumber(); got != 0 {
		t.Errorf("GetNextSequenceNumber() = %d, want 0", got)
	}
}

func TestAssembly_getWindow(t *testing.T) {
	a := New()
	_ = a.SetSourceContext("ctx", 100)
	_ = a.StoreBlock(0, "a")
	_ = a.StoreBlock(100, "b")
	_ = a.StoreBlock(300, "d") // gap at 200

	w, err := a.GetWindow(100)
	if err != nil {
		t.Fatalf("GetWindow error: %v", err)
	}
	if w.Current != "b" || w.Previous != "a" || w.Next != "d" {
		t.Errorf("window = %+v", w)
	}
	if !w.HasPrevious || !w.HasNext {
		t.Errorf("window flags = %+v", w)
	}

	// First block has no previous neighbour.
	w, _ = a.GetWindow(0)
	if w.HasPrevious || w.Next != "b" {
		t.Errorf("window at 0 = %+v", w)
	}

	// Last block has no next neighbour.
	w, _ = a.GetWindow(300)
	if w.HasNext || w.Previous != "b" {
		t.Errorf("window at 300 = %+v", w)
	}

	if _, err := a.GetWindow(200); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("GetWindow(200) err = %v, want NOT_FOUND", err)
	}
}

func TestAssembly_clearAndDeactivate(t *testing.T) {
	a := New()
	_ = a.SetSourceContext("ctx", 100)
	_ = a.StoreBlock(0, "a")

	a.ClearAndDeactivate()
	a.ClearAndDeactivate() // idempotent

	if a.Len() != 0 {
		t.Errorf("Len() = %d after clear", a.Len())
	}
	if a.SourceContext() != "" {
		t.Errorf("SourceContext() = %q after clear", a.SourceContext())
	}
	// Reinitialization with a new size is allowed after clearing.
	if err := a.SetSourceContext("fresh", 50); err != nil {
		t.Fatalf("reinitialize error: %v", err)
	}
}

func TestAssembly_concurrentStores(t *testing.T) {
	a := New()
	_ = a.SetSourceContext("ctx", 100)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = a.StoreBlock(i*100, fmt.Sprintf("block-%d", i))
		}(i)
	}
	wg.Wait()

	if a.Len() != 50 {
		t.Errorf("Len() = %d, want 50", a.Len())
	}
	if got := a.GetNextSequenceNumber(); got != 5000 {
		t.Errorf("GetNextSequenceNumber() = %d, want 5000", got)
	}
}

func TestRegistry_perDocumentInstances(t *testing.T) {
	r := NewRegistry()
	docA, docB := uuid.New(), uuid.New()

	a := r.For(docA)
	_ = a.SetSourceContext("ctx", 100)
	_ = a.StoreBlock(0, "a")

	if r.For(docA) != a {
		t.Error("For() must return the same instance for one document")
	}
	if r.For(docB) == a {
		t.Error("distinct documents must get distinct assemblies")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	r.Remove(docA)
	r.Remove(docA) // idempotent
	if r.Len() != 1 {
		t.Errorf("Len() = %d after remove, want 1", r.Len())
	}
	if a.Len() != 0 {
		t.Error("Remove must clear the assembly")
	}
}
