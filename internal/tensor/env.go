package tensor

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/23skdu/longbow-anvil/internal/modelerr"
)

// Env is the validation state shared by every validator of one engine:
// the alignment override, declared memory regions and the last-error slot.
// It replaces process-wide globals so independent engines never interfere.
type Env struct {
	alignOverride atomic.Uint32

	mu            sync.RWMutex
	regions       [][]byte
	boundaryCheck bool

	LastError modelerr.Slot
}

// NewEnv returns an Env with no override and boundary checking disabled.
func NewEnv() *Env {
	return &Env{}
}

// SetAlignmentOverride replaces every catalog alignment until cleared.
// Zero clears the override.
func (e *Env) SetAlignmentOverride(align uint32) {
	e.alignOverride.Store(align)
}

// ClearAlignmentOverride restores catalog alignments.
func (e *Env) ClearAlignmentOverride() {
	e.alignOverride.Store(0)
}

// Alignment returns the effective alignment for a catalog requirement.
func (e *Env) Alignment(required uint32) uint32 {
	if e == nil {
		return required
	}
	if o := e.alignOverride.Load(); o != 0 {
		return o
	}
	return required
}

// AddRegion declares caller memory that operand buffers may live in.
func (e *Env) AddRegion(region []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.regions = append(e.regions, region)
}

// SetBoundaryCheck toggles the requirement that buffers lie inside a region.
func (e *Env) SetBoundaryCheck(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.boundaryCheck = on
}

// inBounds reports whether buf passes the boundary check.
func (e *Env) inBounds(buf []byte) bool {
	if e == nil {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.boundaryCheck {
		return true
	}
	start := Address(buf)
	end := start + uintptr(len(buf))
	for _, r := range e.regions {
		rs := Address(r)
		if rs <= start && end <= rs+uintptr(len(r)) {
			return true
		}
	}
	return false
}

// Address returns the start address of buf, 0 for an empty slice.
func Address(buf []byte) uintptr {
	if cap(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
}

// AlignedBuffer allocates size bytes starting at a multiple of align.
func AlignedBuffer(size, align int) []byte {
	if align <= 1 {
		return make([]byte, size)
	}
	raw := make([]byte, size+align)
	off := 0
	if rem := int(Address(raw) % uintptr(align)); rem != 0 {
		off = align - rem
	}
	return raw[off : off+size : off+size]
}

// View reinterprets buf as a slice of T.
func View[T any](buf []byte) []T {
	var zero T
	n := len(buf) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(buf))), n)
}
