package shm

import (
	"fmt"
	"reflect"
	"sync/atomic"
	"unsafe"
)

// Ring is a bounded, lock-free MPSC queue over a flat byte region: any
// number of producers may TryPush concurrently, exactly one consumer may
// TryPop. Each slot carries a sequence counter (Vyukov's bounded-queue
// claim protocol): producers CAS the shared head to claim a slot, write the
// payload, then publish it by storing sequence = head+1; the consumer pops
// in tail order and releases slots a full lap ahead.
//
// The payload type must be pointer-free with a fixed layout, because when
// the ring lives in shared memory the raw bytes are read by other processes
// with no serialization step.
//
// Region layout, all offsets 8-byte aligned:
//
//	0    magic marker (set last during init)
//	64   head: next slot index producers claim
//	128  tail: next slot index the consumer drains
//	192  capacity slots of [sequence uint64 | payload T]
type Ring[T any] struct {
	data     []byte
	capacity uint64
	mask     uint64
	stride   uintptr

	region *Region
	owner  bool
}

const (
	magicOffset = 0
	headOffset  = 64
	tailOffset  = 128
	slotsOffset = 192

	magicValue uint64 = 0x56454C41524E4731
)

// Size returns the byte size of a ring of the given payload type and
// capacity; it is part of the shared-memory object name.
func Size[T any](capacity int) int {
	return slotsOffset + capacity*int(stride[T]())
}

func stride[T any]() uintptr {
	var zero T
	return (8 + unsafe.Sizeof(zero) + 7) &^ 7
}

// New lays a ring out over process-private memory. Producers and the
// consumer must then be goroutines of this process.
func New[T any](capacity int) (*Ring[T], error) {
	r, err := attach[T](make([]byte, Size[T](capacity)), capacity)
	if err != nil {
		return nil, err
	}
	r.init()
	return r, nil
}

// Create maps the named shared-memory object as its owner, initializing it
// unless another process already has. By convention the single consumer is
// the creator/owner of its rings.
func Create[T any](prefix string, capacity int) (*Ring[T], error) {
	region, err := CreateRegion(prefix, Size[T](capacity), capacity)
	if err != nil {
		return nil, err
	}
	return fromRegion[T](region, capacity)
}

// Open attaches to an already-created object without taking ownership. If
// the magic marker is absent the opener initializes the region; two
// processes racing to be first is the caller's misconfiguration, the
// convention is that the owner is started first.
func Open[T any](prefix string, capacity int) (*Ring[T], error) {
	region, err := OpenRegion(prefix, Size[T](capacity), capacity)
	if err != nil {
		return nil, err
	}
	return fromRegion[T](region, capacity)
}

func fromRegion[T any](region *Region, capacity int) (*Ring[T], error) {
	r, err := attach[T](region.Bytes(), capacity)
	if err != nil {
		region.Close()
		return nil, err
	}
	r.region = region
	r.owner = region.Owner()
	if !r.initialized() {
		r.init()
	}
	return r, nil
}

func attach[T any](data []byte, capacity int) (*Ring[T], error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("ring capacity %d is not a power of two", capacity)
	}
	var zero T
	if hasPointers(reflect.TypeOf(zero)) {
		return nil, fmt.Errorf("ring payload %T contains pointers and cannot cross process boundaries", zero)
	}
	return &Ring[T]{
		data:     data,
		capacity: uint64(capacity),
		mask:     uint64(capacity) - 1,
		stride:   stride[T](),
	}, nil
}

// hasPointers reports whether the type can NOT be shared as raw bytes:
// only fixed-size scalars, arrays of them and structs of them are
// representable across process boundaries.
func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Array:
		return hasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func (r *Ring[T]) u64(off uintptr) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.data[off]))
}

func (r *Ring[T]) seq(slot uint64) *uint64 {
	return r.u64(slotsOffset + uintptr(slot)*r.stride)
}

func (r *Ring[T]) payload(slot uint64) *T {
	return (*T)(unsafe.Pointer(&r.data[slotsOffset+uintptr(slot)*r.stride+8]))
}

func (r *Ring[T]) init() {
	atomic.StoreUint64(r.u64(headOffset), 0)
	atomic.StoreUint64(r.u64(tailOffset), 0)
	for i := uint64(0); i < r.capacity; i++ {
		atomic.StoreUint64(r.seq(i), i)
	}
	// The marker goes in last so attachers never observe a half-built ring.
	atomic.StoreUint64(r.u64(magicOffset), magicValue)
}

func (r *Ring[T]) initialized() bool {
	return atomic.LoadUint64(r.u64(magicOffset)) == magicValue
}

// TryPush claims a slot and publishes v, returning false when the ring is
// full. Safe for any number of concurrent producers; lock-free: a failed
// CAS means some other producer claimed the slot and made progress.
func (r *Ring[T]) TryPush(v T) bool {
	head := r.u64(headOffset)
	pos := atomic.LoadUint64(head)
	for {
		slot := pos & r.mask
		seq := atomic.LoadUint64(r.seq(slot))
		diff := int64(seq) - int64(pos)

		switch {
		case diff == 0:
			// Free slot: claim it, write, then publish.
			if atomic.CompareAndSwapUint64(head, pos, pos+1) {
				*r.payload(slot) = v
				atomic.StoreUint64(r.seq(slot), pos+1)
				return true
			}
			pos = atomic.LoadUint64(head)
		case diff < 0:
			return false
		default:
			// A faster producer already claimed this slot.
			pos = atomic.LoadUint64(head)
		}
	}
}

// PushBlocking spins on TryPush until it succeeds. No backoff and no
// cancellation: latency over fairness when the ring is rarely full. Keep it
// off paths where the consumer can stall.
func (r *Ring[T]) PushBlocking(v T) {
	for !r.TryPush(v) {
	}
}

// TryPop drains the next published value, if any. Single consumer only:
// concurrent callers corrupt slot ordering, that precondition is not
// checked at runtime.
func (r *Ring[T]) TryPop() (T, bool) {
	tail := r.u64(tailOffset)
	pos := atomic.LoadUint64(tail)
	slot := pos & r.mask
	seq := atomic.LoadUint64(r.seq(slot))
	if int64(seq)-int64(pos+1) < 0 {
		var zero T
		return zero, false
	}
	v := *r.payload(slot)
	// Hand the slot back for the next lap before advancing.
	atomic.StoreUint64(r.seq(slot), pos+r.capacity)
	atomic.StoreUint64(tail, pos+1)
	return v, true
}

// Len is a racy size estimate, fine for monitoring.
func (r *Ring[T]) Len() int {
	head := atomic.LoadUint64(r.u64(headOffset))
	tail := atomic.LoadUint64(r.u64(tailOffset))
	return int(head - tail)
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return int(r.capacity) }

// Close detaches from the backing region. The owning handle clears the
// magic marker first so stale attachments cannot mistake a recycled region
// for an initialized one, then unlinks the object.
func (r *Ring[T]) Close() error {
	if r.region == nil {
		return nil
	}
	if r.owner {
		atomic.StoreUint64(r.u64(magicOffset), 0)
	}
	region := r.region
	r.region = nil
	return region.Close()
}
