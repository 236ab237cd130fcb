// Package cache implements the fixed-capacity FIFO block cache that is the
// only path through which ISAM data blocks are read or written. It is
// write-through: callers mutate a slot's buffer in place and then call
// WriteBack, so eviction only ever discards clean buffers.
//
// The functional-options constructor follows the same shape the teacher
// uses for its segment manager (WithMaxSegmentSize), applied here to
// capacity tuning instead of segment rotation thresholds.
package cache

import "fmt"

// DefaultCapacity is the number of block buffers the cache holds at once.
const DefaultCapacity = 6

// Store is the backing file the cache reads and writes fixed-size blocks
// through. It is implemented by the engine, which owns the file handle and
// the header fields (DataStart, CurBlocks) that the cache needs but must
// not mutate directly.
type Store interface {
	// ReadBlockAt fills buf (exactly one block) from block number b.
	ReadBlockAt(b uint64, buf []byte) error
	// WriteBlockAt writes buf (exactly one block) to block number b.
	WriteBlockAt(b uint64, buf []byte) error
	// CurBlocks returns the total number of blocks currently allocated on
	// disk, including overflow blocks.
	CurBlocks() uint64
	// GrowCurBlocks persists a new CurBlocks value (called only when a
	// request reaches past the current end of file).
	GrowCurBlocks(to uint64) error
}

// Metrics holds the accumulated cache/disk-activity counters, reset each
// time they are read (spec.md 4.2: "reading them atomically resets them").
type Metrics struct {
	CacheBlockCalls uint64
	DiskReads       uint64
	DiskWrites      uint64
}

type config struct {
	capacity int
}

// Option configures a Cache at construction time.
type Option func(*config)

// WithCapacity overrides DefaultCapacity.
func WithCapacity(n int) Option {
	return func(c *config) { c.capacity = n }
}

type slot struct {
	block uint64
	valid bool
	buf   []byte
}

// Cache is a fixed-capacity FIFO cache of raw block buffers.
type Cache struct {
	store     Store
	blockSize int
	slots     []slot
	lastIn    int
	resident  map[uint64]int
	metrics   Metrics
}

// New builds a Cache backed by store, sized for blockSize-byte blocks.
func New(store Store, blockSize int, opts ...Option) *Cache {
	cfg := config{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(&cfg)
	}

	slots := make([]slot, cfg.capacity)
	for i := range slots {
		slots[i].buf = make([]byte, blockSize)
	}

	return &Cache{
		store:     store,
		blockSize: blockSize,
		slots:     slots,
		lastIn:    -1,
		resident:  make(map[uint64]int, cfg.capacity),
	}
}

// nextSlot picks the next FIFO slot to fill, evicting whatever clean
// buffer currently occupies it.
func (c *Cache) nextSlot() int {
	n := (c.lastIn + 1) % len(c.slots)
	if c.slots[n].valid {
		delete(c.resident, c.slots[n].block)
	}
	c.lastIn = n
	return n
}

// CacheBlock returns the slot index and buffer holding block b, loading it
// from disk or zero-allocating it (extending the file) as needed.
func (c *Cache) CacheBlock(b uint64) (int, []byte, error) {
	c.metrics.CacheBlockCalls++

	if i, ok := c.resident[b]; ok {
		return i, c.slots[i].buf, nil
	}

	if b >= c.store.CurBlocks() {
		return c.extendTo(b)
	}

	return c.loadFromDisk(b)
}

func (c *Cache) extendTo(b uint64) (int, []byte, error) {
	i := c.nextSlot()
	buf := c.slots[i].buf
	for j := range buf {
		buf[j] = 0
	}

	if err := c.store.WriteBlockAt(b, buf); err != nil {
		return 0, nil, fmt.Errorf("cache: extend to block %d: %w", b, err)
	}
	c.metrics.DiskWrites++

	if err := c.store.GrowCurBlocks(b + 1); err != nil {
		return 0, nil, fmt.Errorf("cache: grow header past block %d: %w", b, err)
	}

	c.slots[i].block = b
	c.slots[i].valid = true
	c.resident[b] = i
	return i, buf, nil
}

func (c *Cache) loadFromDisk(b uint64) (int, []byte, error) {
	i := c.nextSlot()
	buf := c.slots[i].buf

	if err := c.store.ReadBlockAt(b, buf); err != nil {
		return 0, nil, fmt.Errorf("cache: read block %d: %w", b, err)
	}
	c.metrics.DiskReads++

	c.slots[i].block = b
	c.slots[i].valid = true
	c.resident[b] = i
	return i, buf, nil
}

// WriteBack flushes the buffer held at slotIdx back to disk. Call this
// immediately after mutating a slot's buffer in place.
func (c *Cache) WriteBack(slotIdx int) error {
	if slotIdx < 0 || slotIdx >= len(c.slots) || !c.slots[slotIdx].valid {
		return fmt.Errorf("cache: write back of invalid slot %d", slotIdx)
	}
	s := &c.slots[slotIdx]
	if err := c.store.WriteBlockAt(s.block, s.buf); err != nil {
		return fmt.Errorf("cache: write back block %d: %w", s.block, err)
	}
	c.metrics.DiskWrites++
	return nil
}

// Metrics returns the accumulated counters and resets them to zero.
func (c *Cache) Metrics() Metrics {
	m := c.metrics
	c.metrics = Metrics{}
	return m
}
