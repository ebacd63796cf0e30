package world

import (
	"crypto/sha256"
	"encoding/binary"
	"slices"
)

type ChunkKey struct {
	CX, CY, CZ int
}

func compareChunkKey(a, b ChunkKey) int {
	switch {
	case a.CX != b.CX:
		return a.CX - b.CX
	case a.CY != b.CY:
		return a.CY - b.CY
	default:
		return a.CZ - b.CZ
	}
}

type Chunk struct {
	Key    ChunkKey
	Blocks []uint16 // len = size^3, x fastest, then z, then y
	solid  int

	dirty bool
	hash  [32]byte
}

func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [2]byte
		for _, v := range c.Blocks {
			binary.LittleEndian.PutUint16(tmp[:], v)
			h.Write(tmp[:])
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}

// ChunkStore is a sparse voxel store. Chunks are allocated on the first
// non-air write and freed when they become all air.
type ChunkStore struct {
	size int
	// Accessed only from the world loop goroutine.
	chunks map[ChunkKey]*Chunk
}

func NewChunkStore(size int) *ChunkStore {
	return &ChunkStore{size: size, chunks: map[ChunkKey]*Chunk{}}
}

func (s *ChunkStore) Size() int { return s.size }

func (s *ChunkStore) split(pos Vec3i) (ChunkKey, int) {
	n := s.size
	k := ChunkKey{CX: floorDiv(pos.X, n), CY: floorDiv(pos.Y, n), CZ: floorDiv(pos.Z, n)}
	lx, ly, lz := mod(pos.X, n), mod(pos.Y, n), mod(pos.Z, n)
	return k, lx + lz*n + ly*n*n
}

func (s *ChunkStore) Get(pos Vec3i) uint16 {
	k, i := s.split(pos)
	c := s.chunks[k]
	if c == nil {
		return 0
	}
	return c.Blocks[i]
}

func (s *ChunkStore) Set(pos Vec3i, b uint16) {
	k, i := s.split(pos)
	c := s.chunks[k]
	if c == nil {
		if b == 0 {
			return
		}
		c = &Chunk{Key: k, Blocks: make([]uint16, s.size*s.size*s.size)}
		s.chunks[k] = c
	}
	old := c.Blocks[i]
	if old == b {
		return
	}
	c.Blocks[i] = b
	c.dirty = true
	switch {
	case old == 0:
		c.solid++
	case b == 0:
		c.solid--
	}
	if c.solid == 0 {
		delete(s.chunks, k)
	}
}

// Put installs a whole chunk, replacing any existing one.
func (s *ChunkStore) Put(k ChunkKey, blocks []uint16) {
	c := &Chunk{Key: k, Blocks: blocks, dirty: true}
	for _, b := range blocks {
		if b != 0 {
			c.solid++
		}
	}
	if c.solid == 0 {
		delete(s.chunks, k)
		return
	}
	s.chunks[k] = c
}

func (s *ChunkStore) Chunk(k ChunkKey) (*Chunk, bool) {
	c, ok := s.chunks[k]
	return c, ok
}

func (s *ChunkStore) LoadedChunkKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareChunkKey)
	return keys
}

// Origin returns the world coordinate of the chunk's (0,0,0) cell.
func (s *ChunkStore) Origin(k ChunkKey) Vec3i {
	return Vec3i{X: k.CX * s.size, Y: k.CY * s.size, Z: k.CZ * s.size}
}

// Each visits every non-air cell in chunk key order.
func (s *ChunkStore) Each(fn func(pos Vec3i, b uint16)) {
	n := s.size
	for _, k := range s.LoadedChunkKeys() {
		c := s.chunks[k]
		o := s.Origin(k)
		for i, b := range c.Blocks {
			if b == 0 {
				continue
			}
			fn(Vec3i{X: o.X + i%n, Y: o.Y + i/(n*n), Z: o.Z + (i/n)%n}, b)
		}
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
