package testutil

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SequenceGenerator returns predictable ids for tests.
//
// Ids are "<prefix>-1", "<prefix>-2", ... in call order. The same test with
// the same generator produces byte-identical records and golden output.
//
// Thread-safety: SequenceGenerator is safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. If prefix is empty, "id" is used.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// UUIDSequence returns valid UUIDs whose last group counts up from 1
// (00000000-0000-7000-8000-000000000001, ...), for backends that validate
// the uuid format.
//
// Thread-safety: UUIDSequence is safe for concurrent use via internal mutex.
type UUIDSequence struct {
	mu sync.Mutex
	n  uint64
}

// Generate returns the next uuid.
func (g *UUIDSequence) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++

	var u uuid.UUID
	for i := 0; i < 7; i++ {
		u[15-i] = byte(g.n >> (8 * i))
	}
	u[6] = 0x70 // version 7
	u[8] = 0x80 // RFC 4122 variant
	return u.String()
}
