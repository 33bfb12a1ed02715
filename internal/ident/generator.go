// Package ident provides opaque unique-id generation for ledger records.
package ident

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces opaque unique ids for positions and trade records.
// The engine never inspects id contents; tests may supply a deterministic
// implementation.
type Generator interface {
	NewID() string
}

// UUIDGenerator backs ids with random UUIDv4 strings.
type UUIDGenerator struct{}

func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

func (g *UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// SequentialGenerator produces "prefix-1", "prefix-2", ... ids.
// Used in tests where stable ids matter.
type SequentialGenerator struct {
	prefix  string
	counter atomic.Int64
}

func NewSequentialGenerator(prefix string) *SequentialGenerator {
	return &SequentialGenerator{prefix: prefix}
}

func (g *SequentialGenerator) NewID() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.counter.Add(1))
}
