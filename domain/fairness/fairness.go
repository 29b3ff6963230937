// Package fairness derives provably fair outcomes from chain determined identifiers.
//
// The value for an invocation is reproducible by anyone who knows the previous block id,
// the block id, the transaction id, the client seed and the published server seed:
// the concatenation previousBlockID+blockID+transactionID+clientSeed+serverSeed is hashed
// with SHA-256, the digest seeds a ChaCha8 generator and its first Float64 is the value.
package fairness

import (
	"crypto/sha256"
	"math/rand/v2"

	"github.com/google/uuid"
)

// Derive returns a deterministic value in [0,1).
func Derive(previousBlockID, blockID, transactionID, serverSeed, clientSeed string) float64 {
	seed := sha256.Sum256([]byte(previousBlockID + blockID + transactionID + clientSeed + serverSeed))
	return rand.New(rand.NewChaCha8(seed)).Float64()
}

// Roll maps a derived value onto 1..sides.
func Roll(value float64, sides int) int {
	if sides <= 0 {
		return 0
	}
	roll := int(value*float64(sides)) + 1
	return min(roll, sides)
}

// Engine hands out server seeds. Seeds must be published with every outcome.
type Engine struct {
	newSeed func() string
}

func NewEngine() *Engine {
	return &Engine{newSeed: uuid.NewString}
}

// NewFixedSeedEngine always returns seed, for replaying published outcomes.
func NewFixedSeedEngine(seed string) *Engine {
	return &Engine{newSeed: func() string { return seed }}
}

func (e *Engine) NewServerSeed() string {
	return e.newSeed()
}

// Derive is the package level Derive, exposed on the engine for handlers holding one.
func (e *Engine) Derive(previousBlockID, blockID, transactionID, serverSeed, clientSeed string) float64 {
	return Derive(previousBlockID, blockID, transactionID, serverSeed, clientSeed)
}
