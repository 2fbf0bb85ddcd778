package connid

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/luciancaetano/wspush"
)

// Generator mints connection ids from a single atomic counter.
//
// A Generator is safe for concurrent use. The first id is 1. A new Generator
// restarts numbering; Qualify adds the generator's epoch for names that must
// stay unique across restarts.
type Generator struct {
	epoch uuid.UUID
	last  atomic.Uint64
}

// New returns a generator with a fresh random epoch.
func New() *Generator {
	return &Generator{epoch: uuid.New()}
}

// Next returns the next id. It never blocks and never fails.
func (g *Generator) Next() wspush.ConnectionID {
	return wspush.ConnectionID(g.last.Add(1))
}

// Epoch returns the random identifier assigned to this generator.
func (g *Generator) Epoch() uuid.UUID {
	return g.epoch
}

// Qualify renders id as "<epoch>/<id>".
func (g *Generator) Qualify(id wspush.ConnectionID) string {
	return g.epoch.String() + "/" + id.String()
}
