// Package pipeline implements the trade synchronization engine: signature
// deduplication, date-range and block-range enumeration, buffered
// ingestion, and the orchestrator that drives them.
package pipeline

import (
	"sync"

	"github.com/dmelnik/polysync/internal/domain"
)

// Deduplicator tracks the trade signatures already persisted or observed
// during this run. It is shared by all workers feeding the pipeline; the
// check-and-mark is the only operation performed under its lock.
type Deduplicator struct {
	mu         sync.Mutex
	seen       map[domain.TradeSignature]struct{}
	duplicates int64
}

// NewDeduplicator creates an empty Deduplicator. Call Load with the
// signatures of already-persisted trades before feeding it.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[domain.TradeSignature]struct{})}
}

// Load registers a bulk set of signatures, typically the one read from
// storage at run start.
func (d *Deduplicator) Load(sigs map[domain.TradeSignature]struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for sig := range sigs {
		d.seen[sig] = struct{}{}
	}
}

// IsNewAndMark atomically checks whether the raw trade's signature has been
// seen and registers it. It returns true exactly once per signature per
// process; duplicate observations are counted.
func (d *Deduplicator) IsNewAndMark(raw domain.RawTrade) bool {
	sig := raw.Signature()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[sig]; ok {
		d.duplicates++
		return false
	}
	d.seen[sig] = struct{}{}
	return true
}

// Seen reports whether the signature has been observed.
func (d *Deduplicator) Seen(sig domain.TradeSignature) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[sig]
	return ok
}

// Duplicates returns how many duplicate observations IsNewAndMark rejected.
func (d *Deduplicator) Duplicates() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duplicates
}

// Len returns the number of distinct signatures tracked.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
