package session

import (
	"sync"
	"sync/atomic"
)

// Counters aggregates dataplane and control-plane statistics. Increments are
// atomic; no cross-counter consistency is promised.
type Counters struct {
	encIn      atomic.Uint64
	encOut     atomic.Uint64
	drops      atomic.Uint64
	rekeysOK   atomic.Uint64
	rekeysFail atomic.Uint64

	mu             sync.Mutex
	lastRekeySuite string
}

// CounterSnapshot is the JSON form of Counters at one instant.
type CounterSnapshot struct {
	EncIn          uint64 `json:"enc_in"`
	EncOut         uint64 `json:"enc_out"`
	Drops          uint64 `json:"drops"`
	RekeysOK       uint64 `json:"rekeys_ok"`
	RekeysFail     uint64 `json:"rekeys_fail"`
	LastRekeySuite string `json:"last_rekey_suite,omitempty"`
}

func (c *Counters) AddEncIn()  { c.encIn.Add(1) }
func (c *Counters) AddEncOut() { c.encOut.Add(1) }
func (c *Counters) AddDrop()   { c.drops.Add(1) }

func (c *Counters) AddRekeyOK(suiteID string) {
	c.rekeysOK.Add(1)
	c.mu.Lock()
	c.lastRekeySuite = suiteID
	c.mu.Unlock()
}

func (c *Counters) AddRekeyFail() {
	c.rekeysFail.Add(1)
}

func (c *Counters) Snapshot() CounterSnapshot {
	c.mu.Lock()
	lastSuite := c.lastRekeySuite
	c.mu.Unlock()
	return CounterSnapshot{
		EncIn:          c.encIn.Load(),
		EncOut:         c.encOut.Load(),
		Drops:          c.drops.Load(),
		RekeysOK:       c.rekeysOK.Load(),
		RekeysFail:     c.rekeysFail.Load(),
		LastRekeySuite: lastSuite,
	}
}
