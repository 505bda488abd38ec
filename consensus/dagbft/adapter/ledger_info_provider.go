package adapter

import (
	"fmt"
	"sync"

	"github.com/dagbft/dagbft/consensus/dagbft"
	"github.com/dagbft/dagbft/model/dag"
)

// LedgerInfoProvider is the read-mostly holder of the latest commit-proof
// ledger info. It is updated exactly once per commit callback and never
// rolled back.
type LedgerInfoProvider struct {
	mu     sync.RWMutex
	latest *dag.LedgerInfoWithSignatures
}

var _ dagbft.LedgerInfoProvider = (*LedgerInfoProvider)(nil)

// NewLedgerInfoProvider creates a provider seeded with the latest persisted
// commit proof; initial may be nil at genesis.
func NewLedgerInfoProvider(initial *dag.LedgerInfoWithSignatures) *LedgerInfoProvider {
	return &LedgerInfoProvider{latest: initial}
}

func (p *LedgerInfoProvider) GetLatestLedgerInfo() *dag.LedgerInfoWithSignatures {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

func (p *LedgerInfoProvider) GetHighestCommittedAnchorRound() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return 0
	}
	return p.latest.Round()
}

// update installs a new commit proof. Committing the same or a lower round
// twice would mean two conflicting commits, so it panics.
func (p *LedgerInfoProvider) update(ledgerInfo *dag.LedgerInfoWithSignatures) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest != nil && ledgerInfo.Round() <= p.latest.Round() {
		panic(fmt.Sprintf("double commit: round %d is not above committed round %d",
			ledgerInfo.Round(), p.latest.Round()))
	}
	p.latest = ledgerInfo
}
