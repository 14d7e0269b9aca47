package api

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/guessly/clob/pkg/util"
)

var (
	ErrIntentExpired = errors.New("intent expired")
	ErrNonceReused   = errors.New("nonce already used")
)

// ReplayGuard rejects signed intents that are expired, too far in the future,
// or that reuse a (signer, nonce) pair. Nonces are remembered until their
// deadline passes, after which the deadline alone rejects a replay.
type ReplayGuard struct {
	mu     sync.Mutex
	clock  util.Clock
	maxTTL time.Duration
	seen   map[common.Address]map[uint64]int64 // nonce -> deadline
}

func NewReplayGuard(clock util.Clock, maxTTL time.Duration) *ReplayGuard {
	if clock == nil {
		clock = util.RealClock{}
	}
	if maxTTL <= 0 {
		maxTTL = 24 * time.Hour
	}
	return &ReplayGuard{clock: clock, maxTTL: maxTTL, seen: make(map[common.Address]map[uint64]int64)}
}

// Use consumes nonce for signer. deadline is unix seconds.
func (g *ReplayGuard) Use(signer common.Address, nonce, deadline uint64) error {
	now := g.clock.Now().Unix()
	if deadline <= uint64(now) {
		return fmt.Errorf("%w: deadline %d", ErrIntentExpired, deadline)
	}
	if deadline > uint64(now)+uint64(g.maxTTL/time.Second) {
		return fmt.Errorf("%w: deadline %d beyond %s", ErrIntentExpired, deadline, g.maxTTL)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	nonces := g.seen[signer]
	if nonces == nil {
		nonces = make(map[uint64]int64)
		g.seen[signer] = nonces
	}
	for n, d := range nonces {
		if d <= now {
			delete(nonces, n)
		}
	}
	if _, ok := nonces[nonce]; ok {
		return fmt.Errorf("%w: %d", ErrNonceReused, nonce)
	}
	nonces[nonce] = int64(deadline)
	return nil
}
