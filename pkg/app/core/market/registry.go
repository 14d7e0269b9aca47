package market

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ResolveListener is called after a market transitions to Resolved.
type ResolveListener func(m Market)

// Registry holds every known market. Lookups return copies.
type Registry struct {
	mu        sync.RWMutex
	markets   map[common.Address]*Market
	listeners []ResolveListener
}

func NewRegistry() *Registry {
	return &Registry{markets: make(map[common.Address]*Market)}
}

// Register adds a market. Returns ErrMarketExists for a duplicate address.
func (r *Registry) Register(m Market) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Kind == "" {
		m.Kind = KindOpinion
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[m.Address]; exists {
		return fmt.Errorf("%w: %s", ErrMarketExists, m.Address.Hex())
	}
	r.markets[m.Address] = &m
	return nil
}

func (r *Registry) Get(addr common.Address) (Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.markets[addr]
	if !ok {
		return Market{}, fmt.Errorf("%w: %s", ErrMarketNotFound, addr.Hex())
	}
	return *m, nil
}

// List returns all markets ordered by address.
func (r *Registry) List() []Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Cmp(out[j].Address) < 0 })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

// OnResolve registers a listener for resolution transitions.
func (r *Registry) OnResolve(l ResolveListener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

// Resolve moves a market to Resolved with the given winning outcome.
// Resolved is terminal: resolving again with the same outcome reports
// changed=false, a different outcome returns ErrAlreadyResolved.
// Listeners run synchronously after the lock is released, only on change.
func (r *Registry) Resolve(addr common.Address, outcome uint8) (changed bool, err error) {
	if outcome > 1 {
		return false, ErrInvalidOutcome
	}

	r.mu.Lock()
	m, ok := r.markets[addr]
	if !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrMarketNotFound, addr.Hex())
	}
	if m.Status == Resolved {
		same := m.Outcome == outcome
		r.mu.Unlock()
		if same {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s resolved to %d", ErrAlreadyResolved, addr.Hex(), m.Outcome)
	}
	m.Status = Resolved
	m.Outcome = outcome
	snapshot := *m
	listeners := append([]ResolveListener(nil), r.listeners...)
	r.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
	return true, nil
}

// Restore replaces the registry contents without firing listeners.
func (r *Registry) Restore(markets []Market) error {
	next := make(map[common.Address]*Market, len(markets))
	for i := range markets {
		m := markets[i]
		if err := m.Validate(); err != nil {
			return err
		}
		next[m.Address] = &m
	}
	r.mu.Lock()
	r.markets = next
	r.mu.Unlock()
	return nil
}

type seedFile struct {
	Markets []Market `yaml:"markets"`
}

// LoadFile reads a YAML seed of markets:
//
//	markets:
//	  - address: 0x...
//	    id: clx123
//	    kind: opinion
//	    creator: 0x...
//	    dividendPool: 0x...
func LoadFile(path string) ([]Market, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markets file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse markets file %s: %w", path, err)
	}
	for i := range seed.Markets {
		if err := seed.Markets[i].Validate(); err != nil {
			return nil, fmt.Errorf("markets file %s entry %d: %w", path, i, err)
		}
	}
	return seed.Markets, nil
}
