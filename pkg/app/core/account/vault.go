package account

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrBalanceOverflow       = errors.New("balance overflow")
)

// Unlimited is the allowance value that Pull transfers never decrement.
const Unlimited = math.MaxUint64

// Transfer moves Amount of Asset from From to To. A Pull transfer is initiated
// by the operator on behalf of From and consumes From's allowance (collateral)
// or requires From's operator approval (shares). Transfers out of the operator
// account never need allowance.
type Transfer struct {
	From   common.Address
	To     common.Address
	Asset  Asset
	Amount uint64
	Pull   bool
}

// Vault is the in-memory settlement target: it holds collateral and outcome
// share balances and moves them in all-or-nothing batches.
type Vault struct {
	mu         sync.RWMutex
	operator   common.Address
	balances   map[balanceKey]uint64
	allowances map[common.Address]uint64
	approvals  map[common.Address]bool
	persist    func(Change) error
}

// NewVault creates an empty vault whose escrow account is operator.
func NewVault(operator common.Address) *Vault {
	return &Vault{
		operator:   operator,
		balances:   make(map[balanceKey]uint64),
		allowances: make(map[common.Address]uint64),
		approvals:  make(map[common.Address]bool),
	}
}

// SetPersister installs a hook called with the post-state of every
// user-initiated change (deposit, withdraw, approve) before it is published.
// Apply uses its own commit callback instead.
func (v *Vault) SetPersister(fn func(Change) error) {
	v.mu.Lock()
	v.persist = fn
	v.mu.Unlock()
}

func (v *Vault) Operator() common.Address { return v.operator }

// Deposit credits amount of asset to owner (bridge-in or conditional token mint).
func (v *Vault) Deposit(owner common.Address, asset Asset, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	key := balanceKey{owner, asset}
	cur := v.balances[key]
	if cur+amount < cur {
		return fmt.Errorf("%w: deposit %d to %s", ErrBalanceOverflow, amount, owner.Hex())
	}
	change := Change{Balances: []Balance{{Owner: owner, Asset: asset, Amount: cur + amount}}}
	if err := v.persistLocked(change); err != nil {
		return err
	}
	v.balances[key] = cur + amount
	return nil
}

// Withdraw debits amount of asset from owner.
func (v *Vault) Withdraw(owner common.Address, asset Asset, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	key := balanceKey{owner, asset}
	cur := v.balances[key]
	if cur < amount {
		return fmt.Errorf("%w: %s has %d %s, withdraw %d", ErrInsufficientBalance, owner.Hex(), cur, asset, amount)
	}
	change := Change{Balances: []Balance{{Owner: owner, Asset: asset, Amount: cur - amount}}}
	if err := v.persistLocked(change); err != nil {
		return err
	}
	v.balances[key] = cur - amount
	return nil
}

// Approve sets the collateral amount the operator may pull from owner.
func (v *Vault) Approve(owner common.Address, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	change := Change{Allowances: []Allowance{{Owner: owner, Amount: amount}}}
	if err := v.persistLocked(change); err != nil {
		return err
	}
	v.allowances[owner] = amount
	return nil
}

// SetApprovalForAll lets the operator move any of owner's outcome shares.
func (v *Vault) SetApprovalForAll(owner common.Address, approved bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	change := Change{Approvals: []Approval{{Owner: owner, Approved: approved}}}
	if err := v.persistLocked(change); err != nil {
		return err
	}
	v.approvals[owner] = approved
	return nil
}

func (v *Vault) persistLocked(c Change) error {
	if v.persist == nil {
		return nil
	}
	if err := v.persist(c); err != nil {
		return fmt.Errorf("persist vault change: %w", err)
	}
	return nil
}

func (v *Vault) Balance(owner common.Address, asset Asset) uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balances[balanceKey{owner, asset}]
}

func (v *Vault) Allowance(owner common.Address) uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.allowances[owner]
}

func (v *Vault) IsApprovedForAll(owner common.Address) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.approvals[owner]
}

// Balances lists the non-zero holdings of owner, collateral first.
func (v *Vault) Balances(owner common.Address) []Balance {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var keys []balanceKey
	for k, amt := range v.balances {
		if k.owner == owner && amt > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	out := make([]Balance, 0, len(keys))
	for _, k := range keys {
		out = append(out, Balance{Owner: owner, Asset: k.asset, Amount: v.balances[k]})
	}
	return out
}

// scratch overlays pending writes on top of the vault state.
type scratch struct {
	v          *Vault
	balances   map[balanceKey]uint64
	allowances map[common.Address]uint64
}

func (s *scratch) balance(k balanceKey) uint64 {
	if amt, ok := s.balances[k]; ok {
		return amt
	}
	return s.v.balances[k]
}

func (s *scratch) allowance(owner common.Address) uint64 {
	if amt, ok := s.allowances[owner]; ok {
		return amt
	}
	return s.v.allowances[owner]
}

func (s *scratch) apply(i int, t Transfer) error {
	if t.Pull && t.From != s.v.operator {
		switch t.Asset.Kind {
		case Collateral:
			alw := s.allowance(t.From)
			if alw < t.Amount {
				return fmt.Errorf("%w: transfer %d: %s allows %d, needs %d",
					ErrInsufficientAllowance, i, t.From.Hex(), alw, t.Amount)
			}
			if alw != Unlimited {
				s.allowances[t.From] = alw - t.Amount
			}
		default:
			if !s.v.approvals[t.From] {
				return fmt.Errorf("%w: transfer %d: %s has not approved operator for shares",
					ErrInsufficientAllowance, i, t.From.Hex())
			}
		}
	}

	from := balanceKey{t.From, t.Asset}
	bal := s.balance(from)
	if bal < t.Amount {
		return fmt.Errorf("%w: transfer %d: %s has %d %s, needs %d",
			ErrInsufficientBalance, i, t.From.Hex(), bal, t.Asset, t.Amount)
	}
	s.balances[from] = bal - t.Amount

	to := balanceKey{t.To, t.Asset}
	cur := s.balance(to)
	if cur+t.Amount < cur {
		return fmt.Errorf("%w: transfer %d to %s", ErrBalanceOverflow, i, t.To.Hex())
	}
	s.balances[to] = cur + t.Amount
	return nil
}

func (s *scratch) change() Change {
	var c Change
	keys := make([]balanceKey, 0, len(s.balances))
	for k := range s.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	for _, k := range keys {
		c.Balances = append(c.Balances, Balance{Owner: k.owner, Asset: k.asset, Amount: s.balances[k]})
	}

	owners := make([]common.Address, 0, len(s.allowances))
	for o := range s.allowances {
		owners = append(owners, o)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].Cmp(owners[j]) < 0 })
	for _, o := range owners {
		c.Allowances = append(c.Allowances, Allowance{Owner: o, Amount: s.allowances[o]})
	}
	return c
}

// Apply executes transfers in order against a scratch copy, so each check
// sees the effect of the earlier ones. If any transfer fails nothing changes.
// Otherwise commit (when non-nil) receives the post-state of every touched
// balance and allowance; a commit error also leaves the vault untouched.
func (v *Vault) Apply(transfers []Transfer, commit func(Change) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := &scratch{
		v:          v,
		balances:   make(map[balanceKey]uint64),
		allowances: make(map[common.Address]uint64),
	}
	for i, t := range transfers {
		if t.Amount == 0 {
			continue
		}
		if err := s.apply(i, t); err != nil {
			return err
		}
	}

	change := s.change()
	if commit != nil {
		if err := commit(change); err != nil {
			return err
		}
	}
	for k, amt := range s.balances {
		v.balances[k] = amt
	}
	for o, amt := range s.allowances {
		v.allowances[o] = amt
	}
	return nil
}

// Snapshot returns the full vault state in canonical order.
func (v *Vault) Snapshot() Change {
	v.mu.RLock()
	defer v.mu.RUnlock()

	s := &scratch{v: v, balances: make(map[balanceKey]uint64, len(v.balances)), allowances: make(map[common.Address]uint64, len(v.allowances))}
	for k, amt := range v.balances {
		if amt > 0 {
			s.balances[k] = amt
		}
	}
	for o, amt := range v.allowances {
		s.allowances[o] = amt
	}
	c := s.change()

	owners := make([]common.Address, 0, len(v.approvals))
	for o, ok := range v.approvals {
		if ok {
			owners = append(owners, o)
		}
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].Cmp(owners[j]) < 0 })
	for _, o := range owners {
		c.Approvals = append(c.Approvals, Approval{Owner: o, Approved: true})
	}
	return c
}

// Restore replaces the vault state, typically with what the journal loaded.
func (v *Vault) Restore(state Change) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.balances = make(map[balanceKey]uint64, len(state.Balances))
	v.allowances = make(map[common.Address]uint64, len(state.Allowances))
	v.approvals = make(map[common.Address]bool, len(state.Approvals))
	for _, b := range state.Balances {
		v.balances[balanceKey{b.Owner, b.Asset}] = b.Amount
	}
	for _, a := range state.Allowances {
		v.allowances[a.Owner] = a.Amount
	}
	for _, a := range state.Approvals {
		v.approvals[a.Owner] = a.Approved
	}
}

// Digest is the keccak-256 of the canonical snapshot.
func (v *Vault) Digest() common.Hash {
	snap := v.Snapshot()
	h := sha3.NewLegacyKeccak256()
	var buf [8]byte
	for _, b := range snap.Balances {
		h.Write(b.Owner[:])
		h.Write([]byte(b.Asset.String()))
		binary.BigEndian.PutUint64(buf[:], b.Amount)
		h.Write(buf[:])
	}
	h.Write([]byte{0xff})
	for _, a := range snap.Allowances {
		h.Write(a.Owner[:])
		binary.BigEndian.PutUint64(buf[:], a.Amount)
		h.Write(buf[:])
	}
	h.Write([]byte{0xff})
	for _, a := range snap.Approvals {
		h.Write(a.Owner[:])
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}
