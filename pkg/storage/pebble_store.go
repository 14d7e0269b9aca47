package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/guessly/clob/pkg/app/core/account"
	"github.com/guessly/clob/pkg/app/core/market"
	"github.com/guessly/clob/pkg/app/core/orderbook"
	"github.com/guessly/clob/pkg/app/engine"
)

// PebbleStore is the durable journal of the engine. Every engine call lands
// as one synced batch, so a restart sees either all of a call or none of it.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func readU64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("expected 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// Commit implements engine.Journal.
func (s *PebbleStore) Commit(e engine.JournalEntry) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, o := range e.Orders {
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("marshal order %d: %w", o.ID, err)
		}
		if err := b.Set(orderKey(o.ID), data, nil); err != nil {
			return err
		}
	}
	if err := b.Set([]byte(keySequence), u64(e.NextID), nil); err != nil {
		return err
	}
	if err := writeVaultChange(b, e.Vault); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit journal batch: %w", err)
	}
	return nil
}

// PersistVaultChange stores user-initiated vault changes (deposits,
// withdrawals, approvals). Install it with Vault.SetPersister.
func (s *PebbleStore) PersistVaultChange(c account.Change) error {
	b := s.db.NewBatch()
	defer b.Close()
	if err := writeVaultChange(b, c); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func writeVaultChange(b *pebble.Batch, c account.Change) error {
	for _, bal := range c.Balances {
		key := balanceKey(bal.Owner, bal.Asset)
		var err error
		if bal.Amount == 0 {
			err = b.Delete(key, nil)
		} else {
			err = b.Set(key, u64(bal.Amount), nil)
		}
		if err != nil {
			return err
		}
	}
	for _, a := range c.Allowances {
		if err := b.Set(allowanceKey(a.Owner), u64(a.Amount), nil); err != nil {
			return err
		}
	}
	for _, a := range c.Approvals {
		var err error
		if a.Approved {
			err = b.Set(approvalKey(a.Owner), []byte{1}, nil)
		} else {
			err = b.Delete(approvalKey(a.Owner), nil)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// LoadSequence returns the next order id, or 1 for an empty store.
func (s *PebbleStore) LoadSequence() (uint64, error) {
	val, closer, err := s.db.Get([]byte(keySequence))
	if errors.Is(err, pebble.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get sequence: %w", err)
	}
	defer closer.Close()
	return readU64(val)
}

// LoadOrders returns every stored order in id order.
func (s *PebbleStore) LoadOrders() ([]orderbook.Order, error) {
	var out []orderbook.Order
	err := s.scan([]byte(prefixOrder), func(key, val []byte) error {
		var o orderbook.Order
		if err := json.Unmarshal(val, &o); err != nil {
			return fmt.Errorf("unmarshal %s: %w", key, err)
		}
		id, err := orderIDFromKey(key)
		if err != nil || id != o.ID {
			return fmt.Errorf("order key %s does not match id %d", key, o.ID)
		}
		out = append(out, o)
		return nil
	})
	return out, err
}

// LoadVault returns balances, allowances and approvals as one change set
// suitable for Vault.Restore.
func (s *PebbleStore) LoadVault() (account.Change, error) {
	var c account.Change
	err := s.scan([]byte(prefixBalance), func(key, val []byte) error {
		owner, asset, err := parseBalanceKey(key)
		if err != nil {
			return err
		}
		amt, err := readU64(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		c.Balances = append(c.Balances, account.Balance{Owner: owner, Asset: asset, Amount: amt})
		return nil
	})
	if err != nil {
		return c, err
	}
	err = s.scan([]byte(prefixAllow), func(key, val []byte) error {
		owner, err := addressFromKey(key, prefixAllow)
		if err != nil {
			return err
		}
		amt, err := readU64(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		c.Allowances = append(c.Allowances, account.Allowance{Owner: owner, Amount: amt})
		return nil
	})
	if err != nil {
		return c, err
	}
	err = s.scan([]byte(prefixApproval), func(key, _ []byte) error {
		owner, err := addressFromKey(key, prefixApproval)
		if err != nil {
			return err
		}
		c.Approvals = append(c.Approvals, account.Approval{Owner: owner, Approved: true})
		return nil
	})
	return c, err
}

func (s *PebbleStore) SaveMarket(m market.Market) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal market: %w", err)
	}
	if err := s.db.Set(marketKey(m.Address), data, pebble.Sync); err != nil {
		return fmt.Errorf("save market %s: %w", m.Address.Hex(), err)
	}
	return nil
}

func (s *PebbleStore) LoadMarket(addr common.Address) (*market.Market, error) {
	val, closer, err := s.db.Get(marketKey(addr))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get market: %w", err)
	}
	defer closer.Close()
	var m market.Market
	if err := json.Unmarshal(val, &m); err != nil {
		return nil, fmt.Errorf("unmarshal market: %w", err)
	}
	return &m, nil
}

func (s *PebbleStore) LoadMarkets() ([]market.Market, error) {
	var out []market.Market
	err := s.scan([]byte(prefixMarket), func(key, val []byte) error {
		var m market.Market
		if err := json.Unmarshal(val, &m); err != nil {
			return fmt.Errorf("unmarshal %s: %w", key, err)
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

func (s *PebbleStore) scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
