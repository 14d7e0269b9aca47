package orderbook

import (
	"encoding/binary"
	"hash"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// SideSnapshot is one index list with its stale tags.
type SideSnapshot struct {
	Key    SideKey
	IDs    []uint64
	Active []bool
}

// Snapshot is a canonical, deterministic copy of the ledger state.
type Snapshot struct {
	NextID uint64
	Orders []Order // sorted by id
	Sides  []SideSnapshot
}

func (l *Ledger) Snapshot() Snapshot {
	s := Snapshot{NextID: l.seq.Peek()}
	s.Orders = make([]Order, 0, len(l.orders))
	for _, o := range l.orders {
		s.Orders = append(s.Orders, *o)
	}
	sort.Slice(s.Orders, func(i, j int) bool { return s.Orders[i].ID < s.Orders[j].ID })

	for _, k := range l.index.keys() {
		list := l.index.lists[k]
		side := SideSnapshot{Key: k, IDs: make([]uint64, len(list)), Active: make([]bool, len(list))}
		for i, e := range list {
			side.IDs[i] = e.id
			side.Active[i] = e.active
		}
		s.Sides = append(s.Sides, side)
	}
	return s
}

// Digest returns keccak256 over the canonical encoding of the snapshot.
// Two ledgers with equal digests hold byte-identical state.
func (l *Ledger) Digest() common.Hash {
	h := sha3.NewLegacyKeccak256()
	l.Snapshot().writeTo(h)
	var out common.Hash
	h.Sum(out[:0])
	return out
}

func (s Snapshot) writeTo(h hash.Hash) {
	var buf [8]byte
	u64 := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	flag := func(b bool) {
		if b {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}

	u64(s.NextID)
	u64(uint64(len(s.Orders)))
	for _, o := range s.Orders {
		u64(o.ID)
		h.Write(o.Maker[:])
		h.Write(o.Market[:])
		h.Write([]byte{o.OutcomeIndex})
		u64(o.Price)
		u64(o.Amount)
		u64(o.Filled)
		u64(o.Escrow)
		flag(o.IsBid)
		flag(o.Active)
		flag(o.Cancelled)
		u64(uint64(o.CreatedAt))
	}

	u64(uint64(len(s.Sides)))
	for _, side := range s.Sides {
		h.Write(side.Key.Market[:])
		h.Write([]byte{side.Key.OutcomeIndex})
		flag(side.Key.IsBid)
		u64(uint64(len(side.IDs)))
		for i, id := range side.IDs {
			u64(id)
			flag(side.Active[i])
		}
	}
}
