package orderbook

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// SideKey identifies one side of one outcome book.
type SideKey struct {
	Market       common.Address
	OutcomeIndex uint8
	IsBid        bool
}

func (k SideKey) less(o SideKey) bool {
	if c := bytes.Compare(k.Market[:], o.Market[:]); c != 0 {
		return c < 0
	}
	if k.OutcomeIndex != o.OutcomeIndex {
		return k.OutcomeIndex < o.OutcomeIndex
	}
	return !k.IsBid && o.IsBid
}

type levelEntry struct {
	id     uint64
	active bool
}

type levelPos struct {
	key SideKey
	idx int
}

// LevelIndex keeps, per side, the order ids in arrival order.
//
// Filled and cancelled orders are never removed: their entry is tagged
// inactive and readers skip it. The lists only grow, matching the
// append-only id arrays of the on-chain book.
type LevelIndex struct {
	lists map[SideKey][]levelEntry
	pos   map[uint64]levelPos
}

func NewLevelIndex() *LevelIndex {
	return &LevelIndex{
		lists: make(map[SideKey][]levelEntry),
		pos:   make(map[uint64]levelPos),
	}
}

// Append adds an active order id to the tail of its side list.
func (ix *LevelIndex) Append(key SideKey, id uint64) {
	ix.pos[id] = levelPos{key: key, idx: len(ix.lists[key])}
	ix.lists[key] = append(ix.lists[key], levelEntry{id: id, active: true})
}

// Deactivate tags the entry for id as stale. Unknown ids are ignored.
func (ix *LevelIndex) Deactivate(id uint64) {
	p, ok := ix.pos[id]
	if !ok {
		return
	}
	ix.lists[p.key][p.idx].active = false
}

// IDs returns every id ever appended to the side, stale entries included.
func (ix *LevelIndex) IDs(key SideKey) []uint64 {
	list := ix.lists[key]
	out := make([]uint64, len(list))
	for i, e := range list {
		out[i] = e.id
	}
	return out
}

// ActiveIDs returns the live ids of the side in arrival order.
func (ix *LevelIndex) ActiveIDs(key SideKey) []uint64 {
	var out []uint64
	for _, e := range ix.lists[key] {
		if !e.active {
			continue
		}
		out = append(out, e.id)
	}
	return out
}

// Len reports the list length including stale entries.
func (ix *LevelIndex) Len(key SideKey) int {
	return len(ix.lists[key])
}

func (ix *LevelIndex) keys() []SideKey {
	keys := make([]SideKey, 0, len(ix.lists))
	for k := range ix.lists {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}
