package account

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AssetKind distinguishes collateral from conditional outcome tokens.
type AssetKind uint8

const (
	Collateral   AssetKind = iota // USDC-style, 6 decimals
	OutcomeShare                  // conditional token of one market outcome
)

// Asset identifies what a balance is denominated in.
type Asset struct {
	Kind    AssetKind
	Market  common.Address // zero for collateral
	Outcome uint8
}

func CollateralAsset() Asset { return Asset{Kind: Collateral} }

func ShareAsset(market common.Address, outcome uint8) Asset {
	return Asset{Kind: OutcomeShare, Market: market, Outcome: outcome}
}

// String is the canonical encoding used in storage keys: "c" for collateral,
// "s:<market>:<outcome>" for shares.
func (a Asset) String() string {
	if a.Kind == Collateral {
		return "c"
	}
	return fmt.Sprintf("s:%s:%d", a.Market.Hex(), a.Outcome)
}

// ParseAsset is the inverse of Asset.String.
func ParseAsset(s string) (Asset, error) {
	if s == "c" {
		return CollateralAsset(), nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] != "s" || !common.IsHexAddress(parts[1]) {
		return Asset{}, fmt.Errorf("invalid asset %q", s)
	}
	outcome, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil {
		return Asset{}, fmt.Errorf("invalid asset outcome %q: %w", s, err)
	}
	return ShareAsset(common.HexToAddress(parts[1]), uint8(outcome)), nil
}

type balanceKey struct {
	owner common.Address
	asset Asset
}

func (k balanceKey) less(o balanceKey) bool {
	if c := bytes.Compare(k.owner[:], o.owner[:]); c != 0 {
		return c < 0
	}
	if k.asset.Kind != o.asset.Kind {
		return k.asset.Kind < o.asset.Kind
	}
	if c := bytes.Compare(k.asset.Market[:], o.asset.Market[:]); c != 0 {
		return c < 0
	}
	return k.asset.Outcome < o.asset.Outcome
}

// Balance is one (owner, asset) holding.
type Balance struct {
	Owner  common.Address `json:"owner"`
	Asset  Asset          `json:"asset"`
	Amount uint64         `json:"amount"`
}

// Allowance is the collateral an owner lets the operator pull.
type Allowance struct {
	Owner  common.Address `json:"owner"`
	Amount uint64         `json:"amount"`
}

// Approval is an owner's operator approval for outcome shares.
type Approval struct {
	Owner    common.Address `json:"owner"`
	Approved bool           `json:"approved"`
}

// Change lists the post-state of everything a vault operation touched.
type Change struct {
	Balances   []Balance
	Allowances []Allowance
	Approvals  []Approval
}

func (c Change) Empty() bool {
	return len(c.Balances) == 0 && len(c.Allowances) == 0 && len(c.Approvals) == 0
}

func (a Asset) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Asset) UnmarshalText(b []byte) error {
	parsed, err := ParseAsset(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
