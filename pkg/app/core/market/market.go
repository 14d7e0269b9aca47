package market

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrMarketNotFound      = errors.New("market not found")
	ErrMarketExists        = errors.New("market already registered")
	ErrAlreadyResolved     = errors.New("market already resolved with a different outcome")
	ErrInvalidOutcome      = errors.New("outcome must be 0 or 1")
	ErrInvalidMarketConfig = errors.New("invalid market")
)

// Kind is the product a market was created as. The order book treats all
// kinds the same; it only matters to the external ledger and the UI.
type Kind string

const (
	KindOpinion     Kind = "opinion"
	KindShares      Kind = "shares"
	KindBTCInterval Kind = "btc-interval"
)

type Status uint8

const (
	Active Status = iota
	Resolved
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Resolved:
		return "resolved"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "active", "":
		*s = Active
	case "resolved":
		*s = Resolved
	default:
		return fmt.Errorf("unknown market status %q", b)
	}
	return nil
}

// Market is the order book's view of a prediction market. Address is the
// on-chain market contract; ID is the external ledger's identifier used in
// position projection URLs.
type Market struct {
	Address      common.Address `json:"address" yaml:"address"`
	ID           string         `json:"id" yaml:"id"`
	Kind         Kind           `json:"kind" yaml:"kind"`
	Question     string         `json:"question" yaml:"question"`
	Creator      common.Address `json:"creator" yaml:"creator"`
	DividendPool common.Address `json:"dividendPool" yaml:"dividendPool"`
	Status       Status         `json:"status" yaml:"status"`
	Outcome      uint8          `json:"outcome" yaml:"outcome"` // meaningful only when Resolved
}

func (m *Market) Resolved() bool { return m.Status == Resolved }

func (m *Market) Validate() error {
	if m.Address == (common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrInvalidMarketConfig)
	}
	if m.ID == "" {
		return fmt.Errorf("%w: %s has no ledger id", ErrInvalidMarketConfig, m.Address.Hex())
	}
	if m.Outcome > 1 {
		return fmt.Errorf("%w: %s outcome %d", ErrInvalidMarketConfig, m.Address.Hex(), m.Outcome)
	}
	return nil
}
