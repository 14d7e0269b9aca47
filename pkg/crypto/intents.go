package crypto

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator input. VerifyingContract is the
// OrderBook address so intents cannot be replayed against another deployment.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

func DefaultDomain() Domain {
	return Domain{
		Name:    "Guessly",
		Version: "1",
		ChainID: big.NewInt(8453),
	}
}

// PlaceOrderIntent is what a maker signs to rest an order.
type PlaceOrderIntent struct {
	Maker    common.Address `json:"maker"`
	Market   common.Address `json:"market"`
	Outcome  uint8          `json:"outcomeIndex"`
	Price    uint64         `json:"price"`
	Amount   uint64         `json:"amount"`
	IsBid    bool           `json:"isBid"`
	Nonce    uint64         `json:"nonce"`
	Deadline uint64         `json:"deadline"`
}

// FillOrdersIntent is what a taker signs to fill a batch of resting orders.
type FillOrdersIntent struct {
	Taker    common.Address `json:"taker"`
	OrderIDs []uint64       `json:"orderIds"`
	Amounts  []uint64       `json:"amounts"`
	Nonce    uint64         `json:"nonce"`
	Deadline uint64         `json:"deadline"`
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var intentTypes = apitypes.Types{
	"EIP712Domain": domainType,
	"PlaceOrder": {
		{Name: "maker", Type: "address"},
		{Name: "market", Type: "address"},
		{Name: "outcomeIndex", Type: "uint8"},
		{Name: "price", Type: "uint256"},
		{Name: "amount", Type: "uint256"},
		{Name: "isBid", Type: "bool"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
	"FillOrders": {
		{Name: "taker", Type: "address"},
		{Name: "orderIds", Type: "uint256[]"},
		{Name: "amounts", Type: "uint256[]"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// EIP712Signer hashes, signs and recovers typed intents for one domain.
type EIP712Signer struct {
	domain Domain
}

func NewEIP712Signer(domain Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() Domain { return e.domain }

func (e *EIP712Signer) HashPlaceOrder(in *PlaceOrderIntent) ([]byte, error) {
	return e.digest("PlaceOrder", apitypes.TypedDataMessage{
		"maker":        in.Maker.Hex(),
		"market":       in.Market.Hex(),
		"outcomeIndex": strconv.FormatUint(uint64(in.Outcome), 10),
		"price":        strconv.FormatUint(in.Price, 10),
		"amount":       strconv.FormatUint(in.Amount, 10),
		"isBid":        in.IsBid,
		"nonce":        strconv.FormatUint(in.Nonce, 10),
		"deadline":     strconv.FormatUint(in.Deadline, 10),
	})
}

func (e *EIP712Signer) HashFillOrders(in *FillOrdersIntent) ([]byte, error) {
	return e.digest("FillOrders", apitypes.TypedDataMessage{
		"taker":    in.Taker.Hex(),
		"orderIds": uintList(in.OrderIDs),
		"amounts":  uintList(in.Amounts),
		"nonce":    strconv.FormatUint(in.Nonce, 10),
		"deadline": strconv.FormatUint(in.Deadline, 10),
	})
}

func (e *EIP712Signer) SignPlaceOrder(s *Signer, in *PlaceOrderIntent) ([]byte, error) {
	hash, err := e.HashPlaceOrder(in)
	if err != nil {
		return nil, err
	}
	return s.Sign(hash)
}

func (e *EIP712Signer) SignFillOrders(s *Signer, in *FillOrdersIntent) ([]byte, error) {
	hash, err := e.HashFillOrders(in)
	if err != nil {
		return nil, err
	}
	return s.Sign(hash)
}

// VerifyPlaceOrder checks that sig was produced by the intent's maker.
func (e *EIP712Signer) VerifyPlaceOrder(in *PlaceOrderIntent, sig []byte) error {
	hash, err := e.HashPlaceOrder(in)
	if err != nil {
		return err
	}
	return expectSigner(hash, sig, in.Maker)
}

// VerifyFillOrders checks that sig was produced by the intent's taker.
func (e *EIP712Signer) VerifyFillOrders(in *FillOrdersIntent, sig []byte) error {
	hash, err := e.HashFillOrders(in)
	if err != nil {
		return err
	}
	return expectSigner(hash, sig, in.Taker)
}

func expectSigner(hash, sig []byte, want common.Address) error {
	got, err := RecoverAddress(hash, sig)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: signed by %s, expected %s", ErrInvalidSignature, got.Hex(), want.Hex())
	}
	return nil
}

// TypedData returns the full eth_signTypedData_v4 payload for a wallet.
func (e *EIP712Signer) TypedData(primary string, msg apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       intentTypes,
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg,
	}
}

func (e *EIP712Signer) digest(primary string, msg apitypes.TypedDataMessage) ([]byte, error) {
	td := e.TypedData(primary, msg)
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	structHash, err := td.HashStruct(primary, td.Message)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", primary, err)
	}
	// keccak256("\x19\x01" || domainSeparator || structHash)
	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

func uintList(vs []uint64) []interface{} {
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		out[i] = strconv.FormatUint(v, 10)
	}
	return out
}
