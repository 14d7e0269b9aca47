package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/guessly/clob/pkg/app/core/orderbook"
	"github.com/guessly/clob/pkg/trader"
	"github.com/guessly/clob/pkg/util"
)

var (
	ErrReadOnly   = errors.New("chain client has no signing key")
	ErrTxReverted = errors.New("transaction reverted")
	ErrNoOrderLog = errors.New("OrderPlaced log missing from receipt")
	ErrOutOfRange = errors.New("value does not fit in uint64")
)

// Backend is the part of *ethclient.Client the adapter needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Client drives a deployed OrderBook contract. Without a key it can only
// read. It implements trader.Venue for the key's address.
type Client struct {
	backend  Backend
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	poll     time.Duration
	clock    util.Clock
	logger   *zap.Logger
}

type ClientConfig struct {
	Contract     common.Address
	Key          *ecdsa.PrivateKey // nil for read-only
	PollInterval time.Duration     // receipt polling
	Clock        util.Clock
	Logger       *zap.Logger
}

func NewClient(ctx context.Context, backend Backend, cfg ClientConfig) (*Client, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	c := &Client{
		backend:  backend,
		contract: cfg.Contract,
		key:      cfg.Key,
		chainID:  chainID,
		poll:     cfg.PollInterval,
		clock:    cfg.Clock,
		logger:   util.OrNop(cfg.Logger).Named("chain"),
	}
	if c.poll <= 0 {
		c.poll = time.Second
	}
	if c.clock == nil {
		c.clock = util.RealClock{}
	}
	if cfg.Key != nil {
		c.from = crypto.PubkeyToAddress(cfg.Key.PublicKey)
	}
	return c, nil
}

func (c *Client) Taker() common.Address { return c.from }

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := orderBook.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	vals, err := orderBook.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

func toU64(v *big.Int) (uint64, error) {
	if v == nil || v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("%w: %v", ErrOutOfRange, v)
	}
	return v.Uint64(), nil
}

func bigs(vs []uint64) []*big.Int {
	out := make([]*big.Int, len(vs))
	for i, v := range vs {
		out[i] = new(big.Int).SetUint64(v)
	}
	return out
}

// OrderIDs returns every order id of (market, outcome). The contract does not
// index by side, so isBid is ignored; callers filter on Order.IsBid.
func (c *Client) OrderIDs(ctx context.Context, mkt common.Address, outcome uint8, _ bool) ([]uint64, error) {
	vals, err := c.call(ctx, "getMarketOutcomeOrderIds", mkt, outcome)
	if err != nil {
		return nil, err
	}
	raw, ok := vals[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getMarketOutcomeOrderIds output %T", vals[0])
	}
	ids := make([]uint64, len(raw))
	for i, v := range raw {
		if ids[i], err = toU64(v); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

type orderTuple struct {
	Id           *big.Int
	Maker        common.Address
	Market       common.Address
	OutcomeIndex uint8
	Price        *big.Int
	Amount       *big.Int
	Filled       *big.Int
	IsBid        bool
	Active       bool
}

func (c *Client) Order(ctx context.Context, id uint64) (orderbook.Order, error) {
	data, err := orderBook.Pack("orders", new(big.Int).SetUint64(id))
	if err != nil {
		return orderbook.Order{}, err
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return orderbook.Order{}, fmt.Errorf("call orders(%d): %w", id, err)
	}
	var t orderTuple
	if err := orderBook.UnpackIntoInterface(&t, "orders", out); err != nil {
		return orderbook.Order{}, fmt.Errorf("unpack orders(%d): %w", id, err)
	}
	if t.Maker == (common.Address{}) {
		return orderbook.Order{}, fmt.Errorf("%w: %d", orderbook.ErrOrderNotFound, id)
	}

	o := orderbook.Order{
		Maker:        t.Maker,
		Market:       t.Market,
		OutcomeIndex: t.OutcomeIndex,
		IsBid:        t.IsBid,
		Active:       t.Active,
	}
	for _, f := range []struct {
		dst *uint64
		src *big.Int
	}{{&o.ID, t.Id}, {&o.Price, t.Price}, {&o.Amount, t.Amount}, {&o.Filled, t.Filled}} {
		if *f.dst, err = toU64(f.src); err != nil {
			return orderbook.Order{}, fmt.Errorf("order %d: %w", id, err)
		}
	}
	return o, nil
}

// PlaceOrder sends placeOrder and returns the id from the OrderPlaced log.
func (c *Client) PlaceOrder(ctx context.Context, mkt common.Address, outcome uint8, price, amount uint64, isBid bool) (uint64, error) {
	receipt, err := c.transact(ctx, "placeOrder", mkt, outcome, new(big.Int).SetUint64(price), new(big.Int).SetUint64(amount), isBid)
	if err != nil {
		return 0, err
	}
	placed := orderBook.Events["OrderPlaced"]
	for _, l := range receipt.Logs {
		if l.Address != c.contract || len(l.Topics) < 2 || l.Topics[0] != placed.ID {
			continue
		}
		return toU64(new(big.Int).SetBytes(l.Topics[1].Bytes()))
	}
	return 0, ErrNoOrderLog
}

// FillOrders sends fillOrders and sums the cost of the OrderFilled logs.
func (c *Client) FillOrders(ctx context.Context, ids, amounts []uint64) (*trader.Execution, error) {
	receipt, err := c.transact(ctx, "fillOrders", bigs(ids), bigs(amounts))
	if err != nil {
		return nil, err
	}
	exec := &trader.Execution{TxHash: receipt.TxHash}
	filled := orderBook.Events["OrderFilled"]
	for _, l := range receipt.Logs {
		if l.Address != c.contract || len(l.Topics) == 0 || l.Topics[0] != filled.ID {
			continue
		}
		vals, err := orderBook.Unpack("OrderFilled", l.Data)
		if err != nil {
			return nil, fmt.Errorf("decode OrderFilled: %w", err)
		}
		cost, err := toU64(vals[1].(*big.Int))
		if err != nil {
			return nil, err
		}
		exec.TotalCost += cost
	}
	return exec, nil
}

func (c *Client) CancelAllOrders(ctx context.Context, mkt common.Address) (common.Hash, error) {
	receipt, err := c.transact(ctx, "cancelAllOrders", mkt)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// transact signs an EIP-1559 transaction calling method and waits for its
// receipt. Reverted transactions return ErrTxReverted.
func (c *Client) transact(ctx context.Context, method string, args ...any) (*types.Receipt, error) {
	if c.key == nil {
		return nil, ErrReadOnly
	}
	data, err := orderBook.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas tip: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &c.contract, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate %s: %w", method, err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &c.contract,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", method, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	c.logger.Debug("tx_sent", zap.String("method", method), zap.String("hash", signed.Hash().Hex()), zap.Uint64("nonce", nonce))

	receipt, err := c.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s %s", ErrTxReverted, method, signed.Hash().Hex())
	}
	return receipt, nil
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(c.poll):
		}
	}
}

var _ trader.Venue = (*Client)(nil)
