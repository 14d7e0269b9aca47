package chain

import (
	"bytes"
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"

	"github.com/guessly/clob/pkg/app/resolution"
	"github.com/guessly/clob/pkg/util"
)

var (
	contract = common.HexToAddress("0x0000000000000000000000000000000000000b00")
	mkt      = common.HexToAddress("0x000000000000000000000000000000000000c0de")
	maker    = common.HexToAddress("0x000000000000000000000000000000000000a11c")
)

type fakeBackend struct {
	mu       sync.Mutex
	calls    map[string][]byte // method name -> packed output
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	logsFor  func(tx *types.Transaction) []*types.Log
	misses   int // receipts reported NotFound before appearing
	logs     []types.Log
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{calls: map[string][]byte{}, receipts: map[common.Hash]*types.Receipt{}}
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(8453), nil }

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	for name, m := range orderBook.Methods {
		if bytes.Equal(msg.Data[:4], m.ID) {
			return b.calls[name], nil
		}
	}
	return nil, ethereum.NotFound
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 210_000, nil
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.sent)), nil
}

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(100), nil }

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	r := &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash()}
	if b.logsFor != nil {
		r.Logs = b.logsFor(tx)
	}
	b.receipts[tx.Hash()] = r
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.misses > 0 {
		b.misses--
		return nil, ethereum.NotFound
	}
	r, ok := b.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *fakeBackend) SubscribeFilterLogs(ctx context.Context, _ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	logs := b.logs
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for _, l := range logs {
			select {
			case ch <- l:
			case <-quit:
				return nil
			}
		}
		<-quit
		return nil
	}), nil
}

func pack(t *testing.T, method string, vals ...any) []byte {
	t.Helper()
	out, err := orderBook.Methods[method].Outputs.Pack(vals...)
	if err != nil {
		t.Fatalf("pack %s: %v", method, err)
	}
	return out
}

func newClient(t *testing.T, b *fakeBackend) (*Client, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewClient(context.Background(), b, ClientConfig{
		Contract:     contract,
		Key:          key,
		PollInterval: time.Millisecond,
		Clock:        util.NewManualClock(time.Unix(0, 0)),
	})
	if err != nil {
		t.Fatal(err)
	}
	return c, crypto.PubkeyToAddress(key.PublicKey)
}

func TestOrderIDsAndOrder(t *testing.T) {
	b := newFakeBackend()
	b.calls["getMarketOutcomeOrderIds"] = pack(t, "getMarketOutcomeOrderIds", []*big.Int{big.NewInt(3), big.NewInt(7)})
	b.calls["orders"] = pack(t, "orders",
		big.NewInt(7), maker, mkt, uint8(1), big.NewInt(450_000), big.NewInt(100), big.NewInt(40), true, true)
	c, _ := newClient(t, b)

	ids, err := c.OrderIDs(context.Background(), mkt, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 7 {
		t.Fatalf("ids = %v", ids)
	}

	o, err := c.Order(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if o.ID != 7 || o.Maker != maker || o.OutcomeIndex != 1 || o.Price != 450_000 || o.Remaining() != 60 || !o.IsBid || !o.Active {
		t.Fatalf("order = %+v", o)
	}
}

func TestPlaceOrderSignsAndReadsLog(t *testing.T) {
	b := newFakeBackend()
	b.misses = 2
	placed := orderBook.Events["OrderPlaced"]
	b.logsFor = func(tx *types.Transaction) []*types.Log {
		data, _ := placed.Inputs.NonIndexed().Pack(uint8(0), big.NewInt(500_000), big.NewInt(10), true)
		return []*types.Log{{
			Address: contract,
			Topics: []common.Hash{
				placed.ID,
				common.BigToHash(big.NewInt(42)),
				common.BytesToHash(mkt.Bytes()),
				common.BytesToHash(maker.Bytes()),
			},
			Data: data,
		}}
	}
	c, from := newClient(t, b)

	id, err := c.PlaceOrder(context.Background(), mkt, 0, 500_000, 10, true)
	if err != nil {
		t.Fatal(err)
	}
	if id != 42 {
		t.Fatalf("id = %d", id)
	}

	tx := b.sent[0]
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(8453)), tx)
	if err != nil || sender != from {
		t.Fatalf("sender = %s, %v", sender.Hex(), err)
	}
	if tx.Type() != types.DynamicFeeTxType || *tx.To() != contract {
		t.Fatalf("unexpected tx type %d to %v", tx.Type(), tx.To())
	}
	if !bytes.Equal(tx.Data()[:4], orderBook.Methods["placeOrder"].ID) {
		t.Fatal("wrong selector")
	}
}

func TestFillOrdersSumsCost(t *testing.T) {
	b := newFakeBackend()
	filled := orderBook.Events["OrderFilled"]
	b.logsFor = func(*types.Transaction) []*types.Log {
		var out []*types.Log
		for i, cost := range []int64{25, 13} {
			data, _ := filled.Inputs.NonIndexed().Pack(big.NewInt(50), big.NewInt(cost))
			out = append(out, &types.Log{
				Address: contract,
				Topics:  []common.Hash{filled.ID, common.BigToHash(big.NewInt(int64(i + 1))), common.BytesToHash(maker.Bytes())},
				Data:    data,
			})
		}
		return out
	}
	c, _ := newClient(t, b)

	exec, err := c.FillOrders(context.Background(), []uint64{1, 2}, []uint64{50, 50})
	if err != nil {
		t.Fatal(err)
	}
	if exec.TotalCost != 38 || exec.TxHash != b.sent[0].Hash() {
		t.Fatalf("exec = %+v", exec)
	}
}

func TestReadOnlyClientCannotTransact(t *testing.T) {
	c, err := NewClient(context.Background(), newFakeBackend(), ClientConfig{Contract: contract})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.CancelAllOrders(context.Background(), mkt); err != ErrReadOnly {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestWatcherForwardsResolutions(t *testing.T) {
	ev := orderBook.Events["MarketResolved"]
	data, err := ev.Inputs.NonIndexed().Pack(uint8(1))
	if err != nil {
		t.Fatal(err)
	}
	b := newFakeBackend()
	b.logs = []types.Log{
		{Topics: []common.Hash{ev.ID, common.BytesToHash(mkt.Bytes())}, Data: data, Removed: true},
		{Topics: []common.Hash{ev.ID}, Data: data},
		{Topics: []common.Hash{ev.ID, common.BytesToHash(mkt.Bytes())}, Data: data},
	}

	w := NewWatcher(b, contract, util.NewManualClock(time.Unix(0, 0)), nil)
	out := make(chan resolution.Resolution, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, out) }()

	select {
	case res := <-out:
		if res.Market != mkt || res.Outcome != 1 || res.Source != "chain" {
			t.Fatalf("resolution = %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no resolution forwarded")
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("run returned %v", err)
	}
}
