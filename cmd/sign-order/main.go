package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/guessly/clob/pkg/crypto"
)

// sign-order prints a signed intent body for POST /api/v1/orders or
// POST /api/v1/fills.
func main() {
	var (
		keyHex   = flag.String("key", os.Getenv("SIGNER_KEY"), "hex private key (generated when empty)")
		chainID  = flag.Uint64("chain-id", 8453, "EIP-712 domain chain id")
		contract = flag.String("orderbook", os.Getenv("CHAIN_ORDERBOOK"), "OrderBook address bound into the domain")
		fill     = flag.Bool("fill", false, "sign a FillOrders intent instead of PlaceOrder")
		mkt      = flag.String("market", "", "market address (place)")
		outcome  = flag.Uint("outcome", 0, "outcome index 0 or 1 (place)")
		price    = flag.Uint64("price", 500_000, "price in µ-units (place)")
		amount   = flag.Uint64("amount", 100, "share amount (place)")
		bid      = flag.Bool("bid", true, "bid (true) or ask (false) (place)")
		ids      = flag.String("ids", "", "comma separated order ids (fill)")
		amounts  = flag.String("amounts", "", "comma separated fill amounts (fill)")
		ttl      = flag.Duration("ttl", 10*time.Minute, "intent lifetime")
	)
	flag.Parse()

	signer, err := loadSigner(*keyHex)
	if err != nil {
		fail(err)
	}
	nonce, err := crypto.GenerateNonce()
	if err != nil {
		fail(err)
	}
	deadline := uint64(time.Now().Add(*ttl).Unix())

	domain := crypto.DefaultDomain()
	domain.ChainID = new(big.Int).SetUint64(*chainID)
	domain.VerifyingContract = common.HexToAddress(*contract)
	es := crypto.NewEIP712Signer(domain)

	var body interface{}
	if *fill {
		in := crypto.FillOrdersIntent{Taker: signer.Address(), Nonce: nonce, Deadline: deadline}
		if in.OrderIDs, err = parseList(*ids); err != nil {
			fail(err)
		}
		if in.Amounts, err = parseList(*amounts); err != nil {
			fail(err)
		}
		sig, err := es.SignFillOrders(signer, &in)
		if err != nil {
			fail(err)
		}
		if err := es.VerifyFillOrders(&in, sig); err != nil {
			fail(err)
		}
		body = map[string]interface{}{"intent": in, "signature": hexutil.Bytes(sig)}
	} else {
		if !common.IsHexAddress(*mkt) {
			fail(fmt.Errorf("-market must be a hex address"))
		}
		in := crypto.PlaceOrderIntent{
			Maker:    signer.Address(),
			Market:   common.HexToAddress(*mkt),
			Outcome:  uint8(*outcome),
			Price:    *price,
			Amount:   *amount,
			IsBid:    *bid,
			Nonce:    nonce,
			Deadline: deadline,
		}
		sig, err := es.SignPlaceOrder(signer, &in)
		if err != nil {
			fail(err)
		}
		if err := es.VerifyPlaceOrder(&in, sig); err != nil {
			fail(err)
		}
		body = map[string]interface{}{"intent": in, "signature": hexutil.Bytes(sig)}
	}

	out, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		fail(err)
	}
	fmt.Fprintf(os.Stderr, "signer: %s\n", signer.Address().Hex())
	fmt.Println(string(out))
}

func loadSigner(keyHex string) (*crypto.Signer, error) {
	if keyHex != "" {
		return crypto.FromPrivateKeyHex(keyHex)
	}
	s, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "generated key: %s (KEEP SECRET!)\n", s.PrivateKeyHex())
	return s, nil
}

func parseList(s string) ([]uint64, error) {
	if s == "" {
		return nil, fmt.Errorf("empty list")
	}
	parts := strings.Split(s, ",")
	out := make([]uint64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
