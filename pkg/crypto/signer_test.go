package crypto

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestFromPrivateKeyHex(t *testing.T) {
	s1, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, in := range []string{s1.PrivateKeyHex(), "0x" + s1.PrivateKeyHex()} {
		s2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("load %q: %v", in, err)
		}
		if s2.Address() != s1.Address() {
			t.Errorf("address = %s, want %s", s2.Address().Hex(), s1.Address().Hex())
		}
	}
	if _, err := FromPrivateKeyHex("zz"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestSignAndRecover(t *testing.T) {
	s, _ := GenerateKey()
	hash := eth_crypto.Keccak256([]byte("guessly"))

	sig, err := s.Sign(hash)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 || (sig[64] != 27 && sig[64] != 28) {
		t.Fatalf("unexpected signature shape: len=%d v=%d", len(sig), sig[64])
	}

	got, err := RecoverAddress(hash, sig)
	if err != nil || got != s.Address() {
		t.Fatalf("recover = %s, %v; want %s", got.Hex(), err, s.Address().Hex())
	}

	// raw 0/1 recovery ids are accepted as well
	raw := bytes.Clone(sig)
	raw[64] -= 27
	if got, err := RecoverAddress(hash, raw); err != nil || got != s.Address() {
		t.Fatalf("recover raw v = %s, %v", got.Hex(), err)
	}

	if _, err := s.Sign(hash[:31]); err == nil {
		t.Error("expected error for short hash")
	}
	if _, err := RecoverAddress(hash, sig[:64]); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("short sig err = %v", err)
	}
}

func testDomain() Domain {
	return Domain{
		Name:              "Guessly",
		Version:           "1",
		ChainID:           big.NewInt(8453),
		VerifyingContract: common.HexToAddress("0x00000000000000000000000000000000000000b0"),
	}
}

func TestPlaceOrderIntent(t *testing.T) {
	maker, _ := GenerateKey()
	es := NewEIP712Signer(testDomain())
	in := &PlaceOrderIntent{
		Maker:    maker.Address(),
		Market:   common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Outcome:  1,
		Price:    500_000,
		Amount:   100,
		IsBid:    true,
		Nonce:    7,
		Deadline: 1_800_000_000,
	}

	sig, err := es.SignPlaceOrder(maker, in)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := es.VerifyPlaceOrder(in, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}

	tampered := *in
	tampered.Price = 600_000
	if err := es.VerifyPlaceOrder(&tampered, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered price err = %v", err)
	}

	// a different deployment yields a different digest
	other := testDomain()
	other.VerifyingContract = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	h1, _ := es.HashPlaceOrder(in)
	h2, _ := NewEIP712Signer(other).HashPlaceOrder(in)
	if bytes.Equal(h1, h2) {
		t.Error("digest does not bind the verifying contract")
	}
}

func TestFillOrdersIntent(t *testing.T) {
	taker, _ := GenerateKey()
	intruder, _ := GenerateKey()
	es := NewEIP712Signer(testDomain())
	in := &FillOrdersIntent{
		Taker:    taker.Address(),
		OrderIDs: []uint64{3, 9},
		Amounts:  []uint64{10, 25},
		Nonce:    1,
		Deadline: 1_800_000_000,
	}

	sig, err := es.SignFillOrders(taker, in)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := es.VerifyFillOrders(in, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}

	forged, _ := es.SignFillOrders(intruder, in)
	if err := es.VerifyFillOrders(in, forged); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("forged err = %v", err)
	}

	swapped := *in
	swapped.Amounts = []uint64{25, 10}
	if err := es.VerifyFillOrders(&swapped, sig); err == nil {
		t.Error("reordered amounts verified")
	}
}
