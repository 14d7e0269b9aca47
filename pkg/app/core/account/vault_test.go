package account

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000e5c00")
	alice    = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	mkt      = common.HexToAddress("0x000000000000000000000000000000000000c0de")
)

func funded(t *testing.T) *Vault {
	t.Helper()
	v := NewVault(operator)
	if err := v.Deposit(alice, CollateralAsset(), 1_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := v.Deposit(bob, ShareAsset(mkt, 0), 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return v
}

func TestAssetRoundTrip(t *testing.T) {
	for _, a := range []Asset{CollateralAsset(), ShareAsset(mkt, 0), ShareAsset(mkt, 1)} {
		got, err := ParseAsset(a.String())
		if err != nil {
			t.Fatalf("parse %q: %v", a, err)
		}
		if got != a {
			t.Fatalf("round trip %q: got %+v", a, got)
		}
	}
	if _, err := ParseAsset("s:nope:0"); err == nil {
		t.Fatal("expected error for bad address")
	}
}

func TestPullRequiresAllowance(t *testing.T) {
	v := funded(t)
	err := v.Apply([]Transfer{{From: alice, To: operator, Asset: CollateralAsset(), Amount: 10, Pull: true}}, nil)
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}

	if err := v.Approve(alice, 100); err != nil {
		t.Fatal(err)
	}
	if err := v.Apply([]Transfer{{From: alice, To: operator, Asset: CollateralAsset(), Amount: 60, Pull: true}}, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := v.Allowance(alice); got != 40 {
		t.Fatalf("allowance = %d, want 40", got)
	}
	if got := v.Balance(operator, CollateralAsset()); got != 60 {
		t.Fatalf("operator balance = %d, want 60", got)
	}
}

func TestUnlimitedAllowanceNotDecremented(t *testing.T) {
	v := funded(t)
	_ = v.Approve(alice, Unlimited)
	if err := v.Apply([]Transfer{{From: alice, To: bob, Asset: CollateralAsset(), Amount: 5, Pull: true}}, nil); err != nil {
		t.Fatal(err)
	}
	if v.Allowance(alice) != Unlimited {
		t.Fatal("unlimited allowance was decremented")
	}
}

func TestSharePullRequiresApproval(t *testing.T) {
	v := funded(t)
	tr := []Transfer{{From: bob, To: operator, Asset: ShareAsset(mkt, 0), Amount: 100, Pull: true}}
	if err := v.Apply(tr, nil); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	_ = v.SetApprovalForAll(bob, true)
	if err := v.Apply(tr, nil); err != nil {
		t.Fatal(err)
	}
	if got := v.Balance(operator, ShareAsset(mkt, 0)); got != 100 {
		t.Fatalf("escrowed shares = %d", got)
	}
}

func TestApplyIsAllOrNothing(t *testing.T) {
	v := funded(t)
	_ = v.Approve(alice, Unlimited)
	before := v.Digest()

	// The second transfer only fits if the first did not happen.
	err := v.Apply([]Transfer{
		{From: alice, To: bob, Asset: CollateralAsset(), Amount: 700_000, Pull: true},
		{From: alice, To: operator, Asset: CollateralAsset(), Amount: 400_000, Pull: true},
	}, nil)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if v.Digest() != before {
		t.Fatal("vault mutated by failed batch")
	}
}

func TestApplyCommitSeesChangeAndCanAbort(t *testing.T) {
	v := funded(t)
	_ = v.Approve(alice, 1_000)

	var seen Change
	err := v.Apply([]Transfer{{From: alice, To: operator, Asset: CollateralAsset(), Amount: 300, Pull: true}}, func(c Change) error {
		seen = c
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen.Balances) != 2 || len(seen.Allowances) != 1 || seen.Allowances[0].Amount != 700 {
		t.Fatalf("unexpected change: %+v", seen)
	}

	before := v.Digest()
	boom := errors.New("disk full")
	err = v.Apply([]Transfer{{From: operator, To: alice, Asset: CollateralAsset(), Amount: 300}}, func(Change) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected commit error, got %v", err)
	}
	if v.Digest() != before {
		t.Fatal("vault mutated after commit failure")
	}
}

func TestWithdrawAndBalances(t *testing.T) {
	v := funded(t)
	if err := v.Withdraw(alice, CollateralAsset(), 2_000_000); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := v.Withdraw(alice, CollateralAsset(), 1_000_000); err != nil {
		t.Fatal(err)
	}
	if got := v.Balances(alice); len(got) != 0 {
		t.Fatalf("expected no balances, got %+v", got)
	}
	if got := v.Balances(bob); len(got) != 1 || got[0].Amount != 500 {
		t.Fatalf("bob balances = %+v", got)
	}
}

func TestPersisterFailureRollsBack(t *testing.T) {
	v := NewVault(operator)
	v.SetPersister(func(Change) error { return errors.New("closed") })
	if err := v.Deposit(alice, CollateralAsset(), 10); err == nil {
		t.Fatal("expected persist error")
	}
	if v.Balance(alice, CollateralAsset()) != 0 {
		t.Fatal("deposit published despite persist failure")
	}
}

func TestSnapshotRestoreDigest(t *testing.T) {
	v := funded(t)
	_ = v.Approve(alice, 42)
	_ = v.SetApprovalForAll(bob, true)

	w := NewVault(operator)
	w.Restore(v.Snapshot())
	if w.Digest() != v.Digest() {
		t.Fatal("digest differs after restore")
	}
	if w.Allowance(alice) != 42 || !w.IsApprovedForAll(bob) {
		t.Fatal("allowance or approval lost")
	}
}
