package bank

import (
	"bytes"
	"errors"
	"math/big"
	"testing"
)

var (
	custodian = bytes.Repeat([]byte{0x01}, 20)
	wnat      = []byte{0x55}
	token     = []byte{0x22}
	owner     = bytes.Repeat([]byte{0x0c}, 20)
	payee     = bytes.Repeat([]byte{0x0d}, 20)
)

func funded(t *testing.T, amount int64) *Bank {
	t.Helper()
	b := New(custodian, wnat)
	if err := b.Mint(token, owner, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return b
}

func TestEscrowRoundTrip(t *testing.T) {
	b := funded(t, 1_000)

	if err := b.EscrowIn(token, owner, big.NewInt(600)); err != nil {
		t.Fatalf("escrow in: %v", err)
	}
	if got, _ := b.Balance(token, owner); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("owner = %s, want 400", got)
	}
	if got, _ := b.Balance(token, custodian); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("custodian = %s, want 600", got)
	}

	if err := b.EscrowOut(token, payee, big.NewInt(600)); err != nil {
		t.Fatalf("escrow out: %v", err)
	}
	if got, _ := b.Balance(token, payee); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("payee = %s, want 600", got)
	}
	// supply never changed through escrow moves
	if got := b.Supply(token); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("supply = %s, want 1000", got)
	}
}

func TestEscrowInsufficientBalance(t *testing.T) {
	b := funded(t, 100)
	if err := b.EscrowIn(token, owner, big.NewInt(200)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("escrow in: %v", err)
	}
	if err := b.EscrowOut(token, payee, big.NewInt(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("escrow out from empty custody: %v", err)
	}
}

func TestMintAndBurnTrackSupply(t *testing.T) {
	b := funded(t, 1_000)
	if err := b.Burn(token, owner, big.NewInt(300)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := b.Supply(token); got.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("supply = %s, want 700", got)
	}
	if err := b.Burn(token, owner, big.NewInt(800)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("over-burn: %v", err)
	}
	if err := b.Mint(token, nil, big.NewInt(1)); err == nil {
		t.Fatalf("expected error for empty account")
	}
	if err := b.Mint(token, owner, big.NewInt(0)); err == nil {
		t.Fatalf("expected error for zero mint")
	}
}

func TestWrapAndUnwrapNative(t *testing.T) {
	b := New(custodian, wnat)
	b.CreditNative(owner, big.NewInt(500))

	if err := b.WrapNative(owner, big.NewInt(500)); err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if got := b.NativeBalance(owner); got.Sign() != 0 {
		t.Fatalf("native after wrap = %s", got)
	}
	if got, _ := b.Balance(wnat, owner); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("wrapped = %s, want 500", got)
	}
	if err := b.WrapNative(owner, big.NewInt(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("over-wrap: %v", err)
	}

	// unwrap pays from custody
	if err := b.EscrowIn(wnat, owner, big.NewInt(500)); err != nil {
		t.Fatalf("escrow wrapped: %v", err)
	}
	if err := b.UnwrapAndPay(payee, big.NewInt(500)); err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if got := b.NativeBalance(payee); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("payee native = %s, want 500", got)
	}
	if got := b.Supply(wnat); got.Sign() != 0 {
		t.Fatalf("wrapped supply = %s, want 0", got)
	}
	if err := b.UnwrapAndPay(payee, big.NewInt(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("unwrap from empty custody: %v", err)
	}
}
