package vault

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"starbridge/native/bridge"
)

var (
	underlying = []byte{0x11}
	shareTok   = []byte{0x44}
	alice      = bytes.Repeat([]byte{0xa1}, 20)
	bob        = bytes.Repeat([]byte{0xb2}, 20)

	relayChain = bridge.ChainID(1)
	sourceA    = bridge.ChainID(2)
	sourceB    = bridge.ChainID(3)
)

func seeded(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.Register(underlying, shareTok); err != nil {
		t.Fatalf("register: %v", err)
	}
	return r
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := seeded(t)
	if err := r.Register(underlying, shareTok); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if !r.Registered(underlying) {
		t.Fatalf("token not registered")
	}
	if r.Registered(shareTok) {
		t.Fatalf("share token reported as underlying")
	}
}

func TestFirstDepositMintsOneToOne(t *testing.T) {
	r := seeded(t)
	minted, err := r.Deposit(underlying, sourceA, big.NewInt(1_000), alice)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if minted.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("minted = %s, want 1000", minted)
	}
	v, _ := r.Get(underlying)
	if got := v.SharesOf(alice); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("shares = %s", got)
	}
	if got := v.Balance(sourceA); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("chain balance = %s", got)
	}
}

// Once fee residue accrues to the reserve, a later depositor must receive
// fewer shares per unit, leaving earlier holders with the accrued value.
func TestDepositsMintProRataAfterAccrual(t *testing.T) {
	r := seeded(t)
	if _, err := r.Deposit(underlying, sourceA, big.NewInt(1_000), alice); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	// retained fee: gross 100 in, net 0 out, all retained
	if err := r.TransferToken(underlying, sourceA, big.NewInt(100), relayChain, big.NewInt(0), relayChain, big.NewInt(100)); err != nil {
		t.Fatalf("transfer token: %v", err)
	}
	minted, err := r.Deposit(underlying, sourceB, big.NewInt(1_100), bob)
	if err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	if minted.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("minted = %s, want 1000 against total 1100", minted)
	}

	v, _ := r.Get(underlying)
	if got := v.TotalShares(); got.Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("total shares = %s", got)
	}
	if got := v.TotalUnderlying(); got.Cmp(big.NewInt(2_200)) != 0 {
		t.Fatalf("total underlying = %s", got)
	}
}

func TestWithdrawRoundTrip(t *testing.T) {
	r := seeded(t)
	if _, err := r.Deposit(underlying, sourceA, big.NewInt(1_000), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	token, amount, err := r.Withdraw(shareTok, big.NewInt(400), alice)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !bytes.Equal(token, underlying) {
		t.Fatalf("withdraw token = %x", token)
	}
	if amount.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("withdrawn = %s, want 400", amount)
	}
	v, _ := r.Get(underlying)
	if got := v.SharesOf(alice); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("remaining shares = %s", got)
	}
	if got := v.TotalUnderlying(); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("remaining underlying = %s", got)
	}

	if _, _, err := r.Withdraw(shareTok, big.NewInt(601), alice); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("over-withdraw: %v", err)
	}
	if _, _, err := r.Withdraw(underlying, big.NewInt(1), alice); !errors.Is(err, ErrVaultNotFound) {
		t.Fatalf("withdraw by underlying encoding: %v", err)
	}
}

// Withdrawals after fee accrual pay out more underlying per share.
func TestWithdrawIncludesAccruedFees(t *testing.T) {
	r := seeded(t)
	if _, err := r.Deposit(underlying, sourceA, big.NewInt(1_000), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := r.TransferToken(underlying, sourceA, big.NewInt(100), relayChain, big.NewInt(0), relayChain, big.NewInt(100)); err != nil {
		t.Fatalf("transfer token: %v", err)
	}
	_, amount, err := r.Withdraw(shareTok, big.NewInt(1_000), alice)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount.Cmp(big.NewInt(1_100)) != 0 {
		t.Fatalf("withdrawn = %s, want 1100 with accrued fees", amount)
	}
	v, _ := r.Get(underlying)
	if got := v.TotalUnderlying(); got.Sign() != 0 {
		t.Fatalf("residual underlying = %s, want 0", got)
	}
}

// A settlement booking moves value between chain lanes; the vault total
// changes only by the retained fee.
func TestTransferTokenConservation(t *testing.T) {
	r := seeded(t)
	if _, err := r.Deposit(underlying, sourceB, big.NewInt(10_000), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	v, _ := r.Get(underlying)
	before := v.TotalUnderlying()

	gross := big.NewInt(1_000_000)
	net := big.NewInt(990_000)
	retained := big.NewInt(6_000) // 4000 of the fee left custody toward receivers
	if err := r.TransferToken(underlying, sourceA, gross, sourceB, net, relayChain, retained); err != nil {
		t.Fatalf("transfer token: %v", err)
	}

	after := v.TotalUnderlying()
	delta := new(big.Int).Sub(after, before)
	if delta.Cmp(retained) != 0 {
		t.Fatalf("underlying delta = %s, want the retained fee %s", delta, retained)
	}
	if got := v.Balance(sourceA); got.Cmp(gross) != 0 {
		t.Fatalf("source lane = %s, want %s", got, gross)
	}
	if got := v.Reserve(); got.Cmp(retained) != 0 {
		t.Fatalf("reserve = %s, want %s", got, retained)
	}
	if err := r.TransferToken(shareTok, sourceA, gross, sourceB, net, relayChain, nil); !errors.Is(err, ErrVaultNotFound) {
		t.Fatalf("unregistered booking: %v", err)
	}
}

func TestDepositValidation(t *testing.T) {
	r := seeded(t)
	if _, err := r.Deposit(underlying, sourceA, big.NewInt(0), alice); err == nil {
		t.Fatalf("expected error for zero deposit")
	}
	if _, err := r.Deposit(shareTok, sourceA, big.NewInt(1), alice); !errors.Is(err, ErrVaultNotFound) {
		t.Fatalf("deposit to unregistered vault: %v", err)
	}
}
