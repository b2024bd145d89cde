package bridge_test

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"starbridge/core/events"
	"starbridge/native/bank"
	"starbridge/native/bridge"
	"starbridge/native/registry"
	"starbridge/native/vault"
	"starbridge/storage"
)

const (
	hubChain = bridge.ChainID(1)
	spokeA   = bridge.ChainID(2)
	spokeB   = bridge.ChainID(3)
)

var (
	tokenHub   = []byte{0x11}
	tokenA     = []byte{0x22}
	tokenB     = []byte{0x33}
	shareToken = []byte{0x44}
	wnatToken  = []byte{0x55}

	caller    = bytes.Repeat([]byte{0x0c}, 20)
	recipient = bytes.Repeat([]byte{0x0d}, 20)
	stranger  = bytes.Repeat([]byte{0x0e}, 20)
)

func serviceIdentity(chain bridge.ChainID) []byte {
	return bytes.Repeat([]byte{byte(chain)}, 20)
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

type passVerifier struct{}

func (passVerifier) Verify(_ bridge.ChainID, proof []byte) (bool, string, []byte) {
	return true, "", proof
}

type failVerifier struct{ diag string }

func (v failVerifier) Verify(bridge.ChainID, []byte) (bool, string, []byte) {
	return false, v.diag, nil
}

type captureEmitter struct{ list []events.Event }

func (c *captureEmitter) Emit(ev events.Event) { c.list = append(c.list, ev) }

func (c *captureEmitter) count(eventType string) int {
	n := 0
	for _, ev := range c.list {
		if ev.EventType() == eventType {
			n++
		}
	}
	return n
}

func (c *captureEmitter) last(t *testing.T, eventType string) events.Event {
	t.Helper()
	for i := len(c.list) - 1; i >= 0; i-- {
		if c.list[i].EventType() == eventType {
			return c.list[i]
		}
	}
	t.Fatalf("no %s event emitted", eventType)
	return nil
}

type env struct {
	engine  *bridge.Engine
	ledger  *bridge.OrderLedger
	tokens  *registry.TokenRegistry
	chains  *registry.ChainRegistry
	bank    *bank.Bank
	vaults  *vault.Registry
	emitted *captureEmitter
	self    []byte
}

func newEnv(t *testing.T, chainID bridge.ChainID) *env {
	t.Helper()
	self := serviceIdentity(chainID)
	e := bridge.NewEngine(chainID, hubChain, self)
	tokens := registry.NewTokenRegistry()
	chains := registry.NewChainRegistry()
	bk := bank.New(self, wnatToken)
	emitted := &captureEmitter{}
	ledger := bridge.NewOrderLedger(storage.NewMemDB())
	e.SetLedger(ledger)
	e.SetTokenRegistry(tokens)
	e.SetChainRegistry(chains)
	e.SetCustody(bk)
	e.SetVerifier(passVerifier{})
	e.SetEmitter(emitted)
	e.SetWrappedNative(wnatToken)
	out := &env{engine: e, ledger: ledger, tokens: tokens, chains: chains, bank: bk, emitted: emitted, self: self}
	if chainID == hubChain {
		out.vaults = vault.NewRegistry()
		e.SetVaults(out.vaults)
	}
	return out
}

func (ev *env) registerChain(t *testing.T, chain bridge.ChainID, family bridge.Family) {
	t.Helper()
	if err := ev.engine.RegisterChain(ev.self, chain, serviceIdentity(chain), family); err != nil {
		t.Fatalf("register chain %d: %v", chain, err)
	}
}

func (ev *env) registerToken(t *testing.T, token []byte, decimals uint8, mintable bool, vaultToken []byte) {
	t.Helper()
	if err := ev.engine.RegisterToken(ev.self, token, decimals, mintable, vaultToken); err != nil {
		t.Fatalf("register token: %v", err)
	}
}

func (ev *env) registerRoute(t *testing.T, token []byte, chain bridge.ChainID, remote []byte, remoteDecimals uint8) {
	t.Helper()
	if err := ev.engine.RegisterRoute(ev.self, token, chain, remote, remoteDecimals); err != nil {
		t.Fatalf("register route: %v", err)
	}
}

// spokeAEnv wires a spoke on chain 2: token A with 6 decimals routed to the
// hub's 18-decimal encoding and spoke B's 9-decimal one.
func spokeAEnv(t *testing.T, mintable bool) *env {
	t.Helper()
	ev := newEnv(t, spokeA)
	ev.registerChain(t, hubChain, bridge.FamilyTopicLog)
	ev.registerChain(t, spokeB, bridge.FamilyTopicLog)
	ev.registerToken(t, tokenA, 6, mintable, nil)
	ev.registerRoute(t, tokenA, hubChain, tokenHub, 18)
	ev.registerRoute(t, tokenA, spokeB, tokenB, 9)
	return ev
}

func (ev *env) fund(t *testing.T, token, owner []byte, amount *big.Int) {
	t.Helper()
	if err := ev.bank.Mint(token, owner, amount); err != nil {
		t.Fatalf("fund %x: %v", owner, err)
	}
}

func (ev *env) balance(t *testing.T, token, owner []byte) *big.Int {
	t.Helper()
	balance, err := ev.bank.Balance(token, owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

func TestTransferOutEscrowsAndConverts(t *testing.T) {
	ev := spokeAEnv(t, false)
	amount := big.NewInt(5_000_000) // 5 tokens at 6 decimals
	ev.fund(t, tokenA, caller, amount)

	orderID, err := ev.engine.TransferOut(caller, tokenA, recipient, hubChain, amount)
	if err != nil {
		t.Fatalf("transfer out: %v", err)
	}
	if orderID == (bridge.OrderID{}) {
		t.Fatalf("expected non-zero order id")
	}
	if got := ev.balance(t, tokenA, caller); got.Sign() != 0 {
		t.Fatalf("caller balance = %s, want 0", got)
	}
	if got := ev.balance(t, tokenA, ev.self); got.Cmp(amount) != 0 {
		t.Fatalf("custodian balance = %s, want %s", got, amount)
	}

	out := ev.emitted.last(t, events.TypeTransferOut).(events.TransferOut)
	want := new(big.Int).Mul(big.NewInt(5), pow10(18))
	if out.Amount.Cmp(want) != 0 {
		t.Fatalf("event amount = %s, want %s", out.Amount, want)
	}
	if !bytes.Equal(out.ToToken, tokenHub) {
		t.Fatalf("event destination token = %x, want %x", out.ToToken, tokenHub)
	}
	if out.FromChain != uint64(spokeA) || out.ToChain != uint64(hubChain) {
		t.Fatalf("event chains = %d -> %d", out.FromChain, out.ToChain)
	}
}

func TestTransferOutMintableBurnsSupply(t *testing.T) {
	ev := spokeAEnv(t, true)
	amount := big.NewInt(750_000)
	ev.fund(t, tokenA, caller, amount)

	if _, err := ev.engine.TransferOut(caller, tokenA, recipient, hubChain, amount); err != nil {
		t.Fatalf("transfer out: %v", err)
	}
	if got := ev.bank.Supply(tokenA); got.Sign() != 0 {
		t.Fatalf("supply = %s, want 0 after burn", got)
	}
	if got := ev.balance(t, tokenA, ev.self); got.Sign() != 0 {
		t.Fatalf("custodian balance = %s, want 0", got)
	}
}

func TestTransferOutRejections(t *testing.T) {
	ev := spokeAEnv(t, false)
	amount := big.NewInt(1_000)
	ev.fund(t, tokenA, caller, amount)

	if _, err := ev.engine.TransferOut(caller, tokenA, recipient, spokeA, amount); !errors.Is(err, bridge.ErrSameChain) {
		t.Fatalf("same chain: %v", err)
	}
	if _, err := ev.engine.TransferOut(caller, tokenA, recipient, hubChain, big.NewInt(0)); !errors.Is(err, bridge.ErrZeroAmount) {
		t.Fatalf("zero amount: %v", err)
	}
	if _, err := ev.engine.TransferOut(caller, tokenA, nil, hubChain, amount); !errors.Is(err, bridge.ErrZeroAddress) {
		t.Fatalf("empty recipient: %v", err)
	}
	if _, err := ev.engine.TransferOut(caller, tokenA, recipient, bridge.ChainID(99), amount); !errors.Is(err, bridge.ErrChainNotRegistered) {
		t.Fatalf("unregistered chain: %v", err)
	}
	if _, err := ev.engine.TransferOut(caller, tokenB, recipient, hubChain, amount); !errors.Is(err, registry.ErrTokenNotRegistered) {
		t.Fatalf("unregistered token: %v", err)
	}
	if _, err := ev.engine.TransferOut(caller, tokenA, recipient, hubChain, big.NewInt(2_000)); !errors.Is(err, bridge.ErrInsufficientBalance) {
		t.Fatalf("insufficient balance: %v", err)
	}
	// nothing above may have moved value
	if got := ev.balance(t, tokenA, caller); got.Cmp(amount) != 0 {
		t.Fatalf("caller balance = %s, want untouched %s", got, amount)
	}
}

func TestPauseGatesEveryEntryPoint(t *testing.T) {
	ev := spokeAEnv(t, false)
	ev.fund(t, tokenA, caller, big.NewInt(1_000))

	if err := ev.engine.SetPaused(ev.self, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := ev.engine.TransferOut(caller, tokenA, recipient, hubChain, big.NewInt(100)); !errors.Is(err, bridge.ErrPaused) {
		t.Fatalf("transfer out while paused: %v", err)
	}
	if _, err := ev.engine.SwapOut(caller, tokenA, recipient, hubChain, big.NewInt(100), bridge.SwapPayload{}); !errors.Is(err, bridge.ErrPaused) {
		t.Fatalf("swap out while paused: %v", err)
	}
	if _, err := ev.engine.DepositOut(caller, tokenA, recipient, big.NewInt(100)); !errors.Is(err, bridge.ErrPaused) {
		t.Fatalf("deposit out while paused: %v", err)
	}
	if _, err := ev.engine.TransferIn(hubChain, []byte{0x01}, caller); !errors.Is(err, bridge.ErrPaused) {
		t.Fatalf("transfer in while paused: %v", err)
	}
	if got := ev.balance(t, tokenA, caller); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("caller balance changed while paused: %s", got)
	}

	if err := ev.engine.SetPaused(ev.self, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := ev.engine.TransferOut(caller, tokenA, recipient, hubChain, big.NewInt(100)); err != nil {
		t.Fatalf("transfer out after unpause: %v", err)
	}
}

func TestPauseCapabilityGrants(t *testing.T) {
	ev := spokeAEnv(t, false)

	if err := ev.engine.SetPaused(stranger, true); !errors.Is(err, bridge.ErrUnauthorized) {
		t.Fatalf("stranger pause: %v", err)
	}
	if err := ev.engine.Grant(ev.self, stranger, bridge.CapPause); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := ev.engine.SetPaused(stranger, true); err != nil {
		t.Fatalf("granted pause: %v", err)
	}
	if !ev.engine.Paused() {
		t.Fatalf("engine not paused")
	}
	if err := ev.engine.Revoke(ev.self, stranger, bridge.CapPause); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := ev.engine.SetPaused(stranger, false); !errors.Is(err, bridge.ErrUnauthorized) {
		t.Fatalf("revoked pause: %v", err)
	}
	// the pause capability does not leak into registry administration
	if err := ev.engine.Grant(ev.self, stranger, bridge.CapPause); err != nil {
		t.Fatalf("re-grant: %v", err)
	}
	if err := ev.engine.RegisterToken(stranger, tokenB, 9, false, nil); !errors.Is(err, bridge.ErrUnauthorized) {
		t.Fatalf("registry via pause capability: %v", err)
	}
}

func TestSetFeeSplitRejectsExcessRates(t *testing.T) {
	ev := newEnv(t, hubChain)
	valid := [bridge.FeeSplitSlots]bridge.FeeSlot{
		{Receiver: recipient, RatePPM: 400_000},
		{Receiver: stranger, RatePPM: 300_000},
		{RatePPM: 300_000},
	}
	if err := ev.engine.SetFeeSplit(ev.self, valid); err != nil {
		t.Fatalf("valid split: %v", err)
	}
	excess := [bridge.FeeSplitSlots]bridge.FeeSlot{
		{Receiver: recipient, RatePPM: 700_000},
		{Receiver: stranger, RatePPM: 400_000},
	}
	if err := ev.engine.SetFeeSplit(ev.self, excess); !errors.Is(err, bridge.ErrFeeRateBound) {
		t.Fatalf("excess split: %v", err)
	}
	got := ev.engine.FeeSplit()
	if got[0].RatePPM != 400_000 || got[1].RatePPM != 300_000 || got[2].RatePPM != 300_000 {
		t.Fatalf("split mutated by rejected update: %+v", got)
	}
}

func TestTransferOutNativeWrapsValue(t *testing.T) {
	ev := newEnv(t, spokeA)
	ev.registerChain(t, hubChain, bridge.FamilyTopicLog)
	ev.registerToken(t, wnatToken, 6, false, nil)
	ev.registerRoute(t, wnatToken, hubChain, tokenHub, 18)

	amount := big.NewInt(250_000)
	ev.bank.CreditNative(caller, amount)

	if _, err := ev.engine.TransferOutNative(caller, recipient, hubChain, amount); err != nil {
		t.Fatalf("transfer out native: %v", err)
	}
	if got := ev.bank.NativeBalance(caller); got.Sign() != 0 {
		t.Fatalf("native balance = %s, want 0", got)
	}
	if got := ev.balance(t, wnatToken, ev.self); got.Cmp(amount) != 0 {
		t.Fatalf("escrowed wrapped native = %s, want %s", got, amount)
	}
}

func TestTransferOutNativeRejectionLeavesValueUnwrapped(t *testing.T) {
	ev := newEnv(t, spokeA)
	ev.registerChain(t, hubChain, bridge.FamilyTopicLog)
	ev.registerToken(t, wnatToken, 6, false, nil)
	ev.registerRoute(t, wnatToken, hubChain, tokenHub, 18)

	amount := big.NewInt(100)
	ev.bank.CreditNative(caller, amount)

	if _, err := ev.engine.TransferOutNative(caller, recipient, spokeA, amount); !errors.Is(err, bridge.ErrSameChain) {
		t.Fatalf("same chain: %v", err)
	}
	if _, err := ev.engine.TransferOutNative(caller, recipient, bridge.ChainID(99), amount); !errors.Is(err, bridge.ErrChainNotRegistered) {
		t.Fatalf("unregistered chain: %v", err)
	}
	if _, err := ev.engine.TransferOutNative(caller, nil, hubChain, amount); !errors.Is(err, bridge.ErrZeroAddress) {
		t.Fatalf("empty recipient: %v", err)
	}
	// rejected calls must not convert the caller's native value
	if got := ev.bank.NativeBalance(caller); got.Cmp(amount) != 0 {
		t.Fatalf("native balance = %s, want untouched %s", got, amount)
	}
	if got := ev.bank.Supply(wnatToken); got.Sign() != 0 {
		t.Fatalf("wrapped supply = %s, want 0", got)
	}
}

func TestDepositOutSpokeEmitsHubBoundEvent(t *testing.T) {
	ev := spokeAEnv(t, true)
	amount := big.NewInt(3_000_000)
	ev.fund(t, tokenA, caller, amount)

	orderID, err := ev.engine.DepositOut(caller, tokenA, recipient, amount)
	if err != nil {
		t.Fatalf("deposit out: %v", err)
	}
	if got := ev.bank.Supply(tokenA); got.Sign() != 0 {
		t.Fatalf("supply = %s, want 0 after burn", got)
	}
	dep := ev.emitted.last(t, events.TypeDepositOut).(events.DepositOut)
	if dep.OrderID != orderID {
		t.Fatalf("event order id mismatch")
	}
	if dep.ToChain != uint64(hubChain) {
		t.Fatalf("deposit destination = %d, want relay chain", dep.ToChain)
	}
	want := new(big.Int).Mul(big.NewInt(3), pow10(18))
	if dep.Amount.Cmp(want) != 0 {
		t.Fatalf("deposit amount = %s, want %s", dep.Amount, want)
	}
}

func TestWithdrawRequiresRelayRole(t *testing.T) {
	ev := spokeAEnv(t, false)
	if _, err := ev.engine.Withdraw(caller, shareToken, big.NewInt(1)); !errors.Is(err, bridge.ErrNotRelay) {
		t.Fatalf("spoke withdraw: %v", err)
	}
}

func TestDepositInRequiresRelayRole(t *testing.T) {
	ev := spokeAEnv(t, false)
	if _, err := ev.engine.DepositIn(hubChain, []byte{0x01}, caller); !errors.Is(err, bridge.ErrNotRelay) {
		t.Fatalf("spoke deposit in: %v", err)
	}
}

func TestOrderIDsDistinctPerCounter(t *testing.T) {
	ev := spokeAEnv(t, false)
	ev.fund(t, tokenA, caller, big.NewInt(2_000))

	first, err := ev.engine.TransferOut(caller, tokenA, recipient, hubChain, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	second, err := ev.engine.TransferOut(caller, tokenA, recipient, hubChain, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("second transfer: %v", err)
	}
	if first == second {
		t.Fatalf("identical intents produced the same order id %x", first)
	}
}
