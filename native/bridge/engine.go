package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"starbridge/core/events"
)

var (
	ErrPaused                = errors.New("bridge: paused")
	ErrReentrantCall         = errors.New("bridge: reentrant call")
	ErrUnauthorized          = errors.New("bridge: caller not authorized")
	ErrSameChain             = errors.New("bridge: destination equals own chain")
	ErrZeroAmount            = errors.New("bridge: amount must be positive")
	ErrZeroAddress           = errors.New("bridge: empty address")
	ErrChainNotRegistered    = errors.New("bridge: chain not registered")
	ErrInsufficientBalance   = errors.New("bridge: insufficient balance")
	ErrNotRelay              = errors.New("bridge: relay role required")
	ErrVaultNotRegistered    = errors.New("bridge: vault not registered")
	ErrRelayTargetMismatch   = errors.New("bridge: relay target token mismatch")
	ErrFeeRateBound          = errors.New("bridge: fee rates exceed denominator")
	errEngineNotConfigured   = errors.New("bridge: engine not configured")
	errVerifierNotConfigured = errors.New("bridge: proof verifier not configured")
	errExecutorNotConfigured = errors.New("bridge: executor not configured")
)

// FeeRateDenominator expresses fee split rates in parts-per-million.
const FeeRateDenominator = 1_000_000

// FeeSplitSlots is the number of configurable fee recipients.
const FeeSplitSlots = 3

// FeeSlot configures one fee recipient. A slot with an empty receiver retains
// its share inside the vault as protocol residue.
type FeeSlot struct {
	Receiver []byte
	RatePPM  uint32
}

// TokenRegistry resolves token identity and denomination between this chain
// and its registered routes.
type TokenRegistry interface {
	ToChainToken(token []byte, chain ChainID) ([]byte, error)
	ToChainAmount(token []byte, amount *big.Int, chain ChainID) (*big.Int, error)
	LocalToken(fromChain ChainID, token []byte) ([]byte, error)
	LocalAmount(token []byte, amount *big.Int, chain ChainID) (*big.Int, error)
	TokenFee(token []byte, amount *big.Int, toChain ChainID) *big.Int
	Mintable(token []byte) bool
	VaultToken(token []byte) ([]byte, error)
	RegisterToken(token []byte, decimals uint8, mintable bool, vaultToken []byte) error
	RegisterRoute(token []byte, chain ChainID, remote []byte, remoteDecimals uint8) error
	SetFeePolicy(token []byte, chain ChainID, ratePPM uint32, floor *big.Int) error
}

// ChainRegistry records which remote chains are trusted and which log codec
// each one uses.
type ChainRegistry interface {
	TrustedSender(chain ChainID) ([]byte, bool)
	FamilyOf(chain ChainID) (Family, bool)
	RegisterChain(chain ChainID, sender []byte, family Family) error
}

// Custody is the capability set the engine drives to move token value. All
// amounts are local-chain denominated.
type Custody interface {
	EscrowIn(token, from []byte, amount *big.Int) error
	EscrowOut(token, to []byte, amount *big.Int) error
	Mint(token, to []byte, amount *big.Int) error
	Burn(token, from []byte, amount *big.Int) error
	WrapNative(owner []byte, amount *big.Int) error
	UnwrapAndPay(to []byte, amount *big.Int) error
	Balance(token, owner []byte) (*big.Int, error)
}

// Verifier is the per-source-chain proof oracle. A false ok aborts the whole
// inbound call with diag surfaced to the caller.
type Verifier interface {
	Verify(source ChainID, proof []byte) (ok bool, diag string, decoded []byte)
}

// SwapExecutor receives custody of the input token and performs the final
// swap-and-pay step. The hand-off is fire-and-forget.
type SwapExecutor interface {
	Identity() []byte
	SwapAndPay(orderID OrderID, params []byte, to, tokenIn, tokenOut []byte, amount *big.Int) error
}

// Vaults is the vault accounting collaborator used by the relay role.
type Vaults interface {
	Registered(token []byte) bool
	Deposit(token []byte, fromChain ChainID, amount *big.Int, to []byte) (*big.Int, error)
	Withdraw(vaultToken []byte, shares *big.Int, owner []byte) ([]byte, *big.Int, error)
	TransferToken(token []byte, fromChain ChainID, gross *big.Int, toChain ChainID, net *big.Int, relayChain ChainID, retainedFee *big.Int) error
}

// Capability gates administrative entry points.
type Capability uint8

const (
	CapPause Capability = iota + 1
	CapRegistry
	CapFees
)

// Engine is the settlement and replay-protection core shared by the spoke and
// relay roles. A relay engine is an Engine whose chain id equals the
// configured relay chain and whose vault collaborator is set.
type Engine struct {
	callMu sync.Mutex

	chainID    ChainID
	relayChain ChainID
	self       []byte

	ledger   *OrderLedger
	tokens   TokenRegistry
	chains   ChainRegistry
	custody  Custody
	verifier Verifier
	executor SwapExecutor
	vaults   Vaults
	emitter  events.Emitter

	wrappedNative []byte
	feeSplit      [FeeSplitSlots]FeeSlot

	owner  []byte
	grants map[string]map[Capability]bool

	paused bool
}

// NewEngine creates an engine for the given topology position. self is the
// service's identity on its own chain: it scopes order id derivation and acts
// as the custody account.
func NewEngine(chainID, relayChain ChainID, self []byte) *Engine {
	return &Engine{
		chainID:    chainID,
		relayChain: relayChain,
		self:       append([]byte(nil), self...),
		emitter:    events.NoopEmitter{},
		owner:      append([]byte(nil), self...),
		grants:     make(map[string]map[Capability]bool),
	}
}

// SetLedger configures the replay-protection ledger.
func (e *Engine) SetLedger(l *OrderLedger) { e.ledger = l }

// SetTokenRegistry configures the token/route registry.
func (e *Engine) SetTokenRegistry(r TokenRegistry) { e.tokens = r }

// SetChainRegistry configures the remote chain registry.
func (e *Engine) SetChainRegistry(r ChainRegistry) { e.chains = r }

// SetCustody configures the custody backend.
func (e *Engine) SetCustody(c Custody) { e.custody = c }

// SetVerifier configures the proof oracle.
func (e *Engine) SetVerifier(v Verifier) { e.verifier = v }

// SetExecutor configures the downstream swap executor.
func (e *Engine) SetExecutor(x SwapExecutor) { e.executor = x }

// SetVaults configures vault accounting. Required for the relay role.
func (e *Engine) SetVaults(v Vaults) { e.vaults = v }

// SetWrappedNative registers the local wrapped-native token encoding.
func (e *Engine) SetWrappedNative(token []byte) { e.wrappedNative = append([]byte(nil), token...) }

// SetOwner replaces the administrative owner identity.
func (e *Engine) SetOwner(owner []byte) { e.owner = append([]byte(nil), owner...) }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// ChainID returns the engine's own chain id.
func (e *Engine) ChainID() ChainID { return e.chainID }

// IsRelay reports whether this engine holds the hub position.
func (e *Engine) IsRelay() bool { return e.chainID == e.relayChain }

func (e *Engine) emit(ev events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(ev)
}

// begin acquires the call-scoped exclusion lock. A reentrant custody callback
// that re-enters a guarded entry point fails here instead of double-settling.
func (e *Engine) begin() error {
	if e == nil {
		return errEngineNotConfigured
	}
	if !e.callMu.TryLock() {
		return ErrReentrantCall
	}
	return nil
}

func (e *Engine) end() { e.callMu.Unlock() }

func (e *Engine) requireActive() error {
	if e.paused {
		return ErrPaused
	}
	return nil
}

func (e *Engine) requireCore() error {
	if e.ledger == nil || e.tokens == nil || e.chains == nil || e.custody == nil {
		return errEngineNotConfigured
	}
	return nil
}

func (e *Engine) isWrappedNative(token []byte) bool {
	return len(e.wrappedNative) > 0 && bytes.Equal(token, e.wrappedNative)
}

func (e *Engine) authorize(caller []byte, cap Capability) error {
	if len(caller) > 0 && bytes.Equal(caller, e.owner) {
		return nil
	}
	if caps, ok := e.grants[string(caller)]; ok && caps[cap] {
		return nil
	}
	return ErrUnauthorized
}

// Grant gives the grantee the supplied capability. Owner only.
func (e *Engine) Grant(caller, grantee []byte, cap Capability) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if !bytes.Equal(caller, e.owner) {
		return ErrUnauthorized
	}
	if len(grantee) == 0 {
		return ErrZeroAddress
	}
	caps, ok := e.grants[string(grantee)]
	if !ok {
		caps = make(map[Capability]bool)
		e.grants[string(grantee)] = caps
	}
	caps[cap] = true
	return nil
}

// Revoke removes a previously granted capability. Owner only.
func (e *Engine) Revoke(caller, grantee []byte, cap Capability) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if !bytes.Equal(caller, e.owner) {
		return ErrUnauthorized
	}
	if caps, ok := e.grants[string(grantee)]; ok {
		delete(caps, cap)
	}
	return nil
}

// SetPaused toggles the global pause flag. While paused every state-mutating
// entry point rejects with zero side effects.
func (e *Engine) SetPaused(caller []byte, paused bool) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := e.authorize(caller, CapPause); err != nil {
		return err
	}
	e.paused = paused
	return nil
}

// Paused reports the pause flag.
func (e *Engine) Paused() bool {
	e.callMu.Lock()
	defer e.callMu.Unlock()
	return e.paused
}

// RegisterChain registers a remote chain's trusted sender and log family.
func (e *Engine) RegisterChain(caller []byte, chain ChainID, sender []byte, family Family) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := e.authorize(caller, CapRegistry); err != nil {
		return err
	}
	if e.chains == nil {
		return errEngineNotConfigured
	}
	return e.chains.RegisterChain(chain, sender, family)
}

// RegisterToken registers a local token's denomination and custody mode.
func (e *Engine) RegisterToken(caller, token []byte, decimals uint8, mintable bool, vaultToken []byte) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := e.authorize(caller, CapRegistry); err != nil {
		return err
	}
	if e.tokens == nil {
		return errEngineNotConfigured
	}
	return e.tokens.RegisterToken(token, decimals, mintable, vaultToken)
}

// RegisterRoute registers the remote encoding and denomination of a local
// token on the given chain, making the (token, chain) route bridgeable.
func (e *Engine) RegisterRoute(caller, token []byte, chain ChainID, remote []byte, remoteDecimals uint8) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := e.authorize(caller, CapRegistry); err != nil {
		return err
	}
	if e.tokens == nil {
		return errEngineNotConfigured
	}
	return e.tokens.RegisterRoute(token, chain, remote, remoteDecimals)
}

// SetFeePolicy configures the fee charged for a (token, destination) pair.
func (e *Engine) SetFeePolicy(caller, token []byte, chain ChainID, ratePPM uint32, floor *big.Int) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := e.authorize(caller, CapFees); err != nil {
		return err
	}
	if e.tokens == nil {
		return errEngineNotConfigured
	}
	if ratePPM > FeeRateDenominator {
		return ErrFeeRateBound
	}
	return e.tokens.SetFeePolicy(token, chain, ratePPM, floor)
}

// SetFeeSplit configures the three-way fee distribution. The rate sum must
// not exceed the ppm denominator; a violating update leaves prior rates
// unchanged.
func (e *Engine) SetFeeSplit(caller []byte, split [FeeSplitSlots]FeeSlot) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := e.authorize(caller, CapFees); err != nil {
		return err
	}
	var sum uint64
	for _, slot := range split {
		sum += uint64(slot.RatePPM)
	}
	if sum > FeeRateDenominator {
		return ErrFeeRateBound
	}
	for i := range split {
		split[i].Receiver = append([]byte(nil), split[i].Receiver...)
	}
	e.feeSplit = split
	return nil
}

// FeeSplit returns the configured fee distribution.
func (e *Engine) FeeSplit() [FeeSplitSlots]FeeSlot {
	e.callMu.Lock()
	defer e.callMu.Unlock()
	return e.feeSplit
}

// TransferOut locks or burns the caller's tokens and emits a canonical
// transfer event toward toChain.
func (e *Engine) TransferOut(caller, token, to []byte, toChain ChainID, amount *big.Int) (OrderID, error) {
	if err := e.begin(); err != nil {
		return OrderID{}, err
	}
	defer e.end()
	if err := e.requireActive(); err != nil {
		return OrderID{}, err
	}
	return e.transferOutLocked(caller, token, to, toChain, amount)
}

// TransferOutNative wraps the caller's native value into the wrapped-native
// token and bridges it like any other transfer.
func (e *Engine) TransferOutNative(caller, to []byte, toChain ChainID, amount *big.Int) (OrderID, error) {
	if err := e.begin(); err != nil {
		return OrderID{}, err
	}
	defer e.end()
	if err := e.requireActive(); err != nil {
		return OrderID{}, err
	}
	if err := e.requireCore(); err != nil {
		return OrderID{}, err
	}
	if len(e.wrappedNative) == 0 {
		return OrderID{}, fmt.Errorf("bridge: wrapped native token not configured")
	}
	// every check ahead of the wrap: a rejected call must leave the caller's
	// native value untouched
	if len(caller) == 0 || len(to) == 0 {
		return OrderID{}, ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return OrderID{}, ErrZeroAmount
	}
	if toChain == e.chainID {
		return OrderID{}, ErrSameChain
	}
	if _, ok := e.chains.FamilyOf(toChain); !ok {
		return OrderID{}, ErrChainNotRegistered
	}
	if _, err := e.tokens.ToChainToken(e.wrappedNative, toChain); err != nil {
		return OrderID{}, err
	}
	if err := e.custody.WrapNative(caller, amount); err != nil {
		return OrderID{}, err
	}
	return e.transferOutLocked(caller, e.wrappedNative, to, toChain, amount)
}

func (e *Engine) transferOutLocked(caller, token, to []byte, toChain ChainID, amount *big.Int) (OrderID, error) {
	if err := e.requireCore(); err != nil {
		return OrderID{}, err
	}
	if len(caller) == 0 || len(to) == 0 {
		return OrderID{}, ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return OrderID{}, ErrZeroAmount
	}
	if toChain == e.chainID {
		return OrderID{}, ErrSameChain
	}
	if _, ok := e.chains.FamilyOf(toChain); !ok {
		return OrderID{}, ErrChainNotRegistered
	}
	toToken, err := e.tokens.ToChainToken(token, toChain)
	if err != nil {
		return OrderID{}, err
	}
	if err := e.requireBalance(token, caller, amount); err != nil {
		return OrderID{}, err
	}
	counter, err := e.ledger.NextCounter()
	if err != nil {
		return OrderID{}, err
	}
	orderID := DeriveOrderID(e.self, counter, e.chainID, toChain, caller, to)

	outAmount, err := e.custodyOutbound(orderID, caller, token, amount, toChain)
	if err != nil {
		return OrderID{}, err
	}

	e.emit(events.TransferOut{
		FromChain: uint64(e.chainID),
		ToChain:   uint64(toChain),
		OrderID:   orderID,
		Token:     token,
		From:      caller,
		To:        to,
		Amount:    outAmount,
		ToToken:   toToken,
	})
	return orderID, nil
}

// SwapOut locks or burns the caller's tokens and emits a canonical swap event
// carrying the destination-side swap payload.
func (e *Engine) SwapOut(caller, token, to []byte, toChain ChainID, amount *big.Int, payload SwapPayload) (OrderID, error) {
	if err := e.begin(); err != nil {
		return OrderID{}, err
	}
	defer e.end()
	if err := e.requireActive(); err != nil {
		return OrderID{}, err
	}
	if err := e.requireCore(); err != nil {
		return OrderID{}, err
	}
	if len(caller) == 0 || len(to) == 0 {
		return OrderID{}, ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return OrderID{}, ErrZeroAmount
	}
	if toChain == e.chainID {
		return OrderID{}, ErrSameChain
	}
	if _, ok := e.chains.FamilyOf(toChain); !ok {
		return OrderID{}, ErrChainNotRegistered
	}
	if _, err := e.tokens.ToChainToken(token, toChain); err != nil {
		return OrderID{}, err
	}
	if len(payload.RelayTargetToken) == 0 {
		relayTarget, err := e.tokens.ToChainToken(token, e.relayChain)
		if err != nil {
			return OrderID{}, err
		}
		payload.RelayTargetToken = relayTarget
	}
	swapData, err := EncodeSwapPayload(payload)
	if err != nil {
		return OrderID{}, err
	}
	if err := e.requireBalance(token, caller, amount); err != nil {
		return OrderID{}, err
	}
	counter, err := e.ledger.NextCounter()
	if err != nil {
		return OrderID{}, err
	}
	orderID := DeriveOrderID(e.self, counter, e.chainID, toChain, caller, to)

	outAmount, err := e.custodyOutbound(orderID, caller, token, amount, toChain)
	if err != nil {
		return OrderID{}, err
	}

	e.emit(events.SwapOut{
		FromChain: uint64(e.chainID),
		ToChain:   uint64(toChain),
		OrderID:   orderID,
		Token:     token,
		From:      caller,
		To:        to,
		Amount:    outAmount,
		SwapData:  swapData,
	})
	return orderID, nil
}

// DepositOut routes the caller's tokens into the relay chain's vault lane. On
// a spoke this emits a canonical deposit event toward the hub; on the relay
// itself the vault is credited directly.
func (e *Engine) DepositOut(caller, token, to []byte, amount *big.Int) (OrderID, error) {
	if err := e.begin(); err != nil {
		return OrderID{}, err
	}
	defer e.end()
	if err := e.requireActive(); err != nil {
		return OrderID{}, err
	}
	if err := e.requireCore(); err != nil {
		return OrderID{}, err
	}
	if len(caller) == 0 || len(to) == 0 {
		return OrderID{}, ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return OrderID{}, ErrZeroAmount
	}
	if err := e.requireBalance(token, caller, amount); err != nil {
		return OrderID{}, err
	}

	if e.IsRelay() {
		return e.depositOutLocal(caller, token, to, amount)
	}

	if _, ok := e.chains.FamilyOf(e.relayChain); !ok {
		return OrderID{}, ErrChainNotRegistered
	}
	if _, err := e.tokens.ToChainToken(token, e.relayChain); err != nil {
		return OrderID{}, err
	}
	counter, err := e.ledger.NextCounter()
	if err != nil {
		return OrderID{}, err
	}
	orderID := DeriveOrderID(e.self, counter, e.chainID, e.relayChain, caller, to)
	if e.tokens.Mintable(token) {
		if err := e.custody.Burn(token, caller, amount); err != nil {
			return OrderID{}, err
		}
	} else {
		if err := e.custody.EscrowIn(token, caller, amount); err != nil {
			return OrderID{}, err
		}
	}
	destAmount, err := e.tokens.ToChainAmount(token, amount, e.relayChain)
	if err != nil {
		return OrderID{}, err
	}
	e.emit(events.DepositOut{
		FromChain: uint64(e.chainID),
		ToChain:   uint64(e.relayChain),
		OrderID:   orderID,
		Token:     token,
		From:      caller,
		To:        to,
		Amount:    destAmount,
	})
	return orderID, nil
}

// custodyOutbound moves the caller's value out of circulation for an outbound
// intent. On a spoke the whole amount is burnt or escrowed and leaves in the
// destination denomination after conversion by the emitting side's registry;
// on the relay the fee is extracted first and only the net amount is burnt.
func (e *Engine) custodyOutbound(orderID OrderID, caller, token []byte, amount *big.Int, toChain ChainID) (*big.Int, error) {
	if e.IsRelay() {
		gross := new(big.Int).Set(amount)
		if err := e.custody.EscrowIn(token, caller, gross); err != nil {
			return nil, err
		}
		net, destAmount, err := e.collectFee(orderID, token, gross, toChain)
		if err != nil {
			return nil, err
		}
		if e.tokens.Mintable(token) && net.Sign() > 0 {
			if err := e.custody.Burn(token, e.self, net); err != nil {
				return nil, err
			}
		}
		return destAmount, nil
	}
	if e.tokens.Mintable(token) {
		if err := e.custody.Burn(token, caller, amount); err != nil {
			return nil, err
		}
	} else {
		if err := e.custody.EscrowIn(token, caller, amount); err != nil {
			return nil, err
		}
	}
	return e.tokens.ToChainAmount(token, amount, toChain)
}

func (e *Engine) requireBalance(token, owner []byte, amount *big.Int) error {
	balance, err := e.custody.Balance(token, owner)
	if err != nil {
		return err
	}
	if balance == nil || balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return nil
}
