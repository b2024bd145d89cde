package vault

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"starbridge/native/bridge"
)

var (
	// ErrVaultNotFound signals no vault is registered for the token.
	ErrVaultNotFound = errors.New("vault: not registered")
	// ErrInsufficientShares signals the owner holds fewer shares than requested.
	ErrInsufficientShares = errors.New("vault: insufficient shares")
)

// Vault tracks the custodied balance of one underlying token across chains,
// together with the share supply representing claims on it. Shares mint
// pro-rata against the total underlying; the first deposit mints 1:1.
type Vault struct {
	token      []byte
	vaultToken []byte

	totalShares *big.Int
	shares      map[string]*big.Int
	balances    map[bridge.ChainID]*big.Int
	reserve     *big.Int
}

func newVault(token, vaultToken []byte) *Vault {
	return &Vault{
		token:       append([]byte(nil), token...),
		vaultToken:  append([]byte(nil), vaultToken...),
		totalShares: big.NewInt(0),
		shares:      make(map[string]*big.Int),
		balances:    make(map[bridge.ChainID]*big.Int),
		reserve:     big.NewInt(0),
	}
}

// TotalUnderlying returns the sum of per-chain balances and the retained fee
// reserve.
func (v *Vault) TotalUnderlying() *big.Int {
	total := new(big.Int).Set(v.reserve)
	for _, balance := range v.balances {
		total.Add(total, balance)
	}
	return total
}

// Balance returns the book balance attributed to the chain.
func (v *Vault) Balance(chain bridge.ChainID) *big.Int {
	if balance, ok := v.balances[chain]; ok {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

// Reserve returns the protocol-retained fee residue.
func (v *Vault) Reserve() *big.Int { return new(big.Int).Set(v.reserve) }

// SharesOf returns the share balance of the owner.
func (v *Vault) SharesOf(owner []byte) *big.Int {
	if s, ok := v.shares[ownerKey(owner)]; ok {
		return new(big.Int).Set(s)
	}
	return big.NewInt(0)
}

// TotalShares returns the outstanding share supply.
func (v *Vault) TotalShares() *big.Int { return new(big.Int).Set(v.totalShares) }

func (v *Vault) credit(chain bridge.ChainID, amount *big.Int) {
	balance, ok := v.balances[chain]
	if !ok {
		balance = big.NewInt(0)
		v.balances[chain] = balance
	}
	balance.Add(balance, amount)
}

func (v *Vault) debit(chain bridge.ChainID, amount *big.Int) {
	balance, ok := v.balances[chain]
	if !ok {
		balance = big.NewInt(0)
		v.balances[chain] = balance
	}
	balance.Sub(balance, amount)
}

func ownerKey(owner []byte) string { return hex.EncodeToString(owner) }

// Registry holds the vaults of the relay role and implements the engine's
// vault accounting collaborator.
type Registry struct {
	mu           sync.Mutex
	byUnderlying map[string]*Vault
	byShareToken map[string]*Vault
}

// NewRegistry constructs an empty vault registry.
func NewRegistry() *Registry {
	return &Registry{
		byUnderlying: make(map[string]*Vault),
		byShareToken: make(map[string]*Vault),
	}
}

// Register creates a vault for the underlying token with the given share
// token encoding.
func (r *Registry) Register(token, vaultToken []byte) error {
	if len(token) == 0 || len(vaultToken) == 0 {
		return fmt.Errorf("vault: empty token encoding")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := hex.EncodeToString(token)
	if _, ok := r.byUnderlying[key]; ok {
		return fmt.Errorf("vault: already registered for token %s", key)
	}
	v := newVault(token, vaultToken)
	r.byUnderlying[key] = v
	r.byShareToken[hex.EncodeToString(vaultToken)] = v
	return nil
}

// Registered reports whether the underlying token has a vault.
func (r *Registry) Registered(token []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byUnderlying[hex.EncodeToString(token)]
	return ok
}

// Get returns the vault for the underlying token.
func (r *Registry) Get(token []byte) (*Vault, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byUnderlying[hex.EncodeToString(token)]
	return v, ok
}

// Deposit credits the vault with custodied value arriving from fromChain and
// mints shares to the beneficiary. Returns the minted share amount.
func (r *Registry) Deposit(token []byte, fromChain bridge.ChainID, amount *big.Int, to []byte) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("vault: amount must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byUnderlying[hex.EncodeToString(token)]
	if !ok {
		return nil, ErrVaultNotFound
	}
	minted := new(big.Int).Set(amount)
	if v.totalShares.Sign() > 0 {
		total := v.TotalUnderlying()
		if total.Sign() > 0 {
			minted = new(big.Int).Mul(amount, v.totalShares)
			minted.Div(minted, total)
		}
	}
	if minted.Sign() == 0 {
		return nil, fmt.Errorf("vault: deposit too small for share mint")
	}
	v.credit(fromChain, amount)
	key := ownerKey(to)
	owned, ok := v.shares[key]
	if !ok {
		owned = big.NewInt(0)
		v.shares[key] = owned
	}
	owned.Add(owned, minted)
	v.totalShares.Add(v.totalShares, minted)
	return minted, nil
}

// Withdraw burns the owner's shares and releases underlying 1:1 by the
// vault's accounting. Returns the underlying token and released amount.
func (r *Registry) Withdraw(vaultToken []byte, shares *big.Int, owner []byte) ([]byte, *big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, nil, fmt.Errorf("vault: share amount must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byShareToken[hex.EncodeToString(vaultToken)]
	if !ok {
		return nil, nil, ErrVaultNotFound
	}
	key := ownerKey(owner)
	owned, ok := v.shares[key]
	if !ok || owned.Cmp(shares) < 0 {
		return nil, nil, ErrInsufficientShares
	}
	amount := new(big.Int).Mul(shares, v.TotalUnderlying())
	amount.Div(amount, v.totalShares)
	owned.Sub(owned, shares)
	v.totalShares.Sub(v.totalShares, shares)
	// withdrawals release from the reserve last
	remaining := new(big.Int).Set(amount)
	for chain, balance := range v.balances {
		if remaining.Sign() == 0 {
			break
		}
		take := new(big.Int).Set(balance)
		if take.Cmp(remaining) > 0 {
			take.Set(remaining)
		}
		if take.Sign() > 0 {
			v.debit(chain, take)
			remaining.Sub(remaining, take)
		}
	}
	if remaining.Sign() > 0 {
		v.reserve.Sub(v.reserve, remaining)
	}
	return append([]byte(nil), v.token...), amount, nil
}

// TransferToken books one relay settlement: the gross amount arrives
// attributed to the source chain, the net amount leaves toward the
// destination chain, and the retained fee residue stays with the relay. This
// is the single point keeping share bookkeeping consistent with balance
// movements; it is invoked exactly once per settlement.
func (r *Registry) TransferToken(token []byte, fromChain bridge.ChainID, gross *big.Int, toChain bridge.ChainID, net *big.Int, relayChain bridge.ChainID, retainedFee *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byUnderlying[hex.EncodeToString(token)]
	if !ok {
		return ErrVaultNotFound
	}
	if gross != nil && gross.Sign() > 0 {
		v.credit(fromChain, gross)
	}
	if net != nil && net.Sign() > 0 {
		v.debit(toChain, net)
	}
	fee := new(big.Int).Set(amountOrZero(gross))
	fee.Sub(fee, amountOrZero(net))
	if fee.Sign() > 0 {
		// the fee is no longer attributed to any chain: distributed
		// shares left custody, the retained residue accrues below
		v.debit(relayChain, fee)
	}
	if retainedFee != nil && retainedFee.Sign() > 0 {
		v.reserve.Add(v.reserve, retainedFee)
	}
	return nil
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
