package registry

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"starbridge/native/bridge"
)

var (
	// ErrTokenNotRegistered signals the token has no registry entry.
	ErrTokenNotRegistered = errors.New("registry: token not registered")
	// ErrRouteNotRegistered signals the (token, chain) pair is not bridgeable.
	ErrRouteNotRegistered = errors.New("registry: route not registered")
	// ErrVaultTokenNotSet signals the token has no vault share token.
	ErrVaultTokenNotSet = errors.New("registry: vault token not registered")
	// ErrChainNotRegistered signals an unknown remote chain id.
	ErrChainNotRegistered = errors.New("registry: chain not registered")
)

type route struct {
	remote   []byte
	decimals uint8
}

type feePolicy struct {
	ratePPM uint32
	floor   *big.Int
}

type tokenEntry struct {
	decimals   uint8
	mintable   bool
	vaultToken []byte
	routes     map[bridge.ChainID]route
	fees       map[bridge.ChainID]feePolicy
}

// TokenRegistry maps token identity and denomination between this chain and
// every registered route. All lookups are pure reads; absence of an entry
// makes the route invalid.
type TokenRegistry struct {
	mu       sync.RWMutex
	tokens   map[string]*tokenEntry
	byRemote map[bridge.ChainID]map[string][]byte
}

// NewTokenRegistry constructs an empty token registry.
func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{
		tokens:   make(map[string]*tokenEntry),
		byRemote: make(map[bridge.ChainID]map[string][]byte),
	}
}

func tokenKey(token []byte) string { return hex.EncodeToString(token) }

// RegisterToken records a local token's denomination, custody mode and
// optional vault share token.
func (r *TokenRegistry) RegisterToken(token []byte, decimals uint8, mintable bool, vaultToken []byte) error {
	if len(token) == 0 {
		return fmt.Errorf("registry: empty token encoding")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := tokenKey(token)
	entry, ok := r.tokens[key]
	if !ok {
		entry = &tokenEntry{
			routes: make(map[bridge.ChainID]route),
			fees:   make(map[bridge.ChainID]feePolicy),
		}
		r.tokens[key] = entry
	}
	entry.decimals = decimals
	entry.mintable = mintable
	entry.vaultToken = append([]byte(nil), vaultToken...)
	return nil
}

// RegisterRoute records the remote encoding and denomination of a registered
// local token on the given chain.
func (r *TokenRegistry) RegisterRoute(token []byte, chain bridge.ChainID, remote []byte, remoteDecimals uint8) error {
	if len(remote) == 0 {
		return fmt.Errorf("registry: empty remote token encoding")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tokens[tokenKey(token)]
	if !ok {
		return ErrTokenNotRegistered
	}
	entry.routes[chain] = route{remote: append([]byte(nil), remote...), decimals: remoteDecimals}
	reverse, ok := r.byRemote[chain]
	if !ok {
		reverse = make(map[string][]byte)
		r.byRemote[chain] = reverse
	}
	reverse[tokenKey(remote)] = append([]byte(nil), token...)
	return nil
}

// SetFeePolicy configures the fee charged when bridging the token toward the
// given chain.
func (r *TokenRegistry) SetFeePolicy(token []byte, chain bridge.ChainID, ratePPM uint32, floor *big.Int) error {
	if ratePPM > bridge.FeeRateDenominator {
		return fmt.Errorf("registry: fee rate %d exceeds denominator", ratePPM)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tokens[tokenKey(token)]
	if !ok {
		return ErrTokenNotRegistered
	}
	policy := feePolicy{ratePPM: ratePPM}
	if floor != nil {
		policy.floor = new(big.Int).Set(floor)
	}
	entry.fees[chain] = policy
	return nil
}

// ToChainToken resolves the destination-side encoding for the route.
func (r *TokenRegistry) ToChainToken(token []byte, chain bridge.ChainID) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tokens[tokenKey(token)]
	if !ok {
		return nil, ErrTokenNotRegistered
	}
	rt, ok := entry.routes[chain]
	if !ok {
		return nil, ErrRouteNotRegistered
	}
	return append([]byte(nil), rt.remote...), nil
}

// ToChainAmount converts a local-denominated amount into the destination
// chain's denomination. The conversion is a pure decimal scaling with
// standard integer truncation; composing the registered source-to-hub and
// hub-to-destination scalings yields the direct source-to-destination result.
func (r *TokenRegistry) ToChainAmount(token []byte, amount *big.Int, chain bridge.ChainID) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tokens[tokenKey(token)]
	if !ok {
		return nil, ErrTokenNotRegistered
	}
	rt, ok := entry.routes[chain]
	if !ok {
		return nil, ErrRouteNotRegistered
	}
	return scaleAmount(amount, entry.decimals, rt.decimals), nil
}

// LocalToken resolves the local encoding for a remote chain's token.
func (r *TokenRegistry) LocalToken(fromChain bridge.ChainID, token []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reverse, ok := r.byRemote[fromChain]
	if !ok {
		return nil, ErrRouteNotRegistered
	}
	local, ok := reverse[tokenKey(token)]
	if !ok {
		return nil, ErrRouteNotRegistered
	}
	return append([]byte(nil), local...), nil
}

// LocalAmount converts an amount denominated on the given chain into the
// local denomination.
func (r *TokenRegistry) LocalAmount(token []byte, amount *big.Int, chain bridge.ChainID) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tokens[tokenKey(token)]
	if !ok {
		return nil, ErrTokenNotRegistered
	}
	rt, ok := entry.routes[chain]
	if !ok {
		return nil, ErrRouteNotRegistered
	}
	return scaleAmount(amount, rt.decimals, entry.decimals), nil
}

// TokenFee evaluates the fee policy for the (token, destination) pair. An
// unconfigured policy charges nothing.
func (r *TokenRegistry) TokenFee(token []byte, amount *big.Int, toChain bridge.ChainID) *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tokens[tokenKey(token)]
	if !ok || amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	policy, ok := entry.fees[toChain]
	if !ok {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(policy.ratePPM)))
	fee.Div(fee, big.NewInt(bridge.FeeRateDenominator))
	if policy.floor != nil && fee.Cmp(policy.floor) < 0 {
		fee = new(big.Int).Set(policy.floor)
	}
	return fee
}

// Mintable reports whether this service can create and destroy the token's
// supply directly.
func (r *TokenRegistry) Mintable(token []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tokens[tokenKey(token)]
	return ok && entry.mintable
}

// VaultToken resolves the vault share token for the underlying token.
func (r *TokenRegistry) VaultToken(token []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tokens[tokenKey(token)]
	if !ok {
		return nil, ErrTokenNotRegistered
	}
	if len(entry.vaultToken) == 0 {
		return nil, ErrVaultTokenNotSet
	}
	return append([]byte(nil), entry.vaultToken...), nil
}

func scaleAmount(amount *big.Int, fromDecimals, toDecimals uint8) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Set(amount)
	switch {
	case toDecimals > fromDecimals:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(toDecimals-fromDecimals)), nil)
		out.Mul(out, factor)
	case toDecimals < fromDecimals:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(fromDecimals-toDecimals)), nil)
		out.Div(out, factor)
	}
	return out
}

type chainEntry struct {
	sender []byte
	family bridge.Family
}

// ChainRegistry records trusted sender identities and log families per remote
// chain.
type ChainRegistry struct {
	mu     sync.RWMutex
	chains map[bridge.ChainID]chainEntry
}

// NewChainRegistry constructs an empty chain registry.
func NewChainRegistry() *ChainRegistry {
	return &ChainRegistry{chains: make(map[bridge.ChainID]chainEntry)}
}

// RegisterChain records the trusted sender identity and log family of a
// remote chain.
func (r *ChainRegistry) RegisterChain(chain bridge.ChainID, sender []byte, family bridge.Family) error {
	if len(sender) == 0 {
		return fmt.Errorf("registry: empty sender identity")
	}
	if family != bridge.FamilyTopicLog && family != bridge.FamilyLinearLog {
		return fmt.Errorf("registry: unknown chain family %d", family)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[chain] = chainEntry{sender: append([]byte(nil), sender...), family: family}
	return nil
}

// TrustedSender returns the registered sender identity for the chain.
func (r *ChainRegistry) TrustedSender(chain bridge.ChainID) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.chains[chain]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), entry.sender...), true
}

// FamilyOf returns the registered log family for the chain.
func (r *ChainRegistry) FamilyOf(chain bridge.ChainID) (bridge.Family, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.chains[chain]
	if !ok {
		return bridge.FamilyUnknown, false
	}
	return entry.family, true
}
