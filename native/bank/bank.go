package bank

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
)

var (
	// ErrInsufficientBalance signals the account holds less than requested.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")

	errZeroAccount = errors.New("bank: empty account")
)

// Bank is an account-backed token store providing the custody capability set
// the settlement engine drives: escrow transfer, mint/burn, and native-value
// wrapping. The custodian account holds all escrowed value.
type Bank struct {
	mu sync.Mutex

	custodian     []byte
	wrappedNative []byte

	// token -> owner -> balance
	balances map[string]map[string]*big.Int
	supply   map[string]*big.Int
	native   map[string]*big.Int
}

// New constructs a bank whose escrow account is the custodian identity.
// wrappedNative is the token encoding native value wraps into.
func New(custodian, wrappedNative []byte) *Bank {
	return &Bank{
		custodian:     append([]byte(nil), custodian...),
		wrappedNative: append([]byte(nil), wrappedNative...),
		balances:      make(map[string]map[string]*big.Int),
		supply:        make(map[string]*big.Int),
		native:        make(map[string]*big.Int),
	}
}

func key(b []byte) string { return hex.EncodeToString(b) }

func (b *Bank) balanceRef(token, owner []byte) *big.Int {
	owners, ok := b.balances[key(token)]
	if !ok {
		owners = make(map[string]*big.Int)
		b.balances[key(token)] = owners
	}
	balance, ok := owners[key(owner)]
	if !ok {
		balance = big.NewInt(0)
		owners[key(owner)] = balance
	}
	return balance
}

func (b *Bank) supplyRef(token []byte) *big.Int {
	s, ok := b.supply[key(token)]
	if !ok {
		s = big.NewInt(0)
		b.supply[key(token)] = s
	}
	return s
}

func (b *Bank) move(token, from, to []byte, amount *big.Int) error {
	if len(from) == 0 || len(to) == 0 {
		return errZeroAccount
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("bank: negative transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	src := b.balanceRef(token, from)
	if src.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	src.Sub(src, amount)
	dst := b.balanceRef(token, to)
	dst.Add(dst, amount)
	return nil
}

// EscrowIn moves tokens from the owner into the custodian account.
func (b *Bank) EscrowIn(token, from []byte, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(token, from, b.custodian, amount)
}

// EscrowOut releases tokens from the custodian account to the recipient.
func (b *Bank) EscrowOut(token, to []byte, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(token, b.custodian, to, amount)
}

// Mint creates new supply credited to the recipient.
func (b *Bank) Mint(token, to []byte, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(to) == 0 {
		return errZeroAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("bank: mint amount must be positive")
	}
	b.balanceRef(token, to).Add(b.balanceRef(token, to), amount)
	b.supplyRef(token).Add(b.supplyRef(token), amount)
	return nil
}

// Burn destroys supply held by the owner.
func (b *Bank) Burn(token, from []byte, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(from) == 0 {
		return errZeroAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("bank: burn amount must be positive")
	}
	balance := b.balanceRef(token, from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	balance.Sub(balance, amount)
	b.supplyRef(token).Sub(b.supplyRef(token), amount)
	return nil
}

// WrapNative converts the owner's native value into the wrapped-native token.
func (b *Bank) WrapNative(owner []byte, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(owner) == 0 {
		return errZeroAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("bank: wrap amount must be positive")
	}
	native, ok := b.native[key(owner)]
	if !ok || native.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	native.Sub(native, amount)
	b.balanceRef(b.wrappedNative, owner).Add(b.balanceRef(b.wrappedNative, owner), amount)
	b.supplyRef(b.wrappedNative).Add(b.supplyRef(b.wrappedNative), amount)
	return nil
}

// UnwrapAndPay burns wrapped-native tokens held by the custodian and pays the
// recipient in native value.
func (b *Bank) UnwrapAndPay(to []byte, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(to) == 0 {
		return errZeroAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("bank: unwrap amount must be positive")
	}
	balance := b.balanceRef(b.wrappedNative, b.custodian)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	balance.Sub(balance, amount)
	b.supplyRef(b.wrappedNative).Sub(b.supplyRef(b.wrappedNative), amount)
	native, ok := b.native[key(to)]
	if !ok {
		native = big.NewInt(0)
		b.native[key(to)] = native
	}
	native.Add(native, amount)
	return nil
}

// Balance returns the owner's balance of the token.
func (b *Bank) Balance(token, owner []byte) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	owners, ok := b.balances[key(token)]
	if !ok {
		return big.NewInt(0), nil
	}
	balance, ok := owners[key(owner)]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

// NativeBalance returns the owner's native value balance.
func (b *Bank) NativeBalance(owner []byte) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if native, ok := b.native[key(owner)]; ok {
		return new(big.Int).Set(native)
	}
	return big.NewInt(0)
}

// Supply returns the tracked supply of the token.
func (b *Bank) Supply(token []byte) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.supply[key(token)]; ok {
		return new(big.Int).Set(s)
	}
	return big.NewInt(0)
}

// CreditNative funds the owner's native balance. Intended for genesis seeding
// and tests.
func (b *Bank) CreditNative(owner []byte, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	native, ok := b.native[key(owner)]
	if !ok {
		native = big.NewInt(0)
		b.native[key(owner)] = native
	}
	native.Add(native, amount)
}
