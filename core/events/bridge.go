package events

import (
	"encoding/hex"
	"math/big"

	"starbridge/core/types"
)

const (
	TypeTransferOut    = "bridge.transfer.out"
	TypeSwapOut        = "bridge.swap.out"
	TypeDepositOut     = "bridge.deposit.out"
	TypeTransferIn     = "bridge.transfer.in"
	TypeSwapIn         = "bridge.swap.in"
	TypeTransferRelay  = "bridge.transfer.relay"
	TypeDepositIn      = "bridge.deposit.in"
	TypeFeeCollected   = "bridge.fee.collected"
	TypeBatchProcessed = "bridge.batch.processed"
	TypeVaultWithdrawn = "bridge.vault.withdrawn"
)

// TransferOut records an outbound transfer intent leaving this service.
type TransferOut struct {
	FromChain uint64
	ToChain   uint64
	OrderID   [32]byte
	Token     []byte
	From      []byte
	To        []byte
	Amount    *big.Int
	ToToken   []byte
}

func (TransferOut) EventType() string { return TypeTransferOut }

func (e TransferOut) Event() *types.Event {
	return &types.Event{
		Type: TypeTransferOut,
		Attributes: map[string]string{
			"fromChain": formatChain(e.FromChain),
			"toChain":   formatChain(e.ToChain),
			"orderId":   hex.EncodeToString(e.OrderID[:]),
			"token":     formatBytes(e.Token),
			"from":      formatBytes(e.From),
			"to":        formatBytes(e.To),
			"amount":    formatAmount(e.Amount),
			"toToken":   formatBytes(e.ToToken),
		},
	}
}

// SwapOut records an outbound swap intent leaving this service.
type SwapOut struct {
	FromChain uint64
	ToChain   uint64
	OrderID   [32]byte
	Token     []byte
	From      []byte
	To        []byte
	Amount    *big.Int
	SwapData  []byte
}

func (SwapOut) EventType() string { return TypeSwapOut }

func (e SwapOut) Event() *types.Event {
	return &types.Event{
		Type: TypeSwapOut,
		Attributes: map[string]string{
			"fromChain": formatChain(e.FromChain),
			"toChain":   formatChain(e.ToChain),
			"orderId":   hex.EncodeToString(e.OrderID[:]),
			"token":     formatBytes(e.Token),
			"from":      formatBytes(e.From),
			"to":        formatBytes(e.To),
			"amount":    formatAmount(e.Amount),
			"swapData":  formatBytes(e.SwapData),
		},
	}
}

// DepositOut records an outbound vault deposit intent toward the relay chain.
type DepositOut struct {
	FromChain uint64
	ToChain   uint64
	OrderID   [32]byte
	Token     []byte
	From      []byte
	To        []byte
	Amount    *big.Int
}

func (DepositOut) EventType() string { return TypeDepositOut }

func (e DepositOut) Event() *types.Event {
	return &types.Event{
		Type: TypeDepositOut,
		Attributes: map[string]string{
			"fromChain": formatChain(e.FromChain),
			"toChain":   formatChain(e.ToChain),
			"orderId":   hex.EncodeToString(e.OrderID[:]),
			"token":     formatBytes(e.Token),
			"from":      formatBytes(e.From),
			"to":        formatBytes(e.To),
			"amount":    formatAmount(e.Amount),
		},
	}
}

// TransferIn records a settled inbound transfer paid out on this chain.
type TransferIn struct {
	FromChain uint64
	ToChain   uint64
	OrderID   [32]byte
	Token     []byte
	From      []byte
	To        []byte
	Amount    *big.Int
}

func (TransferIn) EventType() string { return TypeTransferIn }

func (e TransferIn) Event() *types.Event {
	return &types.Event{
		Type: TypeTransferIn,
		Attributes: map[string]string{
			"fromChain": formatChain(e.FromChain),
			"toChain":   formatChain(e.ToChain),
			"orderId":   hex.EncodeToString(e.OrderID[:]),
			"token":     formatBytes(e.Token),
			"from":      formatBytes(e.From),
			"to":        formatBytes(e.To),
			"amount":    formatAmount(e.Amount),
		},
	}
}

// SwapIn records a settled inbound swap, whether paid out directly or handed
// to the swap executor.
type SwapIn struct {
	FromChain uint64
	ToChain   uint64
	OrderID   [32]byte
	Token     []byte
	To        []byte
	Amount    *big.Int
	Executed  bool
}

func (SwapIn) EventType() string { return TypeSwapIn }

func (e SwapIn) Event() *types.Event {
	executed := "false"
	if e.Executed {
		executed = "true"
	}
	return &types.Event{
		Type: TypeSwapIn,
		Attributes: map[string]string{
			"fromChain": formatChain(e.FromChain),
			"toChain":   formatChain(e.ToChain),
			"orderId":   hex.EncodeToString(e.OrderID[:]),
			"token":     formatBytes(e.Token),
			"to":        formatBytes(e.To),
			"amount":    formatAmount(e.Amount),
			"executed":  executed,
		},
	}
}

// TransferRelay records a hub re-emission of a validated inbound message
// toward its real destination chain.
type TransferRelay struct {
	FromChain uint64
	ToChain   uint64
	OrderID   [32]byte
	Token     []byte
	From      []byte
	To        []byte
	Amount    *big.Int
}

func (TransferRelay) EventType() string { return TypeTransferRelay }

func (e TransferRelay) Event() *types.Event {
	return &types.Event{
		Type: TypeTransferRelay,
		Attributes: map[string]string{
			"fromChain": formatChain(e.FromChain),
			"toChain":   formatChain(e.ToChain),
			"orderId":   hex.EncodeToString(e.OrderID[:]),
			"token":     formatBytes(e.Token),
			"from":      formatBytes(e.From),
			"to":        formatBytes(e.To),
			"amount":    formatAmount(e.Amount),
		},
	}
}

// DepositIn records an inbound deposit credited to a vault on the relay chain.
type DepositIn struct {
	FromChain uint64
	OrderID   [32]byte
	Token     []byte
	From      []byte
	To        []byte
	Amount    *big.Int
}

func (DepositIn) EventType() string { return TypeDepositIn }

func (e DepositIn) Event() *types.Event {
	return &types.Event{
		Type: TypeDepositIn,
		Attributes: map[string]string{
			"fromChain": formatChain(e.FromChain),
			"orderId":   hex.EncodeToString(e.OrderID[:]),
			"token":     formatBytes(e.Token),
			"from":      formatBytes(e.From),
			"to":        formatBytes(e.To),
			"amount":    formatAmount(e.Amount),
		},
	}
}

// FeeCollected records the protocol fee retained for one settlement.
type FeeCollected struct {
	OrderID [32]byte
	Token   []byte
	Amount  *big.Int
}

func (FeeCollected) EventType() string { return TypeFeeCollected }

func (e FeeCollected) Event() *types.Event {
	return &types.Event{
		Type: TypeFeeCollected,
		Attributes: map[string]string{
			"orderId": hex.EncodeToString(e.OrderID[:]),
			"token":   formatBytes(e.Token),
			"amount":  formatAmount(e.Amount),
		},
	}
}

// BatchProcessed records completion of one inbound proof batch, regardless of
// how many events inside it settled.
type BatchProcessed struct {
	Kind      string
	FromChain uint64
	ToChain   uint64
	Caller    []byte
}

func (BatchProcessed) EventType() string { return TypeBatchProcessed }

func (e BatchProcessed) Event() *types.Event {
	return &types.Event{
		Type: TypeBatchProcessed,
		Attributes: map[string]string{
			"kind":      e.Kind,
			"fromChain": formatChain(e.FromChain),
			"toChain":   formatChain(e.ToChain),
			"caller":    formatBytes(e.Caller),
		},
	}
}

// VaultWithdrawn records a vault share redemption.
type VaultWithdrawn struct {
	VaultToken []byte
	Token      []byte
	Owner      []byte
	Shares     *big.Int
	Amount     *big.Int
}

func (VaultWithdrawn) EventType() string { return TypeVaultWithdrawn }

func (e VaultWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultWithdrawn,
		Attributes: map[string]string{
			"vaultToken": formatBytes(e.VaultToken),
			"token":      formatBytes(e.Token),
			"owner":      formatBytes(e.Owner),
			"shares":     formatAmount(e.Shares),
			"amount":     formatAmount(e.Amount),
		},
	}
}
