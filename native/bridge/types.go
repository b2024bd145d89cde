package bridge

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// ChainID identifies a chain participating in the star topology.
type ChainID uint64

// OrderID is the unique idempotency key for one cross-chain message.
type OrderID [32]byte

// Family tags the log format a remote chain emits.
type Family uint8

const (
	FamilyUnknown Family = iota
	// FamilyTopicLog covers structured topic+data receipt logs.
	FamilyTopicLog
	// FamilyLinearLog covers linear field-sequential log entries.
	FamilyLinearLog
)

func (f Family) String() string {
	switch f {
	case FamilyTopicLog:
		return "topic-log"
	case FamilyLinearLog:
		return "linear-log"
	default:
		return "unknown"
	}
}

// ParseFamily resolves the string tag used in configuration files.
func ParseFamily(tag string) (Family, error) {
	switch tag {
	case "topic-log":
		return FamilyTopicLog, nil
	case "linear-log":
		return FamilyLinearLog, nil
	default:
		return FamilyUnknown, fmt.Errorf("bridge: unknown chain family %q", tag)
	}
}

// EventKind distinguishes the three canonical event variants.
type EventKind uint8

const (
	KindTransfer EventKind = iota + 1
	KindSwap
	KindDeposit
)

func (k EventKind) String() string {
	switch k {
	case KindTransfer:
		return "transfer"
	case KindSwap:
		return "swap"
	case KindDeposit:
		return "deposit"
	default:
		return "unknown"
	}
}

// TransferOutEvent is the canonical description of a cross-chain transfer.
// Token, From and To carry chain-local encodings as opaque byte strings.
type TransferOutEvent struct {
	FromChain ChainID
	ToChain   ChainID
	OrderID   OrderID
	Token     []byte
	From      []byte
	To        []byte
	Amount    *big.Int
	ToToken   []byte
}

// SwapOutEvent is the canonical description of a cross-chain swap. SwapData
// decodes to a SwapPayload.
type SwapOutEvent struct {
	FromChain ChainID
	ToChain   ChainID
	OrderID   OrderID
	Token     []byte
	From      []byte
	To        []byte
	Amount    *big.Int
	SwapData  []byte
}

// DepositOutEvent is the canonical description of a vault deposit routed to
// the relay chain.
type DepositOutEvent struct {
	FromChain ChainID
	ToChain   ChainID
	OrderID   OrderID
	Token     []byte
	From      []byte
	To        []byte
	Amount    *big.Int
}

// SwapPayload carries the destination-side swap instruction. Params is opaque
// to the settlement engine; the destination's swap executor interprets it.
type SwapPayload struct {
	Params           []byte
	TargetToken      []byte
	RelayTargetToken []byte
}

// EncodeSwapPayload serialises the payload into the wire form carried inside
// SwapOutEvent.SwapData.
func EncodeSwapPayload(p SwapPayload) ([]byte, error) {
	return rlp.EncodeToBytes(&p)
}

// DecodeSwapPayload parses SwapOutEvent.SwapData.
func DecodeSwapPayload(data []byte) (SwapPayload, error) {
	var p SwapPayload
	if err := rlp.DecodeBytes(data, &p); err != nil {
		return SwapPayload{}, fmt.Errorf("bridge: malformed swap payload: %w", err)
	}
	return p, nil
}

// DeriveOrderID computes the idempotency key for one outbound intent. It is a
// pure function of the emitting service's identity, its local counter and the
// message endpoints, so the same intent always maps to the same id and two
// distinct counter values never collide.
func DeriveOrderID(self []byte, counter uint64, fromChain, toChain ChainID, sender, recipient []byte) OrderID {
	buf := make([]byte, 0, len(self)+24+len(sender)+len(recipient))
	buf = append(buf, self...)
	buf = binary.BigEndian.AppendUint64(buf, counter)
	buf = binary.BigEndian.AppendUint64(buf, uint64(fromChain))
	buf = binary.BigEndian.AppendUint64(buf, uint64(toChain))
	buf = append(buf, sender...)
	buf = append(buf, recipient...)
	return OrderID(ethcrypto.Keccak256Hash(buf))
}
