package bridge

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Decoded is one canonical event recovered from a proved log batch, together
// with the identity that emitted it on the source chain.
type Decoded struct {
	Kind     EventKind
	Emitter  []byte
	Transfer *TransferOutEvent
	Swap     *SwapOutEvent
	Deposit  *DepositOutEvent
}

// Topic constants for the structured topic+data log family.
var (
	TopicTransferOut = ethcrypto.Keccak256Hash([]byte("TransferOut(uint64,uint64,bytes32,bytes,bytes,bytes,uint256,bytes)"))
	TopicSwapOut     = ethcrypto.Keccak256Hash([]byte("SwapOut(uint64,uint64,bytes32,bytes,bytes,bytes,uint256,bytes)"))
	TopicDepositOut  = ethcrypto.Keccak256Hash([]byte("DepositOut(uint64,uint64,bytes32,bytes,bytes,bytes,uint256)"))
)

type topicLog struct {
	Address []byte
	Topics  []ethcommon.Hash
	Data    []byte
}

type transferOutWire struct {
	FromChain uint64
	ToChain   uint64
	OrderID   [32]byte
	Token     []byte
	From      []byte
	To        []byte
	Amount    *big.Int
	ToToken   []byte
}

type swapOutWire struct {
	FromChain uint64
	ToChain   uint64
	OrderID   [32]byte
	Token     []byte
	From      []byte
	To        []byte
	Amount    *big.Int
	SwapData  []byte
}

type depositOutWire struct {
	FromChain uint64
	ToChain   uint64
	OrderID   [32]byte
	Token     []byte
	From      []byte
	To        []byte
	Amount    *big.Int
}

// DecodeLogs parses the verifier's decoded log bytes with the codec for the
// given chain family. Entries the codec does not recognise are skipped; a log
// batch legitimately interleaves foreign entries with bridge events.
func DecodeLogs(family Family, raw []byte) ([]Decoded, error) {
	switch family {
	case FamilyTopicLog:
		return decodeTopicLogs(raw)
	case FamilyLinearLog:
		return decodeLinearLogs(raw)
	default:
		return nil, fmt.Errorf("bridge: unknown chain family %d", family)
	}
}

func decodeTopicLogs(raw []byte) ([]Decoded, error) {
	var logs []topicLog
	if err := rlp.DecodeBytes(raw, &logs); err != nil {
		return nil, fmt.Errorf("bridge: malformed topic log batch: %w", err)
	}
	out := make([]Decoded, 0, len(logs))
	for _, entry := range logs {
		if len(entry.Topics) == 0 {
			continue
		}
		switch entry.Topics[0] {
		case TopicTransferOut:
			var wire transferOutWire
			if err := rlp.DecodeBytes(entry.Data, &wire); err != nil {
				return nil, fmt.Errorf("bridge: malformed transfer log: %w", err)
			}
			out = append(out, Decoded{
				Kind:    KindTransfer,
				Emitter: entry.Address,
				Transfer: &TransferOutEvent{
					FromChain: ChainID(wire.FromChain),
					ToChain:   ChainID(wire.ToChain),
					OrderID:   OrderID(wire.OrderID),
					Token:     wire.Token,
					From:      wire.From,
					To:        wire.To,
					Amount:    amountOrZero(wire.Amount),
					ToToken:   wire.ToToken,
				},
			})
		case TopicSwapOut:
			var wire swapOutWire
			if err := rlp.DecodeBytes(entry.Data, &wire); err != nil {
				return nil, fmt.Errorf("bridge: malformed swap log: %w", err)
			}
			out = append(out, Decoded{
				Kind:    KindSwap,
				Emitter: entry.Address,
				Swap: &SwapOutEvent{
					FromChain: ChainID(wire.FromChain),
					ToChain:   ChainID(wire.ToChain),
					OrderID:   OrderID(wire.OrderID),
					Token:     wire.Token,
					From:      wire.From,
					To:        wire.To,
					Amount:    amountOrZero(wire.Amount),
					SwapData:  wire.SwapData,
				},
			})
		case TopicDepositOut:
			var wire depositOutWire
			if err := rlp.DecodeBytes(entry.Data, &wire); err != nil {
				return nil, fmt.Errorf("bridge: malformed deposit log: %w", err)
			}
			out = append(out, Decoded{
				Kind:    KindDeposit,
				Emitter: entry.Address,
				Deposit: &DepositOutEvent{
					FromChain: ChainID(wire.FromChain),
					ToChain:   ChainID(wire.ToChain),
					OrderID:   OrderID(wire.OrderID),
					Token:     wire.Token,
					From:      wire.From,
					To:        wire.To,
					Amount:    amountOrZero(wire.Amount),
				},
			})
		default:
			// foreign log entry
		}
	}
	return out, nil
}

// EncodeTopicLogs serialises canonical events into the topic+data batch form
// consumed by decodeTopicLogs. Used by transport fixtures and tests.
func EncodeTopicLogs(events []Decoded) ([]byte, error) {
	logs := make([]topicLog, 0, len(events))
	for _, ev := range events {
		var (
			topic ethcommon.Hash
			data  []byte
			err   error
		)
		switch {
		case ev.Transfer != nil:
			topic = TopicTransferOut
			t := ev.Transfer
			data, err = rlp.EncodeToBytes(&transferOutWire{
				FromChain: uint64(t.FromChain), ToChain: uint64(t.ToChain), OrderID: t.OrderID,
				Token: t.Token, From: t.From, To: t.To, Amount: amountOrZero(t.Amount), ToToken: t.ToToken,
			})
		case ev.Swap != nil:
			topic = TopicSwapOut
			s := ev.Swap
			data, err = rlp.EncodeToBytes(&swapOutWire{
				FromChain: uint64(s.FromChain), ToChain: uint64(s.ToChain), OrderID: s.OrderID,
				Token: s.Token, From: s.From, To: s.To, Amount: amountOrZero(s.Amount), SwapData: s.SwapData,
			})
		case ev.Deposit != nil:
			topic = TopicDepositOut
			d := ev.Deposit
			data, err = rlp.EncodeToBytes(&depositOutWire{
				FromChain: uint64(d.FromChain), ToChain: uint64(d.ToChain), OrderID: d.OrderID,
				Token: d.Token, From: d.From, To: d.To, Amount: amountOrZero(d.Amount),
			})
		default:
			return nil, fmt.Errorf("bridge: empty decoded event")
		}
		if err != nil {
			return nil, err
		}
		logs = append(logs, topicLog{Address: ev.Emitter, Topics: []ethcommon.Hash{topic}, Data: data})
	}
	return rlp.EncodeToBytes(logs)
}

// Linear log entries are newline-separated JSON objects; entries that are not
// JSON or name an unknown event are foreign and skipped.
type linearLog struct {
	Event     string `json:"event"`
	Emitter   string `json:"emitter"`
	FromChain uint64 `json:"fromChain"`
	ToChain   uint64 `json:"toChain"`
	OrderID   string `json:"orderId"`
	Token     string `json:"token"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    string `json:"amount"`
	ToToken   string `json:"toToken,omitempty"`
	SwapData  string `json:"swapData,omitempty"`
}

const (
	linearTransferOut = "transfer_out"
	linearSwapOut     = "swap_out"
	linearDepositOut  = "deposit_out"
)

func decodeLinearLogs(raw []byte) ([]Decoded, error) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var out []Decoded
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry linearLog
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		decoded, ok, err := entry.decode()
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, decoded)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("bridge: malformed linear log batch: %w", err)
	}
	return out, nil
}

func (e linearLog) decode() (Decoded, bool, error) {
	var kind EventKind
	switch e.Event {
	case linearTransferOut:
		kind = KindTransfer
	case linearSwapOut:
		kind = KindSwap
	case linearDepositOut:
		kind = KindDeposit
	default:
		return Decoded{}, false, nil
	}
	emitter, err := hex.DecodeString(e.Emitter)
	if err != nil {
		return Decoded{}, false, fmt.Errorf("bridge: malformed linear emitter: %w", err)
	}
	orderBytes, err := hex.DecodeString(e.OrderID)
	if err != nil || len(orderBytes) != 32 {
		return Decoded{}, false, fmt.Errorf("bridge: malformed linear order id %q", e.OrderID)
	}
	var orderID OrderID
	copy(orderID[:], orderBytes)
	token, err := hex.DecodeString(e.Token)
	if err != nil {
		return Decoded{}, false, fmt.Errorf("bridge: malformed linear token: %w", err)
	}
	from, err := hex.DecodeString(e.From)
	if err != nil {
		return Decoded{}, false, fmt.Errorf("bridge: malformed linear sender: %w", err)
	}
	to, err := hex.DecodeString(e.To)
	if err != nil {
		return Decoded{}, false, fmt.Errorf("bridge: malformed linear recipient: %w", err)
	}
	amount, ok := new(big.Int).SetString(e.Amount, 10)
	if !ok {
		return Decoded{}, false, fmt.Errorf("bridge: malformed linear amount %q", e.Amount)
	}
	decoded := Decoded{Kind: kind, Emitter: emitter}
	switch kind {
	case KindTransfer:
		toToken, err := hex.DecodeString(e.ToToken)
		if err != nil {
			return Decoded{}, false, fmt.Errorf("bridge: malformed linear destination token: %w", err)
		}
		decoded.Transfer = &TransferOutEvent{
			FromChain: ChainID(e.FromChain), ToChain: ChainID(e.ToChain), OrderID: orderID,
			Token: token, From: from, To: to, Amount: amount, ToToken: toToken,
		}
	case KindSwap:
		swapData, err := hex.DecodeString(e.SwapData)
		if err != nil {
			return Decoded{}, false, fmt.Errorf("bridge: malformed linear swap data: %w", err)
		}
		decoded.Swap = &SwapOutEvent{
			FromChain: ChainID(e.FromChain), ToChain: ChainID(e.ToChain), OrderID: orderID,
			Token: token, From: from, To: to, Amount: amount, SwapData: swapData,
		}
	case KindDeposit:
		decoded.Deposit = &DepositOutEvent{
			FromChain: ChainID(e.FromChain), ToChain: ChainID(e.ToChain), OrderID: orderID,
			Token: token, From: from, To: to, Amount: amount,
		}
	}
	return decoded, true, nil
}

// EncodeLinearLogs serialises canonical events into the newline-separated
// JSON form consumed by decodeLinearLogs.
func EncodeLinearLogs(events []Decoded) ([]byte, error) {
	buf := &bytes.Buffer{}
	for _, ev := range events {
		entry := linearLog{Emitter: hex.EncodeToString(ev.Emitter)}
		switch {
		case ev.Transfer != nil:
			t := ev.Transfer
			entry.Event = linearTransferOut
			entry.FromChain, entry.ToChain = uint64(t.FromChain), uint64(t.ToChain)
			entry.OrderID = hex.EncodeToString(t.OrderID[:])
			entry.Token, entry.From, entry.To = hex.EncodeToString(t.Token), hex.EncodeToString(t.From), hex.EncodeToString(t.To)
			entry.Amount = amountOrZero(t.Amount).String()
			entry.ToToken = hex.EncodeToString(t.ToToken)
		case ev.Swap != nil:
			s := ev.Swap
			entry.Event = linearSwapOut
			entry.FromChain, entry.ToChain = uint64(s.FromChain), uint64(s.ToChain)
			entry.OrderID = hex.EncodeToString(s.OrderID[:])
			entry.Token, entry.From, entry.To = hex.EncodeToString(s.Token), hex.EncodeToString(s.From), hex.EncodeToString(s.To)
			entry.Amount = amountOrZero(s.Amount).String()
			entry.SwapData = hex.EncodeToString(s.SwapData)
		case ev.Deposit != nil:
			d := ev.Deposit
			entry.Event = linearDepositOut
			entry.FromChain, entry.ToChain = uint64(d.FromChain), uint64(d.ToChain)
			entry.OrderID = hex.EncodeToString(d.OrderID[:])
			entry.Token, entry.From, entry.To = hex.EncodeToString(d.Token), hex.EncodeToString(d.From), hex.EncodeToString(d.To)
			entry.Amount = amountOrZero(d.Amount).String()
		default:
			return nil, fmt.Errorf("bridge: empty decoded event")
		}
		encoded, err := json.Marshal(entry)
		if err != nil {
			return nil, err
		}
		buf.Write(encoded)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
