package bridge

import (
	"bytes"
	"fmt"
	"math/big"

	"starbridge/core/events"
)

// Skip records why one event inside a batch was not settled.
type Skip struct {
	Index   int
	OrderID OrderID
	Reason  string
}

// BatchResult summarises one inbound proof batch. A batch with skipped events
// is still a successful call; per-event isolation is intentional.
type BatchResult struct {
	Settled int
	Skipped []Skip
}

// TransferIn verifies the proof, decodes the batch with the source chain's
// codec and settles every transfer event addressed to this service.
func (e *Engine) TransferIn(source ChainID, proof, caller []byte) (*BatchResult, error) {
	return e.processProof(KindTransfer, source, proof, caller)
}

// SwapIn verifies the proof and settles every swap event in the batch.
func (e *Engine) SwapIn(source ChainID, proof, caller []byte) (*BatchResult, error) {
	return e.processProof(KindSwap, source, proof, caller)
}

// DepositIn verifies the proof and credits the vault for every deposit event
// in the batch. Relay role only.
func (e *Engine) DepositIn(source ChainID, proof, caller []byte) (*BatchResult, error) {
	if !e.IsRelay() {
		return nil, ErrNotRelay
	}
	return e.processProof(KindDeposit, source, proof, caller)
}

func (e *Engine) processProof(kind EventKind, source ChainID, proof, caller []byte) (*BatchResult, error) {
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()
	if err := e.requireActive(); err != nil {
		return nil, err
	}
	if err := e.requireCore(); err != nil {
		return nil, err
	}
	if e.verifier == nil {
		return nil, errVerifierNotConfigured
	}
	family, ok := e.chains.FamilyOf(source)
	if !ok {
		return nil, ErrChainNotRegistered
	}
	trusted, ok := e.chains.TrustedSender(source)
	if !ok {
		return nil, ErrChainNotRegistered
	}

	verified, diag, decoded := e.verifier.Verify(source, proof)
	if !verified {
		return nil, fmt.Errorf("bridge: proof rejected: %s", diag)
	}
	batch, err := DecodeLogs(family, decoded)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	for i, ev := range batch {
		if ev.Kind != kind {
			result.Skipped = append(result.Skipped, Skip{Index: i, Reason: "event kind mismatch"})
			continue
		}
		if !bytes.Equal(ev.Emitter, trusted) {
			// foreign entry in the proof bundle, not an error
			result.Skipped = append(result.Skipped, Skip{Index: i, Reason: "untrusted sender"})
			continue
		}
		orderID, err := e.settleEvent(source, ev)
		if err != nil {
			result.Skipped = append(result.Skipped, Skip{Index: i, OrderID: orderID, Reason: err.Error()})
			continue
		}
		result.Settled++
	}

	e.emit(events.BatchProcessed{
		Kind:      kind.String(),
		FromChain: uint64(source),
		ToChain:   uint64(e.chainID),
		Caller:    caller,
	})
	return result, nil
}

func (e *Engine) settleEvent(source ChainID, ev Decoded) (OrderID, error) {
	switch {
	case ev.Transfer != nil:
		return ev.Transfer.OrderID, e.settleTransfer(source, ev.Transfer)
	case ev.Swap != nil:
		return ev.Swap.OrderID, e.settleSwap(source, ev.Swap)
	case ev.Deposit != nil:
		return ev.Deposit.OrderID, e.settleDeposit(source, ev.Deposit)
	default:
		return OrderID{}, fmt.Errorf("bridge: empty decoded event")
	}
}

func (e *Engine) checkEventRouting(source, fromChain, toChain ChainID) error {
	if fromChain != source {
		return fmt.Errorf("bridge: event source chain %d does not match proof chain %d", fromChain, source)
	}
	if toChain == e.chainID {
		return nil
	}
	if !e.IsRelay() {
		return fmt.Errorf("bridge: event addressed to chain %d", toChain)
	}
	if _, ok := e.chains.FamilyOf(toChain); !ok {
		return ErrChainNotRegistered
	}
	return nil
}

func (e *Engine) settleTransfer(source ChainID, ev *TransferOutEvent) error {
	if err := e.checkEventRouting(source, ev.FromChain, ev.ToChain); err != nil {
		return err
	}
	if e.IsRelay() && ev.ToChain != e.chainID {
		return e.settleTransferRelay(ev)
	}
	localToken, err := e.tokens.LocalToken(ev.FromChain, ev.Token)
	if err != nil {
		return err
	}
	amount := amountOrZero(ev.Amount)
	var net *big.Int
	if e.IsRelay() {
		// final destination is the hub itself: fee is still taken here.
		// The emitting side already converted the amount into the hub
		// denomination.
		gross := amount
		if err := e.ledger.TryConsume(ev.OrderID); err != nil {
			return err
		}
		if e.tokens.Mintable(localToken) {
			if err := e.custody.Mint(localToken, e.self, gross); err != nil {
				return err
			}
		}
		net, _, err = e.collectFee(ev.OrderID, localToken, gross, e.chainID)
		if err != nil {
			return err
		}
		if err := e.payOutFromCustody(localToken, ev.To, net); err != nil {
			return err
		}
	} else {
		if err := e.ledger.TryConsume(ev.OrderID); err != nil {
			return err
		}
		net = amount
		if err := e.payOut(localToken, ev.To, net); err != nil {
			return err
		}
	}
	e.emit(events.TransferIn{
		FromChain: uint64(ev.FromChain),
		ToChain:   uint64(e.chainID),
		OrderID:   ev.OrderID,
		Token:     localToken,
		From:      ev.From,
		To:        ev.To,
		Amount:    net,
	})
	return nil
}

func (e *Engine) settleSwap(source ChainID, ev *SwapOutEvent) error {
	if err := e.checkEventRouting(source, ev.FromChain, ev.ToChain); err != nil {
		return err
	}
	payload, err := DecodeSwapPayload(ev.SwapData)
	if err != nil {
		return err
	}
	if e.IsRelay() {
		return e.settleSwapRelay(ev, payload)
	}
	localToken, err := e.tokens.LocalToken(ev.FromChain, ev.Token)
	if err != nil {
		return err
	}
	amount := amountOrZero(ev.Amount)
	executed := len(payload.Params) > 0
	if executed && e.executor == nil {
		// the instruction blob needs a hand-off; a silent direct payout
		// would mask the intent. The order stays open for a retry.
		return errExecutorNotConfigured
	}
	if err := e.ledger.TryConsume(ev.OrderID); err != nil {
		return err
	}
	if executed {
		if err := e.handOffToExecutor(ev.OrderID, localToken, payload, ev.To, amount); err != nil {
			return err
		}
	} else {
		// empty instruction blob: payout mirrors a transfer using the
		// target token
		if err := e.payOut(payload.TargetToken, ev.To, amount); err != nil {
			return err
		}
	}
	e.emit(events.SwapIn{
		FromChain: uint64(ev.FromChain),
		ToChain:   uint64(e.chainID),
		OrderID:   ev.OrderID,
		Token:     localToken,
		To:        ev.To,
		Amount:    amount,
		Executed:  executed,
	})
	return nil
}

// handOffToExecutor passes custody of the input token plus the swap call to
// the external executor. The executor owns the final payout from here; its
// result is deliberately not allowed to roll back the settled order.
func (e *Engine) handOffToExecutor(orderID OrderID, localToken []byte, payload SwapPayload, to []byte, amount *big.Int) error {
	if e.isWrappedNative(localToken) {
		if err := e.custody.UnwrapAndPay(e.executor.Identity(), amount); err != nil {
			return err
		}
	} else {
		if err := e.payOut(localToken, e.executor.Identity(), amount); err != nil {
			return err
		}
	}
	_ = e.executor.SwapAndPay(orderID, payload.Params, to, localToken, payload.TargetToken, amount)
	return nil
}

// payOut releases value to a recipient on this chain: unwrap for the
// wrapped-native token, mint for mintable tokens, escrow release otherwise.
func (e *Engine) payOut(token, to []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if e.isWrappedNative(token) {
		return e.custody.UnwrapAndPay(to, amount)
	}
	if e.tokens.Mintable(token) {
		return e.custody.Mint(token, to, amount)
	}
	return e.custody.EscrowOut(token, to, amount)
}

// payOutFromCustody releases value already held by the custody account, as
// after a relay-side gross mint.
func (e *Engine) payOutFromCustody(token, to []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if e.isWrappedNative(token) {
		return e.custody.UnwrapAndPay(to, amount)
	}
	return e.custody.EscrowOut(token, to, amount)
}
