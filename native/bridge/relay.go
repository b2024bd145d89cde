package bridge

import (
	"bytes"
	"math/big"

	"starbridge/core/events"
)

// collectFee applies the relay fee policy to one settlement. It withdraws the
// configured fee shares from custody, retains the receiverless remainder as
// protocol residue inside vault accounting, and returns the net amount in hub
// denomination together with its destination-chain conversion. Fee is taken
// exactly once, at the hub, before any mint or burn toward the end recipient.
func (e *Engine) collectFee(orderID OrderID, token []byte, gross *big.Int, toChain ChainID) (*big.Int, *big.Int, error) {
	if e.vaults == nil || !e.vaults.Registered(token) {
		return nil, nil, ErrVaultNotRegistered
	}
	fee := amountOrZero(e.tokens.TokenFee(token, gross, toChain))
	net := new(big.Int).Sub(gross, fee)
	if net.Sign() < 0 {
		fee = new(big.Int).Set(gross)
		net = big.NewInt(0)
	}

	distributed := big.NewInt(0)
	if fee.Sign() > 0 {
		for _, slot := range e.feeSplit {
			share := new(big.Int).Mul(fee, new(big.Int).SetUint64(uint64(slot.RatePPM)))
			share.Div(share, big.NewInt(FeeRateDenominator))
			if share.Sign() == 0 {
				continue
			}
			if len(slot.Receiver) == 0 {
				continue
			}
			if err := e.custody.EscrowOut(token, slot.Receiver, share); err != nil {
				return nil, nil, err
			}
			distributed.Add(distributed, share)
		}
	}
	otherFee := new(big.Int).Sub(fee, distributed)

	if err := e.vaults.TransferToken(token, e.chainID, gross, toChain, net, e.chainID, otherFee); err != nil {
		return nil, nil, err
	}

	destAmount := big.NewInt(0)
	if net.Sign() > 0 {
		if toChain == e.chainID {
			destAmount = new(big.Int).Set(net)
		} else {
			converted, err := e.tokens.ToChainAmount(token, net, toChain)
			if err != nil {
				return nil, nil, err
			}
			destAmount = converted
		}
	}

	if fee.Sign() > 0 {
		e.emit(events.FeeCollected{OrderID: orderID, Token: token, Amount: fee})
	}
	return net, destAmount, nil
}

// settleTransferRelay re-relays a validated inbound transfer addressed to a
// third chain: fee extraction, net burn, and a fresh outbound event toward
// the real destination. No direct proof between the two spokes is needed.
func (e *Engine) settleTransferRelay(ev *TransferOutEvent) error {
	localToken, err := e.tokens.LocalToken(ev.FromChain, ev.Token)
	if err != nil {
		return err
	}
	toToken, err := e.tokens.ToChainToken(localToken, ev.ToChain)
	if err != nil {
		return err
	}
	gross, err := e.tokens.LocalAmount(localToken, amountOrZero(ev.Amount), ev.ToChain)
	if err != nil {
		return err
	}
	if err := e.ledger.TryConsume(ev.OrderID); err != nil {
		return err
	}
	mintable := e.tokens.Mintable(localToken)
	if mintable {
		if err := e.custody.Mint(localToken, e.self, gross); err != nil {
			return err
		}
	}
	net, destAmount, err := e.collectFee(ev.OrderID, localToken, gross, ev.ToChain)
	if err != nil {
		return err
	}
	if mintable && net.Sign() > 0 {
		if err := e.custody.Burn(localToken, e.self, net); err != nil {
			return err
		}
	}
	counter, err := e.ledger.NextCounter()
	if err != nil {
		return err
	}
	orderID := DeriveOrderID(e.self, counter, ev.FromChain, ev.ToChain, ev.From, ev.To)
	e.emit(events.TransferOut{
		FromChain: uint64(ev.FromChain),
		ToChain:   uint64(ev.ToChain),
		OrderID:   orderID,
		Token:     ev.Token,
		From:      ev.From,
		To:        ev.To,
		Amount:    destAmount,
		ToToken:   toToken,
	})
	e.emit(events.TransferRelay{
		FromChain: uint64(ev.FromChain),
		ToChain:   uint64(ev.ToChain),
		OrderID:   orderID,
		Token:     localToken,
		From:      ev.From,
		To:        ev.To,
		Amount:    destAmount,
	})
	return nil
}

// settleSwapRelay settles an inbound swap on the hub. Swap execution on the
// hub itself is unsupported: the hub-side token resolved from the registry
// must equal the payload's declared relay target token.
func (e *Engine) settleSwapRelay(ev *SwapOutEvent, payload SwapPayload) error {
	localToken, err := e.tokens.LocalToken(ev.FromChain, ev.Token)
	if err != nil {
		return err
	}
	if !bytes.Equal(localToken, payload.RelayTargetToken) {
		return ErrRelayTargetMismatch
	}
	final := ev.ToChain == e.chainID
	if !final {
		if _, err := e.tokens.ToChainToken(localToken, ev.ToChain); err != nil {
			return err
		}
	}
	gross := amountOrZero(ev.Amount)
	if !final {
		gross, err = e.tokens.LocalAmount(localToken, gross, ev.ToChain)
		if err != nil {
			return err
		}
	}
	if err := e.ledger.TryConsume(ev.OrderID); err != nil {
		return err
	}
	mintable := e.tokens.Mintable(localToken)
	if mintable {
		if err := e.custody.Mint(localToken, e.self, gross); err != nil {
			return err
		}
	}
	net, destAmount, err := e.collectFee(ev.OrderID, localToken, gross, ev.ToChain)
	if err != nil {
		return err
	}
	if final {
		if err := e.payOutFromCustody(localToken, ev.To, net); err != nil {
			return err
		}
		e.emit(events.SwapIn{
			FromChain: uint64(ev.FromChain),
			ToChain:   uint64(e.chainID),
			OrderID:   ev.OrderID,
			Token:     localToken,
			To:        ev.To,
			Amount:    net,
		})
		return nil
	}
	if mintable && net.Sign() > 0 {
		if err := e.custody.Burn(localToken, e.self, net); err != nil {
			return err
		}
	}
	swapData, err := EncodeSwapPayload(payload)
	if err != nil {
		return err
	}
	counter, err := e.ledger.NextCounter()
	if err != nil {
		return err
	}
	orderID := DeriveOrderID(e.self, counter, ev.FromChain, ev.ToChain, ev.From, ev.To)
	e.emit(events.SwapOut{
		FromChain: uint64(ev.FromChain),
		ToChain:   uint64(ev.ToChain),
		OrderID:   orderID,
		Token:     ev.Token,
		From:      ev.From,
		To:        ev.To,
		Amount:    destAmount,
		SwapData:  swapData,
	})
	// settlement record keeps the inbound id; only the re-emission above
	// carries the fresh one
	e.emit(events.SwapIn{
		FromChain: uint64(ev.FromChain),
		ToChain:   uint64(ev.ToChain),
		OrderID:   ev.OrderID,
		Token:     localToken,
		To:        ev.To,
		Amount:    destAmount,
	})
	return nil
}

// settleDeposit credits the vault lane for an inbound deposit. Deposits never
// settle via direct payout; the claim is redeemable through Withdraw.
func (e *Engine) settleDeposit(source ChainID, ev *DepositOutEvent) error {
	if !e.IsRelay() {
		return ErrNotRelay
	}
	if err := e.checkEventRouting(source, ev.FromChain, ev.ToChain); err != nil {
		return err
	}
	localToken, err := e.tokens.LocalToken(ev.FromChain, ev.Token)
	if err != nil {
		return err
	}
	if e.vaults == nil || !e.vaults.Registered(localToken) {
		return ErrVaultNotRegistered
	}
	amount := amountOrZero(ev.Amount)
	if err := e.ledger.TryConsume(ev.OrderID); err != nil {
		return err
	}
	if e.tokens.Mintable(localToken) {
		if err := e.custody.Mint(localToken, e.self, amount); err != nil {
			return err
		}
	}
	if _, err := e.vaults.Deposit(localToken, ev.FromChain, amount, ev.To); err != nil {
		return err
	}
	e.emit(events.DepositIn{
		FromChain: uint64(ev.FromChain),
		OrderID:   ev.OrderID,
		Token:     localToken,
		From:      ev.From,
		To:        ev.To,
		Amount:    amount,
	})
	return nil
}

// depositOutLocal handles a deposit made directly on the relay chain: the
// vault is credited without an outbound event.
func (e *Engine) depositOutLocal(caller, token, to []byte, amount *big.Int) (OrderID, error) {
	if e.vaults == nil || !e.vaults.Registered(token) {
		return OrderID{}, ErrVaultNotRegistered
	}
	counter, err := e.ledger.NextCounter()
	if err != nil {
		return OrderID{}, err
	}
	orderID := DeriveOrderID(e.self, counter, e.chainID, e.chainID, caller, to)
	if err := e.custody.EscrowIn(token, caller, amount); err != nil {
		return OrderID{}, err
	}
	if _, err := e.vaults.Deposit(token, e.chainID, amount, to); err != nil {
		return OrderID{}, err
	}
	e.emit(events.DepositIn{
		FromChain: uint64(e.chainID),
		OrderID:   orderID,
		Token:     token,
		From:      caller,
		To:        to,
		Amount:    amount,
	})
	return orderID, nil
}

// Withdraw burns the caller's vault shares and releases the underlying token
// by the vault's own accounting. Relay role only.
func (e *Engine) Withdraw(caller, vaultToken []byte, shares *big.Int) (*big.Int, error) {
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
	if !e.IsRelay() || e.vaults == nil {
		return nil, ErrNotRelay
	}
	if len(caller) == 0 {
		return nil, ErrZeroAddress
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	token, amount, err := e.vaults.Withdraw(vaultToken, shares, caller)
	if err != nil {
		return nil, err
	}
	if err := e.payOutFromCustody(token, caller, amount); err != nil {
		return nil, err
	}
	e.emit(events.VaultWithdrawn{
		VaultToken: vaultToken,
		Token:      token,
		Owner:      caller,
		Shares:     shares,
		Amount:     amount,
	})
	return amount, nil
}
