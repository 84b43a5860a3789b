package exchange

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/Aidin1998/relayex/internal/ledger"
	"github.com/Aidin1998/relayex/internal/order"
	"github.com/Aidin1998/relayex/internal/registry"
	"github.com/Aidin1998/relayex/internal/relay"
	"github.com/Aidin1998/relayex/pkg/errors"
)

// Match is a buy and a sell order submitted for settlement together with
// their makers' authenticators.
type Match struct {
	Buy      *order.Order
	BuyAuth  order.Authenticator
	Sell     *order.Order
	SellAuth order.Authenticator
}

// Settlement describes a committed match.
type Settlement struct {
	ID       uuid.UUID       `json:"id"`
	BuyHash  common.Hash     `json:"buy_hash"`
	SellHash common.Hash     `json:"sell_hash"`
	Buyer    common.Address  `json:"buyer"`
	Seller   common.Address  `json:"seller"`
	Fees     FeePlan         `json:"fees"`
	Receipt  *ledger.Receipt `json:"receipt,omitempty"`
}

// AtomicMatchIn settles m from within a unit of work: the account or
// contract running f calls the exchange at addr, sending value.
func AtomicMatchIn(f *ledger.Frame, addr common.Address, value *big.Int, m Match) (*Settlement, error) {
	var st *Settlement
	err := f.Invoke(addr, value, func(xf *ledger.Frame) error {
		var err error
		st, err = atomicMatch(xf, m)
		return err
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// CancelOrderIn cancels o from within a unit of work. Only the maker may.
func CancelOrderIn(f *ledger.Frame, addr common.Address, o *order.Order, auth order.Authenticator) error {
	return f.Invoke(addr, nil, func(xf *ledger.Frame) error {
		return cancelOrder(xf, o, auth)
	})
}

// ApproveOrderIn records the maker's on-ledger approval of o from within a
// unit of work.
func ApproveOrderIn(f *ledger.Frame, addr common.Address, o *order.Order) error {
	return f.Invoke(addr, nil, func(xf *ledger.Frame) error {
		return approveOrder(xf, o)
	})
}

func atomicMatch(xf *ledger.Frame, m Match) (*Settlement, error) {
	buy, sell := m.Buy, m.Sell
	if buy == nil || sell == nil {
		return nil, errors.InvalidOrder.Explain("both a buy and a sell order are required")
	}
	s := xf.Store()
	buyHash, sellHash := buy.Hash(), sell.Hash()

	if err := authenticate(s, buy, m.BuyAuth); err != nil {
		return nil, err
	}
	if err := authenticate(s, sell, m.SellAuth); err != nil {
		return nil, err
	}
	if err := ValidateOrderParameters(buy, xf.Self()); err != nil {
		return nil, err
	}
	if err := ValidateOrderParameters(sell, xf.Self()); err != nil {
		return nil, err
	}
	for _, h := range []common.Hash{buyHash, sellHash} {
		if st := finalization(s, h); st != Open {
			return nil, errors.AlreadyFinalized.Explain("order %s is %s", h.Hex(), st)
		}
	}
	now := xf.Now()
	if err := OrdersCanMatch(buy, sell, now); err != nil {
		return nil, err
	}
	if xf.CodeOf(sell.Target) == "" {
		return nil, errors.OrdersIncompatible.Explain("target %s has no code", sell.Target.Hex())
	}

	// both hashes are final before anything leaves the exchange
	finalize(s, buyHash, Settled)
	finalize(s, sellHash, Settled)

	price, err := CalculateFinalPrice(CurrentPrice(sell, now), CurrentPrice(buy, now))
	if err != nil {
		return nil, err
	}
	buyData, sellData, err := mergePayloads(buy, sell)
	if err != nil {
		return nil, err
	}

	reg := s.Address(keyRegistry)
	if err := relayFor(xf, reg, sell.Maker, sell, sellData); err != nil {
		return nil, err
	}
	if len(buyData) > 0 && !bytes.Equal(buyData, sellData) {
		if err := relayFor(xf, reg, buy.Maker, buy, buyData); err != nil {
			return nil, err
		}
	}
	call := sellData
	if len(call) == 0 {
		call = buyData
	}
	for _, o := range []*order.Order{buy, sell} {
		if err := staticCheck(xf, o, call); err != nil {
			return nil, err
		}
	}

	plan, err := PlanFees(buy, sell, price, s.Uint64(keyFeeBps), s.Address(keyFeeRecipient))
	if err != nil {
		return nil, err
	}
	if err := pay(xf, buy, sell, plan); err != nil {
		return nil, err
	}

	st := &Settlement{
		ID:       uuid.New(),
		BuyHash:  buyHash,
		SellHash: sellHash,
		Buyer:    buy.Maker,
		Seller:   sell.Maker,
		Fees:     *plan,
	}
	xf.Emit(OrdersMatched{
		SettlementID: st.ID.String(),
		BuyHash:      buyHash,
		SellHash:     sellHash,
		Buyer:        buy.Maker,
		Seller:       sell.Maker,
		Price:        plan.Price,
		RelayerFee:   plan.RelayerFee,
		ProtocolFee:  plan.ProtocolFee,
	})
	return st, nil
}

// authenticate accepts an order the maker approved on the ledger or signed.
func authenticate(s ledger.Store, o *order.Order, auth order.Authenticator) error {
	h := o.Hash()
	if s.Bool(approvedKey(h)) {
		return nil
	}
	sig, ok := auth.(order.Signature)
	if !ok {
		return errors.AuthenticationFailed.Explain("order %s is not approved", h.Hex())
	}
	signer, err := order.Recover(o, sig)
	if err != nil {
		return errors.AuthenticationFailed.Explain("order %s", h.Hex()).Wrap(err)
	}
	if signer != o.Maker {
		return errors.AuthenticationFailed.Explain("order %s is signed by %s, not its maker %s", h.Hex(), signer.Hex(), o.Maker.Hex())
	}
	return nil
}

// mergePayloads completes each generic payload from the counterpart. Two
// non-empty results must describe the same call.
func mergePayloads(buy, sell *order.Order) (buyData, sellData []byte, err error) {
	if buyData, err = order.Merge(buy.Data, sell.Data, buy.ReplacementPattern); err != nil {
		return nil, nil, errors.OrdersIncompatible.Explain("buy payload").Wrap(err)
	}
	if sellData, err = order.Merge(sell.Data, buy.Data, sell.ReplacementPattern); err != nil {
		return nil, nil, errors.OrdersIncompatible.Explain("sell payload").Wrap(err)
	}
	if len(buyData) > 0 && len(sellData) > 0 && !bytes.Equal(buyData, sellData) {
		return nil, nil, errors.OrdersIncompatible.Explain("buy and sell payloads differ after merging")
	}
	return buyData, sellData, nil
}

// relayFor runs data against o's target through principal's relay proxy.
func relayFor(xf *ledger.Frame, reg, principal common.Address, o *order.Order, data []byte) error {
	proxy, err := registry.LookupProxy(xf, reg, principal)
	if err != nil {
		return err
	}
	if proxy == (common.Address{}) {
		return errors.TransferFailed.Explain("%s has no relay proxy", principal.Hex())
	}
	return relay.ProxyAssert(xf, proxy, o.Target, o.HowToCall, data)
}

// staticCheck asks o's static validator, if any, to approve the call. The
// validator answers with a non-zero word.
func staticCheck(xf *ledger.Frame, o *order.Order, call []byte) error {
	if o.StaticTarget == (common.Address{}) {
		return nil
	}
	input := append(append([]byte(nil), o.StaticExtradata...), call...)
	out, err := xf.StaticCall(o.StaticTarget, input)
	if err != nil {
		return errors.OrdersIncompatible.Explain("static validator %s failed", o.StaticTarget.Hex()).Wrap(err)
	}
	if len(out) < 32 || new(big.Int).SetBytes(out[:32]).Sign() == 0 {
		return errors.OrdersIncompatible.Explain("static validator %s rejected the %s order", o.StaticTarget.Hex(), o.Side)
	}
	return nil
}

// pay distributes the price. Native currency arrives with the call; tokens
// are pulled from the buyer through the token transfer proxy.
func pay(xf *ledger.Frame, buy, sell *order.Order, plan *FeePlan) error {
	value := xf.Value()
	legs := []struct {
		to     common.Address
		amount *big.Int
	}{
		{plan.RelayerRecipient, plan.RelayerFee},
		{plan.ProtocolFeeRecipient, plan.ProtocolFee},
		{sell.Maker, plan.SellerProceeds},
	}

	if sell.PaymentToken == (common.Address{}) {
		if value.Cmp(plan.Price) != 0 {
			return errors.ValueMismatch.Explain("sent %s, price is %s", value, plan.Price)
		}
		for _, leg := range legs {
			if err := xf.Transfer(leg.to, leg.amount); err != nil {
				return err
			}
		}
		return nil
	}

	if value.Sign() != 0 {
		return errors.ValueMismatch.Explain("sent %s with a token denominated order", value)
	}
	ttp := xf.Store().Address(keyTokenProxy)
	for _, leg := range legs {
		if err := relay.TransferFrom(xf, ttp, sell.PaymentToken, buy.Maker, leg.to, leg.amount); err != nil {
			return err
		}
	}
	return nil
}

func cancelOrder(xf *ledger.Frame, o *order.Order, auth order.Authenticator) error {
	if o == nil {
		return errors.InvalidOrder.Explain("an order is required")
	}
	if xf.Caller() != o.Maker {
		return errors.NotAuthorized.Explain("only the maker may cancel order %s", o.Hash().Hex())
	}
	s := xf.Store()
	if err := authenticate(s, o, auth); err != nil {
		return err
	}
	h := o.Hash()
	switch finalization(s, h) {
	case Cancelled:
		return nil
	case Settled:
		return errors.AlreadyFinalized.Explain("order %s is settled", h.Hex())
	}
	finalize(s, h, Cancelled)
	xf.Emit(OrderCancelled{Hash: h, Maker: o.Maker})
	return nil
}

func approveOrder(xf *ledger.Frame, o *order.Order) error {
	if o == nil {
		return errors.InvalidOrder.Explain("an order is required")
	}
	h := o.Hash()
	if xf.Caller() != o.Maker {
		return errors.NotAuthorized.Explain("only the maker may approve order %s", h.Hex())
	}
	s := xf.Store()
	if st := finalization(s, h); st != Open {
		return errors.AlreadyFinalized.Explain("order %s is %s", h.Hex(), st)
	}
	if s.Bool(approvedKey(h)) {
		return nil
	}
	s.SetBool(approvedKey(h), true)
	xf.Emit(OrderApproved{Hash: h, Maker: o.Maker})
	return nil
}
