package exchange

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/relayex/internal/order"
	"github.com/Aidin1998/relayex/pkg/errors"
)

// CurrentPrice is o's price at now. A Dutch auction moves linearly by Extra
// over its window, down for sells and up for buys; outside the window the
// price stays at the nearest end.
func CurrentPrice(o *order.Order, now time.Time) *big.Int {
	base := new(big.Int).Set(order.Int(o.BasePrice))
	if o.SaleKind != order.DutchAuction || o.ExpirationTime <= o.ListingTime {
		return base
	}
	t := unix(now)
	if t < o.ListingTime {
		t = o.ListingTime
	}
	if t > o.ExpirationTime {
		t = o.ExpirationTime
	}
	diff := new(big.Int).Mul(order.Int(o.Extra), new(big.Int).SetUint64(t-o.ListingTime))
	diff.Quo(diff, new(big.Int).SetUint64(o.ExpirationTime-o.ListingTime))
	if o.Side == order.Sell {
		return base.Sub(base, diff)
	}
	return base.Add(base, diff)
}

// CalculateFinalPrice is the price a crossing pair settles at: the buy
// price in full.
func CalculateFinalPrice(sellPrice, buyPrice *big.Int) (*big.Int, error) {
	if buyPrice.Cmp(sellPrice) < 0 {
		return nil, errors.OrdersIncompatible.Explain("buy price %s is below sell price %s", buyPrice, sellPrice)
	}
	return new(big.Int).Set(buyPrice), nil
}

// OrdersCanMatch reports whether buy and sell may settle against each
// other at now. The error names the first rule the pair breaks.
func OrdersCanMatch(buy, sell *order.Order, now time.Time) error {
	incompatible := errors.OrdersIncompatible
	switch {
	case buy.Side != order.Buy || sell.Side != order.Sell:
		return incompatible.Explain("sides are %s and %s, want buy and sell", buy.Side, sell.Side)
	case buy.FeeMethod != sell.FeeMethod:
		return incompatible.Explain("fee methods %s and %s differ", buy.FeeMethod, sell.FeeMethod)
	case buy.PaymentToken != sell.PaymentToken:
		return incompatible.Explain("payment tokens %s and %s differ", buy.PaymentToken.Hex(), sell.PaymentToken.Hex())
	case !takes(sell.Taker, buy.Maker):
		return incompatible.Explain("sell is reserved for %s", sell.Taker.Hex())
	case !takes(buy.Taker, sell.Maker):
		return incompatible.Explain("buy is reserved for %s", buy.Taker.Hex())
	case (buy.FeeRecipient == common.Address{}) == (sell.FeeRecipient == common.Address{}):
		return incompatible.Explain("exactly one order must name a fee recipient")
	case buy.Target != sell.Target:
		return incompatible.Explain("targets %s and %s differ", buy.Target.Hex(), sell.Target.Hex())
	case buy.HowToCall != sell.HowToCall:
		return incompatible.Explain("call kinds %s and %s differ", buy.HowToCall, sell.HowToCall)
	case !canSettle(buy, now):
		return incompatible.Explain("buy is outside its listing window")
	case !canSettle(sell, now):
		return incompatible.Explain("sell is outside its listing window")
	case !saleKindValid(buy) || !saleKindValid(sell):
		return incompatible.Explain("sale kind parameters are invalid")
	}
	_, err := CalculateFinalPrice(CurrentPrice(sell, now), CurrentPrice(buy, now))
	return err
}

func takes(reserved, counterpart common.Address) bool {
	return reserved == (common.Address{}) || reserved == counterpart
}

// canSettle reports whether now lies in [ListingTime, ExpirationTime).
func canSettle(o *order.Order, now time.Time) bool {
	t := unix(now)
	return o.ListingTime <= t && (o.ExpirationTime == 0 || t < o.ExpirationTime)
}

func saleKindValid(o *order.Order) bool {
	return o.SaleKind == order.FixedPrice || o.ExpirationTime > 0
}

func unix(t time.Time) uint64 {
	if t.Unix() < 0 {
		return 0
	}
	return uint64(t.Unix())
}
