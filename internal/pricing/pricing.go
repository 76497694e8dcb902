package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bellezza/backend/internal/cache"
	"bellezza/backend/internal/domain"
)

// Error reports a line item whose authoritative price could not be resolved.
type Error struct {
	Kind string
	ID   int64
}

func (e *Error) Error() string {
	return fmt.Sprintf("no price for %s %d", e.Kind, e.ID)
}

var ErrInvalidLine = errors.New("invalid line item")

// PriceSource provides current authoritative prices. store.Repository
// satisfies it.
type PriceSource interface {
	GetServicesByIDs(ctx context.Context, ids []int64) (map[int64]domain.Service, error)
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
}

type PricedLine struct {
	Kind            string
	ID              int64
	StaffID         int64
	Qty             int
	DiscountPercent float64
	UnitPrice       decimal.Decimal
	Gross           decimal.Decimal
	Discount        decimal.Decimal
	Net             decimal.Decimal
}

type PricedOrder struct {
	Lines         []PricedLine
	Subtotal      decimal.Decimal
	OrderDiscount decimal.Decimal
	Total         decimal.Decimal
}

type Resolver struct {
	source PriceSource
	cache  cache.PriceCache
	ttl    time.Duration
}

func NewResolver(source PriceSource, priceCache cache.PriceCache, ttl time.Duration) *Resolver {
	if priceCache == nil {
		priceCache = cache.NoopPriceCache{}
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Resolver{source: source, cache: priceCache, ttl: ttl}
}

// Price resolves the authoritative unit price of every line and computes the
// order totals. Rounding is half-away-from-zero at 2 decimals, applied at each
// intermediate step so errors never compound. No price for any line fails the
// whole order.
func (r *Resolver) Price(ctx context.Context, lines []domain.CheckoutLine, orderDiscountPercent float64) (PricedOrder, error) {
	if len(lines) == 0 {
		return PricedOrder{}, ErrInvalidLine
	}
	if orderDiscountPercent < 0 || orderDiscountPercent > 100 {
		return PricedOrder{}, ErrInvalidLine
	}
	for _, line := range lines {
		if line.Qty < 1 || line.DiscountPercent < 0 || line.DiscountPercent > 100 {
			return PricedOrder{}, ErrInvalidLine
		}
		if line.Kind != domain.LineKindService && line.Kind != domain.LineKindProduct {
			return PricedOrder{}, ErrInvalidLine
		}
	}

	prices, err := r.resolveUnitPrices(ctx, lines)
	if err != nil {
		return PricedOrder{}, err
	}

	order := PricedOrder{Lines: make([]PricedLine, 0, len(lines))}
	subtotal := decimal.Zero
	for _, line := range lines {
		unitPrice := prices[priceKey(line.Kind, line.ID)]
		gross := round2(unitPrice.Mul(decimal.NewFromInt(int64(line.Qty))))
		discount := round2(gross.Mul(decimal.NewFromFloat(line.DiscountPercent)).Div(decimal.NewFromInt(100)))
		net := gross.Sub(discount)
		subtotal = subtotal.Add(net)

		order.Lines = append(order.Lines, PricedLine{
			Kind:            line.Kind,
			ID:              line.ID,
			StaffID:         line.StaffID,
			Qty:             line.Qty,
			DiscountPercent: line.DiscountPercent,
			UnitPrice:       unitPrice,
			Gross:           gross,
			Discount:        discount,
			Net:             net,
		})
	}

	order.Subtotal = subtotal
	order.OrderDiscount = round2(subtotal.Mul(decimal.NewFromFloat(orderDiscountPercent)).Div(decimal.NewFromInt(100)))
	order.Total = round2(subtotal.Sub(order.OrderDiscount))
	if order.Total.IsNegative() {
		order.Total = decimal.Zero
	}

	return order, nil
}

func (r *Resolver) resolveUnitPrices(ctx context.Context, lines []domain.CheckoutLine) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(lines))
	missingServices := make([]int64, 0, len(lines))
	missingProducts := make([]int64, 0, len(lines))

	for _, line := range lines {
		key := priceKey(line.Kind, line.ID)
		if _, done := prices[key]; done {
			continue
		}
		if price, ok, err := r.cache.Get(ctx, key); err == nil && ok {
			prices[key] = price
			continue
		}
		if line.Kind == domain.LineKindService {
			missingServices = append(missingServices, line.ID)
		} else {
			missingProducts = append(missingProducts, line.ID)
		}
	}

	if len(missingServices) > 0 {
		services, err := r.source.GetServicesByIDs(ctx, missingServices)
		if err != nil {
			return nil, err
		}
		for _, id := range missingServices {
			svc, ok := services[id]
			if !ok || !svc.Active {
				return nil, &Error{Kind: domain.LineKindService, ID: id}
			}
			key := priceKey(domain.LineKindService, id)
			prices[key] = svc.Price
			_ = r.cache.Set(ctx, key, svc.Price, r.ttl)
		}
	}

	if len(missingProducts) > 0 {
		products, err := r.source.GetProductsByIDs(ctx, missingProducts)
		if err != nil {
			return nil, err
		}
		for _, id := range missingProducts {
			product, ok := products[id]
			if !ok || !product.Active {
				return nil, &Error{Kind: domain.LineKindProduct, ID: id}
			}
			key := priceKey(domain.LineKindProduct, id)
			prices[key] = product.Price
			_ = r.cache.Set(ctx, key, product.Price, r.ttl)
		}
	}

	return prices, nil
}

func priceKey(kind string, id int64) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

// round2 rounds half away from zero at 2 decimal places.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
