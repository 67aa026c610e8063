package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
)

var (
	// ErrPricingInvalidInput signals bad pricing data such as non-positive
	// quantities or negative monetary inputs.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
)

// moneyScale is the decimal scale applied to every stored amount.
const moneyScale = 2

// PricingEngine computes line and order totals from snapshotted catalog
// prices. Amounts are decimal with two-digit scale; totals clamp at zero.
type PricingEngine struct {
	taxRate     decimal.Decimal
	deliveryFee decimal.Decimal
}

// PricingEngineDeps bundles constructor inputs for the pricing engine.
type PricingEngineDeps struct {
	TaxRate     decimal.Decimal
	DeliveryFee decimal.Decimal
}

// NewPricingEngine validates the configured rates and returns a calculator.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	if deps.TaxRate.IsNegative() {
		return nil, fmt.Errorf("%w: tax rate cannot be negative", ErrPricingInvalidInput)
	}
	if deps.DeliveryFee.IsNegative() {
		return nil, fmt.Errorf("%w: delivery fee cannot be negative", ErrPricingInvalidInput)
	}
	return &PricingEngine{
		taxRate:     deps.TaxRate,
		deliveryFee: deps.DeliveryFee,
	}, nil
}

// ItemTotal computes one line's price from its snapshot: unit price times
// quantity, plus option adjustments applied once per line, minus the line
// discount, never below zero.
func (e *PricingEngine) ItemTotal(item OrderItem) (decimal.Decimal, error) {
	if item.Quantity < 1 {
		return decimal.Zero, fmt.Errorf("%w: item %s quantity must be at least 1", ErrPricingInvalidInput, item.ID)
	}
	if item.UnitPrice.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: item %s unit price cannot be negative", ErrPricingInvalidInput, item.ID)
	}
	if item.DiscountAmount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: item %s discount cannot be negative", ErrPricingInvalidInput, item.ID)
	}

	total := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
	for _, opt := range item.Options {
		total = total.Add(opt.PriceAdjustment)
	}
	total = total.Sub(item.DiscountAmount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return total.Round(moneyScale), nil
}

// Recalculate rewrites the order's line totals and money columns in place:
// subtotal is the sum of line totals, tax applies the configured rate, the
// delivery fee is charged for door-to-door orders only, and the grand total
// subtracts the order-level discount with a floor of zero.
func (e *PricingEngine) Recalculate(order *Order) error {
	if order == nil {
		return fmt.Errorf("%w: order is required", ErrPricingInvalidInput)
	}
	if order.DiscountAmount.IsNegative() {
		return fmt.Errorf("%w: order discount cannot be negative", ErrPricingInvalidInput)
	}

	subtotal := decimal.Zero
	for idx := range order.Items {
		lineTotal, err := e.ItemTotal(order.Items[idx])
		if err != nil {
			return err
		}
		order.Items[idx].TotalPrice = lineTotal
		subtotal = subtotal.Add(lineTotal)
	}

	order.Subtotal = subtotal.Round(moneyScale)
	order.TaxAmount = subtotal.Mul(e.taxRate).Round(moneyScale)
	if order.DeliveryType == domain.DeliveryTypeDelivery {
		order.ShippingCost = e.deliveryFee.Round(moneyScale)
	} else {
		order.ShippingCost = decimal.Zero
	}

	total := order.Subtotal.Add(order.TaxAmount).Add(order.ShippingCost).Sub(order.DiscountAmount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	order.TotalAmount = total.Round(moneyScale)
	return nil
}

// UnitPriceFor snapshots the unit price for a catalog selection: the service
// base price plus the variant's adjustment when one is chosen.
func UnitPriceFor(service Service, variant *ServiceVariant) decimal.Decimal {
	price := service.BasePrice
	if variant != nil {
		price = price.Add(variant.PriceAdjustment)
	}
	if price.IsNegative() {
		price = decimal.Zero
	}
	return price.Round(moneyScale)
}
