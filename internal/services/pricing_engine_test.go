package services

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
)

func mustPricingEngine(t *testing.T) *PricingEngine {
	t.Helper()
	engine, err := NewPricingEngine(PricingEngineDeps{
		TaxRate:     decimal.RequireFromString("0.10"),
		DeliveryFee: decimal.RequireFromString("5.00"),
	})
	if err != nil {
		t.Fatalf("new pricing engine: %v", err)
	}
	return engine
}

func TestNewPricingEngineRejectsNegativeRates(t *testing.T) {
	if _, err := NewPricingEngine(PricingEngineDeps{
		TaxRate:     decimal.RequireFromString("-0.01"),
		DeliveryFee: decimal.Zero,
	}); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected ErrPricingInvalidInput for negative tax rate, got %v", err)
	}
	if _, err := NewPricingEngine(PricingEngineDeps{
		TaxRate:     decimal.Zero,
		DeliveryFee: decimal.RequireFromString("-5.00"),
	}); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected ErrPricingInvalidInput for negative delivery fee, got %v", err)
	}
}

func TestPricingEngineItemTotal(t *testing.T) {
	engine := mustPricingEngine(t)

	cases := []struct {
		name string
		item OrderItem
		want string
	}{
		{
			name: "plain line",
			item: OrderItem{Quantity: 2, UnitPrice: decimal.RequireFromString("30.00")},
			want: "60.00",
		},
		{
			name: "options are charged once per line",
			item: OrderItem{
				Quantity:  3,
				UnitPrice: decimal.RequireFromString("10.00"),
				Options: []domain.OrderItemOption{
					{OptionID: "opt_1", PriceAdjustment: decimal.RequireFromString("4.00")},
					{OptionID: "opt_2", PriceAdjustment: decimal.RequireFromString("1.50")},
				},
			},
			want: "35.50",
		},
		{
			name: "discount is subtracted",
			item: OrderItem{
				Quantity:       1,
				UnitPrice:      decimal.RequireFromString("20.00"),
				DiscountAmount: decimal.RequireFromString("3.00"),
			},
			want: "17.00",
		},
		{
			name: "discount larger than the line clamps at zero",
			item: OrderItem{
				Quantity:       1,
				UnitPrice:      decimal.RequireFromString("5.00"),
				DiscountAmount: decimal.RequireFromString("9.00"),
			},
			want: "0",
		},
		{
			name: "fractional unit prices round to cents",
			item: OrderItem{Quantity: 3, UnitPrice: decimal.RequireFromString("9.995")},
			want: "29.99",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := engine.ItemTotal(tc.item)
			if err != nil {
				t.Fatalf("item total: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("expected %s got %s", tc.want, got)
			}
		})
	}

	t.Run("rejects zero quantity", func(t *testing.T) {
		_, err := engine.ItemTotal(OrderItem{Quantity: 0, UnitPrice: decimal.RequireFromString("10.00")})
		if !errors.Is(err, ErrPricingInvalidInput) {
			t.Fatalf("expected ErrPricingInvalidInput got %v", err)
		}
	})

	t.Run("rejects negative unit price", func(t *testing.T) {
		_, err := engine.ItemTotal(OrderItem{Quantity: 1, UnitPrice: decimal.RequireFromString("-1.00")})
		if !errors.Is(err, ErrPricingInvalidInput) {
			t.Fatalf("expected ErrPricingInvalidInput got %v", err)
		}
	})
}

func TestPricingEngineRecalculate(t *testing.T) {
	engine := mustPricingEngine(t)

	baseItems := func() []domain.OrderItem {
		return []domain.OrderItem{
			{ID: "itm_1", Quantity: 2, UnitPrice: decimal.RequireFromString("30.00")},
			{ID: "itm_2", Quantity: 1, UnitPrice: decimal.RequireFromString("20.00")},
		}
	}

	t.Run("pickup order", func(t *testing.T) {
		order := Order{DeliveryType: domain.DeliveryTypePickup, Items: baseItems()}
		if err := engine.Recalculate(&order); err != nil {
			t.Fatalf("recalculate: %v", err)
		}
		if !order.Subtotal.Equal(decimal.RequireFromString("80.00")) {
			t.Fatalf("expected subtotal 80.00 got %s", order.Subtotal)
		}
		if !order.TaxAmount.Equal(decimal.RequireFromString("8.00")) {
			t.Fatalf("expected tax 8.00 got %s", order.TaxAmount)
		}
		if !order.ShippingCost.IsZero() {
			t.Fatalf("expected no shipping got %s", order.ShippingCost)
		}
		if !order.TotalAmount.Equal(decimal.RequireFromString("88.00")) {
			t.Fatalf("expected total 88.00 got %s", order.TotalAmount)
		}
	})

	t.Run("delivery order adds the flat fee", func(t *testing.T) {
		order := Order{DeliveryType: domain.DeliveryTypeDelivery, Items: baseItems()}
		if err := engine.Recalculate(&order); err != nil {
			t.Fatalf("recalculate: %v", err)
		}
		if !order.ShippingCost.Equal(decimal.RequireFromString("5.00")) {
			t.Fatalf("expected shipping 5.00 got %s", order.ShippingCost)
		}
		if !order.TotalAmount.Equal(decimal.RequireFromString("93.00")) {
			t.Fatalf("expected total 93.00 got %s", order.TotalAmount)
		}
	})

	t.Run("tax applies to the full subtotal", func(t *testing.T) {
		// The catalog taxable flag is carried as data; the engine does not
		// split the subtotal by it.
		order := Order{DeliveryType: domain.DeliveryTypePickup, Items: []domain.OrderItem{
			{ID: "itm_1", Quantity: 1, UnitPrice: decimal.RequireFromString("50.00")},
		}}
		if err := engine.Recalculate(&order); err != nil {
			t.Fatalf("recalculate: %v", err)
		}
		if !order.TaxAmount.Equal(decimal.RequireFromString("5.00")) {
			t.Fatalf("expected tax 5.00 got %s", order.TaxAmount)
		}
	})

	t.Run("order discount clamps the total at zero", func(t *testing.T) {
		order := Order{
			DeliveryType:   domain.DeliveryTypePickup,
			DiscountAmount: decimal.RequireFromString("500.00"),
			Items:          baseItems(),
		}
		if err := engine.Recalculate(&order); err != nil {
			t.Fatalf("recalculate: %v", err)
		}
		if !order.TotalAmount.IsZero() {
			t.Fatalf("expected total clamped at zero got %s", order.TotalAmount)
		}
		if !order.Subtotal.Equal(decimal.RequireFromString("80.00")) {
			t.Fatalf("subtotal must stay undiscounted, got %s", order.Subtotal)
		}
	})

	t.Run("empty order zeroes every column", func(t *testing.T) {
		order := Order{
			DeliveryType: domain.DeliveryTypePickup,
			Subtotal:     decimal.RequireFromString("80.00"),
			TaxAmount:    decimal.RequireFromString("8.00"),
			TotalAmount:  decimal.RequireFromString("88.00"),
		}
		if err := engine.Recalculate(&order); err != nil {
			t.Fatalf("recalculate: %v", err)
		}
		if !order.Subtotal.IsZero() || !order.TaxAmount.IsZero() || !order.TotalAmount.IsZero() {
			t.Fatalf("expected zeroed totals got subtotal %s tax %s total %s", order.Subtotal, order.TaxAmount, order.TotalAmount)
		}
	})

	t.Run("line totals are rewritten", func(t *testing.T) {
		order := Order{DeliveryType: domain.DeliveryTypePickup, Items: []domain.OrderItem{
			{ID: "itm_1", Quantity: 2, UnitPrice: decimal.RequireFromString("30.00"), TotalPrice: decimal.RequireFromString("1.00")},
		}}
		if err := engine.Recalculate(&order); err != nil {
			t.Fatalf("recalculate: %v", err)
		}
		if !order.Items[0].TotalPrice.Equal(decimal.RequireFromString("60.00")) {
			t.Fatalf("expected line total 60.00 got %s", order.Items[0].TotalPrice)
		}
	})

	t.Run("rejects negative order discount", func(t *testing.T) {
		order := Order{DiscountAmount: decimal.RequireFromString("-1.00")}
		if err := engine.Recalculate(&order); !errors.Is(err, ErrPricingInvalidInput) {
			t.Fatalf("expected ErrPricingInvalidInput got %v", err)
		}
	})
}

func TestUnitPriceFor(t *testing.T) {
	service := Service{BasePrice: decimal.RequireFromString("25.00")}

	if got := UnitPriceFor(service, nil); !got.Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("expected base price got %s", got)
	}

	variant := ServiceVariant{PriceAdjustment: decimal.RequireFromString("5.00")}
	if got := UnitPriceFor(service, &variant); !got.Equal(decimal.RequireFromString("30.00")) {
		t.Fatalf("expected adjusted price 30.00 got %s", got)
	}

	rebate := ServiceVariant{PriceAdjustment: decimal.RequireFromString("-30.00")}
	if got := UnitPriceFor(service, &rebate); !got.IsZero() {
		t.Fatalf("expected clamp at zero got %s", got)
	}
}
