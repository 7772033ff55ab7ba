package main

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/fresh-pickup/internal/domain/catalog"
	"github.com/xenking/fresh-pickup/internal/domain/coupon"
)

func TestDecodeSeed_BundledFile(t *testing.T) {
	data, err := os.ReadFile("../../db/seed/catalog.json")
	require.NoError(t, err)

	seed, err := decodeSeed(data)
	require.NoError(t, err)

	goods := make(map[string]catalog.Good, len(seed.Goods))
	for _, g := range seed.Goods {
		goods[g.ID] = g
		assert.True(t, g.Active, g.ID)
		assert.True(t, g.PricePerKg.IsPositive(), g.ID)
		if g.PricingMode == catalog.ByUnit {
			assert.True(t, g.AverageWeightKg.IsPositive(), "by-unit good %s needs an average weight", g.ID)
		}
	}
	for _, v := range seed.Sizes {
		g, ok := goods[v.GoodID]
		require.True(t, ok, "size for unknown good %s", v.GoodID)
		assert.Equal(t, catalog.ByUnit, g.PricingMode)
	}
	for _, c := range seed.Cuts {
		require.NotEmpty(t, c.Goods, c.Cut.ID)
		for _, id := range c.Goods {
			_, ok := goods[id]
			assert.True(t, ok, "cut %s enabled for unknown good %s", c.Cut.ID, id)
		}
	}

	// Five template rows expand to one slot per weekday.
	assert.Len(t, seed.Slots, 11)
	for _, s := range seed.Slots {
		assert.Less(t, s.Start, s.End)
		assert.Positive(t, s.MaxOrders)
	}
	require.NotEmpty(t, seed.Coupons)
}

func TestDecodeSeed(t *testing.T) {
	seed, err := decodeSeed([]byte(`{
		"goods": [{"id":"cod","name":"Cod","pricing_mode":"by_weight","price_per_kg":"17.5","available_kg":"3","active":false}],
		"slots": [{"days":[1,6],"start":"09:00","end":"10:00","max_orders":4}],
		"coupons": [{"code":" spring ","discount_type":"fixed","value":"5","min_order_amount":"20","max_uses":3}],
		"comment": "ignored"
	}`))
	require.NoError(t, err)

	require.Len(t, seed.Goods, 1)
	assert.False(t, seed.Goods[0].Active)
	assert.Equal(t, "17.5", seed.Goods[0].PricePerKg.String())

	require.Len(t, seed.Slots, 2)
	assert.Equal(t, time.Monday, seed.Slots[0].DayOfWeek)
	assert.Equal(t, time.Saturday, seed.Slots[1].DayOfWeek)
	assert.Equal(t, "09:00-10:00", seed.Slots[1].Range())

	require.Len(t, seed.Coupons, 1)
	c := seed.Coupons[0]
	assert.Equal(t, "SPRING", c.Code)
	assert.Equal(t, coupon.DiscountFixed, c.DiscountType)
	require.NotNil(t, c.MaxUses)
	assert.Equal(t, 3, *c.MaxUses)
}

func TestDecodeSeed_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "pricing mode", data: `{"goods":[{"id":"x","pricing_mode":"by_volume","price_per_kg":"1"}]}`},
		{name: "discount type", data: `{"coupons":[{"code":"X","discount_type":"bogo","value":"1"}]}`},
		{name: "weekday", data: `{"slots":[{"days":[7],"start":"09:00","end":"10:00"}]}`},
		{name: "decimal", data: `{"goods":[{"id":"x","price_per_kg":"cheap"}]}`},
		{name: "not an object", data: `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeSeed([]byte(tt.data))
			require.Error(t, err)
		})
	}
}
