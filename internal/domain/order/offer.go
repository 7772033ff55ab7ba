package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/fresh-pickup/internal/domain/catalog"
)

// SizeOffer is the orderable ceiling for one size of a by-unit good.
type SizeOffer struct {
	Size            string
	AverageWeightKg decimal.Decimal
	MaxOrderable    decimal.Decimal
}

// Offer is a good as presented to the customer: its enabled cuts and the
// largest quantity the current stock covers.
type Offer struct {
	Good catalog.Good
	Cuts []catalog.Cut
	// MaxOrderable is in display units for the good's default measure.
	MaxOrderable decimal.Decimal
	Sizes        []SizeOffer
	MinWeightKg  decimal.Decimal
}

// Offers lists active goods with their orderable ceilings. Goods that
// cannot be measured (by-unit without an average weight) are omitted.
func (s *Service) Offers(ctx context.Context) ([]Offer, error) {
	goods, err := s.catalog.ListGoods(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list goods")
	}

	ids := make([]string, 0, len(goods))
	for _, g := range goods {
		if g.Active {
			ids = append(ids, g.ID)
		}
	}
	variants, err := s.catalog.SizeVariants(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get size variants")
	}
	sizes := catalog.IndexSizes(variants)

	offers := make([]Offer, 0, len(ids))
	for _, g := range goods {
		if !g.Active {
			continue
		}
		cuts, err := s.catalog.CutsForGood(ctx, g.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "get cuts for %s", g.ID)
		}

		offer := Offer{Good: g, Cuts: cuts}
		m, err := s.quantity.For(g, "", sizes)
		if err == nil {
			offer.MaxOrderable = m.MaxOrderable(g.AvailableKg)
		} else if len(sizes.Tags(g.ID)) == 0 {
			continue
		}
		for _, tag := range sizes.Tags(g.ID) {
			sm, err := s.quantity.For(g, tag, sizes)
			if err != nil {
				continue
			}
			avg, _ := sizes.Lookup(g.ID, tag)
			offer.Sizes = append(offer.Sizes, SizeOffer{
				Size:            tag,
				AverageWeightKg: avg,
				MaxOrderable:    sm.MaxOrderable(g.AvailableKg),
			})
		}
		if g.PricingMode == catalog.ByWeight {
			offer.Sizes = nil
			offer.MinWeightKg = s.quantity.MinWeightKg()
		}
		offers = append(offers, offer)
	}
	return offers, nil
}
