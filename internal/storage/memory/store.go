// Package memory implements every storage port of the ordering core in
// process memory. It is used by tests and by the API server when no
// database is configured.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/fresh-pickup/internal/domain/auth"
	"github.com/xenking/fresh-pickup/internal/domain/catalog"
	"github.com/xenking/fresh-pickup/internal/domain/coupon"
	"github.com/xenking/fresh-pickup/internal/domain/order"
	"github.com/xenking/fresh-pickup/internal/domain/slot"
	"github.com/xenking/fresh-pickup/internal/domain/stock"
)

var (
	_ catalog.Repository = (*Store)(nil)
	_ slot.Repository    = (*Store)(nil)
	_ coupon.Repository  = (*Store)(nil)
	_ order.Store        = (*Store)(nil)
	_ auth.Repository    = (*Store)(nil)
)

// Store is a concurrency-safe in-memory database.
//
// Slot admission goes through a slot.Ledger so that the booked count is
// taken under a per-bucket lock. Everything else a commit touches (stock,
// coupon uses, the order table) is checked and written inside one critical
// section on mu.
type Store struct {
	ledger *slot.Ledger

	mu        sync.RWMutex
	goods     map[string]*catalog.Good
	goodOrder []string
	cuts      map[string]catalog.Cut
	goodCuts  map[string][]string
	sizes     []catalog.SizeVariant
	slots     []slot.Slot
	coupons   map[string]*coupon.Coupon
	couponSeq int64
	orders    map[string]*order.Order
	apiKeys   map[string]auth.APIKeyInfo
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		ledger:   slot.NewLedger(),
		goods:    make(map[string]*catalog.Good),
		cuts:     make(map[string]catalog.Cut),
		goodCuts: make(map[string][]string),
		coupons:  make(map[string]*coupon.Coupon),
		orders:   make(map[string]*order.Order),
		apiKeys:  make(map[string]auth.APIKeyInfo),
	}
}

// PutGood inserts or replaces a good.
func (s *Store) PutGood(g catalog.Good) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.goods[g.ID]; !ok {
		s.goodOrder = append(s.goodOrder, g.ID)
	}
	s.goods[g.ID] = &g
}

// PutCut inserts or replaces a cut and enables it for the given goods.
func (s *Store) PutCut(c catalog.Cut, goodIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cuts[c.ID] = c
	for _, id := range goodIDs {
		if !slices.Contains(s.goodCuts[id], c.ID) {
			s.goodCuts[id] = append(s.goodCuts[id], c.ID)
		}
	}
}

// PutSizeVariant adds a size variant.
func (s *Store) PutSizeVariant(v catalog.SizeVariant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizes = append(s.sizes, v)
}

// PutSlot adds a weekly slot and returns its id.
func (s *Store) PutSlot(sl slot.Slot) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.ID = int64(len(s.slots) + 1)
	s.slots = append(s.slots, sl)
	return sl.ID
}

// PutCoupon inserts or replaces a coupon keyed by its normalised code and
// returns its id.
func (s *Store) PutCoupon(c coupon.Coupon) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Code = coupon.NormalizeCode(c.Code)
	if prev, ok := s.coupons[c.Code]; ok {
		c.ID = prev.ID
	} else {
		s.couponSeq++
		c.ID = s.couponSeq
	}
	s.coupons[c.Code] = &c
	return c.ID
}

// PutAPIKey stores an API key record.
func (s *Store) PutAPIKey(info auth.APIKeyInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[info.KeyHash] = info
}

// ListGoods returns all goods in insertion order.
func (s *Store) ListGoods(_ context.Context) ([]catalog.Good, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Good, 0, len(s.goodOrder))
	for _, id := range s.goodOrder {
		out = append(out, *s.goods[id])
	}
	return out, nil
}

// GoodsByIDs returns the goods matching ids. Unknown ids are skipped.
func (s *Store) GoodsByIDs(_ context.Context, ids []string) ([]catalog.Good, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Good, 0, len(ids))
	for _, id := range ids {
		if g, ok := s.goods[id]; ok {
			out = append(out, *g)
		}
	}
	return out, nil
}

// EnabledCut implements catalog.Repository.
func (s *Store) EnabledCut(_ context.Context, goodID, cutID string) (*catalog.Cut, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !slices.Contains(s.goodCuts[goodID], cutID) {
		return nil, catalog.ErrCutNotEnabled
	}
	c, ok := s.cuts[cutID]
	if !ok || !c.Active {
		return nil, catalog.ErrCutNotEnabled
	}
	return &c, nil
}

// CutsForGood returns the active cuts enabled for a good.
func (s *Store) CutsForGood(_ context.Context, goodID string) ([]catalog.Cut, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Cut
	for _, id := range s.goodCuts[goodID] {
		if c := s.cuts[id]; c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

// SizeVariants returns variants for the given goods.
func (s *Store) SizeVariants(_ context.Context, goodIDs []string) ([]catalog.SizeVariant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.SizeVariant
	for _, v := range s.sizes {
		if slices.Contains(goodIDs, v.GoodID) {
			out = append(out, v)
		}
	}
	return out, nil
}

// ListByWeekday implements slot.Repository.
func (s *Store) ListByWeekday(_ context.Context, day time.Weekday) ([]slot.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []slot.Slot
	for _, sl := range s.slots {
		if sl.DayOfWeek == day {
			out = append(out, sl)
		}
	}
	slices.SortFunc(out, func(a, b slot.Slot) int { return strings.Compare(a.Start, b.Start) })
	return out, nil
}

// CountBooked implements slot.Repository.
func (s *Store) CountBooked(_ context.Context, date time.Time, timeRange string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked(slot.Day(date), timeRange), nil
}

// CountBookedByRange implements slot.Repository.
func (s *Store) CountBookedByRange(_ context.Context, date time.Time) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day := slot.Day(date)
	out := make(map[string]int)
	for _, o := range s.orders {
		if o.Status == order.StatusCancelled || o.Immediate() || !o.DeliveryDate.Equal(day) {
			continue
		}
		out[o.DeliveryTime]++
	}
	return out, nil
}

func (s *Store) countLocked(day time.Time, timeRange string) int {
	n := 0
	for _, o := range s.orders {
		if o.Status != order.StatusCancelled && o.DeliveryTime == timeRange && o.DeliveryDate.Equal(day) {
			n++
		}
	}
	return n
}

// FindByCode implements coupon.Repository.
func (s *Store) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.coupons[coupon.NormalizeCode(code)]
	if !ok {
		return nil, coupon.ErrInvalidCode
	}
	cp := *c
	return &cp, nil
}

// FindByHash implements auth.Repository.
func (s *Store) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.apiKeys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return &info, nil
}

// Commit implements order.Store.
func (s *Store) Commit(ctx context.Context, o *order.Order, plan order.CommitPlan) (*order.CommitReceipt, error) {
	var receipt *order.CommitReceipt
	count := func(_ context.Context, b slot.Bucket) (int, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.countLocked(b.Date, b.Range), nil
	}
	err := s.ledger.CheckAndReserve(ctx, plan.Bucket, count, func() error {
		var err error
		receipt, err = s.apply(o, plan)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// apply validates and writes everything but the slot admission under one
// exclusive lock. Nothing is written unless every check passes.
func (s *Store) apply(o *order.Order, plan order.CommitPlan) (*order.CommitReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return nil, errors.Errorf("order %s already exists", o.ID)
	}

	var c *coupon.Coupon
	if plan.CouponID != nil {
		for _, cand := range s.coupons {
			if cand.ID == *plan.CouponID {
				c = cand
				break
			}
		}
		if c == nil {
			return nil, errors.Errorf("coupon %d not found", *plan.CouponID)
		}
		if c.Exhausted() {
			return nil, coupon.ErrUsesExhausted
		}
	}

	available := make(map[string]decimal.Decimal, len(plan.Debits))
	for _, d := range plan.Debits {
		g, ok := s.goods[d.GoodID]
		if !ok {
			return nil, errors.Wrapf(catalog.ErrGoodNotFound, "good %s", d.GoodID)
		}
		available[d.GoodID] = g.AvailableKg
	}
	next, shortfalls, err := stock.Plan(plan.Debits, available, plan.Policy)
	if err != nil {
		return nil, err
	}

	// All checks passed.
	for id, kg := range next {
		s.goods[id].AvailableKg = kg
	}
	if c != nil {
		c.CurrentUses++
	}
	o.StockShortfall = len(shortfalls) > 0
	s.orders[o.ID] = cloneOrder(o)

	return &order.CommitReceipt{Shortfalls: shortfalls}, nil
}

// Get implements order.Store.
func (s *Store) Get(_ context.Context, id string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

// UpdateStatus moves an order from one status to another, or returns
// order.ErrStatusChanged when it is no longer in from. Stock and coupon
// uses are not restored on cancellation.
func (s *Store) UpdateStatus(_ context.Context, id string, from, to order.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != from {
		return order.ErrStatusChanged
	}
	o.Status = to
	return nil
}

// Good returns a snapshot of a good.
func (s *Store) Good(id string) (catalog.Good, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.goods[id]
	if !ok {
		return catalog.Good{}, false
	}
	return *g, true
}

// Coupon returns a snapshot of a coupon by code.
func (s *Store) Coupon(code string) (coupon.Coupon, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.coupons[coupon.NormalizeCode(code)]
	if !ok {
		return coupon.Coupon{}, false
	}
	return *c, true
}

// Orders returns snapshots of every stored order.
func (s *Store) Orders() []*order.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, cloneOrder(o))
	}
	slices.SortFunc(out, func(a, b *order.Order) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func cloneOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Lines = slices.Clone(o.Lines)
	if o.CouponID != nil {
		id := *o.CouponID
		cp.CouponID = &id
	}
	return &cp
}
