// Package scheduler runs periodic operator jobs.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/fresh-pickup/internal/domain/catalog"
	"github.com/xenking/fresh-pickup/internal/domain/slot"
)

// Availability reports slot occupancy for a date.
type Availability interface {
	Availability(ctx context.Context, date time.Time) ([]slot.Opening, error)
}

// Broadcaster delivers a text message to the store operators.
type Broadcaster interface {
	Broadcast(ctx context.Context, body string) error
}

// Config configures the daily digest.
type Config struct {
	// Spec is a standard five-field cron expression.
	Spec string
	// LowStockKg flags goods whose stock is at or below this level.
	LowStockKg decimal.Decimal
	Location   *time.Location
	Timeout    time.Duration
}

// Scheduler sends the operator digest on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	cfg     Config
	catalog catalog.Repository
	slots   Availability
	out     Broadcaster
	lg      *zap.Logger
	now     func() time.Time
}

// New creates a Scheduler. Start must be called to run it.
func New(cfg Config, goods catalog.Repository, slots Availability, out Broadcaster, lg *zap.Logger) (*Scheduler, error) {
	if lg == nil {
		lg = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(cfg.Location)),
		cfg:     cfg,
		catalog: goods,
		slots:   slots,
		out:     out,
		lg:      lg,
		now:     time.Now,
	}
	if _, err := s.cron.AddFunc(cfg.Spec, s.sendDigest); err != nil {
		return nil, errors.Wrapf(err, "schedule digest %q", cfg.Spec)
	}
	return s, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.lg.Info("Starting scheduler", zap.String("digest", s.cfg.Spec))
	s.cron.Start()
}

// Stop stops scheduling and waits for a running digest to finish.
func (s *Scheduler) Stop() {
	s.lg.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) sendDigest() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	body, err := s.Digest(ctx, s.now().In(s.cfg.Location))
	if err != nil {
		s.lg.Error("Build digest", zap.Error(err))
		return
	}
	if err := s.out.Broadcast(ctx, body); err != nil {
		s.lg.Error("Send digest", zap.Error(err))
		return
	}
	s.lg.Info("Digest sent")
}

// Digest renders today's slot occupancy and the goods running low.
func (s *Scheduler) Digest(ctx context.Context, today time.Time) (string, error) {
	openings, err := s.slots.Availability(ctx, today)
	if err != nil {
		return "", errors.Wrap(err, "slot availability")
	}
	goods, err := s.catalog.ListGoods(ctx)
	if err != nil {
		return "", errors.Wrap(err, "list goods")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pickups for %s\n", slot.Day(today).Format(slot.DateLayout))
	if len(openings) == 0 {
		b.WriteString("No pickup slots today.\n")
	}
	booked := 0
	for _, o := range openings {
		booked += o.Booked
		fmt.Fprintf(&b, "- %s: %d/%d booked\n", o.Slot.Range(), o.Booked, o.Slot.MaxOrders)
	}
	if len(openings) > 0 {
		fmt.Fprintf(&b, "Total: %d orders\n", booked)
	}

	var low []catalog.Good
	for _, g := range goods {
		if g.Active && g.AvailableKg.LessThanOrEqual(s.cfg.LowStockKg) {
			low = append(low, g)
		}
	}
	if len(low) > 0 {
		b.WriteString("\nLow stock\n")
		for _, g := range low {
			fmt.Fprintf(&b, "- %s: %s kg\n", g.Name, g.AvailableKg.StringFixed(2))
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
