package slot

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSlotRepo struct {
	slots   []Slot
	booked  map[string]int
	listErr error
}

func (m *mockSlotRepo) ListByWeekday(_ context.Context, day time.Weekday) ([]Slot, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []Slot
	for _, s := range m.slots {
		if s.DayOfWeek == day {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockSlotRepo) CountBooked(_ context.Context, date time.Time, timeRange string) (int, error) {
	return m.booked[date.Format(DateLayout)+"|"+timeRange], nil
}

func (m *mockSlotRepo) CountBookedByRange(_ context.Context, date time.Time) (map[string]int, error) {
	out := make(map[string]int)
	prefix := date.Format(DateLayout) + "|"
	for k, v := range m.booked {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out[k[len(prefix):]] = v
		}
	}
	return out, nil
}

// 2025-06-14 is a Saturday.
var saturday = time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)

func weeklyTemplate() *mockSlotRepo {
	return &mockSlotRepo{
		slots: []Slot{
			{ID: 1, DayOfWeek: time.Saturday, Start: "09:00", End: "10:00", MaxOrders: 3, Active: true},
			{ID: 2, DayOfWeek: time.Saturday, Start: "10:00", End: "11:00", MaxOrders: 2, Active: false},
			{ID: 3, DayOfWeek: time.Saturday, Start: "11:00", End: "12:00", MaxOrders: 0, Active: true},
			{ID: 4, DayOfWeek: time.Sunday, Start: "09:00", End: "10:00", MaxOrders: 5, Active: true},
		},
		booked: map[string]int{
			"2025-06-14|09:00-10:00": 2,
		},
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		date      time.Time
		timeRange string
		wantSlot  int64
		wantNil   bool
		wantErr   error
	}{
		{name: "matching active slot", date: saturday, timeRange: "09:00-10:00", wantSlot: 1},
		{name: "typographic dash normalised", date: saturday, timeRange: " 09:00 – 10:00 ", wantSlot: 1},
		{name: "time of day on the date is ignored", date: saturday.Add(15 * time.Hour), timeRange: "09:00-10:00", wantSlot: 1},
		{name: "inactive slot", date: saturday, timeRange: "10:00-11:00", wantErr: ErrSlotUnavailable},
		{name: "zero capacity slot", date: saturday, timeRange: "11:00-12:00", wantErr: ErrSlotUnavailable},
		{name: "range not offered that weekday", date: saturday, timeRange: "15:00-16:00", wantErr: ErrSlotUnavailable},
		{name: "slot exists only on another weekday", date: saturday.AddDate(0, 0, 2), timeRange: "09:00-10:00", wantErr: ErrSlotUnavailable},
		{name: "immediate pickup bypasses lookup", date: saturday, timeRange: "Immediate", wantNil: true},
	}

	r := NewResolver(weeklyTemplate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := r.Resolve(context.Background(), tt.date, tt.timeRange)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, b)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, b)
				return
			}
			require.NotNil(t, b)
			assert.Equal(t, tt.wantSlot, b.SlotID)
			assert.Equal(t, "09:00-10:00", b.Range)
			assert.Equal(t, saturday, b.Date)
		})
	}
}

func TestResolve_SkipsInactiveDuplicate(t *testing.T) {
	r := NewResolver(&mockSlotRepo{slots: []Slot{
		{ID: 7, DayOfWeek: time.Saturday, Start: "09:00", End: "10:00", MaxOrders: 4, Active: false},
		{ID: 8, DayOfWeek: time.Saturday, Start: "09:00", End: "10:00", MaxOrders: 4, Active: true},
	}})

	b, err := r.Resolve(context.Background(), saturday, "09:00-10:00")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, int64(8), b.SlotID)
	assert.Equal(t, 4, b.MaxOrders)
}

func TestResolve_RepositoryError(t *testing.T) {
	r := NewResolver(&mockSlotRepo{listErr: errors.New("db down")})

	_, err := r.Resolve(context.Background(), saturday, "09:00-10:00")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list slots")
}

func TestPrecheck(t *testing.T) {
	repo := weeklyTemplate()
	r := NewResolver(repo)
	b, err := r.Resolve(context.Background(), saturday, "09:00-10:00")
	require.NoError(t, err)

	require.NoError(t, r.Precheck(context.Background(), b))

	repo.booked["2025-06-14|09:00-10:00"] = 3
	require.ErrorIs(t, r.Precheck(context.Background(), b), ErrSlotFull)

	require.NoError(t, r.Precheck(context.Background(), nil))
}

func TestAvailability(t *testing.T) {
	r := NewResolver(weeklyTemplate())

	openings, err := r.Availability(context.Background(), saturday)
	require.NoError(t, err)
	require.Len(t, openings, 2)

	assert.Equal(t, int64(1), openings[0].Slot.ID)
	assert.Equal(t, 2, openings[0].Booked)
	assert.Equal(t, 1, openings[0].Remaining)

	assert.Equal(t, int64(3), openings[1].Slot.ID)
	assert.Equal(t, 0, openings[1].Remaining)
}

func TestNormalizeRange(t *testing.T) {
	assert.Equal(t, "09:00-10:00", NormalizeRange("09:00 — 10:00"))
	assert.Equal(t, Immediate, NormalizeRange(" IMMEDIATE "))
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2025-06-14")
	require.NoError(t, err)
	assert.Equal(t, saturday, got)

	_, err = ParseDate("14/06/2025")
	require.Error(t, err)
}

func TestLedger_CapacityUnderContention(t *testing.T) {
	const (
		capacity = 3
		callers  = 40
	)

	var (
		mu       sync.Mutex
		bookings int
		admitted atomic.Int32
		full     atomic.Int32
		wg       sync.WaitGroup
	)

	ledger := NewLedger()
	b := &Bucket{SlotID: 1, Date: saturday, Range: "09:00-10:00", MaxOrders: capacity}
	count := func(context.Context, Bucket) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return bookings, nil
	}

	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ledger.CheckAndReserve(context.Background(), b, count, func() error {
				// Widen the window between count and write.
				time.Sleep(time.Millisecond)
				mu.Lock()
				bookings++
				mu.Unlock()
				return nil
			})
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, ErrSlotFull):
				full.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(capacity), admitted.Load())
	assert.Equal(t, int32(callers-capacity), full.Load())
	assert.Equal(t, capacity, bookings)
}

func TestLedger_ImmediateAlwaysAdmitted(t *testing.T) {
	ledger := NewLedger()
	calls := 0
	count := func(context.Context, Bucket) (int, error) {
		t.Fatal("immediate pickups must not be counted")
		return 0, nil
	}

	for range 5 {
		err := ledger.CheckAndReserve(context.Background(), nil, count, func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 5, calls)
}

func TestLedger_ReserveErrorPropagates(t *testing.T) {
	ledger := NewLedger()
	b := &Bucket{Date: saturday, Range: "09:00-10:00", MaxOrders: 1}
	boom := errors.New("insert failed")

	err := ledger.CheckAndReserve(context.Background(), b,
		func(context.Context, Bucket) (int, error) { return 0, nil },
		func() error { return boom },
	)
	require.ErrorIs(t, err, boom)
}
