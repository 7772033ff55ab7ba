package main

import (
	"bufio"
	"context"
	"os"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/fresh-pickup/internal/domain/coupon"
)

const (
	minCodeLen = 4
	maxCodeLen = 32
)

var errMalformed = errors.New("malformed line")

// rule is the discount a code grants. Lines without explicit columns use
// the command-line default.
type rule struct {
	Type  coupon.DiscountType
	Value decimal.Decimal
}

// entry is one parsed line.
type entry struct {
	Code string
	Rule rule
	// Source is the file the code was first read from.
	Source string
}

func validCode(code string) bool {
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return false
	}
	for _, r := range code {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// parseLine reads "CODE" or "CODE,percentage|fixed,VALUE". Blank lines and
// lines starting with '#' yield ok == false and no error.
func parseLine(line string, def rule) (e entry, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return entry{}, false, nil
	}

	fields := strings.Split(line, ",")
	e = entry{Code: coupon.NormalizeCode(fields[0]), Rule: def}
	if !validCode(e.Code) {
		return entry{}, false, errors.Wrapf(errMalformed, "code %q", fields[0])
	}

	switch len(fields) {
	case 1:
	case 3:
		e.Rule.Type = coupon.DiscountType(strings.ToLower(strings.TrimSpace(fields[1])))
		if !e.Rule.Type.Valid() {
			return entry{}, false, errors.Wrapf(errMalformed, "discount type %q", fields[1])
		}
		v, err := decimal.NewFromString(strings.TrimSpace(fields[2]))
		if err != nil || !v.IsPositive() {
			return entry{}, false, errors.Wrapf(errMalformed, "value %q", fields[2])
		}
		if e.Rule.Type == coupon.DiscountPercentage && v.GreaterThan(decimal.NewFromInt(100)) {
			return entry{}, false, errors.Wrapf(errMalformed, "percentage %s above 100", v)
		}
		e.Rule.Value = v
	default:
		return entry{}, false, errors.Wrapf(errMalformed, "%d columns", len(fields))
	}
	return e, true, nil
}

// dedup suppresses repeated codes. The bloom filter answers the common
// "never seen" case; a positive is confirmed against the exact set so a
// false positive never drops a code.
type dedup struct {
	filter *bloom.BloomFilter
	seen   map[string]struct{}
}

func newDedup(expected uint, fpr float64) *dedup {
	return &dedup{
		filter: bloom.NewWithEstimates(expected, fpr),
		seen:   make(map[string]struct{}, expected),
	}
}

// Add reports whether code is new.
func (d *dedup) Add(code string) bool {
	if d.filter.TestAndAddString(code) {
		if _, dup := d.seen[code]; dup {
			return false
		}
	}
	d.seen[code] = struct{}{}
	return true
}

// stats summarises a scan.
type stats struct {
	Lines      int
	Malformed  int
	Duplicates int
}

// collect streams every file concurrently and returns the unique entries in
// the order they were first accepted.
func collect(ctx context.Context, lg *zap.Logger, files []string, def rule, expected uint, fpr float64) ([]entry, stats, error) {
	var (
		mu   sync.Mutex
		st   stats
		dups int
		out  []entry
		seen = newDedup(expected, fpr)
		ch   = make(chan entry, 1024)
	)

	g, gctx := errgroup.WithContext(ctx)
	readers, rctx := errgroup.WithContext(gctx)
	for _, path := range files {
		readers.Go(func() error {
			local, err := scanFile(rctx, lg, path, def, ch)
			mu.Lock()
			st.Lines += local.Lines
			st.Malformed += local.Malformed
			mu.Unlock()
			return err
		})
	}
	g.Go(func() error {
		defer close(ch)
		return readers.Wait()
	})
	g.Go(func() error {
		for e := range ch {
			if !seen.Add(e.Code) {
				dups++
				lg.Debug("Duplicate code", zap.String("code", e.Code), zap.String("file", e.Source))
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	err := g.Wait()
	st.Duplicates = dups
	if err != nil {
		return nil, st, err
	}
	return out, st, nil
}

// scanFile sends the entries of one gzip file to ch and returns its line
// counts.
func scanFile(ctx context.Context, lg *zap.Logger, path string, def rule, ch chan<- entry) (stats, error) {
	var local stats
	f, err := os.Open(path)
	if err != nil {
		return local, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return local, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		local.Lines++
		e, ok, err := parseLine(scanner.Text(), def)
		if err != nil {
			local.Malformed++
			lg.Warn("Skipping line", zap.String("file", path), zap.Int("line", local.Lines), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		e.Source = path
		select {
		case ch <- e:
		case <-ctx.Done():
			return local, ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return local, errors.Wrapf(err, "scan %s", path)
	}

	lg.Info("File scanned", zap.String("file", path), zap.Int("lines", local.Lines), zap.Int("malformed", local.Malformed))
	return local, nil
}
