// Command coupon-import loads coupon campaigns from gzip-compressed CSV
// files. Each line is code,kind,value[,max_uses[,expires_at]] with
// expires_at in RFC 3339. Files are parsed concurrently; codes already in
// the database are skipped unless -overwrite is set.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/john25coder/pizzaria-app/internal/domain/coupon"
	"github.com/john25coder/pizzaria-app/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	minBloomSize  = 100_000
	progressEvery = 10_000
)

// record is one parsed CSV line.
type record struct {
	file  string
	line  int
	input coupon.Input
}

type stats struct {
	created, updated, skipped, duplicates, invalid int
}

func main() {
	var (
		databaseURL string
		overwrite   bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&overwrite, "overwrite", false, "update coupons whose code already exists")
	flag.Usage = func() {
		_, _ = io.WriteString(flag.CommandLine.Output(), "usage: coupon-import [flags] campaign.csv.gz...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, flag.Args(), overwrite); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string, overwrite bool) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := postgres.NewCouponRepository(pool)

	known, err := loadKnownCodes(ctx, repo)
	if err != nil {
		return errors.Wrap(err, "load existing codes")
	}

	records := make(chan record, 1024)
	var st stats

	g, gctx := errgroup.WithContext(ctx)
	parsers, pctx := errgroup.WithContext(gctx)
	for _, f := range files {
		parsers.Go(func() error {
			return parseFile(pctx, f, records)
		})
	}
	g.Go(func() error {
		defer close(records)
		return parsers.Wait()
	})
	g.Go(func() error {
		var werr error
		st, werr = write(gctx, repo, known, records, overwrite)
		return werr
	})
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("import summary",
		slog.Int("created", st.created),
		slog.Int("updated", st.updated),
		slog.Int("skipped_existing", st.skipped),
		slog.Int("duplicates", st.duplicates),
		slog.Int("invalid", st.invalid),
	)
	return nil
}

// loadKnownCodes builds a bloom filter of stored codes. A negative test
// proves a code is new; a positive one is confirmed against the database.
func loadKnownCodes(ctx context.Context, repo *postgres.CouponRepository) (*bloom.BloomFilter, error) {
	var codes []string
	if err := repo.Codes(ctx, func(code string) {
		codes = append(codes, code)
	}); err != nil {
		return nil, err
	}

	filter := bloom.NewWithEstimates(uint(max(minBloomSize, 2*len(codes))), bloomFPR)
	for _, c := range codes {
		filter.AddString(c)
	}
	slog.Info("loaded existing codes", slog.Int("count", len(codes)))
	return filter, nil
}

// parseFile streams one gzip CSV file into out. Malformed lines are logged
// and skipped.
func parseFile(ctx context.Context, path string, out chan<- record) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.Comment = '#'
	r.TrimLeadingSpace = true

	var count int
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		line, _ := r.FieldPos(0)

		in, err := parseRecord(fields)
		if err != nil {
			slog.Warn("skipping line", slog.String("file", path), slog.Int("line", line), slog.String("error", err.Error()))
			continue
		}

		select {
		case out <- record{file: path, line: line, input: in}:
		case <-ctx.Done():
			return ctx.Err()
		}
		count++
	}

	slog.Info("parsed file", slog.String("file", path), slog.Int("records", count))
	return nil
}

func parseRecord(fields []string) (coupon.Input, error) {
	if len(fields) < 3 {
		return coupon.Input{}, errors.Errorf("expected at least 3 fields, got %d", len(fields))
	}
	value, err := decimal.NewFromString(strings.TrimSpace(fields[2]))
	if err != nil {
		return coupon.Input{}, errors.Wrap(err, "parse value")
	}

	in := coupon.Input{
		Code:  coupon.NormalizeCode(fields[0]),
		Kind:  strings.TrimSpace(fields[1]),
		Value: value,
	}
	if len(fields) > 3 && strings.TrimSpace(fields[3]) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(fields[3]))
		if err != nil {
			return coupon.Input{}, errors.Wrap(err, "parse max_uses")
		}
		in.MaxUses = &n
	}
	if len(fields) > 4 && strings.TrimSpace(fields[4]) != "" {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(fields[4]))
		if err != nil {
			return coupon.Input{}, errors.Wrap(err, "parse expires_at")
		}
		in.ExpiresAt = &t
	}
	return in, nil
}

func write(
	ctx context.Context,
	repo *postgres.CouponRepository,
	known *bloom.BloomFilter,
	records <-chan record,
	overwrite bool,
) (stats, error) {
	var st stats
	seen := make(map[string]struct{})
	svc := coupon.NewService(repo)

	for rec := range records {
		code := rec.input.Code
		if _, dup := seen[code]; dup {
			st.duplicates++
			continue
		}
		seen[code] = struct{}{}

		var existing *coupon.Coupon
		if known.TestString(code) {
			c, err := repo.GetByCode(ctx, code)
			switch {
			case err == nil:
				existing = c
			case !errors.Is(err, coupon.ErrNotFound):
				return st, errors.Wrapf(err, "look up %s", code)
			}
		}

		var err error
		switch {
		case existing != nil && !overwrite:
			st.skipped++
			continue
		case existing != nil:
			_, err = svc.Update(ctx, existing.ID, overwritePatch(rec.input))
			if err == nil {
				st.updated++
			}
		default:
			_, err = svc.Create(ctx, rec.input)
			if err == nil {
				st.created++
			}
		}
		if err != nil {
			if !isInvalid(err) {
				return st, errors.Wrapf(err, "write %s", code)
			}
			slog.Warn("invalid coupon", slog.String("file", rec.file), slog.Int("line", rec.line),
				slog.String("code", code), slog.String("error", err.Error()))
			st.invalid++
			continue
		}

		if n := st.created + st.updated; n > 0 && n%progressEvery == 0 {
			slog.Info("write progress", slog.Int("written", n))
		}
	}
	return st, ctx.Err()
}

// overwritePatch replaces every imported field and reactivates the coupon.
// An empty expiry or limit column clears it. Uses are kept.
func overwritePatch(in coupon.Input) coupon.Patch {
	active := true
	return coupon.Patch{
		Kind:           &in.Kind,
		Value:          &in.Value,
		ExpiresAt:      in.ExpiresAt,
		ClearExpiresAt: in.ExpiresAt == nil,
		MaxUses:        in.MaxUses,
		ClearMaxUses:   in.MaxUses == nil,
		Active:         &active,
	}
}

func isInvalid(err error) bool {
	return errors.Is(err, coupon.ErrCodeRequired) ||
		errors.Is(err, coupon.ErrInvalidKind) ||
		errors.Is(err, coupon.ErrInvalidDiscount) ||
		errors.Is(err, coupon.ErrInvalidMaxUses) ||
		errors.Is(err, coupon.ErrDuplicateCode)
}
