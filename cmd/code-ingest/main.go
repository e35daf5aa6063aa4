// Command code-ingest loads bulk-minted promo codes into the code store that
// ResolveCode reads at calculation time. Generator shards each emit a
// gzip-compressed file of candidate codes, one per line; a code is accepted
// only when the required number of shards agree on it. Bloom filters keep the
// cross-shard membership checks in memory.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/promo-engine/internal/repository"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
	insertBatch   = 1000
)

const insertPromoCodeSQL = `INSERT INTO promo_codes (code, promotion_id)
	VALUES ($1, $2) ON CONFLICT (code) DO NOTHING`

func main() {
	var (
		dataDir     string
		databaseURL string
		promotionID string
		minSources  int
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing shard .gz code files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&promotionID, "promotion-id", "", "promotion the ingested codes unlock")
	flag.IntVar(&minSources, "min-sources", 2, "number of shard files a code must appear in")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if promotionID == "" {
		slog.Error("promotion id is required: set --promotion-id")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, promotionID, minSources); err != nil {
		slog.Error("code ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("code ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL, promotionID string, minSources int) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.gz"))
	if err != nil {
		return errors.Wrap(err, "list shard files")
	}
	if len(files) < minSources {
		return errors.Errorf("need at least %d shard files in %s, found %d", minSources, dataDir, len(files))
	}
	if len(files) > 64 {
		return errors.Errorf("too many shard files: %d (max 64)", len(files))
	}

	slog.Info("pass 1: building per-shard bloom filters", slog.Int("shards", len(files)))

	filters, err := buildShardFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build shard filters")
	}

	slog.Info("pass 2: collecting agreed codes", slog.Int("min_sources", minSources))

	codes, err := agreedCodes(ctx, files, filters, minSources)
	if err != nil {
		return errors.Wrap(err, "collect agreed codes")
	}

	slog.Info("agreed codes found", slog.Int("count", len(codes)))

	if len(codes) == 0 {
		slog.Info("nothing to insert")
		return nil
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeCodes(ctx, pool, promotionID, codes); err != nil {
		return errors.Wrap(err, "write codes to store")
	}

	return nil
}

// buildShardFilters streams every shard once, concurrently, producing one
// bloom filter of its codes.
func buildShardFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var count uint64

			err := streamShard(ctx, path, func(code string) {
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("shard", i+1), slog.Uint64("codes", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "filter shard %s", path)
			}

			slog.Info("pass 1 shard done", slog.Int("shard", i+1), slog.Uint64("codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// agreedCodes re-streams every shard, testing each code against the other
// shards' filters, and keeps the codes that minSources shards agree on. Each
// shard contributes one bit of a per-code membership mask.
func agreedCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter, minSources int) ([]string, error) {
	masks := make([]map[string]uint64, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			shardMask := make(map[string]uint64)
			bit := uint64(1) << uint(i)

			err := streamShard(ctx, path, func(code string) {
				for j, f := range filters {
					if j == i {
						continue
					}
					if f.TestString(code) {
						shardMask[code] |= bit
						break
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan shard %s", path)
			}

			slog.Info("pass 2 shard done", slog.Int("shard", i+1), slog.Int("candidates", len(shardMask)))
			masks[i] = shardMask
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint64)
	for _, m := range masks {
		for code, mask := range m {
			merged[code] |= mask
		}
	}

	var agreed []string
	for code, mask := range merged {
		if bits.OnesCount64(mask) >= minSources {
			agreed = append(agreed, code)
		}
	}
	return agreed, nil
}

// streamShard decompresses one shard file and calls fn for every well-formed
// code line. Codes are lowercased to match the store's lookup form.
func streamShard(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		code := strings.TrimSpace(scanner.Text())
		if len(code) < minCodeLen || len(code) > maxCodeLen {
			continue
		}
		fn(strings.ToLower(code))
	}

	return errors.Wrapf(scanner.Err(), "scan %s", path)
}

// writeCodes inserts the agreed codes in batches, all pointing at the
// promotion they unlock.
func writeCodes(ctx context.Context, pool *pgxpool.Pool, promotionID string, codes []string) error {
	slog.Info("writing promo codes", slog.Int("count", len(codes)))

	for start := 0; start < len(codes); start += insertBatch {
		end := min(start+insertBatch, len(codes))

		var batch pgx.Batch
		for _, code := range codes[start:end] {
			batch.Queue(insertPromoCodeSQL, code, promotionID)
		}
		if err := pool.SendBatch(ctx, &batch).Close(); err != nil {
			return errors.Wrapf(err, "insert batch at %d", start)
		}

		slog.Info("write progress", slog.Int("written", end), slog.Int("total", len(codes)))
	}

	return nil
}
