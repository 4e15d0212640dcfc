package main

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	// maxFiles bounds the per-code file bitmask.
	maxFiles = bits.UintSize
)

// findCollisions returns the normalized codes present in two or more files.
//
// Pass one builds a bloom filter per file. Pass two rescans each file and
// keeps only codes that some other file's filter claims, tagging them with
// the file's bit. Merging the tags removes bloom false positives, since a
// real collision carries at least two bits.
func findCollisions(ctx context.Context, files []string, expected uint) (map[string]struct{}, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			f := bloom.NewWithEstimates(expected, bloomFPR)
			var n uint64
			if err := streamGzFile(gctx, path, func(code string) {
				f.AddString(code)
				if n++; n%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", path), slog.Uint64("codes", n))
				}
			}); err != nil {
				return err
			}
			slog.Info("pass 1 complete", slog.String("file", path), slog.Uint64("codes", n))
			filters[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tags := make([]map[string]uint, len(files))
	g, gctx = errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			found := make(map[string]uint)
			bit := uint(1) << uint(i)
			if err := streamGzFile(gctx, path, func(code string) {
				for j, f := range filters {
					if j != i && f.TestString(code) {
						found[code] |= bit
						return
					}
				}
			}); err != nil {
				return err
			}
			slog.Info("pass 2 complete", slog.String("file", path), slog.Int("candidates", len(found)))
			tags[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, found := range tags {
		for code, bit := range found {
			merged[code] |= bit
		}
	}
	collisions := make(map[string]struct{})
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			collisions[code] = struct{}{}
		}
	}
	return collisions, nil
}

// streamGzFile calls fn with every non-blank line of a gzip file, trimmed
// and upper-cased the way coupon codes are normalized.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
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
		line := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		if line == "" {
			continue
		}
		fn(line)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
