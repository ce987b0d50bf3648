// Package batch finds containers on disk and decodes many of them at once.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"NcmTools/ncm"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// FileDecoder is the single-file operation the runner drives.
type FileDecoder interface {
	DecodeFileClaim(ctx context.Context, inputPath, outDir string, claim ncm.OutputClaim) (*ncm.Result, error)
}

// ErrDuplicateOutput marks an input whose output path was already taken by
// another input of the same batch, such as x.ncm next to x.NCM.
var ErrDuplicateOutput = errors.New("output already written by another input")

// Options tune a batch.
type Options struct {
	Workers  int  // concurrent decodes, at least 1
	FailFast bool // stop starting files after the first failure

	// Root, when set, is the directory the inputs were collected from; the
	// folder structure below it is recreated under the output directory.
	Root string

	// OnDone is called once per finished file, never concurrently.
	OnDone func(path string, res *ncm.Result, err error)

	Logger *logrus.Logger
}

// Failure is one input that could not be decoded.
type Failure struct {
	Path string
	Err  error
}

// Report sums up a batch. Files that never started, or were interrupted by
// cancellation, are counted in Skipped.
type Report struct {
	Decoded []*ncm.Result
	Failed  []Failure
	Skipped int
}

// Collect returns the containers to decode under root. A regular file is
// returned as-is, whatever its name. In a directory, files whose name does
// not match pattern are skipped; subdirectories are only entered when
// recursive is set.
func Collect(root string, pattern *regexp.Regexp, recursive bool) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", root, err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if pattern != nil && !pattern.MatchString(d.Name()) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking %s: %w", root, err)
	}

	return files, nil
}

// Run decodes files into outDir with at most opts.Workers decodes in flight.
// A failing file is recorded in the report and the batch goes on, unless
// FailFast is set. The returned error is the first failure under FailFast,
// or the context error if ctx was cancelled.
func Run(ctx context.Context, dec FileDecoder, files []string, outDir string, opts Options) (*Report, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	var mu sync.Mutex
	report := &Report{}
	started := 0

	var claimMu sync.Mutex
	claimed := map[string]string{}

	for _, path := range files {
		if gctx.Err() != nil {
			break
		}
		started++

		claim := func(out string) error {
			claimMu.Lock()
			defer claimMu.Unlock()
			if owner, ok := claimed[out]; ok {
				return fmt.Errorf("%w: %s is decoded from %s", ErrDuplicateOutput, out, owner)
			}
			claimed[out] = path
			return nil
		}

		g.Go(func() error {
			target, err := outputDir(opts.Root, outDir, path)
			var res *ncm.Result
			if err == nil {
				res, err = dec.DecodeFileClaim(gctx, path, target, claim)
			}

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				report.Decoded = append(report.Decoded, res)
				opts.Logger.WithFields(logrus.Fields{"file": path, "output": res.Output}).Debug("decoded")
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				report.Skipped++
				return nil
			default:
				report.Failed = append(report.Failed, Failure{Path: path, Err: err})
				opts.Logger.WithField("file", path).WithError(err).Warn("decode failed")
			}

			if opts.OnDone != nil {
				opts.OnDone(path, res, err)
			}

			if err != nil && opts.FailFast {
				return fmt.Errorf("%s: %w", path, err)
			}
			return nil
		})
	}

	err := g.Wait()
	report.Skipped += len(files) - started

	sort.Slice(report.Decoded, func(i, j int) bool { return report.Decoded[i].Input < report.Decoded[j].Input })
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Path < report.Failed[j].Path })

	if err == nil {
		err = ctx.Err()
	}
	return report, err
}

// outputDir mirrors the location of path below root inside outDir.
func outputDir(root, outDir, path string) (string, error) {
	if root == "" {
		return outDir, nil
	}
	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil {
		return "", fmt.Errorf("%w: %s is outside %s: %w", ncm.ErrIO, path, root, err)
	}
	return filepath.Join(outDir, rel), nil
}
