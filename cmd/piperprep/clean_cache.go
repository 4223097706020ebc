package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/example/go-piper-preprocess/internal/cache"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newCleanCacheCmd() *cobra.Command {
	var (
		del  bool
		jobs int
	)

	cmd := &cobra.Command{
		Use:   "clean-cache",
		Short: "Verify cached audio artifacts and optionally delete corrupt ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			dir, err := cacheDir(cfg)
			if err != nil {
				return err
			}

			checked, bad, err := cleanCache(cmd.Context(), dir, jobs, del, slog.Default())
			if err != nil {
				return err
			}

			action := "kept"
			if del {
				action = "deleted"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "checked %d artifacts, %d corrupt (%s)\n", checked, len(bad), action)
			for _, p := range bad {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&del, "delete", false, "Delete artifacts that fail to decode")
	cmd.Flags().IntVar(&jobs, "jobs", 8, "Parallel verifications")

	return cmd
}

// cleanCache verifies every artifact under dir with at most jobs checks in
// flight and returns the corrupt paths in lexical order.
func cleanCache(ctx context.Context, dir string, jobs int, del bool, logger *slog.Logger) (int, []string, error) {
	files, err := cache.List(dir)
	if err != nil {
		return 0, nil, fmt.Errorf("list cache: %w", err)
	}
	if jobs <= 0 {
		jobs = 1
	}

	var (
		mu  sync.Mutex
		bad []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for _, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			verr := cache.Verify(path)
			if verr == nil {
				return nil
			}

			logger.Warn("corrupt cache artifact", slog.String("path", path), slog.String("error", verr.Error()))
			mu.Lock()
			bad = append(bad, path)
			mu.Unlock()

			if del {
				if err := os.Remove(path); err != nil {
					return fmt.Errorf("delete %s: %w", path, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(files), bad, err
	}

	sort.Strings(bad)
	return len(files), bad, nil
}
