package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"mercator-hq/compass/pkg/bandit"
	compassErrors "mercator-hq/compass/pkg/errors"
)

// maxParallel bounds concurrent exports and imports.
const maxParallel = 4

// Source supplies the states to persist.
type Source interface {
	Domains() []string
	ExportState(domain string) (*bandit.State, error)
}

// Target receives restored states.
type Target interface {
	ImportState(domain string, state *bandit.State) error
}

// SaveAll exports every domain of src, saves one snapshot per domain and
// prunes each domain down to retain snapshots. A failing domain does not
// stop the others; their errors are joined.
func SaveAll(ctx context.Context, b Backend, src Source, retain int) ([]Meta, error) {
	var (
		mu    sync.Mutex
		saved []Meta
		errs  []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for _, domain := range src.Domains() {
		g.Go(func() error {
			state, err := src.ExportState(domain)
			if err != nil {
				fail(fmt.Errorf("export %s: %w", domain, err))
				return nil
			}
			snap := &Snapshot{Domain: domain, State: state}
			if err := b.Save(ctx, snap); err != nil {
				fail(fmt.Errorf("save %s: %w", domain, err))
				return nil
			}
			if _, err := b.Prune(ctx, domain, retain); err != nil {
				fail(fmt.Errorf("prune %s: %w", domain, err))
			}

			mu.Lock()
			saved = append(saved, Meta{ID: snap.ID, Domain: domain, Algorithm: snap.Algorithm, CreatedAt: snap.CreatedAt})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return saved, errors.Join(errs...)
}

// RestoreAll imports the latest snapshot of each listed domain into dst.
// Domains without a snapshot are skipped. It returns the restored domains.
func RestoreAll(ctx context.Context, b Backend, dst Target, domains []string) ([]string, error) {
	var (
		mu       sync.Mutex
		restored []string
		errs     []error
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for _, domain := range domains {
		g.Go(func() error {
			snap, err := b.Latest(ctx, domain)
			if errors.Is(err, compassErrors.ErrNotFound) {
				return nil
			}
			if err == nil {
				err = dst.ImportState(domain, snap.State)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("restore %s: %w", domain, err))
				return nil
			}
			restored = append(restored, domain)
			return nil
		})
	}
	g.Wait()
	return restored, errors.Join(errs...)
}

// Domains returns the distinct domains that have at least one snapshot.
func Domains(ctx context.Context, b Backend) ([]string, error) {
	metas, err := b.List(ctx, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, m := range metas {
		if !seen[m.Domain] {
			seen[m.Domain] = true
			out = append(out, m.Domain)
		}
	}
	return out, nil
}
