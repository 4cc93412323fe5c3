// Package migrate applies ordered, versioned migrations. The last applied
// version is kept in a VersionStore; Up runs every newer migration in
// ascending order and Down rolls back to a target version on request.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Migration is one versioned step. Up must check its own preconditions so
// that re-running a partially applied step is harmless. Down is optional and
// only ever run manually.
type Migration struct {
	Version int
	Name    string
	Up      func(ctx context.Context) error
	Down    func(ctx context.Context) error
}

func (m Migration) String() string {
	return fmt.Sprintf("%d_%s", m.Version, m.Name)
}

// VersionStore persists the applied version and guards against two runners
// working at once.
type VersionStore interface {
	AppliedVersion(ctx context.Context) (int, error)
	SetAppliedVersion(ctx context.Context, version int) error
	// Lock fails with ErrLocked if another runner holds the lock.
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

var (
	ErrLocked           = errors.New("migrations are locked by another runner")
	ErrInvalidVersion   = errors.New("migration version must be positive")
	ErrDuplicateVersion = errors.New("duplicate migration version")
	ErrMissingUp        = errors.New("migration has no up step")
	ErrIrreversible     = errors.New("migration has no down step")
	ErrInvalidTarget    = errors.New("invalid rollback target")
)

// Runner applies migrations against a VersionStore.
type Runner struct {
	store      VersionStore
	migrations []Migration
	log        *zap.SugaredLogger
}

// NewRunner validates and sorts the migrations.
func NewRunner(store VersionStore, log *zap.SugaredLogger, migrations ...Migration) (*Runner, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for i, m := range sorted {
		if m.Version <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidVersion, m)
		}
		if m.Up == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingUp, m)
		}
		if i > 0 && sorted[i-1].Version == m.Version {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateVersion, m.Version)
		}
	}
	return &Runner{store: store, migrations: sorted, log: log}, nil
}

// Latest is the highest defined version, 0 when there are none.
func (r *Runner) Latest() int {
	if len(r.migrations) == 0 {
		return 0
	}
	return r.migrations[len(r.migrations)-1].Version
}

// Status describes where the store is relative to the defined migrations.
type Status struct {
	Applied int
	Latest  int
	Pending []Migration
}

func (r *Runner) Status(ctx context.Context) (Status, error) {
	applied, err := r.store.AppliedVersion(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("read applied version: %w", err)
	}
	return Status{Applied: applied, Latest: r.Latest(), Pending: r.pending(applied)}, nil
}

func (r *Runner) pending(applied int) []Migration {
	var out []Migration
	for _, m := range r.migrations {
		if m.Version > applied {
			out = append(out, m)
		}
	}
	return out
}

// Up applies every migration newer than the stored version, in ascending
// order, recording the version after each one. It stops at the first failure;
// the store then holds the last successful version. It returns the versions
// it applied.
func (r *Runner) Up(ctx context.Context) ([]int, error) {
	var done []int
	err := r.locked(ctx, func() error {
		applied, err := r.store.AppliedVersion(ctx)
		if err != nil {
			return fmt.Errorf("read applied version: %w", err)
		}
		if applied > r.Latest() {
			r.log.Warnf("Applied version %d is newer than the latest known migration %d", applied, r.Latest())
		}

		pending := r.pending(applied)
		if len(pending) == 0 {
			r.log.Infof("Schema is up to date at version %d", applied)
			return nil
		}
		for _, m := range pending {
			r.log.Infof("Applying migration %s", m)
			if err := m.Up(ctx); err != nil {
				migrationFailures.WithLabelValues("up").Inc()
				return fmt.Errorf("migration %s: %w", m, err)
			}
			if err := r.store.SetAppliedVersion(ctx, m.Version); err != nil {
				return fmt.Errorf("record version %d: %w", m.Version, err)
			}
			appliedVersion.Set(float64(m.Version))
			done = append(done, m.Version)
		}
		r.log.Infof("Migrated to version %d", done[len(done)-1])
		return nil
	})
	return done, err
}

// Down rolls back every applied migration above target, newest first.
func (r *Runner) Down(ctx context.Context, target int) ([]int, error) {
	if target < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTarget, target)
	}
	var done []int
	err := r.locked(ctx, func() error {
		applied, err := r.store.AppliedVersion(ctx)
		if err != nil {
			return fmt.Errorf("read applied version: %w", err)
		}
		if target >= applied {
			r.log.Infof("Nothing to roll back: applied %d, target %d", applied, target)
			return nil
		}

		for i := len(r.migrations) - 1; i >= 0; i-- {
			m := r.migrations[i]
			if m.Version > applied || m.Version <= target {
				continue
			}
			if m.Down == nil {
				return fmt.Errorf("%w: %s", ErrIrreversible, m)
			}
			r.log.Infof("Rolling back migration %s", m)
			if err := m.Down(ctx); err != nil {
				migrationFailures.WithLabelValues("down").Inc()
				return fmt.Errorf("rollback %s: %w", m, err)
			}
			prev := r.previous(i, target)
			if err := r.store.SetAppliedVersion(ctx, prev); err != nil {
				return fmt.Errorf("record version %d: %w", prev, err)
			}
			appliedVersion.Set(float64(prev))
			done = append(done, m.Version)
		}
		return nil
	})
	return done, err
}

// previous is the version left applied after rolling back migrations[i].
func (r *Runner) previous(i, target int) int {
	if i == 0 {
		return target
	}
	if v := r.migrations[i-1].Version; v > target {
		return v
	}
	return target
}

func (r *Runner) locked(ctx context.Context, fn func() error) (err error) {
	if err := r.store.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if uerr := r.store.Unlock(context.WithoutCancel(ctx)); uerr != nil {
			r.log.Errorf("Failed to release migration lock: %v", uerr)
			if err == nil {
				err = uerr
			}
		}
	}()
	return fn()
}
