package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder builds migrations that log their calls.
type recorder struct {
	calls []string
	fail  map[string]bool
}

func (r *recorder) migration(version int, name string) Migration {
	step := func(dir string) func(context.Context) error {
		return func(context.Context) error {
			call := dir + ":" + name
			if r.fail[call] {
				return errors.New("boom")
			}
			r.calls = append(r.calls, call)
			return nil
		}
	}
	return Migration{Version: version, Name: name, Up: step("up"), Down: step("down")}
}

func (r *recorder) five() []Migration {
	return []Migration{
		r.migration(1, "one"),
		r.migration(2, "two"),
		r.migration(3, "three"),
		r.migration(4, "four"),
		r.migration(5, "five"),
	}
}

// ============ Construction Tests ============

func TestNewRunner_SortsMigrations(t *testing.T) {
	rec := &recorder{}
	r, err := NewRunner(NewMemoryStore(0), nil, rec.migration(3, "c"), rec.migration(1, "a"), rec.migration(2, "b"))

	require.NoError(t, err)
	assert.Equal(t, 3, r.Latest())
	_, err = r.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"up:a", "up:b", "up:c"}, rec.calls)
}

func TestNewRunner_RejectsBadDefinitions(t *testing.T) {
	rec := &recorder{}

	_, err := NewRunner(NewMemoryStore(0), nil, rec.migration(0, "zero"))
	assert.ErrorIs(t, err, ErrInvalidVersion)

	_, err = NewRunner(NewMemoryStore(0), nil, rec.migration(2, "a"), rec.migration(2, "b"))
	assert.ErrorIs(t, err, ErrDuplicateVersion)

	_, err = NewRunner(NewMemoryStore(0), nil, Migration{Version: 1, Name: "noop"})
	assert.ErrorIs(t, err, ErrMissingUp)
}

// ============ Up Tests ============

func TestRunner_Up_AppliesOnlyNewerVersions(t *testing.T) {
	rec := &recorder{}
	store := NewMemoryStore(3)
	r, err := NewRunner(store, nil, rec.five()...)
	require.NoError(t, err)

	applied, err := r.Up(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, applied)
	assert.Equal(t, []string{"up:four", "up:five"}, rec.calls)
	v, _ := store.AppliedVersion(context.Background())
	assert.Equal(t, 5, v)
}

func TestRunner_Up_IsNoopWhenCurrent(t *testing.T) {
	rec := &recorder{}
	r, err := NewRunner(NewMemoryStore(5), nil, rec.five()...)
	require.NoError(t, err)

	applied, err := r.Up(context.Background())

	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Empty(t, rec.calls)
}

func TestRunner_Up_StopsAtFirstFailure(t *testing.T) {
	rec := &recorder{fail: map[string]bool{"up:three": true}}
	store := NewMemoryStore(0)
	r, err := NewRunner(store, nil, rec.five()...)
	require.NoError(t, err)

	applied, err := r.Up(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "3_three")
	assert.Equal(t, []int{1, 2}, applied)
	assert.Equal(t, []string{"up:one", "up:two"}, rec.calls)
	v, _ := store.AppliedVersion(context.Background())
	assert.Equal(t, 2, v)

	// the lock is released so a fixed run can continue
	delete(rec.fail, "up:three")
	applied, err = r.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5}, applied)
}

func TestRunner_Up_FailsWhenLocked(t *testing.T) {
	rec := &recorder{}
	store := NewMemoryStore(0)
	require.NoError(t, store.Lock(context.Background()))
	r, err := NewRunner(store, nil, rec.five()...)
	require.NoError(t, err)

	_, err = r.Up(context.Background())

	assert.ErrorIs(t, err, ErrLocked)
	assert.Empty(t, rec.calls)
}

// ============ Down Tests ============

func TestRunner_Down_RollsBackNewestFirst(t *testing.T) {
	rec := &recorder{}
	store := NewMemoryStore(5)
	r, err := NewRunner(store, nil, rec.five()...)
	require.NoError(t, err)

	rolled, err := r.Down(context.Background(), 2)

	require.NoError(t, err)
	assert.Equal(t, []int{5, 4, 3}, rolled)
	assert.Equal(t, []string{"down:five", "down:four", "down:three"}, rec.calls)
	v, _ := store.AppliedVersion(context.Background())
	assert.Equal(t, 2, v)
}

func TestRunner_Down_FailureKeepsLastRolledBackVersion(t *testing.T) {
	rec := &recorder{fail: map[string]bool{"down:three": true}}
	store := NewMemoryStore(5)
	r, err := NewRunner(store, nil, rec.five()...)
	require.NoError(t, err)

	rolled, err := r.Down(context.Background(), 0)

	require.Error(t, err)
	assert.Equal(t, []int{5, 4}, rolled)
	v, _ := store.AppliedVersion(context.Background())
	assert.Equal(t, 3, v)
}

func TestRunner_Down_Irreversible(t *testing.T) {
	store := NewMemoryStore(1)
	r, err := NewRunner(store, nil, Migration{Version: 1, Name: "seed", Up: func(context.Context) error { return nil }})
	require.NoError(t, err)

	_, err = r.Down(context.Background(), 0)

	assert.ErrorIs(t, err, ErrIrreversible)
}

func TestRunner_Down_InvalidTarget(t *testing.T) {
	r, err := NewRunner(NewMemoryStore(0), nil)
	require.NoError(t, err)

	_, err = r.Down(context.Background(), -1)

	assert.ErrorIs(t, err, ErrInvalidTarget)
}

// ============ Status Tests ============

func TestRunner_Status(t *testing.T) {
	rec := &recorder{}
	r, err := NewRunner(NewMemoryStore(3), nil, rec.five()...)
	require.NoError(t, err)

	st, err := r.Status(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, st.Applied)
	assert.Equal(t, 5, st.Latest)
	require.Len(t, st.Pending, 2)
	assert.Equal(t, 4, st.Pending[0].Version)
	assert.Equal(t, "5_five", st.Pending[1].String())
}
