package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReaper_DropsExpiredKeepsFresh(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)
	t0 := time.Date(2026, time.April, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, Credential{ID: "old", IssuedAt: t0}))
	require.NoError(t, s.Append(ctx, Credential{ID: "edge", IssuedAt: t0.Add(time.Hour)}))
	require.NoError(t, s.Append(ctx, Credential{ID: "fresh", IssuedAt: t0.Add(3 * time.Hour)}))

	r := NewReaper(s, 4*time.Hour, testLogger(), nil)
	dropped := r.Reap(ctx, t0.Add(5*time.Hour))
	assert.Equal(t, 2, dropped, "age equal to the window is expired")

	v := NewValidator(s, 4*time.Hour, false, nil)
	for id, want := range map[string]bool{"old": false, "edge": false, "fresh": true} {
		ok, err := v.IsValid(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, ok, id)
	}
}

func TestReaper_MalformedLinesDoNotDisturbNeighbours(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)
	writeStore(t, s,
		"keep1 2026-04-01T08:00:00Z",
		"broken",
		"keep2 2026-04-01T08:30:00Z",
		"a b c",
	)

	NewReaper(s, 4*time.Hour, testLogger(), nil).Reap(ctx, time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC))

	assert.Equal(t, []string{
		"keep1 2026-04-01T08:00:00Z",
		"keep2 2026-04-01T08:30:00Z",
	}, readStore(t, s))
}

func TestReaper_DefaultWindow(t *testing.T) {
	r := NewReaper(NewMemoryStore(), 0, nil, nil)
	assert.Equal(t, 4*time.Hour, r.Window())
}

func TestReaper_StoreErrorIsLoggedAndSwallowed(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError}))

	dropped := NewReaper(failingStore{err: ErrStorage}, 0, logger, NewMetrics()).Reap(context.Background(), time.Now())

	assert.Zero(t, dropped)
	assert.Contains(t, buf.String(), "credential reap failed")
}

func TestReaper_CancelledContextSkipsStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	store := compactFunc(func(context.Context, func(Credential) bool) (int, error) {
		called = true
		return 0, nil
	})
	NewReaper(store, 0, testLogger(), nil).Reap(ctx, time.Now())
	assert.False(t, called)
}

func TestReaper_InterruptedPassIsNotCountedAsFailure(t *testing.T) {
	m := NewMetrics()
	interrupted := compactFunc(func(context.Context, func(Credential) bool) (int, error) {
		return 0, fmt.Errorf("%w: lock: %w", ErrStorage, context.Canceled)
	})
	NewReaper(interrupted, 0, testLogger(), m).Reap(context.Background(), time.Now())
	assert.Zero(t, counterValue(t, m, "classify_access_reap_failures_total"))

	broken := compactFunc(func(context.Context, func(Credential) bool) (int, error) {
		return 0, ErrStorage
	})
	NewReaper(broken, 0, testLogger(), m).Reap(context.Background(), time.Now())
	assert.Equal(t, 1.0, counterValue(t, m, "classify_access_reap_failures_total"))
}

func counterValue(t *testing.T, m *Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			require.Len(t, mf.GetMetric(), 1)
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestReaper_RunReapsImmediatelyAndStopsOnCancel(t *testing.T) {
	calls := make(chan struct{}, 8)
	store := compactFunc(func(ctx context.Context, _ func(Credential) bool) (int, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected reap pass to carry a deadline")
		}
		select {
		case calls <- struct{}{}:
		default:
		}
		return 0, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewReaper(store, 0, testLogger(), nil).Run(ctx, 10*time.Millisecond, nil)
		close(done)
	}()

	waitForCall(t, calls)
	waitForCall(t, calls)
	cancel()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("reaper did not stop after context cancel")
	}
}

func TestReaper_RunRejectsNonPositiveInterval(t *testing.T) {
	store := compactFunc(func(context.Context, func(Credential) bool) (int, error) {
		t.Fatal("should not be called")
		return 0, nil
	})
	r := NewReaper(store, 0, testLogger(), nil)
	r.Run(context.Background(), 0, nil)
	r.Run(context.Background(), -time.Second, nil)
}

func TestReaper_IdempotentProperty(t *testing.T) {
	base := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	window := 4 * time.Hour

	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		store := NewMemoryStore()
		ages := rapid.SliceOfN(rapid.IntRange(0, 8*60), 0, 40).Draw(rt, "age_minutes")
		for i, age := range ages {
			_ = store.Append(ctx, Credential{
				ID:       fmt.Sprintf("c%d", i),
				IssuedAt: base.Add(-time.Duration(age) * time.Minute),
			})
		}

		r := NewReaper(store, window, testLogger(), nil)
		r.Reap(ctx, base)
		first := survivors(store)

		if second := r.Reap(ctx, base); second != 0 {
			rt.Fatalf("second reap dropped %d records", second)
		}
		if got := survivors(store); !equalStrings(first, got) {
			rt.Fatalf("survivors changed: %v -> %v", first, got)
		}
		for i, age := range ages {
			_, ok, _ := store.Find(ctx, fmt.Sprintf("c%d", i))
			want := time.Duration(age)*time.Minute < window
			if ok != want {
				rt.Fatalf("c%d age %dm: present=%v want %v", i, age, ok, want)
			}
		}
	})
}

func TestReaper_MalformedLinesProperty(t *testing.T) {
	now := time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)

	rapid.Check(t, func(rt *rapid.T) {
		dir := t.TempDir()
		s, err := NewFileStore(dir + "/access.txt")
		if err != nil {
			rt.Fatal(err)
		}

		var lines, valid []string
		n := rapid.IntRange(1, 20).Draw(rt, "lines")
		for i := 0; i < n; i++ {
			if rapid.Bool().Draw(rt, fmt.Sprintf("malformed_%d", i)) {
				fields := rapid.SliceOfN(rapid.StringMatching(`[a-z0-9]{1,6}`), 1, 4).
					Filter(func(f []string) bool { return len(f) != 2 }).
					Draw(rt, fmt.Sprintf("fields_%d", i))
				lines = append(lines, joinFields(fields))
				continue
			}
			line := fmt.Sprintf("ok%d %s", i, now.Add(-time.Minute).Format(time.RFC3339Nano))
			lines = append(lines, line)
			valid = append(valid, line)
		}
		writeStore(t, s, lines...)

		NewReaper(s, time.Hour, testLogger(), nil).Reap(context.Background(), now)

		got := readStore(t, s)
		if len(valid) == 0 {
			got = nil
		}
		if !equalStrings(valid, got) {
			rt.Fatalf("valid records disturbed: want %v got %v", valid, got)
		}
	})
}

type compactFunc func(ctx context.Context, keep func(Credential) bool) (int, error)

func (f compactFunc) Append(context.Context, Credential) error { return nil }

func (f compactFunc) Find(context.Context, string) (Credential, bool, error) {
	return Credential{}, false, nil
}

func (f compactFunc) Compact(ctx context.Context, keep func(Credential) bool) (int, error) {
	return f(ctx, keep)
}

func waitForCall(t *testing.T, calls <-chan struct{}) {
	t.Helper()
	select {
	case <-calls:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for reaper call")
	}
}

func survivors(s *MemoryStore) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for _, c := range s.records {
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func joinFields(fields []string) string {
	var buf bytes.Buffer
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(f)
	}
	return buf.String()
}
