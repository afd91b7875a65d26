package monitor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/signalnine/memtrace/internal/kernel"
	"github.com/signalnine/memtrace/internal/kernel/kerneltest"
	"github.com/signalnine/memtrace/internal/monitor"
	"github.com/signalnine/memtrace/internal/sysmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder logs samples, drains and clears in call order.
type recorder struct {
	mu       sync.Mutex
	events   []string
	ratios   []float64
	drainErr error
	clearErr error
}

func (r *recorder) Sample(ctx context.Context) (sysmem.Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "sample")
	ratio := 0.1
	if len(r.ratios) > 0 {
		ratio, r.ratios = r.ratios[0], r.ratios[1:]
	}
	return sysmem.Sample{Total: 1000, Used: uint64(ratio * 1000)}, nil
}

func (r *recorder) DrainBuffer(dest string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "drain")
	return 10, r.drainErr
}

func (r *recorder) ClearPrintedList() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "clear")
	return r.clearErr
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func start(t *testing.T, m *monitor.Monitor) (chan struct{}, <-chan error) {
	t.Helper()
	done := make(chan struct{})
	errc := make(chan error, 1)
	go func() { errc <- m.Run(context.Background(), done) }()
	return done, errc
}

func TestDrainOnFirstSampleAboveThreshold(t *testing.T) {
	rec := &recorder{ratios: []float64{0.85}}
	m := monitor.New(&monitor.Opts{
		Source: rec, Drainer: rec, Artifact: "test.kmap",
		Threshold: 0.8, Interval: time.Hour,
	})
	done, errc := start(t, m)

	require.Eventually(t, func() bool { return m.Drains() == 1 }, 2*time.Second, time.Millisecond)
	close(done)
	require.NoError(t, <-errc)

	assert.Equal(t, []string{"sample", "drain", "clear"}, rec.snapshot())
	assert.EqualValues(t, 10, m.DrainedBytes())
}

func TestNoDrainBelowThreshold(t *testing.T) {
	rec := &recorder{ratios: []float64{0.5, 0.8, 0.2}}
	m := monitor.New(&monitor.Opts{
		Source: rec, Drainer: rec, Threshold: 0.8, Interval: time.Millisecond,
	})
	done, errc := start(t, m)

	require.Eventually(t, func() bool { return m.Samples() >= 5 }, 2*time.Second, time.Millisecond)
	close(done)
	require.NoError(t, <-errc)

	assert.Zero(t, m.Drains())
	assert.NotContains(t, rec.snapshot(), "drain")
}

func TestEachCrossingDrainsOnceBeforeNextSample(t *testing.T) {
	rec := &recorder{ratios: []float64{0.9, 0.5, 0.95, 0.81}}
	m := monitor.New(&monitor.Opts{
		Source: rec, Drainer: rec, Threshold: 0.8, Interval: time.Millisecond,
	})
	done, errc := start(t, m)

	require.Eventually(t, func() bool { return m.Samples() >= 6 }, 2*time.Second, time.Millisecond)
	close(done)
	require.NoError(t, <-errc)

	events := rec.snapshot()
	require.GreaterOrEqual(t, len(events), 10)
	assert.Equal(t, []string{
		"sample", "drain", "clear",
		"sample",
		"sample", "drain", "clear",
		"sample", "drain", "clear",
	}, events[:10])
	for _, e := range events[10:] {
		assert.Equal(t, "sample", e)
	}
	assert.EqualValues(t, 3, m.Drains())
}

func TestDrainFailureStopsMonitor(t *testing.T) {
	rec := &recorder{ratios: []float64{0.9}, drainErr: errors.New("failed to append kmap")}
	m := monitor.New(&monitor.Opts{
		Source: rec, Drainer: rec, Threshold: 0.8, Interval: time.Millisecond,
	})
	err := m.Run(context.Background(), make(chan struct{}))
	require.Error(t, err)
	assert.Equal(t, []string{"sample", "drain"}, rec.snapshot())
	assert.Zero(t, m.Drains())
}

func TestClearFailureStopsMonitor(t *testing.T) {
	rec := &recorder{ratios: []float64{0.9}, clearErr: errors.New("failed to clear printed list")}
	m := monitor.New(&monitor.Opts{
		Source: rec, Drainer: rec, Threshold: 0.8, Interval: time.Millisecond,
	})
	err := m.Run(context.Background(), make(chan struct{}))
	require.EqualError(t, err, "failed to clear printed list")
}

type failingSource struct{}

func (failingSource) Sample(ctx context.Context) (sysmem.Sample, error) {
	return sysmem.Sample{}, errors.New("free: not found")
}

func TestSampleFailureStopsMonitor(t *testing.T) {
	rec := &recorder{}
	m := monitor.New(&monitor.Opts{
		Source: failingSource{}, Drainer: rec, Threshold: 0.8, Interval: time.Millisecond,
	})
	err := m.Run(context.Background(), make(chan struct{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sampling memory")
	assert.Empty(t, rec.snapshot())
}

func TestStopsWithoutSamplingWhenAlreadyDone(t *testing.T) {
	rec := &recorder{}
	m := monitor.New(&monitor.Opts{
		Source: rec, Drainer: rec, Threshold: 0.8, Interval: time.Millisecond,
	})
	done := make(chan struct{})
	close(done)
	require.NoError(t, m.Run(context.Background(), done))
	assert.Zero(t, m.Samples())
}

func TestContextCancelStopsMonitor(t *testing.T) {
	rec := &recorder{}
	m := monitor.New(&monitor.Opts{
		Source: rec, Drainer: rec, Threshold: 0.8, Interval: time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx, make(chan struct{})) }()

	require.Eventually(t, func() bool { return m.Samples() == 1 }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after cancel")
	}
}

// kmapSource rewrites the fake kmap before every sample and always reports pressure.
type kmapSource struct {
	t      *testing.T
	dir    string
	n      int
	chunks []string
}

func (s *kmapSource) Sample(ctx context.Context) (sysmem.Sample, error) {
	s.n++
	chunk := "window-" + strconv.Itoa(s.n) + "\n"
	s.chunks = append(s.chunks, chunk)
	kerneltest.SetKmap(s.t, s.dir, chunk)
	return sysmem.Sample{Total: 100, Used: 90}, nil
}

func TestArtifactIsConcatenationOfDrains(t *testing.T) {
	dir := kerneltest.NewDir(t, "")
	artifact := filepath.Join(t.TempDir(), "test.kmap")
	src := &kmapSource{t: t, dir: dir}
	m := monitor.New(&monitor.Opts{
		Source:    src,
		Drainer:   kernel.New(kernel.Options{Dir: dir}),
		Artifact:  artifact,
		Threshold: 0.8,
		Interval:  time.Millisecond,
	})
	done, errc := start(t, m)
	require.Eventually(t, func() bool { return m.Drains() >= 4 }, 2*time.Second, time.Millisecond)
	close(done)
	require.NoError(t, <-errc)

	var want string
	for _, c := range src.chunks[:m.Drains()] {
		want += c
	}
	got, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))
	assert.Equal(t, "1", kerneltest.Value(t, dir, kernel.EntryClearPrintedList))
}
