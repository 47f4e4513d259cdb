package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dirSource struct {
	root  string
	names []string
}

func (d dirSource) ListServers() ([]string, error) { return d.names, nil }
func (d dirSource) ServerDir(name string) (string, error) {
	return filepath.Join(d.root, name), nil
}

// countingSource tracks how many runs overlap.
type countingSource struct {
	dirSource
	mu      sync.Mutex
	active  int
	maxSeen int
	runs    atomic.Int32
}

func (c *countingSource) ListServers() ([]string, error) {
	c.mu.Lock()
	c.active++
	c.maxSeen = max(c.maxSeen, c.active)
	c.mu.Unlock()
	c.runs.Add(1)
	time.Sleep(5 * time.Millisecond)
	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	return nil, nil
}

func TestRunOnce_ArchivesAllAndIsolatesFailures(t *testing.T) {
	root := t.TempDir()
	for _, n := range []string{"a", "b", "c"} {
		writeFile(t, filepath.Join(root, n, "server.properties"), n)
	}
	src := dirSource{root: root, names: []string{"a", "b", "c", "missing"}}
	a := NewArchiver(t.TempDir(), nil)
	s := NewScheduler(a, src, 10, 2, nil)

	res := s.RunOnce(context.Background())
	assert.Len(t, res.Created, 3)
	require.Len(t, res.Failed, 1)
	assert.Contains(t, res.Failed, "missing")

	list, err := a.List()
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestRunOnce_Prunes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "f"), "x")
	a := NewArchiver(t.TempDir(), nil)
	old := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		ts := old.Add(time.Duration(i) * time.Minute)
		a.now = fixedClock(ts)
		info, err := a.Create(context.Background(), "a", filepath.Join(root, "a"))
		require.NoError(t, err)
		require.NoError(t, os.Chtimes(info.Path, ts, ts))
	}
	a.now = time.Now
	s := NewScheduler(a, dirSource{root: root, names: []string{"a"}}, 2, 1, nil)
	res := s.RunOnce(context.Background())
	require.Len(t, res.Created, 1)
	assert.Len(t, res.Pruned, 2)

	list, _ := a.List()
	require.Len(t, list, 2)
	assert.Equal(t, res.Created[0].Name, list[0].Name)
}

func TestScheduler_EnableDisable(t *testing.T) {
	src := &countingSource{}
	s := NewScheduler(NewArchiver(t.TempDir(), nil), src, 10, 2, nil)

	assert.False(t, s.Status().Enabled)
	s.Enable(10 * time.Millisecond)
	st := s.Status()
	assert.True(t, st.Enabled)
	assert.Equal(t, 10*time.Millisecond, st.Interval)
	assert.False(t, st.NextRun.IsZero())

	require.Eventually(t, func() bool { return src.runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	// re-enabling joins the previous loop before starting a new one
	for i := 0; i < 5; i++ {
		s.Enable(time.Duration(5+i) * time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)
	s.Disable()

	src.mu.Lock()
	maxSeen := src.maxSeen
	src.mu.Unlock()
	assert.Equal(t, 1, maxSeen, "two scheduler loops ran concurrently")

	after := src.runs.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, src.runs.Load(), "no runs after Disable returns")
	assert.False(t, s.Status().Enabled)
	assert.True(t, s.Status().NextRun.IsZero())
}

func TestScheduler_DisableIdle(t *testing.T) {
	s := NewScheduler(NewArchiver(t.TempDir(), nil), dirSource{}, 0, 0, nil)
	s.Disable()
	s.Enable(0)
	assert.False(t, s.Enabled())
	s.Enable(time.Hour)
	assert.True(t, s.Enabled())
	s.Disable()
	assert.False(t, s.Enabled())
}

type failingSource struct{}

func (failingSource) ListServers() ([]string, error) { return nil, errors.New("boom") }
func (failingSource) ServerDir(string) (string, error) { return "", nil }

func TestRunOnce_ListError(t *testing.T) {
	s := NewScheduler(NewArchiver(t.TempDir(), nil), failingSource{}, 0, 0, nil)
	res := s.RunOnce(context.Background())
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Failed)
}
