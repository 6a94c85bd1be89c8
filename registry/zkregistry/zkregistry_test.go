package zkregistry

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lzww0608/gflake"
	"github.com/Lzww0608/gflake/registry"
)

// fakeReader is an in-memory znode tree
type fakeReader struct {
	nodes map[string][]byte
	err   error
	reads int
}

func (f *fakeReader) Exists(path string) (bool, *zk.Stat, error) {
	if f.err != nil {
		return false, nil, f.err
	}
	_, ok := f.nodes[path]
	return ok, &zk.Stat{}, nil
}

func (f *fakeReader) Get(path string) ([]byte, *zk.Stat, error) {
	f.reads++
	if f.err != nil {
		return nil, nil, f.err
	}
	data, ok := f.nodes[path]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return data, &zk.Stat{}, nil
}

func newTestRegistry(t *testing.T, reader *fakeReader, opts ...Option) *Registry {
	t.Helper()
	return New(reader, append([]Option{WithCacheDir(t.TempDir())}, opts...)...)
}

func TestLookup(t *testing.T) {
	reader := &fakeReader{nodes: map[string][]byte{
		"/gflake/orders/pod-1": []byte(`{"data_center": 3, "worker": 17}`),
	}}
	r := newTestRegistry(t, reader)

	a, err := r.Lookup(context.Background(), "orders", "pod-1")
	require.NoError(t, err)
	assert.Equal(t, registry.Assignment{DataCenter: 3, Worker: 17}, a)
	assert.Equal(t, 1, reader.reads)
}

func TestLookup_CustomRoot(t *testing.T) {
	reader := &fakeReader{nodes: map[string][]byte{
		"/ids/prod/orders/pod-1": []byte(`{"data_center": 1, "worker": 2}`),
	}}
	r := newTestRegistry(t, reader, WithRoot("ids/prod/"))

	a, err := r.Lookup(context.Background(), "orders", "pod-1")
	require.NoError(t, err)
	assert.Equal(t, registry.Assignment{DataCenter: 1, Worker: 2}, a)
}

func TestLookup_NotAssigned(t *testing.T) {
	r := newTestRegistry(t, &fakeReader{nodes: map[string][]byte{}})

	_, err := r.Lookup(context.Background(), "orders", "pod-1")
	assert.ErrorIs(t, err, registry.ErrNotAssigned)
}

func TestLookup_InvalidData(t *testing.T) {
	reader := &fakeReader{nodes: map[string][]byte{
		"/gflake/orders/garbage":  []byte(`not json`),
		"/gflake/orders/negative": []byte(`{"data_center": 0, "worker": -4}`),
	}}
	r := newTestRegistry(t, reader)

	_, err := r.Lookup(context.Background(), "orders", "garbage")
	assert.ErrorIs(t, err, registry.ErrInvalidAssignment)

	_, err = r.Lookup(context.Background(), "orders", "negative")
	assert.ErrorIs(t, err, registry.ErrInvalidAssignment)
}

func TestLookup_FallsBackToCache(t *testing.T) {
	reader := &fakeReader{nodes: map[string][]byte{
		"/gflake/orders/pod-1": []byte(`{"data_center": 3, "worker": 17}`),
	}}
	r := newTestRegistry(t, reader)

	_, err := r.Lookup(context.Background(), "orders", "pod-1")
	require.NoError(t, err)

	reader.err = zk.ErrNoServer
	a, err := r.Lookup(context.Background(), "orders", "pod-1")
	require.NoError(t, err)
	assert.Equal(t, registry.Assignment{DataCenter: 3, Worker: 17}, a)
}

func TestLookup_CacheMissing(t *testing.T) {
	r := newTestRegistry(t, &fakeReader{err: zk.ErrNoServer})

	_, err := r.Lookup(context.Background(), "orders", "pod-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, zk.ErrNoServer)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLookup_CacheDisabled(t *testing.T) {
	r := New(&fakeReader{err: zk.ErrConnectionClosed}, WithCacheDir(""))

	_, err := r.Lookup(context.Background(), "orders", "pod-1")
	assert.ErrorIs(t, err, zk.ErrConnectionClosed)
}

func TestLookup_CacheClockRegression(t *testing.T) {
	reader := &fakeReader{nodes: map[string][]byte{
		"/gflake/orders/pod-1": []byte(`{"data_center": 3, "worker": 17}`),
	}}
	r := newTestRegistry(t, reader)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	_, err := r.Lookup(context.Background(), "orders", "pod-1")
	require.NoError(t, err)

	reader.err = zk.ErrNoServer
	now = now.Add(-time.Minute)
	_, err = r.Lookup(context.Background(), "orders", "pod-1")
	assert.ErrorIs(t, err, gflake.ErrClockRegression)
}

func TestLookup_CacheFileName(t *testing.T) {
	dir := t.TempDir()
	reader := &fakeReader{nodes: map[string][]byte{
		"/gflake/team/orders/pod-1": []byte(`{"data_center": 1, "worker": 1}`),
	}}
	r := New(reader, WithCacheDir(dir))

	_, err := r.Lookup(context.Background(), "team/orders", "pod-1")
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Regexp(t, `^\.gflake_cache_[0-9a-f]{32}\.json$`, entries[0].Name())
}

func TestLookup_CacheFilesDoNotCollide(t *testing.T) {
	pairs := [][2]string{{"a_b", "c"}, {"a", "b_c"}, {"a/b", "c"}, {"a", "b/c"}}
	seen := make(map[string][2]string)
	r := New(nil, WithCacheDir(t.TempDir()))
	for _, p := range pairs {
		name := r.cacheFile(p[0], p[1])
		other, dup := seen[name]
		assert.False(t, dup, "%v and %v share cache file %s", p, other, name)
		seen[name] = p
	}
}

func TestLookup_CacheOfOtherInstanceIgnored(t *testing.T) {
	dir := t.TempDir()
	up := New(&fakeReader{nodes: map[string][]byte{
		"/gflake/a_b/c": []byte(`{"data_center": 1, "worker": 1}`),
	}}, WithCacheDir(dir))
	_, err := up.Lookup(context.Background(), "a_b", "c")
	require.NoError(t, err)

	down := New(&fakeReader{err: zk.ErrNoServer}, WithCacheDir(dir))
	_, err = down.Lookup(context.Background(), "a", "b_c")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	// a cache file renamed onto another instance is rejected by its content
	require.NoError(t, os.Rename(up.cacheFile("a_b", "c"), down.cacheFile("a", "b_c")))
	_, err = down.Lookup(context.Background(), "a", "b_c")
	assert.ErrorIs(t, err, registry.ErrInvalidAssignment)
}

func TestLookup_ContextCancelled(t *testing.T) {
	reader := &fakeReader{nodes: map[string][]byte{}}
	r := newTestRegistry(t, reader)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Lookup(ctx, "orders", "pod-1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, reader.reads)
}

func TestIdentity(t *testing.T) {
	reader := &fakeReader{nodes: map[string][]byte{
		"/gflake/orders/pod-1": []byte(`{"data_center": 3, "worker": 17}`),
	}}
	r := newTestRegistry(t, reader)

	node, err := r.Identity(context.Background(), gflake.DefaultLayout, "orders", "pod-1", gflake.SpinWaitPolicy())
	require.NoError(t, err)
	assert.Equal(t, int64(3), node.DataCenter())
	assert.Equal(t, int64(17), node.Worker())

	// worker 17 does not fit in 4 worker bits
	_, err = r.Identity(context.Background(), gflake.MustBitLayout(43, 4, 4, 12), "orders", "pod-1", gflake.SpinWaitPolicy())
	assert.ErrorIs(t, err, gflake.ErrConfiguration)
}

func TestClose(t *testing.T) {
	closed := false
	r := New(&fakeReader{})
	r.Close()

	r.closeFn = func() { closed = true }
	r.Close()
	assert.True(t, closed)
}
