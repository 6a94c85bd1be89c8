// Package zkregistry reads node assignments from ZooKeeper.
//
// The assignment of an instance is a JSON document stored at
// <root>/<service>/<instance>:
//
//	{"data_center": 3, "worker": 17}
//
// Every successful read is copied to a local cache file. When ZooKeeper cannot
// be reached the cached assignment is used instead, provided the local clock
// has not moved behind the time it was cached.
package zkregistry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/Lzww0608/gflake"
	"github.com/Lzww0608/gflake/registry"
)

// DefaultRoot is the parent znode of all services
const DefaultRoot = "/gflake"

// Reader is the subset of *zk.Conn used by the registry
type Reader interface {
	Exists(path string) (bool, *zk.Stat, error)
	Get(path string) ([]byte, *zk.Stat, error)
}

// cacheEntry is the local cache file content
type cacheEntry struct {
	registry.Assignment
	Service  string `json:"service"`
	Instance string `json:"instance"`
	LastTime int64  `json:"last_time"` // unix milliseconds of the last successful read
}

// Registry looks up assignments in ZooKeeper
type Registry struct {
	conn     Reader
	root     string
	cacheDir string
	logger   *slog.Logger
	now      func() time.Time
	closeFn  func()
}

// Option configures a Registry
type Option func(*Registry)

// WithRoot sets the parent znode, DefaultRoot by default
func WithRoot(root string) Option {
	return func(r *Registry) {
		r.root = root
	}
}

// WithCacheDir sets the directory of the local cache files. An empty dir
// disables the cache. The default is the working directory.
func WithCacheDir(dir string) Option {
	return func(r *Registry) {
		r.cacheDir = dir
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New returns a Registry reading through conn
func New(conn Reader, opts ...Option) *Registry {
	r := &Registry{
		conn:     conn,
		root:     DefaultRoot,
		cacheDir: ".",
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.root = "/" + strings.Trim(r.root, "/")
	return r
}

// Connect dials the ZooKeeper ensemble and returns a Registry that owns the
// connection. Call Close when done.
func Connect(servers []string, sessionTimeout time.Duration, opts ...Option) (*Registry, error) {
	r := New(nil, opts...)
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(zkLogger{r.logger}))
	if err != nil {
		return nil, fmt.Errorf("zkregistry: connect: %w", err)
	}
	r.conn = conn
	r.closeFn = conn.Close
	return r, nil
}

// Close closes a connection opened by Connect
func (r *Registry) Close() {
	if r.closeFn != nil {
		r.closeFn()
	}
}

// Lookup returns the assignment of service/instance
func (r *Registry) Lookup(ctx context.Context, service, instance string) (registry.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return registry.Assignment{}, err
	}
	nodePath := r.nodePath(service, instance)

	a, err := r.read(nodePath)
	switch {
	case err == nil:
		r.saveCache(service, instance, a)
		return a, nil
	case errors.Is(err, registry.ErrNotAssigned), errors.Is(err, registry.ErrInvalidAssignment):
		return registry.Assignment{}, err
	}

	r.logger.WarnContext(ctx, "zookeeper unavailable, using local cache",
		"path", nodePath, "error", err)
	cached, cacheErr := r.loadCache(service, instance)
	if cacheErr != nil {
		return registry.Assignment{}, fmt.Errorf("zkregistry: read %s: %w", nodePath, errors.Join(err, cacheErr))
	}
	return cached, nil
}

// Identity looks up the assignment and builds a node identity for layout
func (r *Registry) Identity(ctx context.Context, layout gflake.BitLayout, service, instance string, policy gflake.OverflowPolicy) (gflake.NodeIdentity, error) {
	return registry.Identity(ctx, r, layout, service, instance, policy)
}

func (r *Registry) nodePath(service, instance string) string {
	return path.Join(r.root, service, instance)
}

func (r *Registry) read(nodePath string) (registry.Assignment, error) {
	exists, _, err := r.conn.Exists(nodePath)
	if err != nil {
		return registry.Assignment{}, err
	}
	if !exists {
		return registry.Assignment{}, fmt.Errorf("%w: %s", registry.ErrNotAssigned, nodePath)
	}

	data, _, err := r.conn.Get(nodePath)
	if errors.Is(err, zk.ErrNoNode) {
		return registry.Assignment{}, fmt.Errorf("%w: %s", registry.ErrNotAssigned, nodePath)
	}
	if err != nil {
		return registry.Assignment{}, err
	}

	var a registry.Assignment
	if err := json.Unmarshal(data, &a); err != nil {
		return registry.Assignment{}, fmt.Errorf("%w: %s: %w", registry.ErrInvalidAssignment, nodePath, err)
	}
	if err := a.Validate(); err != nil {
		return registry.Assignment{}, err
	}
	return a, nil
}

// cacheFile names the cache of service/instance by a digest of both, so that
// no two instances share a file whatever characters their names contain.
func (r *Registry) cacheFile(service, instance string) string {
	sum := sha256.Sum256([]byte(service + "\x00" + instance))
	return filepath.Join(r.cacheDir, ".gflake_cache_"+hex.EncodeToString(sum[:16])+".json")
}

// saveCache writes the assignment to the local cache. Failures are logged only.
func (r *Registry) saveCache(service, instance string, a registry.Assignment) {
	if r.cacheDir == "" {
		return
	}
	data, err := json.Marshal(cacheEntry{
		Assignment: a,
		Service:    service,
		Instance:   instance,
		LastTime:   r.now().UnixMilli(),
	})
	if err == nil {
		err = os.WriteFile(r.cacheFile(service, instance), data, 0644)
	}
	if err != nil {
		r.logger.Warn("write local cache failed", "service", service, "instance", instance, "error", err)
	}
}

func (r *Registry) loadCache(service, instance string) (registry.Assignment, error) {
	if r.cacheDir == "" {
		return registry.Assignment{}, errors.New("zkregistry: local cache disabled")
	}
	data, err := os.ReadFile(r.cacheFile(service, instance))
	if err != nil {
		return registry.Assignment{}, err
	}
	var e cacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return registry.Assignment{}, fmt.Errorf("%w: local cache: %w", registry.ErrInvalidAssignment, err)
	}
	if e.Service != service || e.Instance != instance {
		return registry.Assignment{}, fmt.Errorf("%w: local cache belongs to %s/%s",
			registry.ErrInvalidAssignment, e.Service, e.Instance)
	}
	if now := r.now().UnixMilli(); now < e.LastTime {
		return registry.Assignment{}, fmt.Errorf("%w: local time %d is behind cached time %d",
			gflake.ErrClockRegression, now, e.LastTime)
	}
	if err := e.Assignment.Validate(); err != nil {
		return registry.Assignment{}, err
	}
	r.logger.Info("recovered assignment from local cache",
		"service", service, "instance", instance,
		"data_center", e.DataCenter, "worker", e.Worker)
	return e.Assignment, nil
}

// zkLogger forwards the client's log lines to slog
type zkLogger struct {
	l *slog.Logger
}

func (z zkLogger) Printf(format string, args ...interface{}) {
	z.l.Debug(fmt.Sprintf(format, args...), "component", "zk")
}
