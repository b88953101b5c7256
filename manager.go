package bucketdb

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/bucketdb/blobstore"
	"github.com/hupe1980/bucketdb/cache"
	"github.com/hupe1980/bucketdb/fs"
	"github.com/hupe1980/bucketdb/index"
	"github.com/hupe1980/bucketdb/ledger"
	"github.com/hupe1980/bucketdb/resource"
)

const (
	bucketDataExt  = ".xdr"
	bucketIndexExt = ".index"
)

// BucketManager is the collaborator that owns directories, shutdown state,
// merge statistics and bucket adoption. Manager is the production
// implementation; tests may substitute their own.
type BucketManager interface {
	// FS returns the file system buckets live on.
	FS() fs.FileSystem

	// TmpDir returns the directory for not-yet-adopted temp buckets.
	TmpDir() string

	// IsShutdown reports whether in-flight merges should abort.
	IsShutdown() bool

	// IncrMergeCounters accumulates merge statistics.
	IncrMergeCounters(MergeCounters)

	// Adopt moves a sealed temp bucket to its content-addressed location
	// and returns the published handle. mk, when non-nil, identifies the
	// merge that produced the bucket.
	Adopt(ctx context.Context, b *Bucket, mk *MergeKey) (*Bucket, error)

	// Controller returns the resource controller; may be nil for no limits.
	Controller() *resource.Controller
}

// randomBucketPath picks a collision-free temp file name of the form
// tmp-bucket-<16 hex chars><ext>.
func randomBucketPath(fsys fs.FileSystem, tmpDir, ext string) (string, error) {
	for {
		var rb [8]byte
		if _, err := rand.Read(rb[:]); err != nil {
			return "", err
		}
		name := filepath.Join(tmpDir, "tmp-bucket-"+hex.EncodeToString(rb[:])+ext)
		_, err := fsys.Stat(name)
		if errors.Is(err, os.ErrNotExist) {
			return name, nil
		}
		if err != nil {
			return "", err
		}
		// Name taken; retry.
	}
}

// RandomBucketName returns a fresh temp data-file path in tmpDir.
func RandomBucketName(fsys fs.FileSystem, tmpDir string) (string, error) {
	return randomBucketPath(fsys, tmpDir, bucketDataExt)
}

// RandomBucketIndexName returns a fresh temp index-file path in tmpDir.
func RandomBucketIndexName(fsys fs.FileSystem, tmpDir string) (string, error) {
	return randomBucketPath(fsys, tmpDir, bucketIndexExt)
}

// Manager is the production BucketManager: it owns the bucket directory and
// temp dir, adopts sealed buckets under content-addressed names, dedups
// concurrent identical merges, optionally archives published buckets to
// blob stores, and aggregates merge counters.
type Manager struct {
	fsys     fs.FileSystem
	dir      string
	tmpDir   string
	rc       *resource.Controller
	obs      MetricsObserver
	logger   *slog.Logger
	archives []blobstore.BlobStore
	blocks   cache.BlockCache

	shutdown atomic.Bool

	mu       sync.Mutex
	counters MergeCounters

	merges singleflight.Group
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithFileSystem substitutes the file system (e.g. a FaultyFS in tests).
func WithFileSystem(fsys fs.FileSystem) ManagerOption {
	return func(m *Manager) { m.fsys = fsys }
}

// WithController sets the resource controller gating merges.
func WithController(rc *resource.Controller) ManagerOption {
	return func(m *Manager) { m.rc = rc }
}

// WithMetricsObserver sets the metrics sink.
func WithMetricsObserver(obs MetricsObserver) ManagerOption {
	return func(m *Manager) { m.obs = obs }
}

// WithArchive adds a blob store that receives a copy of every adopted
// bucket. May be given multiple times; archival fans out concurrently.
func WithArchive(store blobstore.BlobStore) ManagerOption {
	return func(m *Manager) { m.archives = append(m.archives, store) }
}

// WithSharedBlockCache attaches a block cache to every adopted bucket.
func WithSharedBlockCache(c cache.BlockCache) ManagerOption {
	return func(m *Manager) { m.blocks = c }
}

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager rooted at dir, with temp buckets under
// dir/tmp.
func NewManager(dir string, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		fsys:   fs.Default,
		dir:    dir,
		tmpDir: filepath.Join(dir, "tmp"),
		obs:    &NoopMetricsObserver{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.fsys.MkdirAll(m.tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("bucketdb: create tmp dir: %w", err)
	}
	return m, nil
}

// FS implements BucketManager.
func (m *Manager) FS() fs.FileSystem { return m.fsys }

// TmpDir implements BucketManager.
func (m *Manager) TmpDir() string { return m.tmpDir }

// Dir returns the adopted-bucket directory.
func (m *Manager) Dir() string { return m.dir }

// Shutdown makes in-flight merges abort at their next poll.
func (m *Manager) Shutdown() { m.shutdown.Store(true) }

// IsShutdown implements BucketManager.
func (m *Manager) IsShutdown() bool { return m.shutdown.Load() }

// Controller implements BucketManager.
func (m *Manager) Controller() *resource.Controller { return m.rc }

// IncrMergeCounters implements BucketManager.
func (m *Manager) IncrMergeCounters(mc MergeCounters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.Add(mc)
}

// MergeCounters returns the accumulated merge statistics.
func (m *Manager) MergeCounters() MergeCounters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// Adopt implements BucketManager: the temp file moves to
// bucket-<hex hash>.xdr in the manager's directory. Adopting a hash that
// already exists discards the temp file and reuses the published copy.
func (m *Manager) Adopt(ctx context.Context, b *Bucket, mk *MergeKey) (*Bucket, error) {
	if b.IsEmpty() {
		return b, nil
	}

	name := fmt.Sprintf("bucket-%x%s", b.Hash(), bucketDataExt)
	dest := filepath.Join(m.dir, name)

	if _, err := m.fsys.Stat(dest); err == nil {
		if err := m.fsys.Remove(b.Filename()); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	} else if err := m.fsys.Rename(b.Filename(), dest); err != nil {
		return nil, fmt.Errorf("bucketdb: adopt %x: %w", b.Hash(), err)
	}

	var opts []BucketOption
	if m.blocks != nil {
		opts = append(opts, WithBlockCache(m.blocks))
	}
	adopted, err := NewBucket(m.fsys, dest, b.Hash(), opts...)
	if err != nil {
		return nil, err
	}

	m.obs.OnThroughput("bucket_adopt", adopted.Size())
	if mk != nil {
		m.logger.Debug("bucket adopted", "hash", fmt.Sprintf("%x", b.Hash()), "merge", mk.String())
	}

	if len(m.archives) > 0 {
		if err := m.archive(ctx, adopted, name); err != nil {
			return nil, err
		}
	}
	return adopted, nil
}

// archive fans the adopted bucket out to every configured blob store.
func (m *Manager) archive(ctx context.Context, b *Bucket, name string) error {
	r, err := b.OpenStream()
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	data := make([]byte, b.Size())
	if _, err := io.ReadFull(io.NewSectionReader(r, 0, b.Size()), data); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, store := range m.archives {
		g.Go(func() error {
			return store.Put(gctx, name, data)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("bucketdb: archive %s: %w", name, err)
	}
	m.obs.OnThroughput("bucket_archive", int64(len(data))*int64(len(m.archives)))
	return nil
}

// ResolveMerge dedups concurrent identical merges: all callers presenting
// the same merge key share one execution of fn.
func (m *Manager) ResolveMerge(mk MergeKey, fn func() (*Bucket, error)) (*Bucket, error) {
	v, err, _ := m.merges.Do(mk.String(), func() (any, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return v.(*Bucket), nil
}

// SaveBucketIndex persists b's index beside the bucket file, so a restart
// can reattach it without rescanning the bucket.
func (m *Manager) SaveBucketIndex(b *Bucket) error {
	idx, err := b.Index()
	if err != nil {
		return err
	}
	ri, ok := idx.(*index.RangeIndex)
	if !ok {
		return fmt.Errorf("bucketdb: index of %x is not persistable", b.Hash())
	}
	name := fmt.Sprintf("bucket-%x%s", b.Hash(), bucketIndexExt)
	return ri.SaveFile(m.fsys, filepath.Join(m.dir, name))
}

// LoadBucketIndex reattaches a previously saved index to b.
func (m *Manager) LoadBucketIndex(b *Bucket) error {
	name := fmt.Sprintf("bucket-%x%s", b.Hash(), bucketIndexExt)
	idx, err := index.LoadFile(m.fsys, filepath.Join(m.dir, name))
	if err != nil {
		return err
	}
	return b.SetIndex(idx)
}

// OpenBucket reopens a previously adopted bucket by hash.
func (m *Manager) OpenBucket(hash ledger.Hash) (*Bucket, error) {
	name := fmt.Sprintf("bucket-%x%s", hash, bucketDataExt)
	var opts []BucketOption
	if m.blocks != nil {
		opts = append(opts, WithBlockCache(m.blocks))
	}
	return NewBucket(m.fsys, filepath.Join(m.dir, name), hash, opts...)
}
