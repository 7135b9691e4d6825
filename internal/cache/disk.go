package cache

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	platformerrors "github.com/jmgilman/go/errors"

	"iss-tracker-gateway/internal/fetch"
)

// DiskStorage persists stores on a billy filesystem: one directory per
// store (base64url of the name) and one JSON file per entry (sha256 of the
// key). Writes go through a temp file and a rename so a crash never leaves
// a torn entry behind.
type DiskStorage struct {
	fs billy.Filesystem
	mu sync.RWMutex
}

func NewDiskStorage(fs billy.Filesystem) *DiskStorage {
	return &DiskStorage{fs: fs}
}

func dirFor(name string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}

func fileFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + ".json"
}

func (s *DiskStorage) Open(_ context.Context, name string) (Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := dirFor(name)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase, "create cache directory")
	}
	return &DiskStore{storage: s, name: name, dir: dir}, nil
}

func (s *DiskStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.fs.Stat(dirFor(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, platformerrors.Wrap(err, platformerrors.CodeDatabase, "stat cache directory")
	}
	return true, nil
}

func (s *DiskStorage) Delete(ctx context.Context, name string) (bool, error) {
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := util.RemoveAll(s.fs, dirFor(name)); err != nil {
		return false, platformerrors.Wrap(err, platformerrors.CodeDatabase, "remove cache directory")
	}
	return true, nil
}

func (s *DiskStorage) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos, err := s.fs.ReadDir("/")
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase, "list cache directories")
	}

	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		if !fi.IsDir() {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(fi.Name())
		if err != nil {
			continue // not ours
		}
		names = append(names, string(raw))
	}
	sort.Strings(names)
	return names, nil
}

// DiskStore is one named cache directory.
type DiskStore struct {
	storage *DiskStorage
	name    string
	dir     string
}

func (c *DiskStore) Name() string { return c.name }

func (c *DiskStore) Match(_ context.Context, key string) (*fetch.Response, error) {
	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()

	b, err := util.ReadFile(c.storage.fs, path.Join(c.dir, fileFor(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase, "read cache entry")
	}

	rec, err := decodeRecord(b)
	if err != nil {
		return nil, err
	}
	if rec.Key != key {
		// sha256 collision or a foreign file; treat as a miss.
		return nil, nil
	}
	return rec.Response, nil
}

func (c *DiskStore) Put(_ context.Context, key string, resp *fetch.Response) error {
	b, err := encodeRecord(key, resp)
	if err != nil {
		return err
	}

	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()

	final := path.Join(c.dir, fileFor(key))
	tmp := final + ".tmp"
	if err := util.WriteFile(c.storage.fs, tmp, b, 0o644); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeDatabase, "write cache entry")
	}
	if err := c.storage.fs.Rename(tmp, final); err != nil {
		_ = c.storage.fs.Remove(tmp)
		return platformerrors.Wrap(err, platformerrors.CodeDatabase, "commit cache entry")
	}
	return nil
}

func (c *DiskStore) Delete(_ context.Context, key string) (bool, error) {
	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()

	err := c.storage.fs.Remove(path.Join(c.dir, fileFor(key)))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, platformerrors.Wrap(err, platformerrors.CodeDatabase, "remove cache entry")
	}
	return true, nil
}

func (c *DiskStore) Keys(_ context.Context) ([]string, error) {
	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()

	infos, err := c.storage.fs.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase, "list cache entries")
	}

	keys := make([]string, 0, len(infos))
	for _, fi := range infos {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), ".json") {
			continue
		}
		b, err := util.ReadFile(c.storage.fs, path.Join(c.dir, fi.Name()))
		if err != nil {
			return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase, "read cache entry")
		}
		rec, err := decodeRecord(b)
		if err != nil {
			return nil, err
		}
		keys = append(keys, rec.Key)
	}
	sort.Strings(keys)
	return keys, nil
}
