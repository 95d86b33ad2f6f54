// Package cache persists assembled operators on disk, keyed by the canonical
// hash of the physical parameters and mesh that produced them.
//
// The cache is not safe for concurrent use by several processes sharing one
// directory: two processes missing on the same key both build and the last
// rename wins. Files are always replaced atomically, so readers never see a
// partial matrix.
package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/notargets/KrylovStepper/fileio"
	"github.com/notargets/KrylovStepper/simerr"
	"github.com/notargets/KrylovStepper/spmat"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	fileExt      = ".coo"
	manifestName = "manifest.yaml"
)

// Builder assembles an operator on a cache miss
type Builder func() (*spmat.CSR, error)

// Result reports how GetOrBuild satisfied a request
type Result struct {
	Hit  bool
	Path string
}

// Entry describes one cached operator in the manifest
type Entry struct {
	Name    string    `yaml:"name"`
	Rows    int       `yaml:"rows"`
	Cols    int       `yaml:"cols"`
	NNZ     int       `yaml:"nnz"`
	Created time.Time `yaml:"created"`
}

// Manifest indexes the cache directory. It is informational: lookups go by
// file name, so a lost manifest only loses the descriptions.
type Manifest struct {
	Entries map[string]Entry `yaml:"entries"`
}

type Cache struct {
	dir string
	log *logrus.Logger
}

// New opens (creating if needed) a cache directory
func New(dir string, logger *logrus.Logger) (*Cache, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if dir == "" {
		return nil, simerr.Configuration("cache directory not set")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Cache{dir: dir, log: logger}, nil
}

// Dir returns the cache directory
func (c *Cache) Dir() string { return c.dir }

// Path returns the file holding key
func (c *Cache) Path(key string) string {
	return filepath.Join(c.dir, key+fileExt)
}

func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return simerr.Configuration("invalid cache key %q", key)
	}
	return nil
}

// GetOrBuild returns the operator stored under key, or builds, persists and
// returns it. A file that cannot be decoded is logged and rebuilt.
func (c *Cache) GetOrBuild(key string, build Builder) (*spmat.CSR, Result, error) {
	if err := validKey(key); err != nil {
		return nil, Result{}, err
	}
	path := c.Path(key)
	log := c.log.WithFields(logrus.Fields{"key": key, "path": path})

	a, err := load(path)
	switch {
	case err == nil:
		r, cl := a.Dims()
		log.WithFields(logrus.Fields{"rows": r, "cols": cl, "nnz": a.NNZ()}).Info("operator cache hit")
		return a, Result{Hit: true, Path: path}, nil
	case errors.Is(err, os.ErrNotExist):
		log.Info("operator cache miss")
	default:
		log.WithError(err).Warn("unreadable cache entry, rebuilding")
	}

	start := time.Now()
	a, err = build()
	if err != nil {
		return nil, Result{}, fmt.Errorf("build operator %s: %w", key, err)
	}
	if err := fileio.WriteAtomic(path, func(w io.Writer) error {
		return spmat.WriteTriplets(w, a)
	}); err != nil {
		return nil, Result{}, fmt.Errorf("persist operator %s: %w", key, err)
	}
	r, cl := a.Dims()
	if err := c.record(key, Entry{Name: operatorName(key), Rows: r, Cols: cl, NNZ: a.NNZ(), Created: time.Now().UTC()}); err != nil {
		log.WithError(err).Warn("manifest update failed")
	}
	log.WithFields(logrus.Fields{"nnz": a.NNZ(), "elapsed": time.Since(start)}).Info("operator built and cached")
	return a, Result{Hit: false, Path: path}, nil
}

func load(path string) (*spmat.CSR, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return spmat.ReadTriplets(f)
}

// operatorName strips the hash suffix from a key
func operatorName(key string) string {
	if i := strings.LastIndexByte(key, '-'); i > 0 {
		return key[:i]
	}
	return key
}

// Manifest reads the manifest; a missing manifest is empty
func (c *Cache) Manifest() (Manifest, error) {
	m := Manifest{Entries: map[string]Entry{}}
	data, err := os.ReadFile(filepath.Join(c.dir, manifestName))
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{Entries: map[string]Entry{}}, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Entries == nil {
		m.Entries = map[string]Entry{}
	}
	return m, nil
}

func (c *Cache) record(key string, e Entry) error {
	m, err := c.Manifest()
	if err != nil {
		c.log.WithError(err).Warn("discarding unreadable manifest")
	}
	m.Entries[key] = e
	data, err := yaml.Marshal(&m)
	if err != nil {
		return err
	}
	return fileio.WriteAtomic(filepath.Join(c.dir, manifestName), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
