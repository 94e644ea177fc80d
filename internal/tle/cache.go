package tle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ErrNoCache is returned by LoadLatest when nothing has been cached yet.
var ErrNoCache = errors.New("no cached element text")

const defaultCacheFiles = 5

// Cache keeps the last few downloads of raw element text on disk so a
// provider can warm-start while its network source is down. Files are named
// <prefix>_<unix seconds>.txt, so several providers may share one directory.
type Cache struct {
	dir    string
	prefix string
	keep   int
}

// NewCache creates a cache in dir that keeps at most keep files for prefix.
func NewCache(dir, prefix string, keep int) *Cache {
	if keep <= 0 {
		keep = defaultCacheFiles
	}
	if prefix == "" {
		prefix = "tle"
	}
	return &Cache{dir: dir, prefix: prefix, keep: keep}
}

// Write stores data as the snapshot taken at ts, then drops the oldest files
// beyond the retention count. The file appears atomically.
func (c *Cache) Write(data []byte, ts time.Time) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, c.prefix+"_*.tmp")
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(ts.Unix())); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit cache file: %w", err)
	}

	stamps, err := c.stamps()
	if err != nil {
		return err
	}
	for len(stamps) > c.keep {
		if err := os.Remove(c.path(stamps[0])); err != nil {
			return fmt.Errorf("prune cache: %w", err)
		}
		stamps = stamps[1:]
	}
	return nil
}

// LoadLatest returns the most recent file and the time it was written for.
func (c *Cache) LoadLatest() ([]byte, time.Time, error) {
	stamps, err := c.stamps()
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(stamps) == 0 {
		return nil, time.Time{}, fmt.Errorf("%w for %s in %s", ErrNoCache, c.prefix, c.dir)
	}

	newest := stamps[len(stamps)-1]
	data, err := os.ReadFile(c.path(newest))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read cache file: %w", err)
	}
	return data, time.Unix(newest, 0).UTC(), nil
}

func (c *Cache) path(unix int64) string {
	return filepath.Join(c.dir, c.prefix+"_"+strconv.FormatInt(unix, 10)+".txt")
}

// stamps lists the unix times of this prefix's files, oldest first. A missing
// directory is an empty cache.
func (c *Cache) stamps() ([]int64, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, c.prefix+"_*.txt"))
	if err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}

	stamps := make([]int64, 0, len(matches))
	for _, m := range matches {
		stem := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), c.prefix+"_"), ".txt")
		if unix, err := strconv.ParseInt(stem, 10, 64); err == nil {
			stamps = append(stamps, unix)
		}
	}
	slices.Sort(stamps)
	return stamps, nil
}
