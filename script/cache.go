package script

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/wippyai/entity-scripting/component"
	"github.com/wippyai/entity-scripting/errors"
)

// DiskCache stores encoded components as zstd files keyed by module hash, so
// encoding survives restarts. A nil *DiskCache is a cache that never hits.
type DiskCache struct {
	dir string
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewDiskCache creates dir if needed.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "create cache dir")
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindUnsupported, err, "create zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindUnsupported, err, "create zstd decoder")
	}
	return &DiskCache{dir: dir, enc: enc, dec: dec}, nil
}

func (c *DiskCache) path(key uint64) string {
	return filepath.Join(c.dir, fmt.Sprintf("%016x.component.zst", key))
}

// Get returns the cached component for key. Unreadable or corrupt entries
// are treated as misses.
func (c *DiskCache) Get(key uint64) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	data, err := c.dec.DecodeAll(raw, nil)
	if err != nil || !component.IsComponent(data) {
		Logger().Debug("discarding corrupt cache entry", zap.String("path", c.path(key)), zap.Error(err))
		return nil, false
	}
	return data, true
}

// Put stores data under key. The file is written atomically.
func (c *DiskCache) Put(key uint64, data []byte) error {
	if c == nil {
		return nil
	}
	f, err := os.CreateTemp(c.dir, "component-*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	_, err = f.Write(c.enc.EncodeAll(data, nil))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, c.path(key))
}
