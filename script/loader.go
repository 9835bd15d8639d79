package script

import (
	"context"
	"io/fs"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/wippyai/entity-scripting/engine"
	"github.com/wippyai/entity-scripting/errors"
)

// Loader reads script modules from a content store and caches them per path.
// Safe for concurrent use.
type Loader struct {
	fsys    fs.FS
	eng     *engine.Engine
	cache   *DiskCache
	modules sync.Map
	group   singleflight.Group
}

// NewLoader returns a loader reading from fsys and compiling with eng. eng
// must have the entity world's host modules defined (see DefineHost). cache
// may be nil.
func NewLoader(fsys fs.FS, eng *engine.Engine, cache *DiskCache) *Loader {
	return &Loader{fsys: fsys, eng: eng, cache: cache}
}

// Engine returns the engine modules are compiled with.
func (l *Loader) Engine() *engine.Engine {
	return l.eng
}

// Load returns the module at path, reading it on first use. Concurrent loads
// of one path share a single read.
func (l *Loader) Load(ctx context.Context, path string) (*Module, error) {
	if m, ok := l.modules.Load(path); ok {
		return m.(*Module), nil
	}
	v, err, _ := l.group.Do(path, func() (any, error) {
		if m, ok := l.modules.Load(path); ok {
			return m, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := fs.ReadFile(l.fsys, path)
		if err != nil {
			return nil, errors.ScriptLoad(errors.PhaseLoad, "read "+path, err)
		}
		m := NewModule(path, data, l.cache)
		l.modules.Store(path, m)
		Logger().Debug("script loaded", zap.String("path", path), zap.Int("bytes", len(data)))
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Module), nil
}

// Compile loads, encodes and compiles the module at path.
func (l *Loader) Compile(ctx context.Context, path string) (*engine.Module, error) {
	m, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	comp, err := m.Component()
	if err != nil {
		return nil, err
	}
	return l.eng.Compile(ctx, comp)
}

// Guest returns a fresh, unconstructed guest for the module at path.
func (l *Loader) Guest(ctx context.Context, path string) (Guest, error) {
	cm, err := l.Compile(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewWasmGuest(cm), nil
}

// Preload compiles paths in parallel and returns the first failure.
func (l *Loader) Preload(ctx context.Context, paths ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, p := range paths {
		g.Go(func() error {
			_, err := l.Compile(ctx, p)
			return err
		})
	}
	return g.Wait()
}
