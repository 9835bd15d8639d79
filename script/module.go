package script

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/wippyai/entity-scripting/component"
)

// Module is a loaded script asset: raw core module bytes plus the component
// encoding, produced at most once and reused by every instantiation.
type Module struct {
	Name string

	wasm  []byte
	key   uint64
	cache *DiskCache

	once    sync.Once
	comp    []byte
	err     error
	encodes atomic.Int32
}

// NewModule wraps raw core module bytes. cache may be nil.
func NewModule(name string, wasm []byte, cache *DiskCache) *Module {
	d := xxhash.New()
	_, _ = d.Write(wasm)
	_, _ = d.Write(worldWIT)
	return &Module{Name: name, wasm: wasm, key: d.Sum64(), cache: cache}
}

// Bytes returns the raw core module.
func (m *Module) Bytes() []byte {
	return m.wasm
}

// Key identifies the module bytes together with the world they target.
func (m *Module) Key() uint64 {
	return m.key
}

// Component returns the encoded component, encoding on first use. A failed
// encoding is remembered and returned on every call.
func (m *Module) Component() ([]byte, error) {
	m.once.Do(func() {
		if data, ok := m.cache.Get(m.key); ok {
			m.comp = data
			return
		}
		m.encodes.Add(1)
		m.comp, m.err = component.Encode(m.wasm, World())
		if m.err != nil {
			return
		}
		if err := m.cache.Put(m.key, m.comp); err != nil {
			Logger().Warn("component cache write failed", zap.String("module", m.Name), zap.Error(err))
		}
	})
	return m.comp, m.err
}

// Encodes reports how many times the module has been encoded.
func (m *Module) Encodes() int {
	return int(m.encodes.Load())
}
