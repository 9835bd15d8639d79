package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wippyai/entity-scripting/config"
	"github.com/wippyai/entity-scripting/gamestate"
	"github.com/wippyai/entity-scripting/internal/guesttest"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestInspectValidScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lever.wasm")
	writeFile(t, path, guesttest.Entity())

	var out bytes.Buffer
	require.NoError(t, inspect(&out, path))
	assert.Contains(t, out.String(), "cabi_realloc")
	assert.Contains(t, out.String(), "Valid")
	assert.NotContains(t, out.String(), "Not a valid")
}

func TestInspectRejectsJunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wasm")
	writeFile(t, path, []byte("junk"))
	assert.Error(t, inspect(&bytes.Buffer{}, path))
}

func TestNewLevelWorld(t *testing.T) {
	w := newLevelWorld(config.Level{
		Index:   3,
		Sprites: map[string][]string{"lever": {"open", "closing"}},
		Player:  config.Vec2{X: 2, Y: 5},
	})

	id, ok := w.Player()
	require.True(t, ok)
	e, _ := w.Entity(id)
	assert.Equal(t, float32(2), e.Position.X)
	assert.Equal(t, float32(5), e.Position.Y)
	assert.Equal(t, uint32(3), w.Level())
	assert.Empty(t, w.Effects())
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := newLogger("loud", "console", &bytes.Buffer{})
	assert.Error(t, err)

	var buf bytes.Buffer
	logger, err := newLogger("debug", "json", &buf)
	require.NoError(t, err)
	logger.Debug("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestSessionRunsLevel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "scripts", "lever.wasm"), guesttest.Entity())
	writeFile(t, filepath.Join(dir, "prototypes.yaml"), []byte("entities:\n  lever:\n    script: lever.wasm\n"))

	cfg := config.Default()
	cfg.Engine.CallTimeout = 5 * time.Second
	cfg.ScriptRoot = filepath.Join(dir, "scripts")
	cfg.CacheDir = filepath.Join(dir, "cache")
	cfg.Prototypes = filepath.Join(dir, "prototypes.yaml")
	cfg.SaveDB = filepath.Join(dir, "save.db")
	cfg.Level.Spawns = []config.Spawn{{Prototype: "lever", Position: config.Vec2{X: 1, Y: 2}}}

	ctx := context.Background()
	s, err := newSession(ctx, cfg, zap.NewNop(), runOptions{saveSlot: "one"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.step(ctx))
	}
	require.Len(t, s.rt.Instances(), 1)

	var out bytes.Buffer
	s.printSummary(&out, time.Millisecond)
	assert.Contains(t, out.String(), "frames:    3")
	assert.Contains(t, out.String(), "hp = 3")

	require.NoError(t, s.save(ctx))
	s.close(ctx)

	db, err := gamestate.OpenSQL(ctx, cfg.SaveDB)
	require.NoError(t, err)
	defer db.Close()
	st := gamestate.NewStore()
	require.NoError(t, db.Load(ctx, "one", st))
	hp, ok := st.GetInt("hp")
	require.True(t, ok)
	assert.Equal(t, int32(3), hp)
}

func TestSessionSavesAfterInterrupt(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.ScriptRoot = dir
	cfg.SaveDB = filepath.Join(dir, "save.db")

	s, err := newSession(context.Background(), cfg, zap.NewNop(), runOptions{saveSlot: "quit"})
	require.NoError(t, err)
	s.state.Set("door", "open")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.save(ctx))
	s.close(context.Background())

	db, err := gamestate.OpenSQL(context.Background(), cfg.SaveDB)
	require.NoError(t, err)
	defer db.Close()
	st := gamestate.NewStore()
	require.NoError(t, db.Load(context.Background(), "quit", st))
	v, ok := st.Get("door")
	require.True(t, ok)
	assert.Equal(t, "open", v)
}

func TestSessionUnknownPrototype(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "prototypes.yaml"), []byte("entities:\n  lever:\n    script: lever.wasm\n"))

	cfg := config.Default()
	cfg.ScriptRoot = dir
	cfg.Prototypes = filepath.Join(dir, "prototypes.yaml")
	cfg.Level.Spawns = []config.Spawn{{Prototype: "door"}}

	_, err := newSession(context.Background(), cfg, zap.NewNop(), runOptions{})
	assert.Error(t, err)
}
