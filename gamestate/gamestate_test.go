package gamestate

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/entity-scripting/errors"
)

func TestStoreSetReturnsPrevious(t *testing.T) {
	s := NewStore()

	prev, ok := s.Set("door", "open")
	assert.False(t, ok)
	assert.Empty(t, prev)

	prev, ok = s.Set("door", "closed")
	assert.True(t, ok)
	assert.Equal(t, "open", prev)

	v, ok := s.Get("door")
	require.True(t, ok)
	assert.Equal(t, "closed", v)

	_, ok = s.SetInt("coins", 3)
	assert.False(t, ok)
	old, ok := s.SetInt("coins", -4)
	assert.True(t, ok)
	assert.Equal(t, int32(3), old)

	_, ok = s.GetInt("door")
	assert.False(t, ok, "string and int keys are separate")
	assert.Equal(t, 2, s.Len())
}

func TestStoreConcurrentIncrements(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				mu.Lock()
				v, _ := s.GetInt("n")
				s.SetInt("n", v+1)
				mu.Unlock()
				s.Get("n")
			}
		}()
	}
	wg.Wait()
	v, _ := s.GetInt("n")
	assert.Equal(t, int32(1600), v)
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := NewStore()
	s.Set("boss", "defeated")
	s.SetInt("keys", 2)

	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, s))

	restored := NewStore()
	restored.Set("stale", "x")
	require.NoError(t, ReadSnapshot(&buf, restored))

	assert.Equal(t, s.Snapshot(), restored.Snapshot())
	_, ok := restored.Get("stale")
	assert.False(t, ok)
}

func TestReadSnapshotRejectsGarbage(t *testing.T) {
	err := ReadSnapshot(bytes.NewReader([]byte("not zstd")), NewStore())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidData))
}

func TestSQLStoreSlots(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQL(ctx, filepath.Join(t.TempDir(), "saves", "game.db"))
	require.NoError(t, err)
	defer db.Close()

	s := NewStore()
	s.SetInt("level", 3)
	require.NoError(t, db.Save(ctx, "auto", s))

	s.SetInt("level", 4)
	s.Set("power", "roll")
	require.NoError(t, db.Save(ctx, "auto", s))
	require.NoError(t, db.Save(ctx, "manual", NewStore()))

	loaded := NewStore()
	require.NoError(t, db.Load(ctx, "auto", loaded))
	v, _ := loaded.GetInt("level")
	assert.Equal(t, int32(4), v)
	p, _ := loaded.Get("power")
	assert.Equal(t, "roll", p)

	slots, err := db.Slots(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	names := []string{slots[0].Name, slots[1].Name}
	assert.ElementsMatch(t, []string{"auto", "manual"}, names)

	err = db.Load(ctx, "missing", loaded)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	require.Error(t, db.Save(ctx, "", s))
}
