package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/entity-scripting/config"
	"github.com/wippyai/entity-scripting/engine"
	"github.com/wippyai/entity-scripting/errors"
	"github.com/wippyai/entity-scripting/gamestate"
	"github.com/wippyai/entity-scripting/observer"
	"github.com/wippyai/entity-scripting/script"
	"github.com/wippyai/entity-scripting/world"
)

const saveTimeout = 5 * time.Second

// session is one level run: engine, world, runtime and the optional
// observer feed and save database around them.
type session struct {
	cfg    *config.Runtime
	opts   runOptions
	logger *zap.Logger

	eng   *engine.Engine
	world *world.Memory
	rt    *script.Runtime
	state *gamestate.Store
	db    *gamestate.SQLStore

	hub      *observer.Hub
	stopHub  context.CancelFunc
	hubDone  chan error
	reportMu sync.Mutex
	reports  int
	errs     int
	effects  int
	kills    int
	onReport func(script.Report)
}

func newSession(ctx context.Context, cfg *config.Runtime, logger *zap.Logger, opts runOptions) (_ *session, err error) {
	s := &session{cfg: cfg, opts: opts, logger: logger, state: gamestate.NewStore()}
	defer func() {
		if err != nil {
			s.close(context.Background())
		}
	}()

	protos := &config.Prototypes{}
	if cfg.Prototypes != "" {
		if protos, err = config.LoadPrototypes(cfg.Prototypes); err != nil {
			return nil, err
		}
	}
	if err := cfg.CheckSpawns(protos); err != nil {
		return nil, err
	}

	s.eng, err = engine.New(ctx, engine.Config{
		MemoryLimitPages: cfg.Engine.MemoryLimitPages,
		CallTimeout:      cfg.Engine.CallTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := script.DefineHost(ctx, s.eng); err != nil {
		return nil, err
	}

	var cache *script.DiskCache
	if cfg.CacheDir != "" {
		if cache, err = script.NewDiskCache(cfg.CacheDir); err != nil {
			return nil, err
		}
	}
	loader := script.NewLoader(os.DirFS(cfg.ScriptRoot), s.eng, cache)
	if scripts := protos.Scripts(); len(scripts) > 0 {
		start := time.Now()
		if err := loader.Preload(ctx, scripts...); err != nil {
			// Entities with a broken script still spawn unscripted.
			logger.Warn("preload failed", zap.Error(err))
		} else {
			logger.Info("scripts compiled", zap.Int("count", len(scripts)), zap.Duration("took", time.Since(start)))
		}
	}

	if cfg.SaveDB != "" {
		if s.db, err = gamestate.OpenSQL(ctx, cfg.SaveDB); err != nil {
			return nil, err
		}
		if opts.loadSlot != "" {
			if err := s.db.Load(ctx, opts.loadSlot, s.state); err != nil {
				return nil, err
			}
			logger.Info("game state loaded", zap.String("slot", opts.loadSlot), zap.Int("keys", s.state.Len()))
		}
	}

	if cfg.Observe != "" {
		s.hub = observer.NewHub()
		hubCtx, cancel := context.WithCancel(context.Background())
		s.stopHub = cancel
		s.hubDone = make(chan error, 1)
		go func() { s.hubDone <- s.hub.Serve(hubCtx, cfg.Observe) }()
	}

	s.world = newLevelWorld(cfg.Level)
	s.rt, err = script.New(script.Options{
		World:             s.world,
		Loader:            loader,
		State:             s.state,
		Prototypes:        protos,
		MaxEventsPerFlush: cfg.MaxEventsPerFlush,
		MaxSpawnDepth:     cfg.MaxSpawnDepth,
		Observer:          script.ObserverFunc(s.observe),
	})
	if err != nil {
		return nil, err
	}

	for _, sp := range cfg.Level.Spawns {
		id, err := s.rt.Spawn(ctx, script.SpawnRequest{
			Prototype: sp.Prototype,
			Params:    sp.Params,
			Position:  world.Vec2{X: sp.Position.X, Y: sp.Position.Y},
		})
		if err != nil {
			if !errors.IsKind(err, errors.KindScriptLoad) && !errors.IsKind(err, errors.KindGuestTrap) {
				return nil, err
			}
			logger.Warn("spawned without script", zap.String("prototype", sp.Prototype), zap.Uint64("entity", uint64(id)), zap.Error(err))
		}
	}
	return s, nil
}

// newLevelWorld builds the reference world for a level: the sprite catalog
// and the player.
func newLevelWorld(level config.Level) *world.Memory {
	w := world.NewMemory()
	names := make([]string, 0, len(level.Sprites))
	for name := range level.Sprites {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w.AddSprite(name, level.Sprites[name]...)
	}
	w.Add(world.Entity{Player: true, Position: world.Vec2{X: level.Player.X, Y: level.Player.Y}})
	if level.Index != 0 {
		_ = w.LevelTransition(level.Index, "")
		w.ResetEffects()
	}
	return w
}

func (s *session) observe(r script.Report) {
	s.reportMu.Lock()
	s.reports++
	s.errs += len(r.Errors)
	s.reportMu.Unlock()
	for _, e := range r.Errors {
		s.logger.Warn("script error", zap.Uint64("frame", r.Frame), zap.String("entry", string(r.Entry)), zap.String("error", e))
	}
	if s.hub != nil {
		s.hub.Observe(r)
	}
	if s.onReport != nil {
		s.onReport(r)
	}
}

// step runs one frame: scripts first, then the world simulation. Entities
// the simulation kills are told so before the next frame.
func (s *session) step(ctx context.Context) error {
	if err := s.rt.Step(ctx, s.cfg.FrameDT); err != nil {
		return err
	}
	for _, id := range s.world.Advance(s.cfg.FrameDT) {
		s.kills++
		if err := s.rt.EntityEvent(ctx, id, script.EntityKilled); err != nil && !errors.IsKind(err, errors.KindNotFound) {
			return err
		}
	}
	return nil
}

// takeEffects returns the world effects recorded since the last call.
func (s *session) takeEffects() []world.Effect {
	fx := s.world.Effects()
	s.world.ResetEffects()
	s.effects += len(fx)
	return fx
}

func (s *session) printSummary(w io.Writer, elapsed time.Duration) {
	fx := s.takeEffects()
	strs, ints := s.state.Keys()

	fmt.Fprintf(w, "frames:    %d (%s)\n", s.rt.Frame(), elapsed.Round(time.Microsecond))
	fmt.Fprintf(w, "entities:  %d\n", len(s.world.Entities()))
	fmt.Fprintf(w, "instances: %d\n", len(s.rt.Instances()))
	fmt.Fprintf(w, "reports:   %d (%d errors)\n", s.reports, s.errs)
	fmt.Fprintf(w, "effects:   %d\n", s.effects)
	fmt.Fprintf(w, "kills:     %d\n", s.kills)
	fmt.Fprintf(w, "level:     %d\n", s.world.Level())
	if music := s.world.Music(); music != "" {
		fmt.Fprintf(w, "music:     %s\n", music)
	}
	if len(strs)+len(ints) > 0 {
		fmt.Fprintln(w, "game state:")
		for _, k := range strs {
			v, _ := s.state.Get(k)
			fmt.Fprintf(w, "  %s = %q\n", k, v)
		}
		for _, k := range ints {
			v, _ := s.state.GetInt(k)
			fmt.Fprintf(w, "  %s = %d\n", k, v)
		}
	}
	if s.cfg.LogLevel == "debug" {
		for _, e := range fx {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
}

// save writes the game state to the save slot. It runs after the run loop
// has stopped, often because ctx was canceled by an interrupt, so it only
// keeps ctx's values and bounds itself with saveTimeout.
func (s *session) save(ctx context.Context) error {
	if s.db == nil || s.opts.saveSlot == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := s.db.Save(ctx, s.opts.saveSlot, s.state); err != nil {
		return err
	}
	s.logger.Info("game state saved", zap.String("slot", s.opts.saveSlot), zap.Int("keys", s.state.Len()))
	return nil
}

func (s *session) close(ctx context.Context) {
	if s.rt != nil {
		if err := s.rt.Close(ctx); err != nil {
			s.logger.Warn("runtime close", zap.Error(err))
		}
	}
	if s.stopHub != nil {
		s.stopHub()
		if err := <-s.hubDone; err != nil {
			s.logger.Warn("observer stopped", zap.Error(err))
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.eng != nil {
		_ = s.eng.Close(ctx)
	}
}
