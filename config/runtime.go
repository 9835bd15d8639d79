package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/entity-scripting/errors"
)

// Runtime is the top-level configuration of a scripted level run.
type Runtime struct {
	Engine Engine `yaml:"engine"`

	// MaxEventsPerFlush bounds cascading event delivery within one flush.
	MaxEventsPerFlush int `yaml:"max_events_per_flush"`
	// MaxSpawnDepth bounds nested projectile spawns from scripts.
	MaxSpawnDepth int `yaml:"max_spawn_depth"`

	ScriptRoot string `yaml:"script_root"`
	// CacheDir holds encoded components between runs. Empty disables it.
	CacheDir   string `yaml:"cache_dir"`
	Prototypes string `yaml:"prototypes"`
	SaveDB     string `yaml:"save_db"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	FrameDT time.Duration `yaml:"frame_dt"`
	Frames  int           `yaml:"frames"`
	Observe string        `yaml:"observe"`

	Level Level `yaml:"level"`
}

// Engine holds wasm engine limits.
type Engine struct {
	MemoryLimitPages uint32        `yaml:"memory_limit_pages"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
}

// Level is the initial content of the world.
type Level struct {
	Index   uint32              `yaml:"index"`
	Sprites map[string][]string `yaml:"sprites"`
	Player  Vec2                `yaml:"player"`
	Spawns  []Spawn             `yaml:"spawns"`
}

type Vec2 struct {
	X float32 `yaml:"x"`
	Y float32 `yaml:"y"`
}

// Spawn places a prototype in the level.
type Spawn struct {
	Prototype string   `yaml:"prototype"`
	Position  Vec2     `yaml:"position"`
	Params    []string `yaml:"params"`
}

// Default returns the configuration used when no file is given.
func Default() *Runtime {
	return &Runtime{
		Engine: Engine{
			MemoryLimitPages: 256,
			CallTimeout:      50 * time.Millisecond,
		},
		MaxEventsPerFlush: 1024,
		MaxSpawnDepth:     4,
		ScriptRoot:        "scripts",
		LogLevel:          "info",
		LogFormat:         "console",
		FrameDT:           time.Second / 60,
		Frames:            60,
	}
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Runtime, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse runtime config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a runtime config file. Relative paths inside the file are
// resolved against the file's directory.
func Load(path string) (*Runtime, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read runtime config")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

func (c *Runtime) resolve(base string) {
	for _, p := range []*string{&c.ScriptRoot, &c.CacheDir, &c.Prototypes, &c.SaveDB} {
		if *p != "" && !filepath.IsAbs(*p) && *p != ":memory:" {
			*p = filepath.Join(base, *p)
		}
	}
}

// Validate checks limits and cross-field constraints.
func (c *Runtime) Validate() error {
	switch {
	case c.MaxEventsPerFlush <= 0:
		return errors.InvalidInput(errors.PhaseConfig, "max_events_per_flush must be positive")
	case c.MaxSpawnDepth < 0:
		return errors.InvalidInput(errors.PhaseConfig, "max_spawn_depth must not be negative")
	case c.Engine.CallTimeout < 0:
		return errors.InvalidInput(errors.PhaseConfig, "engine.call_timeout must not be negative")
	case c.FrameDT <= 0:
		return errors.InvalidInput(errors.PhaseConfig, "frame_dt must be positive")
	case c.Frames < 0:
		return errors.InvalidInput(errors.PhaseConfig, "frames must not be negative")
	case c.ScriptRoot == "":
		return errors.InvalidInput(errors.PhaseConfig, "script_root is required")
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return errors.InvalidInput(errors.PhaseConfig, "log_format must be console or json")
	}
	for i, s := range c.Level.Spawns {
		if s.Prototype == "" {
			return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("level.spawns[%d]: prototype is required", i))
		}
	}
	return nil
}

// CheckSpawns verifies every level spawn names a known prototype.
func (c *Runtime) CheckSpawns(p *Prototypes) error {
	for i, s := range c.Level.Spawns {
		if _, ok := p.Get(s.Prototype); !ok {
			return errors.NotFound(errors.PhaseConfig, fmt.Sprintf("level.spawns[%d] prototype", i), s.Prototype)
		}
	}
	return nil
}
