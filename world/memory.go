package world

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/wippyai/entity-scripting/errors"
)

// Entity is the state the reference world keeps per entity.
type Entity struct {
	ID         EntityID
	Prototype  string
	Position   Vec2
	Velocity   Vec2
	Facing     Direction
	Health     *uint32
	IsParrying bool
	Player     bool
	Animation  *Animation
	Components map[string]Component
}

// Has reports whether the entity carries a component with the given name.
func (e *Entity) Has(name string) bool {
	_, ok := e.Components[name]
	return ok
}

func (e *Entity) clone() Entity {
	c := *e
	c.Components = make(map[string]Component, len(e.Components))
	for k, v := range e.Components {
		c.Components[k] = v
	}
	if e.Health != nil {
		h := *e.Health
		c.Health = &h
	}
	if e.Animation != nil {
		a := *e.Animation
		c.Animation = &a
	}
	return c
}

// Effect is one applied mutation, recorded in order.
type Effect struct {
	Entity EntityID `json:"entity"`
	Op     string   `json:"op"`
	Detail string   `json:"detail,omitempty"`
}

func (e Effect) String() string {
	if e.Detail == "" {
		return fmt.Sprintf("#%d %s", e.Entity, e.Op)
	}
	return fmt.Sprintf("#%d %s %s", e.Entity, e.Op, e.Detail)
}

type pendingAttack struct {
	Attack
	remaining time.Duration
}

// Memory is an in-memory World. It records effects instead of simulating
// rendering, audio or physics. Safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	nextID   EntityID
	entities map[EntityID]*Entity
	sprites  map[string]map[string]struct{}
	effects  []Effect
	attacks  []pendingAttack
	level    uint32
	music    string
	// HitRadius is the distance from an attack origin within which entities
	// take damage.
	HitRadius float32
}

// NewMemory returns an empty world.
func NewMemory() *Memory {
	return &Memory{
		entities:  make(map[EntityID]*Entity),
		sprites:   make(map[string]map[string]struct{}),
		HitRadius: 1.5,
	}
}

var _ World = (*Memory)(nil)

// AddSprite registers a sprite and its animations in the catalog.
func (m *Memory) AddSprite(sprite string, animations ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sprites[sprite]
	if !ok {
		set = make(map[string]struct{}, len(animations))
		m.sprites[sprite] = set
	}
	for _, a := range animations {
		set[a] = struct{}{}
	}
}

// Add inserts an entity and returns its id. The ID field of e is ignored.
func (m *Memory) Add(e Entity) EntityID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.add(e)
}

func (m *Memory) add(e Entity) EntityID {
	m.nextID++
	e.ID = m.nextID
	if e.Components == nil {
		e.Components = make(map[string]Component)
	}
	m.entities[e.ID] = &e
	return e.ID
}

// Entity returns a copy of an entity's state.
func (m *Memory) Entity(id EntityID) (Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return Entity{}, false
	}
	return e.clone(), true
}

// Entities returns the ids of all live entities in ascending order.
func (m *Memory) Entities() []EntityID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]EntityID, 0, len(m.entities))
	for id := range m.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SetPosition moves an entity.
func (m *Memory) SetPosition(id EntityID, pos Vec2) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.Position = pos
	return nil
}

// Effects returns the recorded effects in application order.
func (m *Memory) Effects() []Effect {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Effect, len(m.effects))
	copy(out, m.effects)
	return out
}

// ResetEffects clears the effect log.
func (m *Memory) ResetEffects() {
	m.mu.Lock()
	m.effects = nil
	m.mu.Unlock()
}

// Level returns the currently selected level.
func (m *Memory) Level() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// Music returns the looping music track, if any.
func (m *Memory) Music() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.music
}

func (m *Memory) lookup(id EntityID) (*Entity, error) {
	e, ok := m.entities[id]
	if !ok {
		return nil, errors.NotFound(errors.PhaseDrain, "entity", strconv.FormatUint(uint64(id), 10))
	}
	return e, nil
}

func (m *Memory) record(id EntityID, op, format string, args ...any) {
	m.effects = append(m.effects, Effect{Entity: id, Op: op, Detail: fmt.Sprintf(format, args...)})
}

func (m *Memory) Exists(id EntityID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entities[id]
	return ok
}

func (m *Memory) Uniform(id EntityID) (Uniform, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return Uniform{}, false
	}
	u := Uniform{Position: e.Position, Facing: e.Facing, IsParrying: e.IsParrying}
	if e.Health != nil {
		h := *e.Health
		u.Health = &h
	}
	return u, true
}

func (m *Memory) Player() (EntityID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, e := range m.entities {
		if e.Player {
			return id, true
		}
	}
	return 0, false
}

func (m *Memory) InsertComponent(id EntityID, c Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	m.insert(e, c)
	return nil
}

func (m *Memory) insert(e *Entity, c Component) {
	e.Components[c.ComponentName()] = c
	m.record(e.ID, "insert", "%s %+v", c.ComponentName(), c)

	switch c := c.(type) {
	case Collider:
		if c.Physical {
			m.insert(e, RigidBody{Type: StaticBody})
		}
	case Enemy:
		hp := c.MaxHP
		e.Health = &hp
	case Health:
		hp := c.Value
		e.Health = &hp
	}
}

func (m *Memory) RemoveComponent(id EntityID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	name := ComponentPathName(path)
	if _, ok := e.Components[name]; !ok {
		return nil
	}
	delete(e.Components, name)
	if name == "Health" {
		e.Health = nil
	}
	m.record(id, "remove", "%s", name)
	return nil
}

func (m *Memory) PlayAnimation(id EntityID, a Animation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	anims, ok := m.sprites[a.Sprite]
	if !ok {
		return errors.NotFound(errors.PhaseDrain, "sprite", a.Sprite)
	}
	if _, ok := anims[a.Name]; !ok {
		return errors.NotFound(errors.PhaseDrain, "animation", a.Sprite+"/"+a.Name)
	}
	e.Animation = &a
	m.record(id, "animate", "%s/%s %s %s repeat=%t", a.Sprite, a.Name, a.Duration, a.Direction, a.Repeat)
	return nil
}

func (m *Memory) Face(id EntityID, d Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.Facing = d
	m.record(id, "face", "%s", d)
	return nil
}

func (m *Memory) SendInput(id EntityID, in Input) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	switch in.Kind {
	case InputMovement:
		e.Position = e.Position.Add(in.Movement)
		m.record(id, "input", "movement %.2f,%.2f", in.Movement.X, in.Movement.Y)
	case InputRoll:
		e.Facing = in.Direction
		m.record(id, "input", "roll %s", in.Direction)
	default:
		m.record(id, "input", "%s", in.Kind)
	}
	return nil
}

func (m *Memory) ScheduleAttack(a Attack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(a.Attacker); err != nil {
		return err
	}
	m.attacks = append(m.attacks, pendingAttack{Attack: a, remaining: a.Delay})
	m.record(a.Attacker, "attack", "damage=%d delay=%s", a.Damage, a.Delay)
	return nil
}

func (m *Memory) Despawn(id EntityID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(id); err != nil {
		return err
	}
	delete(m.entities, id)
	m.dropAttacks(id)
	m.record(id, "despawn", "")
	return nil
}

// dropAttacks forgets the pending attacks of attacker. Their origin is
// relative to an entity that no longer exists.
func (m *Memory) dropAttacks(attacker EntityID) {
	kept := m.attacks[:0]
	for _, a := range m.attacks {
		if a.Attacker != attacker {
			kept = append(kept, a)
		}
	}
	m.attacks = kept
}

func (m *Memory) Spawn(s Spawn) (EntityID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Parent != 0 {
		if _, err := m.lookup(s.Parent); err != nil {
			return 0, err
		}
	}
	id := m.add(Entity{Prototype: s.Prototype, Position: s.Position, Velocity: s.Velocity})
	m.record(id, "spawn", "%s parent=%d", s.Prototype, s.Parent)
	return id, nil
}

func (m *Memory) LevelTransition(level uint32, spawn string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var player EntityID
	for id, e := range m.entities {
		if e.Player {
			player = id
			break
		}
	}
	if player == 0 {
		return errors.NotFound(errors.PhaseDrain, "entity", "player")
	}
	m.level = level
	m.record(player, "level", "%d spawn=%s", level, spawn)
	return nil
}

func (m *Memory) PlayMusic(file string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.music = file
	m.record(0, "music", "%s", file)
	return nil
}

func (m *Memory) PlaySound(file string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(0, "sound", "%s", file)
	return nil
}

func (m *Memory) GrantPower(power string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c Component
	switch power {
	case "roll":
		c = PowerupRoll{}
	case "pogo":
		c = PowerupPogo{}
	default:
		return errors.InvalidInput(errors.PhaseDrain, "invalid power "+strconv.Quote(power))
	}
	for _, e := range m.entities {
		if e.Player {
			m.insert(e, c)
			return nil
		}
	}
	return errors.NotFound(errors.PhaseDrain, "entity", "player")
}

// Advance moves entities by their velocity and resolves attacks whose delay
// has elapsed. It returns the entities whose health dropped to zero, in
// ascending id order.
func (m *Memory) Advance(dt time.Duration) []EntityID {
	m.mu.Lock()
	defer m.mu.Unlock()

	secs := float32(dt.Seconds())
	for _, e := range m.entities {
		if e.Velocity != (Vec2{}) {
			e.Position = e.Position.Add(Vec2{X: e.Velocity.X * secs, Y: e.Velocity.Y * secs})
		}
	}

	var killed []EntityID
	pending := m.attacks[:0]
	for _, a := range m.attacks {
		a.remaining -= dt
		if a.remaining > 0 {
			pending = append(pending, a)
			continue
		}
		attacker, ok := m.entities[a.Attacker]
		if !ok {
			continue
		}
		origin := attacker.Position.Add(a.Origin)
		for id, e := range m.entities {
			if id == a.Attacker || e.Health == nil || *e.Health == 0 {
				continue
			}
			if e.Position.Distance(origin) > m.HitRadius {
				continue
			}
			if *e.Health <= a.Damage {
				*e.Health = 0
				killed = append(killed, id)
			} else {
				*e.Health -= a.Damage
			}
			m.record(id, "hit", "damage=%d by=%d", a.Damage, a.Attacker)
		}
	}
	m.attacks = pending
	sort.Slice(killed, func(i, j int) bool { return killed[i] < killed[j] })
	return killed
}
