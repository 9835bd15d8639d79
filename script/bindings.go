package script

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/entity-scripting/component"
	"github.com/wippyai/entity-scripting/engine"
	"github.com/wippyai/entity-scripting/errors"
	"github.com/wippyai/entity-scripting/world"
)

//go:embed world.wit
var worldWIT []byte

// Names of the guest world.
const (
	WorldName       = "game-entity-world"
	HostNamespace   = "gamejam:game/game-host"
	EntityInterface = "gamejam:game/entity-resource"
	EntityResource  = "game-entity"
)

func named(name string, kind wit.TypeDefKind) *wit.TypeDef {
	return &wit.TypeDef{Name: &name, Kind: kind}
}

func enum(name string, cases ...string) *wit.TypeDef {
	e := &wit.Enum{}
	for _, c := range cases {
		e.Cases = append(e.Cases, wit.EnumCase{Name: c})
	}
	return named(name, e)
}

func record(name string, fields ...wit.Field) *wit.TypeDef {
	return named(name, &wit.Record{Fields: fields})
}

func field(name string, t wit.Type) wit.Field {
	return wit.Field{Name: name, Type: t}
}

func tuple(types ...wit.Type) *wit.TypeDef {
	return &wit.TypeDef{Kind: &wit.Tuple{Types: types}}
}

func option(t wit.Type) *wit.TypeDef {
	return &wit.TypeDef{Kind: &wit.Option{Type: t}}
}

func list(t wit.Type) *wit.TypeDef {
	return &wit.TypeDef{Kind: &wit.List{Type: t}}
}

var (
	f32Pair = tuple(wit.F32{}, wit.F32{})

	directionType     = enum("direction", "north", "east", "south", "west")
	vectorType        = record("vector", field("x", wit.F32{}), field("y", wit.F32{}))
	interactableType  = record("interactable", field("message", wit.String{}), field("range", wit.F32{}))
	colliderType      = record("collider", field("width", wit.F32{}), field("height", wit.F32{}), field("physical", wit.Bool{}))
	rigidBodyTypeType = enum("rigid-body-type", "static-body", "dynamic")
	enemyType         = record("enemy", field("max-hp", wit.U32{}))

	insertableType = named("insertable-components", &wit.Variant{Cases: []wit.Case{
		{Name: "interactable", Type: interactableType},
		{Name: "attackable"},
		{Name: "collider", Type: colliderType},
		{Name: "rigid-body", Type: rigidBodyTypeType},
		{Name: "enemy", Type: enemyType},
		{Name: "boss"},
		{Name: "health", Type: wit.U32{}},
	}})

	eventDataType = named("event-data", &wit.Variant{Cases: []wit.Case{
		{Name: "trigger", Type: wit.U32{}},
		{Name: "message", Type: wit.String{}},
	}})
	eventType = record("event", field("topic", wit.U32{}), field("data", eventDataType))

	uniformType = record("entity-uniform",
		field("position", f32Pair),
		field("facing", directionType),
		field("health", option(wit.U32{})),
		field("is-parrying", wit.Bool{}),
	)

	inputType = named("input", &wit.Variant{Cases: []wit.Case{
		{Name: "movement", Type: f32Pair},
		{Name: "jump"},
		{Name: "roll", Type: directionType},
	}})

	entityEventType = enum("entity-event", "killed")
	settingsType    = record("startup-settings",
		field("params", list(wit.String{})),
		field("self-entity-id", wit.U64{}),
	)

	entityResourceType = named(EntityResource, &wit.Resource{})
	ownEntity          = &wit.TypeDef{Kind: &wit.Own{Type: entityResourceType}}
	borrowEntity       = &wit.TypeDef{Kind: &wit.Borrow{Type: entityResourceType}}
)

func types(t ...wit.Type) []wit.Type { return t }

// hostBinding adapts one world import to a Host method.
type hostBinding struct {
	name    string
	params  []wit.Type
	results []wit.Type
	call    func(h *Host, args []any) ([]any, error)
}

var hostBindings = []hostBinding{
	{"insert-components", types(list(insertableType)), nil, func(h *Host, args []any) ([]any, error) {
		items, err := argList(args[0])
		if err != nil {
			return nil, err
		}
		components := make([]world.Component, 0, len(items))
		for _, item := range items {
			c, err := componentFromWIT(item)
			if err != nil {
				return nil, err
			}
			components = append(components, c)
		}
		h.InsertComponents(components)
		return nil, nil
	}},
	{"remove-component", types(wit.String{}), nil, func(h *Host, args []any) ([]any, error) {
		h.RemoveComponent(args[0].(string))
		return nil, nil
	}},
	{"play-animation", types(wit.String{}, wit.String{}, wit.U32{}, directionType, wit.Bool{}), nil, func(h *Host, args []any) ([]any, error) {
		h.PlayAnimation(world.Animation{
			Sprite:    args[0].(string),
			Name:      args[1].(string),
			Duration:  millis(args[2]),
			Direction: world.Direction(args[3].(uint32)),
			Repeat:    args[4].(bool),
		})
		return nil, nil
	}},
	{"publish-event", types(eventType), nil, func(h *Host, args []any) ([]any, error) {
		ev, err := eventFromWIT(args[0])
		if err != nil {
			return nil, err
		}
		h.PublishEvent(ev)
		return nil, nil
	}},
	{"set-ticking", types(wit.Bool{}, option(wit.F32{})), nil, func(h *Host, args []any) ([]any, error) {
		var distance *float32
		if d, ok := args[1].(float32); ok {
			distance = &d
		}
		h.SetTicking(args[0].(bool), distance)
		return nil, nil
	}},
	{"despawn-entity", types(wit.U64{}), nil, func(h *Host, args []any) ([]any, error) {
		h.DespawnEntity(world.EntityID(args[0].(uint64)))
		return nil, nil
	}},
	{"level-transition", types(wit.U32{}, wit.String{}), nil, func(h *Host, args []any) ([]any, error) {
		h.LevelTransition(args[0].(uint32), args[1].(string))
		return nil, nil
	}},
	{"request-timer-callback", types(wit.U32{}, wit.U32{}), nil, func(h *Host, args []any) ([]any, error) {
		h.RequestTimerCallback(args[0].(uint32), millis(args[1]))
		return nil, nil
	}},
	{"face-direction", types(directionType), nil, func(h *Host, args []any) ([]any, error) {
		h.FaceDirection(world.Direction(args[0].(uint32)))
		return nil, nil
	}},
	{"send-input", types(inputType), nil, func(h *Host, args []any) ([]any, error) {
		in, err := inputFromWIT(args[0])
		if err != nil {
			return nil, err
		}
		h.SendInput(in)
		return nil, nil
	}},
	{"schedule-attack", types(wit.U32{}, wit.U32{}, wit.F32{}, f32Pair, f32Pair), nil, func(h *Host, args []any) ([]any, error) {
		origin, err := pairFromWIT(args[3])
		if err != nil {
			return nil, err
		}
		vector, err := pairFromWIT(args[4])
		if err != nil {
			return nil, err
		}
		h.ScheduleAttack(world.Attack{
			Delay:  millis(args[0]),
			Damage: args[1].(uint32),
			Force:  args[2].(float32),
			Origin: origin,
			Vector: vector,
		})
		return nil, nil
	}},
	{"play-music", types(wit.String{}), nil, func(h *Host, args []any) ([]any, error) {
		h.PlayMusic(args[0].(string))
		return nil, nil
	}},
	{"play-sound-once", types(wit.String{}), nil, func(h *Host, args []any) ([]any, error) {
		h.PlaySound(args[0].(string))
		return nil, nil
	}},
	{"grant-player-power", types(wit.String{}), nil, func(h *Host, args []any) ([]any, error) {
		h.GrantPlayerPower(args[0].(string))
		return nil, nil
	}},
	{"spawn-projectile", types(vectorType, vectorType, wit.String{}, list(wit.String{})), nil, func(h *Host, args []any) ([]any, error) {
		velocity, err := vectorFromWIT(args[0])
		if err != nil {
			return nil, err
		}
		offset, err := vectorFromWIT(args[1])
		if err != nil {
			return nil, err
		}
		params, _ := args[3].([]string)
		h.SpawnProjectile(SpawnProjectileCommand{
			Velocity:  velocity,
			Offset:    offset,
			Prototype: args[2].(string),
			Params:    params,
		})
		return nil, nil
	}},
	{"get-player-uniform", nil, types(uniformType), func(h *Host, _ []any) ([]any, error) {
		return []any{uniformToWIT(h.PlayerUniform())}, nil
	}},
	{"get-self-uniform", nil, types(uniformType), func(h *Host, _ []any) ([]any, error) {
		return []any{uniformToWIT(h.SelfUniform())}, nil
	}},
	{"get-game-data-kv", types(wit.String{}), types(option(wit.String{})), func(h *Host, args []any) ([]any, error) {
		v, ok := h.GameData(args[0].(string))
		return []any{optional(v, ok)}, nil
	}},
	{"get-game-data-kv-int", types(wit.String{}), types(option(wit.S32{})), func(h *Host, args []any) ([]any, error) {
		v, ok := h.GameDataInt(args[0].(string))
		return []any{optional(v, ok)}, nil
	}},
	{"set-game-data-kv", types(wit.String{}, wit.String{}), types(option(wit.String{})), func(h *Host, args []any) ([]any, error) {
		prev, ok := h.SetGameData(args[0].(string), args[1].(string))
		return []any{optional(prev, ok)}, nil
	}},
	{"set-game-data-kv-int", types(wit.String{}, wit.S32{}), types(option(wit.S32{})), func(h *Host, args []any) ([]any, error) {
		prev, ok := h.SetGameDataInt(args[0].(string), args[1].(int32))
		return []any{optional(prev, ok)}, nil
	}},
}

func optional[T any](v T, ok bool) any {
	if !ok {
		return nil
	}
	return v
}

func millis(v any) time.Duration {
	return time.Duration(v.(uint32)) * time.Millisecond
}

// Guest exports. Methods take the borrowed resource first.
var (
	exportConstructor = component.Func{
		Name:    engine.ConstructorName(EntityInterface, EntityResource),
		Aliases: []string{engine.FuncName(EntityInterface, "get-entity")},
		Params:  types(settingsType),
		Results: types(ownEntity),
	}
	exportDtor = component.Func{
		Name:     engine.DtorName(EntityInterface, EntityResource),
		Params:   types(wit.U32{}),
		Optional: true,
	}

	methodTick               = method("tick", wit.F32{})
	methodInteracted         = method("interacted")
	methodAttacked           = method("attacked")
	methodAnimationFinished  = method("animation-finished", wit.String{})
	methodTimerCallback      = method("timer-callback", wit.U32{})
	methodReceiveEvent       = method("receive-event", eventType)
	methodReceiveEntityEvent = method("receive-entity-event", entityEventType)

	entityMethods = []component.Func{methodTick, methodInteracted, methodAttacked, methodAnimationFinished, methodTimerCallback, methodReceiveEvent, methodReceiveEntityEvent}
)

func method(name string, params ...wit.Type) component.Func {
	return component.Func{
		Name:     engine.MethodName(EntityInterface, EntityResource, name),
		Params:   append(types(borrowEntity), params...),
		Optional: true,
	}
}

var (
	worldOnce sync.Once
	theWorld  *component.World
)

// World returns the component world every entity script targets.
func World() *component.World {
	worldOnce.Do(func() {
		w := &component.World{Name: WorldName, WIT: worldWIT}
		for _, b := range hostBindings {
			w.Imports = append(w.Imports, component.Func{
				Module:  HostNamespace,
				Name:    b.name,
				Params:  b.params,
				Results: b.results,
			})
		}
		newName, repName, dropName := engine.ResourceIntrinsicNames(EntityResource)
		resModule := engine.ResourceModule(EntityInterface)
		w.Imports = append(w.Imports,
			component.Func{Module: resModule, Name: newName, Params: types(wit.U32{}), Results: types(wit.U32{})},
			component.Func{Module: resModule, Name: repName, Params: types(wit.U32{}), Results: types(wit.U32{})},
			component.Func{Module: resModule, Name: dropName, Params: types(wit.U32{})},
		)
		w.Exports = append(w.Exports, exportConstructor, exportDtor)
		w.Exports = append(w.Exports, entityMethods...)
		theWorld = w
	})
	return theWorld
}

// DefineHost registers the entity world's host modules on eng. Host
// functions find their Host through the calling instance's store.
func DefineHost(ctx context.Context, eng *engine.Engine) error {
	funcs := make([]engine.HostFunc, 0, len(hostBindings))
	for _, b := range hostBindings {
		funcs = append(funcs, engine.HostFunc{
			Name:    b.name,
			Params:  b.params,
			Results: b.results,
			Handler: func(ctx context.Context, args []any) (out []any, err error) {
				h, err := hostFromContext(ctx)
				if err != nil {
					return nil, err
				}
				defer func() {
					if r := recover(); r != nil {
						err = errors.New(errors.PhaseHost, errors.KindTypeMismatch).
							Detail("%s: %v", b.name, r).
							Build()
					}
				}()
				return b.call(h, args)
			},
		})
	}
	if err := eng.DefineHostModule(ctx, engine.HostModule{Namespace: HostNamespace, Funcs: funcs}); err != nil {
		return err
	}
	return eng.DefineHostModule(ctx, engine.HostModule{
		Namespace: engine.ResourceModule(EntityInterface),
		Resources: []string{EntityResource},
	})
}

func hostFromContext(ctx context.Context) (*Host, error) {
	inst, ok := engine.InstanceFromContext(ctx)
	if !ok {
		return nil, errors.NotFound(errors.PhaseHost, "instance", "context")
	}
	h, ok := inst.Store().(*Host)
	if !ok {
		return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Detail("instance store is %T, want *script.Host", inst.Store()).
			Build()
	}
	return h, nil
}

func argList(v any) ([]any, error) {
	switch l := v.(type) {
	case []any:
		return l, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("expected list, got %T", v)
}

func variantOf(v any) (string, any, error) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", nil, fmt.Errorf("expected variant, got %T", v)
	}
	for k, payload := range m {
		return k, payload, nil
	}
	return "", nil, nil
}

func pairFromWIT(v any) (world.Vec2, error) {
	t, ok := v.([]any)
	if !ok || len(t) != 2 {
		return world.Vec2{}, fmt.Errorf("expected tuple<f32, f32>, got %T", v)
	}
	x, okx := t[0].(float32)
	y, oky := t[1].(float32)
	if !okx || !oky {
		return world.Vec2{}, fmt.Errorf("expected tuple<f32, f32>, got (%T, %T)", t[0], t[1])
	}
	return world.Vec2{X: x, Y: y}, nil
}

func vectorFromWIT(v any) (world.Vec2, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return world.Vec2{}, fmt.Errorf("expected vector, got %T", v)
	}
	x, okx := m["x"].(float32)
	y, oky := m["y"].(float32)
	if !okx || !oky {
		return world.Vec2{}, fmt.Errorf("vector fields have types (%T, %T)", m["x"], m["y"])
	}
	return world.Vec2{X: x, Y: y}, nil
}

func componentFromWIT(v any) (world.Component, error) {
	name, payload, err := variantOf(v)
	if err != nil {
		return nil, err
	}
	switch name {
	case "interactable":
		m := payload.(map[string]any)
		return world.Interactable{Message: m["message"].(string), Range: m["range"].(float32)}, nil
	case "attackable":
		return world.Attackable{}, nil
	case "collider":
		m := payload.(map[string]any)
		return world.Collider{
			Width:    m["width"].(float32),
			Height:   m["height"].(float32),
			Physical: m["physical"].(bool),
		}, nil
	case "rigid-body":
		return world.RigidBody{Type: world.RigidBodyType(payload.(uint32))}, nil
	case "enemy":
		m := payload.(map[string]any)
		return world.Enemy{MaxHP: m["max-hp"].(uint32)}, nil
	case "boss":
		return world.Boss{}, nil
	case "health":
		return world.Health{Value: payload.(uint32)}, nil
	}
	return nil, fmt.Errorf("unknown component %q", name)
}

func eventFromWIT(v any) (Event, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Event{}, fmt.Errorf("expected event, got %T", v)
	}
	name, payload, err := variantOf(m["data"])
	if err != nil {
		return Event{}, err
	}
	ev := Event{Topic: m["topic"].(uint32)}
	switch name {
	case "trigger":
		ev.Data = Trigger(payload.(uint32))
	case "message":
		ev.Data = Message(payload.(string))
	default:
		return Event{}, fmt.Errorf("unknown event data %q", name)
	}
	return ev, nil
}

func eventToWIT(ev Event) map[string]any {
	data := map[string]any{"trigger": ev.Data.Trigger}
	if ev.Data.IsMessage {
		data = map[string]any{"message": ev.Data.Message}
	}
	return map[string]any{"topic": ev.Topic, "data": data}
}

func inputFromWIT(v any) (world.Input, error) {
	name, payload, err := variantOf(v)
	if err != nil {
		return world.Input{}, err
	}
	switch name {
	case "movement":
		mv, err := pairFromWIT(payload)
		if err != nil {
			return world.Input{}, err
		}
		return world.Input{Kind: world.InputMovement, Movement: mv}, nil
	case "jump":
		return world.Input{Kind: world.InputJump}, nil
	case "roll":
		return world.Input{Kind: world.InputRoll, Direction: world.Direction(payload.(uint32))}, nil
	}
	return world.Input{}, fmt.Errorf("unknown input %q", name)
}

func uniformToWIT(u world.Uniform) map[string]any {
	var health any
	if u.Health != nil {
		health = *u.Health
	}
	return map[string]any{
		"position":    []any{u.Position.X, u.Position.Y},
		"facing":      uint32(u.Facing),
		"health":      health,
		"is-parrying": u.IsParrying,
	}
}

func settingsToWIT(params []string, self world.EntityID) map[string]any {
	if params == nil {
		params = []string{}
	}
	return map[string]any{"params": params, "self-entity-id": uint64(self)}
}
