package world

// World is the simulation the script runtime drives. Scripts never call it
// directly: every mutation arrives through a drained command.
//
// Methods that address an entity return a not_found error when the entity
// does not exist. PlayAnimation returns a not_found error for sprites or
// animations missing from the catalog and leaves the entity unchanged.
type World interface {
	Exists(id EntityID) bool
	// Uniform returns the current snapshot of an entity.
	Uniform(id EntityID) (Uniform, bool)
	// Player returns the single player entity.
	Player() (EntityID, bool)

	InsertComponent(id EntityID, c Component) error
	// RemoveComponent removes a component by type path. Only the last path
	// segment is significant. Removing an absent component is not an error.
	RemoveComponent(id EntityID, path string) error
	PlayAnimation(id EntityID, a Animation) error
	Face(id EntityID, d Direction) error
	SendInput(id EntityID, in Input) error
	ScheduleAttack(a Attack) error
	Despawn(id EntityID) error
	Spawn(s Spawn) (EntityID, error)

	// LevelTransition records the requested spawn point on the player and
	// selects the level.
	LevelTransition(level uint32, spawn string) error
	PlayMusic(file string) error
	PlaySound(file string) error
	GrantPower(power string) error
}
