package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in the script lifecycle the error occurred
type Phase string

const (
	PhaseLoad        Phase = "load"        // reading module bytes from the content store
	PhaseEncode      Phase = "encode"      // module to component encoding
	PhaseDecode      Phase = "decode"      // component or guest memory decoding
	PhaseCompile     Phase = "compile"     // engine compilation
	PhaseInstantiate Phase = "instantiate" // per-entity instantiation
	PhaseHost        Phase = "host"        // host function execution
	PhaseGuest       Phase = "guest"       // guest lifecycle call
	PhaseDrain       Phase = "drain"       // command application
	PhaseTimer       Phase = "timer"       // timer dispatch
	PhaseConfig      Phase = "config"      // configuration and prototypes
	PhaseStorage     Phase = "storage"     // game state persistence
)

// Kind categorizes the error
type Kind string

const (
	KindScriptLoad     Kind = "script_load"
	KindHostCall       Kind = "host_call"
	KindGuestTrap      Kind = "guest_trap"
	KindStaleTimer     Kind = "stale_timer"
	KindTypeMismatch   Kind = "type_mismatch"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindInvalidData    Kind = "invalid_data"
	KindUnsupported    Kind = "unsupported"
	KindAllocation     Kind = "allocation"
	KindInvalidUTF8    Kind = "invalid_utf8"
	KindOverflow       Kind = "overflow"
	KindInvalidVariant Kind = "invalid_variant"
	KindMissingExport  Kind = "missing_export"
	KindUnknownImport  Kind = "unknown_import"
	KindNotFound       Kind = "not_found"
	KindInvalidInput   Kind = "invalid_input"
	KindClosed         Kind = "closed"
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	WitType string
	Detail  string
	Path    []string
	Entity  uint64
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Entity != 0 {
		fmt.Fprintf(&b, " entity %d", e.Entity)
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.WitType != "" {
		b.WriteString(": WIT type ")
		b.WriteString(e.WitType)
	}

	if e.Detail != "" {
		if e.WitType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return stderrors.Is(err, &Error{Kind: kind})
}

// As is re-exported so callers importing this package need not import the stdlib one.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// WitType sets the WIT type name
func (b *Builder) WitType(t string) *Builder {
	b.err.WitType = t
	return b
}

// Entity sets the owning entity id
func (b *Builder) Entity(id uint64) *Builder {
	b.err.Entity = id
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// ScriptLoad creates an error for malformed module bytes or a failed encode,
// compile or instantiate step.
func ScriptLoad(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindScriptLoad,
		Detail: detail,
		Cause:  cause,
	}
}

// HostCall creates an error for a command that references an unresolvable asset.
func HostCall(entity uint64, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseDrain,
		Kind:   KindHostCall,
		Entity: entity,
		Detail: detail,
		Cause:  cause,
	}
}

// GuestTrap creates an error for a guest fault during a lifecycle call.
func GuestTrap(entity uint64, call string, cause error) *Error {
	return &Error{
		Phase:  PhaseGuest,
		Kind:   KindGuestTrap,
		Entity: entity,
		Detail: fmt.Sprintf("guest trapped in %s", call),
		Cause:  cause,
	}
}

// StaleTimer creates an error for a timer whose entity no longer exists.
func StaleTimer(entity uint64, timer uint32) *Error {
	return &Error{
		Phase:  PhaseTimer,
		Kind:   KindStaleTimer,
		Entity: entity,
		Detail: fmt.Sprintf("timer %d fired after despawn", timer),
		Value:  timer,
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, path []string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Path:   path,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
	}
}

// InvalidDiscriminant creates an invalid discriminant error for variants/enums
func InvalidDiscriminant(phase Phase, path []string, disc uint32, maxValid uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidVariant,
		Path:   path,
		Detail: fmt.Sprintf("discriminant %d out of range (max %d)", disc, maxValid),
		Value:  disc,
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, value any, witType string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindTypeMismatch,
		Path:    path,
		WitType: witType,
		Detail:  fmt.Sprintf("cannot use %T", value),
		Value:   value,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("memory access out of bounds: offset=%d len=%d", offset, length),
		Value:  offset,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, limit any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		Detail: fmt.Sprintf("value %v exceeds maximum %v", value, limit),
		Value:  value,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// MissingExport creates an error for a required guest export that is absent.
func MissingExport(name string) *Error {
	return &Error{
		Phase:  PhaseEncode,
		Kind:   KindMissingExport,
		Detail: fmt.Sprintf("module does not export %q", name),
	}
}

// Closed creates an error for use of a torn-down instance or closed engine.
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", what),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// UnknownImport represents a single import the world does not declare
type UnknownImport struct {
	Module string // e.g., "gamejam:game/game-host"
	Name   string // e.g., "spawn-projectile"
	Reason string
}

// UnknownImportsError is returned when a module imports functions the world does not provide
type UnknownImportsError struct {
	Imports []UnknownImport
}

func (e *UnknownImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[encode] unknown_import: no imports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[encode] unknown_import: %d unresolved import(s):\n", len(e.Imports))

	byModule := make(map[string][]UnknownImport)
	var order []string
	for _, imp := range e.Imports {
		if _, exists := byModule[imp.Module]; !exists {
			order = append(order, imp.Module)
		}
		byModule[imp.Module] = append(byModule[imp.Module], imp)
	}

	for _, mod := range order {
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, imp := range byModule[mod] {
			b.WriteString("    - ")
			b.WriteString(imp.Name)
			if imp.Reason != "" {
				b.WriteString(" (")
				b.WriteString(imp.Reason)
				b.WriteByte(')')
			}
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *UnknownImportsError) Is(target error) bool {
	if _, ok := target.(*UnknownImportsError); ok {
		return true
	}
	if t, ok := target.(*Error); ok {
		return t.Kind == KindUnknownImport || t.Kind == KindScriptLoad
	}
	return false
}
