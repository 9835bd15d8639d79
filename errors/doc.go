// Package errors provides structured error types for the entity scripting runtime.
//
// Errors are categorized by Phase (where in the script lifecycle the error occurred)
// and Kind (error category). The four kinds the runtime reacts to are:
//
//	KindScriptLoad  malformed module or failed encode/compile/instantiate
//	KindHostCall    a drained command referenced an unknown asset
//	KindGuestTrap   the guest faulted inside a lifecycle call
//	KindStaleTimer  a timer fired for an entity that already despawned
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindInvalidData).
//		Path("event", "data").
//		WitType("event-data").
//		Detail("truncated payload").
//		Build()
//
// Or the convenience constructors:
//
//	err := errors.GuestTrap(entity, "tick", cause)
//
// All errors implement the standard error interface and support errors.Is/As.
// IsKind matches on Kind regardless of Phase.
package errors
