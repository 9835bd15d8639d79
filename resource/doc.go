// Package resource manages the per-instance resource handle table.
//
// A guest that exports a resource type creates handles through the
// [resource-new] intrinsic, passing its own representation (usually a pointer
// into linear memory). The host keeps the handle to call methods later and
// resolves it back to the representation with [resource-rep]:
//
//	table := resource.NewTable()
//	h := table.New(typeID, rep)
//	rep, ok := table.Rep(h)
//	table.Drop(h)
//
// Handle 0 is never issued. Dropped handles are recycled.
//
// Host-owned values can also be stored with Insert and retrieved with Get.
// Values implementing Dropper are released on Drop and on Close.
package resource
