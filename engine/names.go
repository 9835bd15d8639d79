package engine

import "strings"

// Canonical core names for resource functions exported by a guest interface.
// Examples for interface "gamejam:game/entity-resource" and resource "game-entity":
//   - constructor: "gamejam:game/entity-resource#[constructor]game-entity"
//   - method:      "gamejam:game/entity-resource#[method]game-entity.tick"
//   - destructor:  "gamejam:game/entity-resource#[dtor]game-entity"
const (
	prefixConstructor  = "[constructor]"
	prefixMethod       = "[method]"
	prefixDtor         = "[dtor]"
	prefixResourceNew  = "[resource-new]"
	prefixResourceRep  = "[resource-rep]"
	prefixResourceDrop = "[resource-drop]"
	prefixExport       = "[export]"
)

// ConstructorName returns the export name of a resource constructor.
func ConstructorName(iface, res string) string {
	return iface + "#" + prefixConstructor + res
}

// MethodName returns the export name of a resource method.
func MethodName(iface, res, method string) string {
	return iface + "#" + prefixMethod + res + "." + method
}

// DtorName returns the export name of a resource destructor.
func DtorName(iface, res string) string {
	return iface + "#" + prefixDtor + res
}

// FuncName returns the export name of a freestanding interface function.
func FuncName(iface, name string) string {
	return iface + "#" + name
}

// ResourceModule returns the core import module that carries the resource
// intrinsics for an exported interface.
func ResourceModule(iface string) string {
	return prefixExport + iface
}

// Resource intrinsic kinds.
const (
	intrinsicNew  = "new"
	intrinsicRep  = "rep"
	intrinsicDrop = "drop"
)

// ResourceIntrinsicNames returns the new, rep and drop import names for res.
func ResourceIntrinsicNames(res string) (newName, repName, dropName string) {
	return prefixResourceNew + res, prefixResourceRep + res, prefixResourceDrop + res
}

// parseResourceIntrinsic splits "[resource-new]game-entity" into its kind and
// resource name.
func parseResourceIntrinsic(name string) (kind, res string, ok bool) {
	for prefix, k := range map[string]string{
		prefixResourceNew:  intrinsicNew,
		prefixResourceRep:  intrinsicRep,
		prefixResourceDrop: intrinsicDrop,
	} {
		if r, found := strings.CutPrefix(name, prefix); found && r != "" {
			return k, r, true
		}
	}
	return "", "", false
}
