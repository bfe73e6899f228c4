package coreobject

// Events emitted on the registry's bus. Delivered one frame later by the
// event dispatch system.

// DependenciesChanged follows NotifyDependenciesDirty. Observers decide
// whether dependants need refreshing; the registry never cascades dirtiness.
type DependenciesChanged struct {
	Object       ID
	Dependencies []ID
	Dependants   []ID
}

// ObjectUnregistered follows a successful Unregister.
type ObjectUnregistered struct {
	Object ID
}
