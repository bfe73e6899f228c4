package coreobject

import "errors"

var (
	// ErrNotRegistered reports a registry call on an object the registry does
	// not currently own, including a second Unregister.
	ErrNotRegistered = errors.New("coreobject: object not registered")

	// ErrAlreadyRegistered reports a second Register of a live object.
	ErrAlreadyRegistered = errors.New("coreobject: object already registered")

	// ErrAlreadyAttached reports Attach on an object whose counterpart is live.
	ErrAlreadyAttached = errors.New("coreobject: counterpart already attached")
)
