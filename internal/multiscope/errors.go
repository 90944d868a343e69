package multiscope

import "errors"

// ErrNoScopes is returned by New when cfg has no active scopes.
var ErrNoScopes = errors.New("multiscope: config has no active scopes")

// ErrInvalidScope is returned by New when a scope is missing a name or
// has no entry URLs, per spec.md §7's multi-scope validation rule.
var ErrInvalidScope = errors.New("multiscope: scope must have a name and at least one entry URL")

// ErrAlreadyStarted is returned by Start when called more than once.
var ErrAlreadyStarted = errors.New("multiscope: already started")
