// Package authz implements the authorization bridge: a thin
// layer over a pluggable Transport that talks to an external
// authorization service through a single file descriptor owned by the
// event loop.
package authz

// CacheResult is the outcome of a synchronous cache lookup.
type CacheResult int

const (
	Miss CacheResult = iota
	Allowed
	Denied
)

// Decision is the per-check state a pending request tracks: a request
// is dispatchable once no decision remains Required.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionRequired
	DecisionGranted
	DecisionDenied
)

// AnswerFunc is invoked once, from Process, when an asynchronous check
// launched by Request completes.
type AnswerFunc func(granted bool)

// StatusChangeFunc is the callback a Transport uses to (re)register its
// file descriptor with the event loop. oldFD is -1 on first
// registration.
type StatusChangeFunc func(oldFD, newFD int, wantRead, wantWrite bool)

// Transport is the pluggable client for an external authorization
// service, modeled on Cynara's async API:
// cynara_async_check_cache/cynara_async_create_request/
// cynara_async_process/cynara_async_cancel_request.
type Transport interface {
	// Check performs a synchronous cache lookup; Miss means no cached
	// answer exists and an asynchronous Request is needed.
	Check(subject, user, privilege string) CacheResult
	// Request enqueues an asynchronous check, returning a check id that
	// can later be passed to Cancel. onAnswer fires from a later Process
	// call.
	Request(subject, user, privilege string, onAnswer AnswerFunc) (checkID uint64, err error)
	// Cancel aborts a check started by Request. onAnswer for a cancelled
	// check is never invoked.
	Cancel(checkID uint64)
	// Process drains pending service I/O and invokes onAnswer callbacks
	// for any checks that completed.
	Process() error
	// OwnsFD reports whether fd is this transport's service descriptor,
	// mirroring Cynara's buxton_cynara_check_fd identity check.
	OwnsFD(fd int) bool
}
