package authz

import (
	apperrors "github.com/buxton-project/buxtond/pkg/errors"
	"github.com/buxton-project/buxtond/pkg/logger"
)

// Bridge is the daemon-facing authorization API: it always consults the
// transport's cache before issuing an asynchronous request, exactly as
// Cynara's cynara_async_check_cache is consulted before
// cynara_async_create_request, so a cached Denied short-circuits
// without ever touching the request queue.
type Bridge struct {
	transport Transport
	pending   map[uint64]struct{}
}

// NewBridge wraps transport with an empty pending-check set. It does
// not register any descriptor; the transport does that itself.
func NewBridge(transport Transport) *Bridge {
	return &Bridge{
		transport: transport,
		pending:   make(map[uint64]struct{}),
	}
}

// Check performs the synchronous cache lookup. An empty privilege means
// unconditional allow and is never sent to the transport.
func (b *Bridge) Check(subject, user, privilege string) CacheResult {
	if privilege == "" {
		return Allowed
	}
	return b.transport.Check(subject, user, privilege)
}

// Request launches an asynchronous check for a privilege that missed
// the cache. The check id is forgotten automatically once onAnswer
// fires, so Cancel only ever needs to handle the disconnect race.
func (b *Bridge) Request(subject, user, privilege string, onAnswer AnswerFunc) (uint64, error) {
	var id uint64
	wrapped := func(granted bool) {
		b.forget(id)
		onAnswer(granted)
	}
	newID, err := b.transport.Request(subject, user, privilege, wrapped)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ServiceUnavailable, "authorization request failed", err)
	}
	id = newID
	b.pending[id] = struct{}{}
	return id, nil
}

// Cancel aborts a pending check, e.g. on client disconnect.
// Cancelling an id that already answered or was never pending is a
// no-op.
func (b *Bridge) Cancel(checkID uint64) {
	if _, ok := b.pending[checkID]; !ok {
		return
	}
	delete(b.pending, checkID)
	b.transport.Cancel(checkID)
}

// Process drains pending service I/O, delivering answers for completed
// checks. Call this when the loop observes the authorization fd ready.
func (b *Bridge) Process() error {
	if err := b.transport.Process(); err != nil {
		logger.With("component", "authz").Error("transport process failed: %v", err)
		return apperrors.Wrap(apperrors.ServiceUnavailable, "authorization process failed", err)
	}
	return nil
}

// OwnsFD reports whether fd is the authorization service's descriptor.
func (b *Bridge) OwnsFD(fd int) bool {
	return b.transport.OwnsFD(fd)
}

func (b *Bridge) forget(checkID uint64) {
	delete(b.pending, checkID)
}
