// Package handlers implements the per-kind request handlers:
// invariant checks, the authorization launch sequence, the
// storage operation, and reply/fan-out construction.
package handlers

import (
	"os"
	"strconv"

	"github.com/buxton-project/buxtond/internal/authz"
	"github.com/buxton-project/buxtond/internal/metrics"
	"github.com/buxton-project/buxtond/internal/notify"
	"github.com/buxton-project/buxtond/internal/queue"
	"github.com/buxton-project/buxtond/internal/store"
	"github.com/buxton-project/buxtond/internal/wire"
	apperrors "github.com/buxton-project/buxtond/pkg/errors"
	"github.com/buxton-project/buxtond/pkg/logger"
)

// Writer delivers a fully-encoded frame to one client, identified by
// its connection fd. The event loop implements this over raw socket
// writes.
type Writer interface {
	Write(fd int, buf []byte) error
}

// Dispatcher wires together storage, authorization, the notification
// registry, and the pending-request queue to process one decoded frame
// at a time.
type Dispatcher struct {
	Facade   *store.Facade
	Resolver *store.Resolver
	Bridge   *authz.Bridge
	Notify   *notify.Registry
	Queue    *queue.Queue
	Writer   Writer
}

// Identity is the subject/user pair the authorization bridge checks
// privileges against — the client's security label and uid.
type Identity struct {
	Label string
	UID   uint32
}

func (id Identity) user() string { return strconv.FormatUint(uint64(id.UID), 10) }

// Dispatch decodes params for kind and runs the handler. It never
// returns a protocol-level error for façade/authorization failures —
// those become a status -1 reply; the returned error is reserved for
// malformed requests that must terminate the connection.
func (d *Dispatcher) Dispatch(fd int, identity Identity, msgid uint32, kind wire.Kind, params []wire.Param) error {
	metrics.IncrementRequests()

	switch kind {
	case wire.KindSet:
		return d.handleSet(fd, identity, msgid, params)
	case wire.KindSetLabel:
		return d.handleSetLabel(fd, identity, msgid, params)
	case wire.KindCreateGroup:
		return d.handleCreateGroup(fd, msgid, params)
	case wire.KindRemoveGroup:
		return d.handleRemoveGroup(fd, msgid, params)
	case wire.KindGet:
		return d.handleGet(fd, identity, msgid, params)
	case wire.KindGetLabel:
		return d.handleGetLabel(fd, msgid, params)
	case wire.KindUnset:
		return d.handleUnset(fd, identity, msgid, params)
	case wire.KindListNames:
		return d.handleListNames(fd, msgid, params)
	case wire.KindNotify:
		return d.handleNotify(fd, msgid, params)
	case wire.KindUnnotify:
		return d.handleUnnotify(fd, msgid, params)
	default:
		metrics.IncrementErrors()
		return apperrors.New(apperrors.UnknownKind, kind.String())
	}
}

func statusReply(kind wire.Kind, msgid uint32, status int32, extra ...wire.Param) []byte {
	ps := make([]wire.Param, 0, 1+len(extra))
	ps = append(ps, wire.ParamFromValue(wire.NewInt32(status)))
	ps = append(ps, extra...)
	return wire.EncodeFrame(kind, msgid, ps)
}

func (d *Dispatcher) write(fd int, buf []byte) {
	if err := d.Writer.Write(fd, buf); err != nil {
		logger.With("client", fd).Error("writing reply: %v", err)
	}
}

func (d *Dispatcher) fail(fd int, kind wire.Kind, msgid uint32) error {
	metrics.IncrementErrors()
	d.write(fd, statusReply(kind, msgid, -1))
	return nil
}

// rootCheckEnabled reports whether the uid==0 requirement for system
// layer label/privilege changes is active (BUXTON_ROOT_CHECK).
func rootCheckEnabled() bool {
	return os.Getenv("BUXTON_ROOT_CHECK") != "0"
}

func decodeString(p wire.Param) (string, error) {
	v, err := p.ParamValue()
	if err != nil {
		return "", err
	}
	return v.Str, nil
}

// fanout delivers Changed messages for a successful Set/Unset, writing
// the originating client's own reply first is the caller's
// responsibility — fanout only ever runs after that write.
func (d *Dispatcher) fanout(group, name string, v wire.Value, hasValue bool) {
	for _, change := range d.Notify.Fanout(group, name, v, hasValue) {
		var extra []wire.Param
		if change.HasValue {
			extra = append(extra, wire.ParamFromValue(change.Value))
		}
		d.write(change.ClientFD, statusReply(wire.KindChanged, change.MsgID, 0, extra...))
	}
}
