package handlers

import (
	"github.com/buxton-project/buxtond/internal/metrics"
	"github.com/buxton-project/buxtond/internal/queue"
	"github.com/buxton-project/buxtond/internal/wire"
	apperrors "github.com/buxton-project/buxtond/pkg/errors"
)

// handleSet implements Set: (layer, group, name, value). On success it
// persists the value (inheriting the key's prior privileges, if any)
// and fans out to subscribers.
func (d *Dispatcher) handleSet(fd int, identity Identity, msgid uint32, params []wire.Param) error {
	if len(params) != 4 {
		return apperrors.New(apperrors.ParamArityMismatch, "Set expects 4 parameters")
	}
	layer, err := decodeString(params[0])
	if err != nil {
		return err
	}
	group, err := decodeString(params[1])
	if err != nil {
		return err
	}
	name, err := decodeString(params[2])
	if err != nil {
		return err
	}
	value, err := params[3].ParamValue()
	if err != nil {
		return err
	}

	_, _, groupWritePriv, gerr := d.Facade.Get(layer, group, "")
	if gerr != nil {
		return d.fail(fd, wire.KindSet, msgid)
	}
	// A new key carries no privileges of its own (empty strings fall
	// back to the group's at resolution time); an existing key keeps
	// whatever Set/SetLabel last gave it.
	var keyReadPriv, keyWritePriv string
	if _, rp, wp, err := d.Facade.Get(layer, group, name); err == nil {
		keyReadPriv, keyWritePriv = rp, wp
	}

	req := &queue.Request{ClientFD: fd, MsgID: msgid, Kind: wire.KindSet, Layer: layer, Group: group, Name: name, Value: &value}
	req.Dispatch = func(_ *queue.Request, denied bool) {
		if denied {
			metrics.IncrementDenied()
			d.write(fd, statusReply(wire.KindSet, msgid, -1))
			return
		}
		if err := d.Facade.Set(layer, group, name, value, keyReadPriv, keyWritePriv); err != nil {
			metrics.IncrementErrors()
			d.write(fd, statusReply(wire.KindSet, msgid, -1))
			return
		}
		d.write(fd, statusReply(wire.KindSet, msgid, 0))
		d.fanout(group, name, value, true)
	}
	d.authorize(req, identity, groupWritePriv, keyWritePriv)
	return nil
}
