package handlers

import (
	"github.com/buxton-project/buxtond/internal/metrics"
	"github.com/buxton-project/buxtond/internal/queue"
	"github.com/buxton-project/buxtond/internal/wire"
	apperrors "github.com/buxton-project/buxtond/pkg/errors"
)

// handleUnset implements Unset: (layer, group, name, type). The
// façade's Unset takes no privilege argument;
// privilege is resolved here the same way Get resolves read privilege,
// using the key's write privilege instead.
func (d *Dispatcher) handleUnset(fd int, identity Identity, msgid uint32, params []wire.Param) error {
	if len(params) != 4 {
		return apperrors.New(apperrors.ParamArityMismatch, "Unset expects 4 parameters")
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
	if _, err := params[3].ParamValue(); err != nil {
		return err
	}

	_, _, groupWritePriv, gerr := d.Facade.Get(layer, group, "")
	if gerr != nil {
		return d.fail(fd, wire.KindUnset, msgid)
	}
	_, _, keyWritePriv, kerr := d.Facade.Get(layer, group, name)
	if kerr != nil {
		return d.fail(fd, wire.KindUnset, msgid) // nothing to unset
	}

	req := &queue.Request{ClientFD: fd, MsgID: msgid, Kind: wire.KindUnset, Layer: layer, Group: group, Name: name}
	req.Dispatch = func(_ *queue.Request, denied bool) {
		if denied {
			metrics.IncrementDenied()
			d.write(fd, statusReply(wire.KindUnset, msgid, -1))
			return
		}
		if err := d.Facade.Unset(layer, group, name); err != nil {
			metrics.IncrementErrors()
			d.write(fd, statusReply(wire.KindUnset, msgid, -1))
			return
		}
		d.write(fd, statusReply(wire.KindUnset, msgid, 0))
		d.fanout(group, name, wire.Value{}, false)
	}
	d.authorize(req, identity, groupWritePriv, keyWritePriv)
	return nil
}
