package handlers

import (
	"github.com/buxton-project/buxtond/internal/metrics"
	"github.com/buxton-project/buxtond/internal/queue"
	"github.com/buxton-project/buxtond/internal/wire"
	apperrors "github.com/buxton-project/buxtond/pkg/errors"
)

// handleGet implements Get: (layer?, group, name, type). An empty layer
// string invokes the resolver's get_effective; otherwise the
// single-layer get_in_layer form is used.
func (d *Dispatcher) handleGet(fd int, identity Identity, msgid uint32, params []wire.Param) error {
	if len(params) != 4 {
		return apperrors.New(apperrors.ParamArityMismatch, "Get expects 4 parameters")
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

	var v wire.Value
	var keyReadPriv, layerUsed string
	if layer == "" {
		v, keyReadPriv, _, layerUsed, err = d.Resolver.GetEffective(group, name)
	} else {
		v, keyReadPriv, _, err = d.Resolver.GetInLayer(layer, group, name)
		layerUsed = layer
	}
	if err != nil {
		return d.fail(fd, wire.KindGet, msgid)
	}

	_, groupReadPriv, _, gerr := d.Facade.Get(layerUsed, group, "")
	if gerr != nil {
		return d.fail(fd, wire.KindGet, msgid)
	}

	req := &queue.Request{ClientFD: fd, MsgID: msgid, Kind: wire.KindGet, Layer: layerUsed, Group: group, Name: name}
	req.Dispatch = func(_ *queue.Request, denied bool) {
		if denied {
			metrics.IncrementDenied()
			d.write(fd, statusReply(wire.KindGet, msgid, -1))
			return
		}
		d.write(fd, statusReply(wire.KindGet, msgid, 0, wire.ParamFromValue(v)))
	}
	d.authorize(req, identity, groupReadPriv, keyReadPriv)
	return nil
}
