package handlers

import (
	"github.com/buxton-project/buxtond/internal/store"
	"github.com/buxton-project/buxtond/internal/wire"
	apperrors "github.com/buxton-project/buxtond/pkg/errors"
)

// handleSetLabel implements SetLabel: (layer, group, name?, label).
// SetLabel predates the split read/write privilege model, so it writes
// the same label as both the read and write privilege. It is only
// valid in system layers, and only for uid 0 unless BUXTON_ROOT_CHECK
// disables the check.
func (d *Dispatcher) handleSetLabel(fd int, identity Identity, msgid uint32, params []wire.Param) error {
	if len(params) != 4 {
		return apperrors.New(apperrors.ParamArityMismatch, "SetLabel expects 4 parameters")
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
	label, err := decodeString(params[3])
	if err != nil {
		return err
	}

	l, ok := d.Facade.Layer(layer)
	if !ok {
		return d.fail(fd, wire.KindSetLabel, msgid)
	}
	if l.Type != store.System {
		return d.fail(fd, wire.KindSetLabel, msgid)
	}
	if rootCheckEnabled() && identity.UID != 0 {
		return d.fail(fd, wire.KindSetLabel, msgid)
	}

	if name == "" {
		// Group-level label: rewrite the sentinel row's privileges, value
		// untouched (it carries no value, only the sentinel marker).
		if err := d.Facade.Set(layer, group, "", wire.Value{Type: wire.TypeUnset}, label, label); err != nil {
			return d.fail(fd, wire.KindSetLabel, msgid)
		}
		d.write(fd, statusReply(wire.KindSetLabel, msgid, 0))
		return nil
	}

	v, _, _, err := d.Facade.Get(layer, group, name)
	if err != nil {
		return d.fail(fd, wire.KindSetLabel, msgid)
	}
	if err := d.Facade.Set(layer, group, name, v, label, label); err != nil {
		return d.fail(fd, wire.KindSetLabel, msgid)
	}
	d.write(fd, statusReply(wire.KindSetLabel, msgid, 0))
	return nil
}

// handleGetLabel implements GetLabel: (layer, group, name?), returning
// the combined read/write label set by SetLabel.
func (d *Dispatcher) handleGetLabel(fd int, msgid uint32, params []wire.Param) error {
	if len(params) != 3 {
		return apperrors.New(apperrors.ParamArityMismatch, "GetLabel expects 3 parameters")
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

	_, rp, _, err := d.Facade.Get(layer, group, name)
	if err != nil {
		return d.fail(fd, wire.KindGetLabel, msgid)
	}
	d.write(fd, statusReply(wire.KindGetLabel, msgid, 0, wire.ParamFromValue(wire.NewString(rp))))
	return nil
}
