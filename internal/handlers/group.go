package handlers

import (
	"github.com/buxton-project/buxtond/internal/wire"
	apperrors "github.com/buxton-project/buxtond/pkg/errors"
)

// handleCreateGroup implements CreateGroup: (layer, group). No
// authorization check applies — the group doesn't exist yet, so there
// is no privilege to evaluate against.
func (d *Dispatcher) handleCreateGroup(fd int, msgid uint32, params []wire.Param) error {
	if len(params) != 2 {
		return apperrors.New(apperrors.ParamArityMismatch, "CreateGroup expects 2 parameters")
	}
	layer, err := decodeString(params[0])
	if err != nil {
		return err
	}
	group, err := decodeString(params[1])
	if err != nil {
		return err
	}
	if err := d.Facade.CreateGroup(layer, group, "", ""); err != nil {
		return d.fail(fd, wire.KindCreateGroup, msgid)
	}
	d.write(fd, statusReply(wire.KindCreateGroup, msgid, 0))
	return nil
}

// handleRemoveGroup implements RemoveGroup: (layer, group).
func (d *Dispatcher) handleRemoveGroup(fd int, msgid uint32, params []wire.Param) error {
	if len(params) != 2 {
		return apperrors.New(apperrors.ParamArityMismatch, "RemoveGroup expects 2 parameters")
	}
	layer, err := decodeString(params[0])
	if err != nil {
		return err
	}
	group, err := decodeString(params[1])
	if err != nil {
		return err
	}
	if err := d.Facade.RemoveGroup(layer, group); err != nil {
		return d.fail(fd, wire.KindRemoveGroup, msgid)
	}
	d.write(fd, statusReply(wire.KindRemoveGroup, msgid, 0))
	return nil
}
