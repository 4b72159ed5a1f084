package handlers

import (
	apperrors "github.com/buxton-project/buxtond/pkg/errors"
	"github.com/buxton-project/buxtond/internal/wire"
)

// handleNotify implements Notify: (group, name, type). It registers a
// subscription against the key's current effective value so the first
// subsequent change — not the current state — triggers a Changed
// message.
func (d *Dispatcher) handleNotify(fd int, msgid uint32, params []wire.Param) error {
	if len(params) != 3 {
		return apperrors.New(apperrors.ParamArityMismatch, "Notify expects 3 parameters")
	}
	group, err := decodeString(params[0])
	if err != nil {
		return err
	}
	name, err := decodeString(params[1])
	if err != nil {
		return err
	}
	if _, err := params[2].ParamValue(); err != nil {
		return err
	}

	v, _, _, _, err := d.Resolver.GetEffective(group, name)
	hasCurrent := err == nil
	d.Notify.Notify(fd, group, name, msgid, v, hasCurrent)
	d.write(fd, statusReply(wire.KindNotify, msgid, 0))
	return nil
}

// handleUnnotify implements Unnotify: (group, name, type), replying
// with the original subscription's msg-id so the client can correlate.
func (d *Dispatcher) handleUnnotify(fd int, msgid uint32, params []wire.Param) error {
	if len(params) != 3 {
		return apperrors.New(apperrors.ParamArityMismatch, "Unnotify expects 3 parameters")
	}
	group, err := decodeString(params[0])
	if err != nil {
		return err
	}
	name, err := decodeString(params[1])
	if err != nil {
		return err
	}
	if _, err := params[2].ParamValue(); err != nil {
		return err
	}

	origMsgID, ok := d.Notify.Unnotify(fd, group, name)
	if !ok {
		d.write(fd, statusReply(wire.KindUnnotify, msgid, -1, wire.ParamFromValue(wire.NewUint32(0))))
		return nil
	}
	d.write(fd, statusReply(wire.KindUnnotify, msgid, 0, wire.ParamFromValue(wire.NewUint32(origMsgID))))
	return nil
}
