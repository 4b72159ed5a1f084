package handlers

import (
	"github.com/buxton-project/buxtond/internal/wire"
	apperrors "github.com/buxton-project/buxtond/pkg/errors"
)

// handleListNames implements ListNames: (layer, group?, prefix?),
// replying with status followed by one string parameter per name.
func (d *Dispatcher) handleListNames(fd int, msgid uint32, params []wire.Param) error {
	if len(params) != 3 {
		return apperrors.New(apperrors.ParamArityMismatch, "ListNames expects 3 parameters")
	}
	layer, err := decodeString(params[0])
	if err != nil {
		return err
	}
	group, err := decodeString(params[1])
	if err != nil {
		return err
	}
	prefix, err := decodeString(params[2])
	if err != nil {
		return err
	}

	names, err := d.Facade.ListNames(layer, group, prefix)
	if err != nil {
		return d.fail(fd, wire.KindListNames, msgid)
	}
	extra := make([]wire.Param, len(names))
	for i, n := range names {
		extra[i] = wire.ParamFromValue(wire.NewString(n))
	}
	d.write(fd, statusReply(wire.KindListNames, msgid, 0, extra...))
	return nil
}
