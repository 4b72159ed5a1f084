package store

import (
	"sort"

	apperrors "github.com/buxton-project/buxtond/pkg/errors"
	"github.com/buxton-project/buxtond/internal/wire"
)

// groupName is the empty name denoting a group row itself.
const groupName = ""

type layerHandle struct {
	layer   Layer
	backend Backend
}

// Facade is the only code that touches backend database files. It
// enforces the invariants for set/create_group/remove_group and the
// read-only check for unset; everything else is delegated straight to
// the backend.
type Facade struct {
	byName map[string]*layerHandle
	order  []string // layer names, insertion order
}

// NewFacade builds a façade over layers, each backed by its own bbolt
// file at layer.Path.
func NewFacade(layers []Layer) *Facade {
	f := &Facade{byName: make(map[string]*layerHandle, len(layers))}
	for i, l := range layers {
		l.order = i
		f.byName[l.Name] = &layerHandle{layer: l, backend: NewBoltBackend(l.Path)}
		f.order = append(f.order, l.Name)
	}
	return f
}

// Open opens every configured layer's backend.
func (f *Facade) Open() error {
	for _, name := range f.order {
		if err := f.byName[name].backend.Open(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every configured layer's backend.
func (f *Facade) Close() error {
	var first error
	for _, name := range f.order {
		if err := f.byName[name].backend.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Layers returns the configured layers in insertion order.
func (f *Facade) Layers() []Layer {
	out := make([]Layer, 0, len(f.order))
	for _, name := range f.order {
		out = append(out, f.byName[name].layer)
	}
	return out
}

// Layer looks up one configured layer by name.
func (f *Facade) Layer(name string) (Layer, bool) {
	h, ok := f.byName[name]
	if !ok {
		return Layer{}, false
	}
	return h.layer, true
}

func (f *Facade) handle(layerName string) (*layerHandle, error) {
	h, ok := f.byName[layerName]
	if !ok {
		return nil, apperrors.New(apperrors.NoSuchLayer, "no such layer: "+layerName)
	}
	return h, nil
}

// CreateDB creates (or reopens) the named layer's backend file.
func (f *Facade) CreateDB(layerName string) error {
	h, err := f.handle(layerName)
	if err != nil {
		return err
	}
	return h.backend.CreateDB()
}

// groupExists reports whether the group row (group, "") is present.
func (f *Facade) groupExists(h *layerHandle, group string) (bool, error) {
	_, found, err := h.backend.Get(Key{Group: group})
	return found, err
}

// Get returns the stored value and privileges for (group, name) in
// layerName, without checking the group-existence invariant — callers
// needing that check use the resolver's GetInLayer.
func (f *Facade) Get(layerName, group, name string) (wire.Value, string, string, error) {
	h, err := f.handle(layerName)
	if err != nil {
		return wire.Value{}, "", "", err
	}
	raw, found, err := h.backend.Get(Key{Group: group, Name: name})
	if err != nil {
		return wire.Value{}, "", "", err
	}
	if !found {
		return wire.Value{}, "", "", apperrors.New(apperrors.NotFound, "no such key")
	}
	v, rp, wp, err := wire.DecodeStored(raw)
	if err != nil {
		return wire.Value{}, "", "", apperrors.Wrap(apperrors.IoError, "corrupt stored value", err)
	}
	return v, rp, wp, nil
}

// Set persists value under (group, name) in layerName, enforcing
// ReadOnlyLayer and the group-existence invariant for non-group keys.
func (f *Facade) Set(layerName, group, name string, v wire.Value, readPriv, writePriv string) error {
	h, err := f.handle(layerName)
	if err != nil {
		return err
	}
	if h.layer.ReadOnly {
		return apperrors.New(apperrors.ReadOnlyLayer, "layer is read-only: "+layerName)
	}
	if name != groupName {
		exists, err := f.groupExists(h, group)
		if err != nil {
			return err
		}
		if !exists {
			return apperrors.New(apperrors.NoSuchGroup, "no such group: "+group)
		}
	}
	raw := wire.EncodeStored(v, readPriv, writePriv)
	return h.backend.Set(Key{Group: group, Name: name}, raw)
}

// Unset removes (group, name) from layerName. No privilege argument:
// privilege resolution happens in the handler before this is called.
func (f *Facade) Unset(layerName, group, name string) error {
	h, err := f.handle(layerName)
	if err != nil {
		return err
	}
	if h.layer.ReadOnly {
		return apperrors.New(apperrors.ReadOnlyLayer, "layer is read-only: "+layerName)
	}
	return h.backend.Unset(Key{Group: group, Name: name})
}

// CreateGroup writes the group's sentinel row with the supplied
// privileges (empty strings if none given). Fails with GroupExists if
// the row is already present.
func (f *Facade) CreateGroup(layerName, group, readPriv, writePriv string) error {
	h, err := f.handle(layerName)
	if err != nil {
		return err
	}
	if h.layer.ReadOnly {
		return apperrors.New(apperrors.ReadOnlyLayer, "layer is read-only: "+layerName)
	}
	exists, err := f.groupExists(h, group)
	if err != nil {
		return err
	}
	if exists {
		return apperrors.New(apperrors.GroupExists, "group already exists: "+group)
	}
	raw := wire.EncodeStored(wire.Value{Type: wire.TypeUnset}, readPriv, writePriv)
	return h.backend.Set(Key{Group: group}, raw)
}

// RemoveGroup deletes the group's sentinel row. Fails with NoSuchGroup
// if absent. Per-key cleanup under the group is left to the caller's
// policy; the façade only removes the sentinel itself.
func (f *Facade) RemoveGroup(layerName, group string) error {
	h, err := f.handle(layerName)
	if err != nil {
		return err
	}
	if h.layer.ReadOnly {
		return apperrors.New(apperrors.ReadOnlyLayer, "layer is read-only: "+layerName)
	}
	exists, err := f.groupExists(h, group)
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.New(apperrors.NoSuchGroup, "no such group: "+group)
	}
	return h.backend.Unset(Key{Group: group})
}

// ListKeys returns every stored key in layerName. Not exposed on the
// wire, used by the CLI's direct mode and
// by tests.
func (f *Facade) ListKeys(layerName string) ([]Key, error) {
	h, err := f.handle(layerName)
	if err != nil {
		return nil, err
	}
	return h.backend.ListKeys()
}

// ListNames returns the sorted names stored under group in layerName
// whose name starts with prefix.
func (f *Facade) ListNames(layerName, group, prefix string) ([]string, error) {
	h, err := f.handle(layerName)
	if err != nil {
		return nil, err
	}
	names, err := h.backend.ListNames(group, prefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
