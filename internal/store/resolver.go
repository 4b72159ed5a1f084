package store

import (
	apperrors "github.com/buxton-project/buxtond/pkg/errors"
	"github.com/buxton-project/buxtond/internal/wire"
)

// Resolver implements the layer-precedence rules over a Facade: system
// layers always outrank user layers, and within a type the highest
// priority wins with ties broken by insertion order.
type Resolver struct {
	facade *Facade
}

func NewResolver(facade *Facade) *Resolver {
	return &Resolver{facade: facade}
}

// GetInLayer is the single-layer lookup form. It verifies the group row
// exists before returning the value, failing with NoSuchGroup if not.
func (r *Resolver) GetInLayer(layerName, group, name string) (wire.Value, string, string, error) {
	h, err := r.facade.handle(layerName)
	if err != nil {
		return wire.Value{}, "", "", err
	}
	exists, err := r.facade.groupExists(h, group)
	if err != nil {
		return wire.Value{}, "", "", err
	}
	if !exists {
		return wire.Value{}, "", "", apperrors.New(apperrors.NoSuchGroup, "no such group: "+group)
	}
	return r.facade.Get(layerName, group, name)
}

// exists reports whether (group, name) has a row in layerName, without
// the group-existence invariant check (used only to decide which layer
// wins the resolution, not to serve a value).
func (r *Resolver) exists(layerName, group, name string) (bool, error) {
	h, err := r.facade.handle(layerName)
	if err != nil {
		return false, err
	}
	_, found, err := h.backend.Get(Key{Group: group, Name: name})
	return found, err
}

// GetEffective picks the winning layer for (group, name) per the
// resolution rule — any system hit beats every user hit, else the
// highest-priority user hit, ties broken by insertion order — then
// resolves the value through that layer's GetInLayer, so the
// group-existence invariant still applies.
func (r *Resolver) GetEffective(group, name string) (wire.Value, string, string, string, error) {
	var bestSystem, bestUser *Layer
	for i, l := range r.facade.Layers() {
		l := l
		hit, err := r.exists(l.Name, group, name)
		if err != nil {
			return wire.Value{}, "", "", "", err
		}
		if !hit {
			continue
		}
		l.order = i
		switch l.Type {
		case System:
			if bestSystem == nil || betterHit(l, *bestSystem) {
				bestSystem = &l
			}
		default:
			if bestUser == nil || betterHit(l, *bestUser) {
				bestUser = &l
			}
		}
	}

	winner := bestSystem
	if winner == nil {
		winner = bestUser
	}
	if winner == nil {
		return wire.Value{}, "", "", "", apperrors.New(apperrors.NotFound, "no layer has this key")
	}

	v, rp, wp, err := r.GetInLayer(winner.Name, group, name)
	return v, rp, wp, winner.Name, err
}

// betterHit reports whether candidate outranks current: higher priority
// wins, ties broken by earlier insertion order.
func betterHit(candidate, current Layer) bool {
	if candidate.Priority != current.Priority {
		return candidate.Priority > current.Priority
	}
	return candidate.order < current.order
}
