package handlers

import (
	"github.com/buxton-project/buxtond/internal/authz"
	"github.com/buxton-project/buxtond/internal/queue"
)

// launch resolves privilege against the bridge's cache, falling back to
// an asynchronous request on a miss. onResolved is only ever invoked
// for the async path, and only once.
func (d *Dispatcher) launch(identity Identity, privilege string, onResolved func(granted bool)) (authz.Decision, uint64) {
	if privilege == "" {
		return authz.DecisionGranted, 0
	}
	switch d.Bridge.Check(identity.Label, identity.user(), privilege) {
	case authz.Allowed:
		return authz.DecisionGranted, 0
	case authz.Denied:
		return authz.DecisionDenied, 0
	default:
		id, err := d.Bridge.Request(identity.Label, identity.user(), privilege, onResolved)
		if err != nil {
			// ServiceUnavailable is treated as PermissionDenied for this
			// check.
			return authz.DecisionDenied, 0
		}
		return authz.DecisionRequired, id
	}
}

// authorize launches checks for the group's governing privilege and,
// if distinct and non-empty, the key's own privilege, parks req on the
// queue, and drains immediately in case both resolved synchronously.
func (d *Dispatcher) authorize(req *queue.Request, identity Identity, groupPriv, keyPriv string) {
	d.Queue.Push(req)

	req.GroupDecision, req.GroupCheckID = d.launch(identity, groupPriv, func(granted bool) {
		if granted {
			req.GroupDecision = authz.DecisionGranted
		} else {
			req.GroupDecision = authz.DecisionDenied
		}
		d.Queue.Drain()
	})

	if keyPriv != "" && keyPriv != groupPriv {
		req.KeyDecision, req.KeyCheckID = d.launch(identity, keyPriv, func(granted bool) {
			if granted {
				req.KeyDecision = authz.DecisionGranted
			} else {
				req.KeyDecision = authz.DecisionDenied
			}
			d.Queue.Drain()
		})
	} else {
		req.KeyDecision = authz.DecisionGranted
	}

	d.Queue.Drain()
}
