// Package queue implements the pending-request list: requests
// park here between launching authorization checks and having both
// decisions resolve.
package queue

import (
	"github.com/buxton-project/buxtond/internal/authz"
	"github.com/buxton-project/buxtond/internal/wire"
)

// Request is a request parked on the queue while its authorization
// checks are outstanding: client, msg-id, kind, key, value?,
// group-decision, key-decision.
type Request struct {
	ClientFD int
	MsgID    uint32
	Kind     wire.Kind
	Group    string
	Name     string
	Layer    string
	Value    *wire.Value

	// Label, Prefix and ValueType are not filled in by the handlers,
	// which capture what they need in the Dispatch closure instead; they
	// stay at their zero values.
	Label     string
	Prefix    string
	ValueType wire.Type

	GroupDecision authz.Decision
	KeyDecision   authz.Decision
	GroupCheckID  uint64
	KeyCheckID    uint64

	// Dispatch is invoked exactly once, when ready reports this request:
	// denied is true if either decision resolved to DecisionDenied.
	Dispatch func(req *Request, denied bool)
}

// ready reports whether neither decision is still None or Required.
func (r *Request) ready() bool {
	return r.GroupDecision != authz.DecisionNone && r.GroupDecision != authz.DecisionRequired &&
		r.KeyDecision != authz.DecisionNone && r.KeyDecision != authz.DecisionRequired
}

// denied reports whether either decision resolved to Denied.
func (r *Request) denied() bool {
	return r.GroupDecision == authz.DecisionDenied || r.KeyDecision == authz.DecisionDenied
}

type node struct {
	req  *Request
	next *node
}

// Queue is the singly-linked pending-request list: insertion appends to
// the head, and drain removes every request whose decisions have all
// resolved.
type Queue struct {
	head *node
}

func New() *Queue {
	return &Queue{}
}

// Push parks req at the head of the list.
func (q *Queue) Push(req *Request) {
	q.head = &node{req: req, next: q.head}
}

// Len returns the number of parked requests.
func (q *Queue) Len() int {
	n := 0
	for cur := q.head; cur != nil; cur = cur.next {
		n++
	}
	return n
}

// Drain removes every request whose decisions have all resolved and
// invokes its Dispatch callback, in list order.
func (q *Queue) Drain() {
	var prev *node
	cur := q.head
	for cur != nil {
		next := cur.next
		if cur.req.ready() {
			if prev == nil {
				q.head = next
			} else {
				prev.next = next
			}
			cur.req.Dispatch(cur.req, cur.req.denied())
		} else {
			prev = cur
		}
		cur = next
	}
}

// PurgeClient removes every request belonging to fd, invoking cancel
// for each one so its outstanding authorization checks can be
// cancelled. Used on client disconnect.
func (q *Queue) PurgeClient(fd int, cancel func(req *Request)) {
	var prev *node
	cur := q.head
	for cur != nil {
		next := cur.next
		if cur.req.ClientFD == fd {
			if prev == nil {
				q.head = next
			} else {
				prev.next = next
			}
			if cancel != nil {
				cancel(cur.req)
			}
		} else {
			prev = cur
		}
		cur = next
	}
}
