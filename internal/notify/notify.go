// Package notify implements the subscription registry: fan-out
// of Set/Unset results to subscribers, with delta suppression.
package notify

import "github.com/buxton-project/buxtond/internal/wire"

type key struct {
	Group, Name string
}

// Subscription is (client, (group, name), message-id, last-observed-value).
type Subscription struct {
	ClientFD int
	MsgID    uint32
	Last     wire.Value
	HasLast  bool
}

// Registry maintains two mappings: subscriptions keyed by (group, name),
// and a reverse index keyed by client fd so a disconnect removes all
// of a client's subscriptions in one pass.
type Registry struct {
	subs     map[key][]*Subscription
	byClient map[int][]key
}

func New() *Registry {
	return &Registry{
		subs:     make(map[key][]*Subscription),
		byClient: make(map[int][]key),
	}
}

// Notify registers a subscription, recording the current value (if any)
// as the subscription's last-observed value so the first subsequent
// change, not the current state, triggers a Changed message.
func (r *Registry) Notify(fd int, group, name string, msgid uint32, current wire.Value, hasCurrent bool) {
	k := key{Group: group, Name: name}
	sub := &Subscription{ClientFD: fd, MsgID: msgid, Last: current, HasLast: hasCurrent}
	r.subs[k] = append(r.subs[k], sub)
	r.byClient[fd] = append(r.byClient[fd], k)
}

// Unnotify removes the first subscription belonging to fd on (group,
// name), returning its original msg-id so the reply can correlate.
func (r *Registry) Unnotify(fd int, group, name string) (uint32, bool) {
	k := key{Group: group, Name: name}
	list := r.subs[k]
	for i, s := range list {
		if s.ClientFD != fd {
			continue
		}
		msgid := s.MsgID
		r.subs[k] = append(list[:i:i], list[i+1:]...)
		if len(r.subs[k]) == 0 {
			delete(r.subs, k)
		}
		r.removeByClient(fd, k)
		return msgid, true
	}
	return 0, false
}

func (r *Registry) removeByClient(fd int, k key) {
	list := r.byClient[fd]
	for i, existing := range list {
		if existing == k {
			r.byClient[fd] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(r.byClient[fd]) == 0 {
		delete(r.byClient, fd)
	}
}

// Changed is one fan-out delivery: the subscriber's fd, its
// subscription's original msg-id, and the new value (hasValue is false
// on unset, meaning an empty payload).
type Changed struct {
	ClientFD int
	MsgID    uint32
	Value    wire.Value
	HasValue bool
}

// Fanout compares the new value against each subscriber's last-observed
// value, skipping subscriptions where it is unchanged (delta
// suppression), and returns the deliveries to make for the rest. Each
// delivered subscription's Last is updated to the new value.
func (r *Registry) Fanout(group, name string, newValue wire.Value, hasNewValue bool) []Changed {
	k := key{Group: group, Name: name}
	subs := r.subs[k]
	if len(subs) == 0 {
		return nil
	}
	var out []Changed
	for _, s := range subs {
		if s.HasLast == hasNewValue && (!hasNewValue || s.Last.Equal(newValue)) {
			continue // delta suppression: identical to what this subscriber last saw
		}
		s.Last = newValue
		s.HasLast = hasNewValue
		out = append(out, Changed{ClientFD: s.ClientFD, MsgID: s.MsgID, Value: newValue, HasValue: hasNewValue})
	}
	return out
}

// PurgeClient removes every subscription belonging to fd. After this
// call, by_client[fd] is absent and no subscription anywhere references
// fd.
func (r *Registry) PurgeClient(fd int) {
	for _, k := range r.byClient[fd] {
		list := r.subs[k]
		kept := list[:0]
		for _, s := range list {
			if s.ClientFD != fd {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(r.subs, k)
		} else {
			r.subs[k] = kept
		}
	}
	delete(r.byClient, fd)
}
