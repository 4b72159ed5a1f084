package authz

import (
	"golang.org/x/sys/unix"

	apperrors "github.com/buxton-project/buxtond/pkg/errors"
)

// Policy decides whether (subject, user, privilege) is granted. It is
// consulted both for the synchronous cache and for queued asynchronous
// requests.
type Policy func(subject, user, privilege string) bool

// AllowAll is the default bootstrap policy: every privilege is granted.
// Real deployments supply a Policy backed by an actual authorization
// service through the same Transport interface.
func AllowAll(string, string, string) bool { return true }

type localCheck struct {
	id       uint64
	granted  bool
	onAnswer AnswerFunc
}

// LocalTransport is a self-contained Transport: answers are computed
// immediately by policy but delivered only on the next Process call,
// through a self-pipe registered with the event loop via StatusChange —
// so callers still observe an asynchronous answer-delivery contract
// without requiring an out-of-process authorization daemon.
// It is the transport used for bootstrap and for tests; production
// deployments plug in a Transport backed by a real authorization
// service.
type LocalTransport struct {
	policy Policy
	cache  map[string]bool

	readFD, writeFD int
	nextID          uint64
	queued          []localCheck
	onStatusChange  StatusChangeFunc
}

// NewLocalTransport creates a LocalTransport. onStatusChange is invoked
// once, synchronously, with the pipe's read fd so the caller can
// register it with the event loop.
func NewLocalTransport(policy Policy, onStatusChange StatusChangeFunc) (*LocalTransport, error) {
	if policy == nil {
		policy = AllowAll
	}
	r, w, err := pipe2()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ServiceUnavailable, "creating authorization self-pipe", err)
	}
	t := &LocalTransport{
		policy:         policy,
		cache:          make(map[string]bool),
		readFD:         r,
		writeFD:        w,
		onStatusChange: onStatusChange,
	}
	if onStatusChange != nil {
		onStatusChange(-1, t.readFD, true, false)
	}
	return t, nil
}

func pipe2() (readFD, writeFD int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

// ReadFD returns the descriptor the event loop should poll for
// readability.
func (t *LocalTransport) ReadFD() int { return t.readFD }

func cacheKey(subject, user, privilege string) string {
	return subject + "\x00" + user + "\x00" + privilege
}

func (t *LocalTransport) Check(subject, user, privilege string) CacheResult {
	granted, ok := t.cache[cacheKey(subject, user, privilege)]
	if !ok {
		return Miss
	}
	if granted {
		return Allowed
	}
	return Denied
}

func (t *LocalTransport) Request(subject, user, privilege string, onAnswer AnswerFunc) (uint64, error) {
	t.nextID++
	id := t.nextID
	granted := t.policy(subject, user, privilege)
	t.cache[cacheKey(subject, user, privilege)] = granted
	t.queued = append(t.queued, localCheck{id: id, granted: granted, onAnswer: onAnswer})

	var b [1]byte
	if _, err := unix.Write(t.writeFD, b[:]); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *LocalTransport) Cancel(checkID uint64) {
	kept := t.queued[:0]
	for _, c := range t.queued {
		if c.id != checkID {
			kept = append(kept, c)
		}
	}
	t.queued = kept
}

// Process drains the self-pipe and delivers every queued answer in
// order.
func (t *LocalTransport) Process() error {
	var buf [64]byte
	for {
		_, err := unix.Read(t.readFD, buf[:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			return err
		}
	}
	pending := t.queued
	t.queued = nil
	for _, c := range pending {
		c.onAnswer(c.granted)
	}
	return nil
}

func (t *LocalTransport) OwnsFD(fd int) bool {
	return fd == t.readFD
}

// Close releases the self-pipe descriptors.
func (t *LocalTransport) Close() error {
	_ = unix.Close(t.writeFD)
	return unix.Close(t.readFD)
}
