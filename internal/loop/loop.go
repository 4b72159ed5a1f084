// Package loop implements the daemon's single-threaded event loop: one
// poll multiplexing the listening socket, every accepted client, the
// authorization service descriptor, and a shutdown signal descriptor.
package loop

import (
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/buxton-project/buxtond/internal/authz"
	"github.com/buxton-project/buxtond/internal/handlers"
	"github.com/buxton-project/buxtond/internal/metrics"
	"github.com/buxton-project/buxtond/internal/notify"
	"github.com/buxton-project/buxtond/internal/queue"
	"github.com/buxton-project/buxtond/internal/ratelimit"
	"github.com/buxton-project/buxtond/internal/session"
	"github.com/buxton-project/buxtond/internal/wire"
	apperrors "github.com/buxton-project/buxtond/pkg/errors"
	"github.com/buxton-project/buxtond/pkg/logger"
)

// readTimeout bounds how long a client may sit mid-frame before it is
// terminated, so a stalled peer cannot pin its receive buffer forever.
const readTimeout = 5 * time.Second

// Loop owns every file descriptor the daemon polls and drives the
// dispatch/drain cycle. It implements handlers.Writer by writing raw
// frames to client sockets.
type Loop struct {
	listenFD              int
	sigReadFD, sigWriteFD int

	authFD                      int
	wantAuthRead, wantAuthWrite bool

	clients map[int]*session.Client

	// leftover tracks clients whose last Feed call hit BatchLimit and
	// left at least a frame header's worth of bytes buffered. iterate
	// polls with a zero timeout while this set is non-empty so any
	// complete frames among them get drained without waiting on new
	// socket data.
	leftover map[int]bool

	limiter *ratelimit.Limiter

	// readTimeout is how long a client may sit mid-frame before
	// expireStalled terminates it.
	readTimeout time.Duration

	Dispatcher *handlers.Dispatcher
	Bridge     *authz.Bridge
	Queue      *queue.Queue
	Notify     *notify.Registry
}

// New binds a Unix-domain listening socket at socketPath and wires the
// self-pipe shutdown signal. Pass StatusChange to the authorization
// transport's constructor so it can register its descriptor. rlCfg may
// be nil, which disables per-uid connection limiting.
func New(socketPath string, rlCfg *ratelimit.Config) (*Loop, error) {
	listenFD, err := bindListener(socketPath)
	if err != nil {
		return nil, err
	}

	sigR, sigW, err := selfPipe()
	if err != nil {
		unix.Close(listenFD)
		return nil, err
	}

	l := &Loop{
		listenFD:    listenFD,
		sigReadFD:   sigR,
		sigWriteFD:  sigW,
		authFD:      -1,
		clients:     make(map[int]*session.Client),
		leftover:    make(map[int]bool),
		limiter:     ratelimit.NewLimiter(rlCfg),
		readTimeout: readTimeout,
	}
	l.armSignalForwarding()
	return l, nil
}

func bindListener(socketPath string) (int, error) {
	_ = os.Remove(socketPath)
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, apperrors.Wrap(apperrors.IoError, "creating listening socket", err)
	}
	addr := &unix.SockaddrUnix{Name: socketPath}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, apperrors.Wrap(apperrors.IoError, "binding listening socket", err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, apperrors.Wrap(apperrors.IoError, "listening on socket", err)
	}
	return fd, nil
}

func selfPipe() (readFD, writeFD int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return 0, 0, apperrors.Wrap(apperrors.IoError, "creating signal self-pipe", err)
	}
	return fds[0], fds[1], nil
}

// armSignalForwarding forwards SIGINT/SIGTERM onto the self-pipe so the
// poll loop observes shutdown as just another readable descriptor,
// mirroring the role a dedicated signal fd would play in the poll set.
func (l *Loop) armSignalForwarding() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		var b [1]byte
		unix.Write(l.sigWriteFD, b[:])
	}()
}

// StatusChange is passed to the authorization transport's constructor
// so it can (re)register its descriptor with the loop.
func (l *Loop) StatusChange(oldFD, newFD int, wantRead, wantWrite bool) {
	l.authFD = newFD
	l.wantAuthRead = wantRead
	l.wantAuthWrite = wantWrite
}

// Write implements handlers.Writer.
func (l *Loop) Write(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return apperrors.Wrap(apperrors.IoError, "writing to client", err)
		}
		buf = buf[n:]
	}
	return nil
}

// Close releases every descriptor the loop owns, including accepted
// clients.
func (l *Loop) Close() error {
	for fd := range l.clients {
		unix.Close(fd)
	}
	unix.Close(l.sigReadFD)
	unix.Close(l.sigWriteFD)
	return unix.Close(l.listenFD)
}

// Run blocks, servicing descriptors until a shutdown signal arrives or
// poll reports a fatal error.
func (l *Loop) Run() error {
	for {
		stop, err := l.iterate()
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// iterate runs one pass of the event loop: poll, handle the signal fd
// first, then every other ready fd in order, then drain the request
// queue.
func (l *Loop) iterate() (stop bool, err error) {
	fds := l.buildPollSet()
	timeout := -1
	if len(l.leftover) > 0 {
		timeout = 0
	} else if l.anyMidFrame() {
		// Wake up often enough to notice a client stalled mid-frame even
		// if no descriptor ever becomes ready again.
		timeout = 1000
	}
	if _, err := unix.Poll(fds, timeout); err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, apperrors.Wrap(apperrors.IoError, "poll failed", err)
	}

	for _, pfd := range fds {
		if pfd.Fd == int32(l.sigReadFD) && pfd.Revents&unix.POLLIN != 0 {
			return true, nil
		}
	}

	serviced := make(map[int]bool, len(l.clients))
	for _, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		fd := int(pfd.Fd)
		switch {
		case fd == l.authFD:
			if err := l.Bridge.Process(); err != nil {
				logger.With("fd", fd).Error("authorization Process failed: %v", err)
			}
		case fd == l.listenFD:
			l.acceptAll()
		default:
			if c, ok := l.clients[fd]; ok {
				l.serviceClient(c)
				serviced[fd] = true
			}
		}
	}

	// Any client left flagged with leftover frames that wasn't already
	// re-read above (no fresh data arrived, so it didn't show up as
	// poll-ready) still has bytes buffered from a prior batch-limited
	// Feed call. Drain those without touching the socket.
	for fd := range l.leftover {
		if serviced[fd] {
			continue
		}
		if c, ok := l.clients[fd]; ok {
			l.drainLeftover(c)
		} else {
			delete(l.leftover, fd)
		}
	}

	l.expireStalled()

	metrics.SetQueueDepth(l.Queue.Len())
	l.Queue.Drain()
	return false, nil
}

func (l *Loop) anyMidFrame() bool {
	for _, c := range l.clients {
		if c.MidFrame() {
			return true
		}
	}
	return false
}

// expireStalled terminates clients that have held an incomplete frame
// longer than readTimeout.
func (l *Loop) expireStalled() {
	now := time.Now()
	var stalled []*session.Client
	for _, c := range l.clients {
		if c.Stalled(now, l.readTimeout) {
			stalled = append(stalled, c)
		}
	}
	for _, c := range stalled {
		logger.With("fd", c.FD, "uid", c.UID).Error("terminating client stalled mid-frame")
		l.disconnect(c)
	}
}

// buildPollSet returns a deterministically-ordered pollfd slice so
// iteration order (and therefore test expectations) is stable.
func (l *Loop) buildPollSet() []unix.PollFd {
	fds := make([]unix.PollFd, 0, len(l.clients)+3)
	fds = append(fds, unix.PollFd{Fd: int32(l.sigReadFD), Events: unix.POLLIN})
	fds = append(fds, unix.PollFd{Fd: int32(l.listenFD), Events: unix.POLLIN})
	if l.authFD >= 0 {
		var events int16
		if l.wantAuthRead {
			events |= unix.POLLIN
		}
		if l.wantAuthWrite {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(l.authFD), Events: events})
	}

	clientFDs := make([]int, 0, len(l.clients))
	for fd := range l.clients {
		clientFDs = append(clientFDs, fd)
	}
	sort.Ints(clientFDs)
	for _, fd := range clientFDs {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	return fds
}

func (l *Loop) acceptAll() {
	for {
		fd, _, err := unix.Accept4(l.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			logger.With("fd", l.listenFD).Error("accept failed: %v", err)
			return
		}
		setClientSockopts(fd)
		c := session.New(fd)
		if err := c.CaptureCredentials(); err != nil {
			logger.With("fd", fd).Error("capturing credentials: %v", err)
			c.Close()
			continue
		}
		if !l.limiter.AllowConnection(c.UID) {
			logger.With("fd", fd, "uid", c.UID).Error("rejecting connection: rate limit exceeded")
			c.Close()
			continue
		}
		l.clients[fd] = c
		metrics.IncrementClients()
	}
}

// setClientSockopts marks an accepted socket for credential passing,
// high packet priority, and a kernel-level receive timeout. Failures
// are logged and tolerated; the loop's own stall timer still applies.
func setClientSockopts(fd int) {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		logger.With("fd", fd).Debug("setsockopt SO_PASSCRED: %v", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, 1); err != nil {
		logger.With("fd", fd).Debug("setsockopt SO_PRIORITY: %v", err)
	}
	tv := unix.NsecToTimeval(readTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		logger.With("fd", fd).Debug("setsockopt SO_RCVTIMEO: %v", err)
	}
}

// serviceClient reads one batch of bytes off the client's socket and
// feeds it to the frame decoder.
func (l *Loop) serviceClient(c *session.Client) {
	var buf [4096]byte
	n, err := unix.Read(c.FD, buf[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		l.disconnect(c)
		return
	}
	if n == 0 {
		l.disconnect(c)
		return
	}
	l.feedAndDispatch(c, buf[:n])
}

// drainLeftover re-extracts frames already buffered in c from a prior
// Feed call that hit BatchLimit, without reading the socket again.
func (l *Loop) drainLeftover(c *session.Client) {
	l.feedAndDispatch(c, nil)
}

func (l *Loop) feedAndDispatch(c *session.Client, data []byte) {
	frames, more, err := c.Feed(data)
	if more {
		l.leftover[c.FD] = true
	} else {
		delete(l.leftover, c.FD)
	}
	if err != nil {
		logger.With("fd", c.FD).Error("%v", err)
		l.disconnect(c)
		return
	}

	identity := handlers.Identity{Label: c.Label, UID: c.UID}
	for _, frame := range frames {
		kind, msgid, params, err := wire.DecodeFrame(frame)
		if err != nil {
			logger.With("fd", c.FD).Error("malformed frame: %v", err)
			l.disconnect(c)
			return
		}
		if err := l.Dispatcher.Dispatch(c.FD, identity, msgid, kind, params); err != nil {
			logger.With("fd", c.FD, "kind", kind, "msgid", msgid).Error("dispatch failed: %v", err)
			l.disconnect(c)
			return
		}
	}
}

// disconnect tears down a client's outstanding work before closing its
// socket: pending authorization checks are cancelled and its queued
// requests and subscriptions are purged.
func (l *Loop) disconnect(c *session.Client) {
	l.Queue.PurgeClient(c.FD, func(req *queue.Request) {
		if req.GroupCheckID != 0 {
			l.Bridge.Cancel(req.GroupCheckID)
		}
		if req.KeyCheckID != 0 {
			l.Bridge.Cancel(req.KeyCheckID)
		}
	})
	l.Notify.PurgeClient(c.FD)
	l.limiter.ReleaseConnection(c.UID)
	delete(l.clients, c.FD)
	delete(l.leftover, c.FD)
	c.Close()
	metrics.DecrementClients()
}
