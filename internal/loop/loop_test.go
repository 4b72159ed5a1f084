package loop

import (
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/buxton-project/buxtond/internal/authz"
	"github.com/buxton-project/buxtond/internal/handlers"
	"github.com/buxton-project/buxtond/internal/notify"
	"github.com/buxton-project/buxtond/internal/queue"
	"github.com/buxton-project/buxtond/internal/ratelimit"
	"github.com/buxton-project/buxtond/internal/session"
	"github.com/buxton-project/buxtond/internal/store"
	"github.com/buxton-project/buxtond/internal/wire"
)

func newBareLoop(t *testing.T) *Loop {
	t.Helper()
	sigR, sigW, err := selfPipe()
	if err != nil {
		t.Fatalf("selfPipe failed: %v", err)
	}
	t.Cleanup(func() { unix.Close(sigR); unix.Close(sigW) })
	return &Loop{
		sigReadFD: sigR, sigWriteFD: sigW,
		listenFD:    -1,
		authFD:      -1,
		clients:     make(map[int]*session.Client),
		leftover:    make(map[int]bool),
		limiter:     ratelimit.NewLimiter(nil),
		readTimeout: readTimeout,
	}
}

func TestNewBindsAndCreatesUsableSocket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buxton.sock")
	l, err := New(path, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	if l.listenFD < 0 {
		t.Fatal("listenFD was not set")
	}
}

func TestBuildPollSetOrdersClientsDeterministically(t *testing.T) {
	l := newBareLoop(t)
	l.listenFD = 100
	sp, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair failed: %v", err)
	}
	fdA, fdB := sp[0], sp[1]
	defer unix.Close(fdA)
	defer unix.Close(fdB)

	l.clients[fdB] = session.New(fdB)
	l.clients[fdA] = session.New(fdA)

	fds := l.buildPollSet()
	if len(fds) != 4 { // sig, listen, two clients
		t.Fatalf("buildPollSet returned %d entries, want 4", len(fds))
	}
	if int(fds[2].Fd) > int(fds[3].Fd) {
		t.Errorf("client fds not sorted ascending: %v, %v", fds[2].Fd, fds[3].Fd)
	}
}

// TestAcceptAllRejectsOverLimitConnections checks that once a uid has
// hit its configured connection cap, further accepted sockets for that
// uid are closed rather than registered as clients.
func TestAcceptAllRejectsOverLimitConnections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buxton.sock")
	l, err := New(path, &ratelimit.Config{
		Enabled:              true,
		MaxConnectionsPerUID: 1,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	dial := func() *unix.SockaddrUnix {
		return &unix.SockaddrUnix{Name: path}
	}

	connect := func() int {
		fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
		if err != nil {
			t.Fatalf("Socket failed: %v", err)
		}
		if err := unix.Connect(fd, dial()); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		return fd
	}

	c1 := connect()
	defer unix.Close(c1)
	l.acceptAll()
	if len(l.clients) != 1 {
		t.Fatalf("after first connection: %d clients registered, want 1", len(l.clients))
	}

	c2 := connect()
	defer unix.Close(c2)
	l.acceptAll()
	if len(l.clients) != 1 {
		t.Fatalf("after second connection: %d clients registered, want still 1 (over limit)", len(l.clients))
	}
}

// TestServiceClientDrainsLeftoverWithoutBlockingOnRead pipelines more
// frames than session.BatchLimit in a single burst and checks that the
// loop flags the client as having leftover buffered frames, then drains
// them via drainLeftover (which must not touch the socket) rather than
// waiting for another readable event that will never come.
func TestServiceClientDrainsLeftoverWithoutBlockingOnRead(t *testing.T) {
	sp, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair failed: %v", err)
	}
	clientFD, daemonFD := sp[0], sp[1]
	defer unix.Close(clientFD)

	dir := t.TempDir()
	layer := store.Layer{Name: "sys", Type: store.System, Priority: 1, Path: filepath.Join(dir, "sys.db")}
	f := store.NewFacade([]store.Layer{layer})
	if err := f.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	if err := f.CreateGroup("sys", "G", "", ""); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	lt, err := authz.NewLocalTransport(authz.AllowAll, nil)
	if err != nil {
		t.Fatalf("NewLocalTransport failed: %v", err)
	}
	defer lt.Close()

	l := newBareLoop(t)
	l.clients[daemonFD] = session.New(daemonFD)
	if err := l.clients[daemonFD].CaptureCredentials(); err != nil {
		t.Fatalf("CaptureCredentials failed: %v", err)
	}
	l.Dispatcher = &handlers.Dispatcher{
		Facade: f, Resolver: store.NewResolver(f), Bridge: authz.NewBridge(lt),
		Notify: notify.New(), Queue: queue.New(), Writer: l,
	}
	l.Queue = l.Dispatcher.Queue
	l.Notify = l.Dispatcher.Notify
	l.Bridge = l.Dispatcher.Bridge
	defer func() { delete(l.clients, daemonFD); unix.Close(daemonFD) }()

	const extra = 3
	total := session.BatchLimit + extra
	var burst []byte
	for i := 0; i < total; i++ {
		burst = append(burst, wire.EncodeFrame(wire.KindSet, uint32(i), []wire.Param{
			wire.ParamFromValue(wire.NewString("sys")),
			wire.ParamFromValue(wire.NewString("G")),
			wire.ParamFromValue(wire.NewString("k")),
			wire.ParamFromValue(wire.NewInt32(int32(i))),
		})...)
	}
	if _, err := unix.Write(clientFD, burst); err != nil {
		t.Fatalf("writing burst failed: %v", err)
	}

	l.serviceClient(l.clients[daemonFD])
	if !l.leftover[daemonFD] {
		t.Fatal("leftover flag not set after a batch-limited Feed")
	}

	// Replies arrive back-to-back on the stream, so count complete
	// frames rather than Read calls.
	var replyBuf []byte
	readReplies := func(n int) {
		t.Helper()
		got := 0
		for got < n {
			for {
				size := wire.FrameSize(replyBuf)
				if size == 0 || uint32(len(replyBuf)) < size {
					break
				}
				replyBuf = replyBuf[size:]
				got++
			}
			if got >= n {
				break
			}
			var chunk [4096]byte
			c, err := unix.Read(clientFD, chunk[:])
			if err != nil {
				t.Fatalf("reading replies (%d/%d) failed: %v", got, n, err)
			}
			replyBuf = append(replyBuf, chunk[:c]...)
		}
	}
	readReplies(session.BatchLimit)

	l.drainLeftover(l.clients[daemonFD])
	if l.leftover[daemonFD] {
		t.Fatal("leftover flag still set after draining the remaining frames")
	}
	readReplies(extra)
}

// TestExpireStalledTerminatesMidFrameClient checks that a client that
// sent half a frame and then went quiet is disconnected once the read
// timeout passes and no longer appears in the loop's client set.
func TestExpireStalledTerminatesMidFrameClient(t *testing.T) {
	sp, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair failed: %v", err)
	}
	clientFD, daemonFD := sp[0], sp[1]
	defer unix.Close(clientFD)

	lt, err := authz.NewLocalTransport(authz.AllowAll, nil)
	if err != nil {
		t.Fatalf("NewLocalTransport failed: %v", err)
	}
	defer lt.Close()

	l := newBareLoop(t)
	l.readTimeout = 0 // any mid-frame client counts as stalled immediately
	l.Bridge = authz.NewBridge(lt)
	l.Queue = queue.New()
	l.Notify = notify.New()
	l.clients[daemonFD] = session.New(daemonFD)

	partial := wire.EncodeFrame(wire.KindStatus, 1, nil)[:wire.HeaderLen-3]
	if _, err := unix.Write(clientFD, partial); err != nil {
		t.Fatalf("writing partial frame failed: %v", err)
	}
	l.serviceClient(l.clients[daemonFD])
	if _, ok := l.clients[daemonFD]; !ok {
		t.Fatal("client should survive the initial partial read")
	}

	l.expireStalled()
	if _, ok := l.clients[daemonFD]; ok {
		t.Fatal("stalled client should have been disconnected")
	}
}

func TestStatusChangeRegistersAuthFD(t *testing.T) {
	l := newBareLoop(t)
	l.StatusChange(-1, 42, true, false)
	if l.authFD != 42 {
		t.Errorf("authFD = %d, want 42", l.authFD)
	}
	if !l.wantAuthRead || l.wantAuthWrite {
		t.Errorf("wantAuthRead=%v wantAuthWrite=%v, want true/false", l.wantAuthRead, l.wantAuthWrite)
	}
}

// TestServiceClientDispatchesAndReplies drives a full Set through a
// real socketpair: the loop reads the frame, dispatches it, and writes
// a reply back on the same fd.
func TestServiceClientDispatchesAndReplies(t *testing.T) {
	sp, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair failed: %v", err)
	}
	clientFD, daemonFD := sp[0], sp[1]
	defer unix.Close(clientFD)

	dir := t.TempDir()
	layer := store.Layer{Name: "sys", Type: store.System, Priority: 1, Path: filepath.Join(dir, "sys.db")}
	f := store.NewFacade([]store.Layer{layer})
	if err := f.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	if err := f.CreateGroup("sys", "G", "", ""); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	lt, err := authz.NewLocalTransport(authz.AllowAll, nil)
	if err != nil {
		t.Fatalf("NewLocalTransport failed: %v", err)
	}
	defer lt.Close()

	l := newBareLoop(t)
	l.clients[daemonFD] = session.New(daemonFD)
	if err := l.clients[daemonFD].CaptureCredentials(); err != nil {
		t.Fatalf("CaptureCredentials failed: %v", err)
	}
	l.Dispatcher = &handlers.Dispatcher{
		Facade: f, Resolver: store.NewResolver(f), Bridge: authz.NewBridge(lt),
		Notify: notify.New(), Queue: queue.New(), Writer: l,
	}
	l.Queue = l.Dispatcher.Queue
	l.Notify = l.Dispatcher.Notify
	l.Bridge = l.Dispatcher.Bridge
	defer func() { delete(l.clients, daemonFD); unix.Close(daemonFD) }()

	frame := wire.EncodeFrame(wire.KindSet, 1, []wire.Param{
		wire.ParamFromValue(wire.NewString("sys")),
		wire.ParamFromValue(wire.NewString("G")),
		wire.ParamFromValue(wire.NewString("k")),
		wire.ParamFromValue(wire.NewInt32(5)),
	})
	if _, err := unix.Write(clientFD, frame); err != nil {
		t.Fatalf("writing frame failed: %v", err)
	}

	l.serviceClient(l.clients[daemonFD])

	var reply [256]byte
	n, err := unix.Read(clientFD, reply[:])
	if err != nil {
		t.Fatalf("reading reply failed: %v", err)
	}
	kind, _, params, err := wire.DecodeFrame(reply[:n])
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if kind != wire.KindSet {
		t.Fatalf("reply kind = %v, want KindSet", kind)
	}
	status, err := params[0].ParamValue()
	if err != nil || status.I32 != 0 {
		t.Fatalf("reply status = %+v err=%v, want 0", status, err)
	}

	v, _, _, err := f.Get("sys", "G", "k")
	if err != nil || !v.Equal(wire.NewInt32(5)) {
		t.Fatalf("stored value = %+v err=%v, want i32 5", v, err)
	}
}
