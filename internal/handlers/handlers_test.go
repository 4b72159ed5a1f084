package handlers

import (
	"path/filepath"
	"testing"

	"github.com/buxton-project/buxtond/internal/authz"
	"github.com/buxton-project/buxtond/internal/notify"
	"github.com/buxton-project/buxtond/internal/queue"
	"github.com/buxton-project/buxtond/internal/store"
	"github.com/buxton-project/buxtond/internal/wire"
)

// fakeWriter records every frame written to each client fd, in order.
type fakeWriter struct {
	byFD map[int][][]byte
}

func newFakeWriter() *fakeWriter { return &fakeWriter{byFD: make(map[int][][]byte)} }

func (w *fakeWriter) Write(fd int, buf []byte) error {
	w.byFD[fd] = append(w.byFD[fd], buf)
	return nil
}

func (w *fakeWriter) last(fd int) []byte {
	fs := w.byFD[fd]
	if len(fs) == 0 {
		return nil
	}
	return fs[len(fs)-1]
}

func decodeReply(t *testing.T, buf []byte) (kind wire.Kind, msgid uint32, params []wire.Param) {
	t.Helper()
	if buf == nil {
		t.Fatal("expected a reply, got none")
	}
	kind, msgid, params, err := wire.DecodeFrame(buf)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	return kind, msgid, params
}

func statusOf(t *testing.T, params []wire.Param) int32 {
	t.Helper()
	if len(params) == 0 {
		t.Fatal("reply has no status parameter")
	}
	v, err := params[0].ParamValue()
	if err != nil {
		t.Fatalf("status param decode failed: %v", err)
	}
	return v.I32
}

func newTestDispatcher(t *testing.T, policy authz.Policy, layers ...store.Layer) (*Dispatcher, *fakeWriter, *authz.LocalTransport) {
	t.Helper()
	dir := t.TempDir()
	for i := range layers {
		layers[i].Path = filepath.Join(dir, layers[i].Name+".db")
	}
	f := store.NewFacade(layers)
	if err := f.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })

	lt, err := authz.NewLocalTransport(policy, nil)
	if err != nil {
		t.Fatalf("NewLocalTransport failed: %v", err)
	}
	t.Cleanup(func() { _ = lt.Close() })

	w := newFakeWriter()
	d := &Dispatcher{
		Facade:   f,
		Resolver: store.NewResolver(f),
		Bridge:   authz.NewBridge(lt),
		Notify:   notify.New(),
		Queue:    queue.New(),
		Writer:   w,
	}
	return d, w, lt
}

// process delivers any authorization answers queued inside the local
// transport, standing in for the event loop's auth-fd readiness path.
func process(t *testing.T, lt *authz.LocalTransport) {
	t.Helper()
	if err := lt.Process(); err != nil {
		t.Fatalf("transport Process failed: %v", err)
	}
}

func strParam(s string) wire.Param { return wire.ParamFromValue(wire.NewString(s)) }

func unsetTypeParam() wire.Param { return wire.ParamFromValue(wire.Value{Type: wire.TypeUnset}) }

// TestCreateGroupSetGetRoundTrip creates a group, sets a key, and
// read it back through the effective-value resolver.
func TestCreateGroupSetGetRoundTrip(t *testing.T) {
	d, w, _ := newTestDispatcher(t, authz.AllowAll, store.Layer{Name: "sys", Type: store.System, Priority: 1})

	identity := Identity{Label: "_", UID: 0}

	if err := d.Dispatch(1, identity, 1, wire.KindCreateGroup, []wire.Param{strParam("sys"), strParam("G")}); err != nil {
		t.Fatalf("CreateGroup dispatch error: %v", err)
	}
	if got := statusOf(t, mustParams(t, w.last(1))); got != 0 {
		t.Fatalf("CreateGroup status = %d, want 0", got)
	}

	setParams := []wire.Param{strParam("sys"), strParam("G"), strParam("k"), wire.ParamFromValue(wire.NewInt32(7))}
	if err := d.Dispatch(1, identity, 2, wire.KindSet, setParams); err != nil {
		t.Fatalf("Set dispatch error: %v", err)
	}
	if got := statusOf(t, mustParams(t, w.last(1))); got != 0 {
		t.Fatalf("Set status = %d, want 0", got)
	}

	getParams := []wire.Param{strParam(""), strParam("G"), strParam("k"), unsetTypeParam()}
	if err := d.Dispatch(1, identity, 3, wire.KindGet, getParams); err != nil {
		t.Fatalf("Get dispatch error: %v", err)
	}
	_, _, params := decodeReply(t, w.last(1))
	if got := statusOf(t, params); got != 0 {
		t.Fatalf("Get status = %d, want 0", got)
	}
	v, err := params[1].ParamValue()
	if err != nil {
		t.Fatalf("Get value decode failed: %v", err)
	}
	if !v.Equal(wire.NewInt32(7)) {
		t.Errorf("Get returned %+v, want i32 7", v)
	}
}

// TestDeniedSetNeverPersists checks that a denied privilege
// check must leave the stored value untouched and reply with status -1.
func TestDeniedSetNeverPersists(t *testing.T) {
	d, w, lt := newTestDispatcher(t, func(string, string, string) bool { return false },
		store.Layer{Name: "sys", Type: store.System, Priority: 1})

	identity := Identity{Label: "_", UID: 0}

	if err := d.Dispatch(1, identity, 1, wire.KindCreateGroup, []wire.Param{strParam("sys"), strParam("G")}); err != nil {
		t.Fatalf("CreateGroup dispatch error: %v", err)
	}
	// Give the group a write privilege so Set actually triggers a check.
	if err := d.Facade.Set("sys", "G", "", wire.Value{Type: wire.TypeUnset}, "", "secret"); err != nil {
		t.Fatalf("seeding group write privilege failed: %v", err)
	}

	setParams := []wire.Param{strParam("sys"), strParam("G"), strParam("k"), wire.ParamFromValue(wire.NewInt32(9))}
	if err := d.Dispatch(1, identity, 2, wire.KindSet, setParams); err != nil {
		t.Fatalf("Set dispatch error: %v", err)
	}
	// The check missed the cache, so the request is parked until the
	// transport delivers its answer.
	process(t, lt)
	if got := statusOf(t, mustParams(t, w.last(1))); got != -1 {
		t.Fatalf("Set status = %d, want -1 (denied)", got)
	}

	_, _, _, err := d.Facade.Get("sys", "G", "k")
	if err == nil {
		t.Fatal("denied Set must not have persisted a value")
	}

	// The deny is now cached: a repeat Set short-circuits to -1 without
	// waiting on the transport at all.
	if err := d.Dispatch(1, identity, 3, wire.KindSet, setParams); err != nil {
		t.Fatalf("second Set dispatch error: %v", err)
	}
	_, msgid, params := decodeReply(t, w.last(1))
	if msgid != 3 || statusOf(t, params) != -1 {
		t.Fatalf("cached deny reply = msgid %d status %d, want 3/-1", msgid, statusOf(t, params))
	}
}

// TestNotifyThenSetDeliversChanged exercises the notification fan-out
// path end to end: a subscriber registered via Notify receives a
// Changed message only after the value actually changes.
func TestNotifyThenSetDeliversChanged(t *testing.T) {
	d, w, _ := newTestDispatcher(t, authz.AllowAll, store.Layer{Name: "sys", Type: store.System, Priority: 1})
	identity := Identity{Label: "_", UID: 0}

	if err := d.Dispatch(1, identity, 1, wire.KindCreateGroup, []wire.Param{strParam("sys"), strParam("G")}); err != nil {
		t.Fatalf("CreateGroup dispatch error: %v", err)
	}

	notifyParams := []wire.Param{strParam("G"), strParam("k"), unsetTypeParam()}
	if err := d.Dispatch(2, identity, 10, wire.KindNotify, notifyParams); err != nil {
		t.Fatalf("Notify dispatch error: %v", err)
	}
	if got := statusOf(t, mustParams(t, w.last(2))); got != 0 {
		t.Fatalf("Notify status = %d, want 0", got)
	}

	setParams := []wire.Param{strParam("sys"), strParam("G"), strParam("k"), wire.ParamFromValue(wire.NewInt32(3))}
	if err := d.Dispatch(1, identity, 2, wire.KindSet, setParams); err != nil {
		t.Fatalf("Set dispatch error: %v", err)
	}

	changedKind, changedMsgID, changedParams := decodeReply(t, w.last(2))
	if changedKind != wire.KindChanged {
		t.Fatalf("fd 2 last frame kind = %v, want KindChanged", changedKind)
	}
	if changedMsgID != 10 {
		t.Fatalf("Changed msgid = %d, want 10 (the subscription's msgid)", changedMsgID)
	}
	v, err := changedParams[1].ParamValue()
	if err != nil {
		t.Fatalf("Changed value decode failed: %v", err)
	}
	if !v.Equal(wire.NewInt32(3)) {
		t.Errorf("Changed value = %+v, want i32 3", v)
	}
}

func mustParams(t *testing.T, buf []byte) []wire.Param {
	t.Helper()
	_, _, params := decodeReply(t, buf)
	return params
}
