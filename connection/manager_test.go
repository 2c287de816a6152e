// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/omcli/omcli-device/lib/clock"
	"github.com/omcli/omcli-device/lib/credstore"
	"github.com/omcli/omcli-device/lib/logring"
	"github.com/omcli/omcli-device/lib/testutil"
	"github.com/omcli/omcli-device/protocol"
	"github.com/omcli/omcli-device/router"
)

const (
	testTimeout  = 5 * time.Second
	testEndpoint = "ws://10.0.0.5:8080/ws/device"
)

// fakeConn is one side of an in-memory transport. The test plays the
// server: it pushes frames into inbound and reads the device's frames
// from written.
type fakeConn struct {
	inbound   chan fakeFrame
	written   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

type fakeFrame struct {
	messageType websocket.MessageType
	data        []byte
	err         error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan fakeFrame, 16),
		written: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case frame := <-c.inbound:
		return frame.messageType, frame.data, frame.err
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, messageType websocket.MessageType, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.written <- append([]byte(nil), data...)
	return nil
}

func (c *fakeConn) Close(websocket.StatusCode, string) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// drop simulates the server going away without a close handshake.
func (c *fakeConn) drop() {
	c.inbound <- fakeFrame{err: io.ErrUnexpectedEOF}
}

type fakeDialer struct {
	mutex    sync.Mutex
	failures int

	// dials receives the endpoint of every attempt, failed or not.
	dials chan string
	// conns receives the transport of every successful attempt.
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		dials: make(chan string, 64),
		conns: make(chan *fakeConn, 64),
	}
}

func (d *fakeDialer) failNext(n int) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.failures = n
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	d.mutex.Lock()
	failing := d.failures > 0
	if failing {
		d.failures--
	}
	d.mutex.Unlock()

	d.dials <- endpoint
	if failing {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

type fakeAlarm struct {
	started chan string
}

func (a *fakeAlarm) Start(ctx context.Context, sound, message string) error {
	a.started <- sound
	return nil
}

func (a *fakeAlarm) Stop(ctx context.Context) error { return nil }

// blockingHandler holds every command until release is closed.
type blockingHandler struct {
	entered chan string
	release chan struct{}
}

func (h *blockingHandler) Handle(ctx context.Context, id, command string, params protocol.Object) protocol.Response {
	h.entered <- id
	<-h.release
	return protocol.OK(id, nil)
}

type handlerFunc func(ctx context.Context, id, command string, params protocol.Object) protocol.Response

func (f handlerFunc) Handle(ctx context.Context, id, command string, params protocol.Object) protocol.Response {
	return f(ctx, id, command, params)
}

// flakyIdentity fails DeviceID a set number of times before
// delegating to the wrapped store.
type flakyIdentity struct {
	*credstore.Memory

	mutex    sync.Mutex
	failures int
}

func (f *flakyIdentity) failNext(n int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.failures = n
}

func (f *flakyIdentity) DeviceID() (string, error) {
	f.mutex.Lock()
	failing := f.failures > 0
	if failing {
		f.failures--
	}
	f.mutex.Unlock()
	if failing {
		return "", errors.New("state directory is read-only")
	}
	return f.Memory.DeviceID()
}

type fakeKeepAlive struct {
	mutex    sync.Mutex
	held     int
	acquired int
	revoke   func()
}

type fakeGrant struct {
	keepAlive *fakeKeepAlive
	once      sync.Once
}

func (k *fakeKeepAlive) Acquire(revoked func()) (Grant, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	k.held++
	k.acquired++
	k.revoke = revoked
	return &fakeGrant{keepAlive: k}, nil
}

func (g *fakeGrant) Release() {
	g.once.Do(func() {
		g.keepAlive.mutex.Lock()
		defer g.keepAlive.mutex.Unlock()
		g.keepAlive.held--
	})
}

func (k *fakeKeepAlive) counts() (held, acquired int) {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	return k.held, k.acquired
}

// gatedKeepAlive blocks in Acquire until proceed is closed, standing in
// for a slow bus.
type gatedKeepAlive struct {
	fakeKeepAlive
	entered chan struct{}
	proceed chan struct{}
}

func (k *gatedKeepAlive) Acquire(revoked func()) (Grant, error) {
	k.entered <- struct{}{}
	<-k.proceed
	return k.fakeKeepAlive.Acquire(revoked)
}

type harness struct {
	t           *testing.T
	clock       *clock.FakeClock
	dialer      *fakeDialer
	credentials *credstore.Memory
	alarm       *fakeAlarm
	manager     *Manager
	changes     chan Status
}

type harnessOptions struct {
	credentials *credstore.Memory
	handler     CommandHandler
	keepAlive   KeepAlive
	endpoint    *string

	// store overrides credentials as the Manager's Credentials.
	store Credentials
}

func newHarness(t *testing.T, options harnessOptions) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		t:           t,
		clock:       clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		dialer:      newFakeDialer(),
		credentials: options.credentials,
		alarm:       &fakeAlarm{started: make(chan string, 8)},
		changes:     make(chan Status, 1024),
	}
	if h.credentials == nil {
		h.credentials = credstore.NewMemoryWithIdentity("d1")
	}
	handler := options.handler
	if handler == nil {
		handler = router.New(router.Capabilities{Alarm: h.alarm}, logger)
	}
	var store Credentials = h.credentials
	if options.store != nil {
		store = options.store
	}
	endpoint := testEndpoint
	if options.endpoint != nil {
		endpoint = *options.endpoint
	}

	manager, err := New(Config{
		Clock:       h.clock,
		Dialer:      h.dialer,
		Credentials: store,
		Settings:    StaticSettings{URL: endpoint, Name: "Phone"},
		Handler:     handler,
		KeepAlive:   options.keepAlive,
		Logger:      logger,
		OnChange: func(status Status) {
			select {
			case h.changes <- status:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.manager = manager
	t.Cleanup(manager.Disconnect)
	return h
}

// connect calls Connect and returns the transport it dials.
func (h *harness) connect() *fakeConn {
	h.t.Helper()
	if err := h.manager.Connect(); err != nil {
		h.t.Fatalf("Connect: %v", err)
	}
	conn := testutil.RequireReceive(h.t, h.dialer.conns, testTimeout, "waiting for dial")
	<-h.dialer.dials
	return conn
}

// pair connects and completes pairing through a pairing code.
func (h *harness) pair() *fakeConn {
	h.t.Helper()
	conn := h.connect()
	expectFrame[protocol.Hello](h.t, conn)
	serverSend(h.t, conn, protocol.PairingCode{Code: "482913"})
	serverSend(h.t, conn, protocol.AuthResult{Success: true, Token: stringPointer("tok-abc")})
	h.waitFor("paired", func(status Status) bool { return status.State == Paired })
	return conn
}

func (h *harness) waitFor(description string, match func(Status) bool) Status {
	h.t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case status := <-h.changes:
			if match(status) {
				return status
			}
		case <-deadline:
			h.t.Fatalf("timed out waiting for %s; status is %+v", description, h.manager.Status())
		}
	}
}

func serverSend(t *testing.T, conn *fakeConn, envelope protocol.Inbound) {
	t.Helper()
	data, err := protocol.EncodeInbound(envelope)
	if err != nil {
		t.Fatalf("EncodeInbound(%T): %v", envelope, err)
	}
	serverSendRaw(t, conn, string(data))
}

func serverSendRaw(t *testing.T, conn *fakeConn, text string) {
	t.Helper()
	testutil.RequireSend(t, conn.inbound, fakeFrame{messageType: websocket.MessageText, data: []byte(text)}, testTimeout, "sending server frame")
}

// expectFrame reads the device's next frame and requires it to be a T.
func expectFrame[T protocol.Outbound](t *testing.T, conn *fakeConn) T {
	t.Helper()
	data := testutil.RequireReceive(t, conn.written, testTimeout, "waiting for device frame")
	envelope, err := protocol.DecodeOutbound(data)
	if err != nil {
		t.Fatalf("DecodeOutbound(%s): %v", data, err)
	}
	typed, ok := envelope.(T)
	if !ok {
		var want T
		t.Fatalf("device sent %T (%s), want %T", envelope, data, want)
	}
	return typed
}

func expectNoFrame(t *testing.T, conn *fakeConn) {
	t.Helper()
	select {
	case data := <-conn.written:
		t.Fatalf("unexpected device frame: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func stringPointer(s string) *string { return &s }

func TestHelloThenPairingCode(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.connect()

	hello := expectFrame[protocol.Hello](t, conn)
	if hello.DeviceID != "d1" || hello.Name != "Phone" {
		t.Errorf("hello = %+v, want device d1 named Phone", hello)
	}
	// No token is stored, so nothing follows the hello.
	expectNoFrame(t, conn)

	serverSend(t, conn, protocol.PairingCode{Code: "482913"})
	status := h.waitFor("pairing code", func(status Status) bool {
		return status.State == WaitingForPairing
	})
	if status.PairingCode != "482913" {
		t.Errorf("PairingCode = %q, want 482913", status.PairingCode)
	}
	if status.Endpoint != testEndpoint {
		t.Errorf("Endpoint = %q, want %q", status.Endpoint, testEndpoint)
	}
}

func TestSuccessfulAuthStoresTokenAndPairs(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.pair()

	token, ok, err := h.credentials.Token(testEndpoint)
	if err != nil || !ok || token != "tok-abc" {
		t.Fatalf("stored token = %q, %v, %v; want tok-abc", token, ok, err)
	}
	status := h.manager.Status()
	if status.PairingCode != "" {
		t.Errorf("PairingCode = %q after pairing, want empty", status.PairingCode)
	}
	if status.Attempt != 0 {
		t.Errorf("Attempt = %d, want 0", status.Attempt)
	}
}

func TestStoredTokenSentAfterHello(t *testing.T) {
	credentials := credstore.NewMemoryWithIdentity("d1")
	if err := credentials.SaveToken(testEndpoint, "tok-abc"); err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, harnessOptions{credentials: credentials})
	conn := h.connect()

	expectFrame[protocol.Hello](t, conn)
	auth := expectFrame[protocol.Auth](t, conn)
	if auth.DeviceID != "d1" || auth.Token != "tok-abc" {
		t.Errorf("auth = %+v, want d1/tok-abc", auth)
	}
}

func TestTokenScopedToEndpoint(t *testing.T) {
	credentials := credstore.NewMemoryWithIdentity("d1")
	if err := credentials.SaveToken("ws://other.example:8080/ws/device", "tok-other"); err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, harnessOptions{credentials: credentials})
	conn := h.connect()

	expectFrame[protocol.Hello](t, conn)
	expectNoFrame(t, conn)
}

func TestAuthRequiredSendsStoredToken(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.connect()
	expectFrame[protocol.Hello](t, conn)

	// Without a token the request is only logged.
	serverSend(t, conn, protocol.AuthRequired{})
	expectNoFrame(t, conn)

	if err := h.credentials.SaveToken(testEndpoint, "tok-late"); err != nil {
		t.Fatal(err)
	}
	serverSend(t, conn, protocol.AuthRequired{})
	auth := expectFrame[protocol.Auth](t, conn)
	if auth.Token != "tok-late" {
		t.Errorf("auth token = %q, want tok-late", auth.Token)
	}
}

func TestUnexpectedCloseBacksOff(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.pair()

	h.dialer.failNext(100)
	conn.drop()
	h.waitFor("disconnected", func(status Status) bool { return status.State == Disconnected })
	if status := h.manager.Status(); status.LastError == "" {
		t.Error("LastError is empty after an unexpected close")
	}
	if !conn.isClosed() {
		t.Error("failed transport was not closed")
	}

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, delay := range want {
		h.clock.WaitForTimers(1)
		if pending := h.clock.PendingCount(); pending != 1 {
			t.Fatalf("attempt %d: %d timers pending, want exactly 1", i, pending)
		}
		if attempt := h.manager.Status().Attempt; attempt != i+1 {
			t.Errorf("attempt %d: Status().Attempt = %d, want %d", i, attempt, i+1)
		}

		h.clock.Advance(delay - time.Millisecond)
		select {
		case <-h.dialer.dials:
			t.Fatalf("attempt %d: dialed before %v elapsed", i, delay)
		case <-time.After(20 * time.Millisecond):
		}

		h.clock.Advance(time.Millisecond)
		endpoint := testutil.RequireReceive(t, h.dialer.dials, testTimeout, "waiting for reconnect attempt %d", i)
		if endpoint != testEndpoint {
			t.Fatalf("reconnect dialed %q, want %q", endpoint, testEndpoint)
		}
	}

	// The next attempt succeeds; pairing resets the counter.
	h.clock.WaitForTimers(1)
	h.dialer.failNext(0)
	h.clock.Advance(30 * time.Second)
	<-h.dialer.dials
	conn = testutil.RequireReceive(t, h.dialer.conns, testTimeout, "waiting for successful reconnect")
	expectFrame[protocol.Hello](t, conn)
	expectFrame[protocol.Auth](t, conn)
	serverSend(t, conn, protocol.AuthResult{Success: true})
	h.waitFor("paired again", func(status Status) bool { return status.State == Paired })
	if attempt := h.manager.Status().Attempt; attempt != 0 {
		t.Fatalf("Attempt = %d after pairing, want 0", attempt)
	}

	conn.drop()
	h.waitFor("disconnected again", func(status Status) bool { return status.State == Disconnected })
	h.clock.WaitForTimers(1)
	h.clock.Advance(time.Second)
	testutil.RequireReceive(t, h.dialer.dials, testTimeout, "waiting for first reconnect after reset")
}

func TestUnknownCommandReturnsError(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.pair()

	serverSend(t, conn, protocol.Command{ID: "42", Command: "bogus.op", Params: protocol.Object{}})
	response := expectFrame[protocol.Response](t, conn)
	if response.ID != "42" || response.Status != protocol.StatusError {
		t.Fatalf("response = %+v, want error for id 42", response)
	}
	if response.Error.Code != "UNKNOWN_COMMAND" || response.Error.Message != "Unknown command: bogus.op" {
		t.Errorf("error = %+v", *response.Error)
	}
	if last := h.manager.Status().LastCommand; last != "bogus.op" {
		t.Errorf("LastCommand = %q, want bogus.op", last)
	}
}

func TestCommandRunsCapability(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.pair()

	serverSendRaw(t, conn, `{"type":"command","id":"7","command":"alarm.start","params":{"sound":"loud"}}`)
	response := expectFrame[protocol.Response](t, conn)
	if response.ID != "7" || response.Status != protocol.StatusOK || response.Data != nil {
		t.Errorf("response = %+v, want ok for id 7 without data", response)
	}
	if sound := testutil.RequireReceive(t, h.alarm.started, testTimeout, "waiting for alarm"); sound != "loud" {
		t.Errorf("alarm sound = %q, want loud", sound)
	}
}

func TestEveryCommandAnsweredOnceInOrder(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.pair()

	ids := []string{"a", "b", "c", "d"}
	commands := []string{"alarm.stop", "nope", "alarm.start", "camera.snap"}
	for i := range ids {
		serverSend(t, conn, protocol.Command{ID: ids[i], Command: commands[i]})
	}
	for _, id := range ids {
		response := expectFrame[protocol.Response](t, conn)
		if response.ID != id {
			t.Fatalf("response id = %q, want %q", response.ID, id)
		}
	}
	expectNoFrame(t, conn)
}

func TestAuthFailureDeletesTokenWithoutRetry(t *testing.T) {
	credentials := credstore.NewMemoryWithIdentity("d1")
	if err := credentials.SaveToken(testEndpoint, "tok-stale"); err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, harnessOptions{credentials: credentials})
	conn := h.connect()
	expectFrame[protocol.Hello](t, conn)
	expectFrame[protocol.Auth](t, conn)

	serverSend(t, conn, protocol.AuthResult{Success: false, Error: stringPointer("token invalid")})
	status := h.waitFor("disconnected", func(status Status) bool { return status.State == Disconnected })
	if !strings.Contains(status.LastError, "token invalid") {
		t.Errorf("LastError = %q, want it to mention the server's reason", status.LastError)
	}
	if _, ok, _ := credentials.Token(testEndpoint); ok {
		t.Error("rejected token is still stored")
	}
	if pending := h.clock.PendingCount(); pending != 0 {
		t.Errorf("%d reconnect timers armed after auth failure, want 0", pending)
	}
	expectNoFrame(t, conn)
	if conn.isClosed() {
		t.Error("transport closed after auth failure; the server should be able to issue a new code")
	}

	// The server can still start a fresh pairing on the same transport.
	serverSend(t, conn, protocol.PairingCode{Code: "100200"})
	h.waitFor("new pairing code", func(status Status) bool {
		return status.State == WaitingForPairing && status.PairingCode == "100200"
	})
}

func TestUnknownFrameIsLoggedAndDropped(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.pair()

	serverSendRaw(t, conn, `{"type":"firmware_update","url":"x"}`)
	serverSendRaw(t, conn, `not json`)
	// A command afterwards proves both frames were consumed.
	serverSend(t, conn, protocol.Command{ID: "1", Command: "alarm.stop"})
	expectFrame[protocol.Response](t, conn)

	if state := h.manager.Status().State; state != Paired {
		t.Errorf("state = %s after unknown frames, want paired", state)
	}
	count := 0
	for _, entry := range h.manager.Log() {
		if strings.HasPrefix(entry.Message, "unknown message received") {
			count++
		}
	}
	if count != 2 {
		t.Errorf("%d unknown-message log entries, want one per frame (2)", count)
	}
}

func TestBinaryFrameDropped(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.pair()

	testutil.RequireSend(t, conn.inbound, fakeFrame{messageType: websocket.MessageBinary, data: []byte{1, 2, 3}}, testTimeout)
	serverSend(t, conn, protocol.Command{ID: "1", Command: "alarm.stop"})
	response := expectFrame[protocol.Response](t, conn)
	if response.ID != "1" {
		t.Errorf("response id = %q, want 1", response.ID)
	}
	if state := h.manager.Status().State; state != Paired {
		t.Errorf("state = %s, want paired", state)
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.pair()

	conn.drop()
	h.clock.WaitForTimers(1)

	h.manager.Disconnect()
	if pending := h.clock.PendingCount(); pending != 0 {
		t.Fatalf("%d timers pending after Disconnect, want 0", pending)
	}
	h.clock.Advance(time.Minute)
	select {
	case endpoint := <-h.dialer.dials:
		t.Fatalf("dialed %s after Disconnect", endpoint)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDisconnectIsQuiet(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.pair()

	h.manager.Disconnect()
	testutil.RequireClosed(t, conn.closed, testTimeout, "transport not closed by Disconnect")

	status := h.manager.Status()
	if status.State != Disconnected {
		t.Errorf("state = %s, want disconnected", status.State)
	}
	if status.LastError != "" {
		t.Errorf("LastError = %q after an intentional disconnect, want empty", status.LastError)
	}
	// Give the retired receive loop time to observe the close.
	time.Sleep(20 * time.Millisecond)
	if pending := h.clock.PendingCount(); pending != 0 {
		t.Errorf("%d reconnect timers armed after Disconnect, want 0", pending)
	}
	for _, entry := range h.manager.Log() {
		if entry.Level == "ERROR" {
			t.Errorf("error logged for an intentional disconnect: %s", entry.Message)
		}
	}
}

func TestInFlightResponseDroppedAfterDisconnect(t *testing.T) {
	handler := &blockingHandler{entered: make(chan string, 1), release: make(chan struct{})}
	h := newHarness(t, harnessOptions{handler: handler})
	conn := h.pair()

	serverSend(t, conn, protocol.Command{ID: "slow", Command: "tts.speak"})
	testutil.RequireReceive(t, handler.entered, testTimeout, "waiting for handler")

	h.manager.Disconnect()
	close(handler.release)

	deadline := time.Now().Add(testTimeout)
	for {
		dropped := false
		for _, entry := range h.manager.Log() {
			if strings.HasPrefix(entry.Message, "dropped response") {
				dropped = true
			}
		}
		if dropped {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("in-flight response was not reported as dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
	expectNoFrame(t, conn)
}

func TestConnectWithoutEndpoint(t *testing.T) {
	h := newHarness(t, harnessOptions{endpoint: stringPointer("")})
	if err := h.manager.Connect(); !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("Connect = %v, want ErrNoEndpoint", err)
	}
	if state := h.manager.Status().State; state != Disconnected {
		t.Errorf("state = %s, want disconnected", state)
	}
}

func TestLegacyTokenMigratedOnConnect(t *testing.T) {
	credentials := credstore.NewMemoryWithLegacy("d1", "tok-legacy")
	h := newHarness(t, harnessOptions{credentials: credentials})
	conn := h.connect()

	expectFrame[protocol.Hello](t, conn)
	auth := expectFrame[protocol.Auth](t, conn)
	if auth.Token != "tok-legacy" {
		t.Errorf("auth token = %q, want the migrated legacy token", auth.Token)
	}
	token, ok, _ := credentials.Token(testEndpoint)
	if !ok || token != "tok-legacy" {
		t.Errorf("scoped token = %q, %v; want tok-legacy", token, ok)
	}
}

func TestTokensQueuedUntilPaired(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	if err := h.manager.SendPushToken(ctx, "push-1"); err != nil {
		t.Fatalf("SendPushToken: %v", err)
	}
	if err := h.manager.SendPushToken(ctx, "push-2"); err != nil {
		t.Fatalf("SendPushToken: %v", err)
	}
	if err := h.manager.SendVoIPToken(ctx, "voip-1"); err != nil {
		t.Fatalf("SendVoIPToken: %v", err)
	}

	conn := h.connect()
	expectFrame[protocol.Hello](t, conn)
	serverSend(t, conn, protocol.AuthResult{Success: true, Token: stringPointer("tok")})

	push := expectFrame[protocol.PushToken](t, conn)
	if push.Token != "push-2" {
		t.Errorf("push token = %q, want the latest (push-2)", push.Token)
	}
	voip := expectFrame[protocol.VoIPToken](t, conn)
	if voip.Token != "voip-1" {
		t.Errorf("voip token = %q, want voip-1", voip.Token)
	}

	// Once paired, tokens go out immediately.
	if err := h.manager.SendPushToken(ctx, "push-3"); err != nil {
		t.Fatalf("SendPushToken: %v", err)
	}
	if push := expectFrame[protocol.PushToken](t, conn); push.Token != "push-3" {
		t.Errorf("push token = %q, want push-3", push.Token)
	}
}

func TestSendEventRequiresPairing(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	data := protocol.Object{"dismissed_at": protocol.String("2026-03-01T12:00:00Z")}.Value()

	if err := h.manager.SendEvent(ctx, "alarm.dismissed", &data); !errors.Is(err, ErrNotPaired) {
		t.Fatalf("SendEvent before pairing = %v, want ErrNotPaired", err)
	}

	conn := h.pair()
	if err := h.manager.SendEvent(ctx, "alarm.dismissed", &data); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}
	event := expectFrame[protocol.Event](t, conn)
	if event.Event != "alarm.dismissed" || event.Data == nil || !event.Data.Equal(data) {
		t.Errorf("event = %+v", event)
	}
}

func TestUnpairForgetsToken(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.pair()

	if err := h.manager.Unpair(); err != nil {
		t.Fatalf("Unpair: %v", err)
	}
	if _, ok, _ := h.credentials.Token(testEndpoint); ok {
		t.Error("token still stored after Unpair")
	}
	if state := h.manager.Status().State; state != Disconnected {
		t.Errorf("state = %s, want disconnected", state)
	}
}

func TestReconnectStartsFreshSession(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	first := h.pair()

	if err := h.manager.Reconnect(); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	second := testutil.RequireReceive(t, h.dialer.conns, testTimeout, "waiting for redial")
	testutil.RequireClosed(t, first.closed, testTimeout, "old transport not closed")
	expectFrame[protocol.Hello](t, second)
	expectFrame[protocol.Auth](t, second)

	// Frames on the retired transport no longer change state.
	select {
	case first.inbound <- fakeFrame{messageType: websocket.MessageText, data: []byte(`{"type":"pairing_code","code":"999999"}`)}:
	default:
	}
	serverSend(t, second, protocol.AuthResult{Success: true})
	status := h.waitFor("paired on new session", func(status Status) bool { return status.State == Paired })
	if status.PairingCode != "" {
		t.Errorf("PairingCode = %q, want empty", status.PairingCode)
	}
}

func TestKeepAliveHeldWhileConnected(t *testing.T) {
	keepAlive := &fakeKeepAlive{}
	h := newHarness(t, harnessOptions{keepAlive: keepAlive})
	conn := h.pair()

	if held, _ := keepAlive.counts(); held != 1 {
		t.Fatalf("held = %d while paired, want 1", held)
	}

	conn.drop()
	h.waitFor("disconnected", func(status Status) bool { return status.State == Disconnected })
	if held, _ := keepAlive.counts(); held != 0 {
		t.Fatalf("held = %d after failure, want 0", held)
	}

	h.clock.WaitForTimers(1)
	h.clock.Advance(time.Second)
	testutil.RequireReceive(t, h.dialer.conns, testTimeout, "waiting for reconnect")
	if held, acquired := keepAlive.counts(); held != 1 || acquired != 2 {
		t.Fatalf("held, acquired = %d, %d after reconnect; want 1, 2", held, acquired)
	}

	keepAlive.mutex.Lock()
	revoke := keepAlive.revoke
	keepAlive.mutex.Unlock()
	revoke()
	if held, _ := keepAlive.counts(); held != 0 {
		t.Fatalf("held = %d after revocation, want 0", held)
	}
	if state := h.manager.Status().State; state == Disconnected {
		t.Error("revoking the keep-alive disconnected the session")
	}

	h.manager.Disconnect()
	if held, _ := keepAlive.counts(); held != 0 {
		t.Fatalf("held = %d after Disconnect, want 0", held)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New with no collaborators succeeded")
	}
	_, err := New(Config{
		Dialer:      newFakeDialer(),
		Credentials: credstore.NewMemory(),
		Settings:    StaticSettings{},
	})
	if err == nil {
		t.Fatal("New without a Handler succeeded")
	}
}

func TestUnencodableResultAnsweredWithInternalError(t *testing.T) {
	handler := handlerFunc(func(ctx context.Context, id, command string, params protocol.Object) protocol.Response {
		data := protocol.Object{"lat": protocol.Float(math.NaN())}.Value()
		return protocol.OK(id, &data)
	})
	h := newHarness(t, harnessOptions{handler: handler})
	conn := h.pair()

	serverSend(t, conn, protocol.Command{ID: "n1", Command: "location.get"})
	response := expectFrame[protocol.Response](t, conn)
	if response.ID != "n1" || response.Status != protocol.StatusError || response.Error == nil {
		t.Fatalf("response = %+v, want an error for id n1", response)
	}
	if response.Error.Code != "INTERNAL_ERROR" {
		t.Errorf("error code = %q, want INTERNAL_ERROR", response.Error.Code)
	}

	// The session keeps serving commands afterwards.
	serverSend(t, conn, protocol.Command{ID: "n2", Command: "location.get"})
	if response := expectFrame[protocol.Response](t, conn); response.ID != "n2" {
		t.Errorf("response id = %q, want n2", response.ID)
	}
	if state := h.manager.Status().State; state != Paired {
		t.Errorf("state = %s, want paired", state)
	}
}

func TestReconnectRetriesWhenIdentityUnavailable(t *testing.T) {
	identity := &flakyIdentity{Memory: credstore.NewMemoryWithIdentity("d1")}
	h := newHarness(t, harnessOptions{store: identity})
	conn := h.pair()

	identity.failNext(2)
	conn.drop()
	h.waitFor("disconnected", func(status Status) bool { return status.State == Disconnected })

	for i, delay := range []time.Duration{time.Second, 2 * time.Second} {
		h.clock.WaitForTimers(1)
		h.clock.Advance(delay)
		status := h.manager.Status()
		if status.Attempt != i+2 {
			t.Fatalf("after failed attempt %d: Attempt = %d, want %d", i, status.Attempt, i+2)
		}
		if !strings.Contains(status.LastError, "device identity") {
			t.Errorf("LastError = %q, want it to mention the device identity", status.LastError)
		}
		if pending := h.clock.PendingCount(); pending != 1 {
			t.Fatalf("after failed attempt %d: %d timers pending, want 1", i, pending)
		}
	}
	select {
	case endpoint := <-h.dialer.dials:
		t.Fatalf("dialed %s without a device identity", endpoint)
	default:
	}

	h.clock.Advance(4 * time.Second)
	testutil.RequireReceive(t, h.dialer.dials, testTimeout, "waiting for the reconnect once the identity loads")
}

func TestStatusNotBlockedByKeepAliveAcquire(t *testing.T) {
	keepAlive := &gatedKeepAlive{entered: make(chan struct{}, 1), proceed: make(chan struct{})}
	h := newHarness(t, harnessOptions{keepAlive: keepAlive})

	if err := h.manager.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	testutil.RequireReceive(t, keepAlive.entered, testTimeout, "waiting for keep-alive acquisition")

	statuses := make(chan Status, 1)
	go func() { statuses <- h.manager.Status() }()
	status := testutil.RequireReceive(t, statuses, testTimeout, "Status blocked behind the keep-alive")
	if status.State != Connecting {
		t.Errorf("state = %s, want connecting", status.State)
	}

	disconnected := make(chan struct{})
	go func() {
		h.manager.Disconnect()
		close(disconnected)
	}()
	testutil.RequireClosed(t, disconnected, testTimeout, "Disconnect blocked behind the keep-alive")

	// The grant that arrives for the retired session is given back.
	close(keepAlive.proceed)
	deadline := time.Now().Add(testTimeout)
	for {
		held, acquired := keepAlive.counts()
		if acquired == 1 && held == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("held, acquired = %d, %d; want the late grant released", held, acquired)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLogReadsSuppliedRing(t *testing.T) {
	ring := logring.New(10)
	manager, err := New(Config{
		Dialer:      newFakeDialer(),
		Credentials: credstore.NewMemory(),
		Settings:    StaticSettings{},
		Handler:     &blockingHandler{},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Ring:        ring,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ring.Add(logring.Entry{Level: "WARN", Message: "command failed id=1"})
	if err := manager.SendPushToken(context.Background(), "push-1"); err != nil {
		t.Fatalf("SendPushToken: %v", err)
	}

	entries := manager.Log()
	if len(entries) != 2 {
		t.Fatalf("Log holds %d entries, want 2", len(entries))
	}
	if !strings.HasPrefix(entries[0].Message, "token queued until paired") || entries[1].Message != "command failed id=1" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestLogMessagesAreLowerCase(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	conn := h.pair()
	conn.drop()
	h.waitFor("disconnected", func(status Status) bool { return status.State == Disconnected })

	entries := h.manager.Log()
	if len(entries) == 0 {
		t.Fatal("no log entries after pairing and a dropped connection")
	}
	for _, entry := range entries {
		if first := entry.Message[:1]; first != strings.ToLower(first) {
			t.Errorf("log message %q starts with an upper-case letter", entry.Message)
		}
	}
}
