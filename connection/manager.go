// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/omcli/omcli-device/capability"
	"github.com/omcli/omcli-device/lib/clock"
	"github.com/omcli/omcli-device/lib/logring"
	"github.com/omcli/omcli-device/lib/netutil"
	"github.com/omcli/omcli-device/protocol"
)

// State is the Manager's connection state. The string values are the
// names shown by the status command.
type State string

const (
	Disconnected      State = "disconnected"
	Connecting        State = "connecting"
	WaitingForPairing State = "waiting_for_pairing"
	Paired            State = "paired"
)

// writeTimeout bounds a single frame write.
const writeTimeout = 10 * time.Second

var (
	// ErrNoEndpoint is returned by Connect when no server URL is
	// configured.
	ErrNoEndpoint = errors.New("no server endpoint configured")

	// ErrNotPaired is returned by SendEvent when there is no paired
	// session to send on.
	ErrNotPaired = errors.New("not paired with a server")
)

// Status is a snapshot of the Manager for display.
type Status struct {
	State       State  `json:"state"`
	Endpoint    string `json:"endpoint,omitempty"`
	PairingCode string `json:"pairing_code,omitempty"`
	Attempt     int    `json:"attempt"`
	LastCommand string `json:"last_command,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// Config holds the Manager's collaborators.
type Config struct {
	// Clock drives reconnect timers. Defaults to clock.Real().
	Clock clock.Clock

	// Dialer opens transports. Required.
	Dialer Dialer

	// Credentials persists the device identity and tokens. Required.
	Credentials Credentials

	// Settings supplies the endpoint and display name. Required.
	Settings Settings

	// Handler runs server commands. Required.
	Handler CommandHandler

	// KeepAlive is held while a session is live. Optional.
	KeepAlive KeepAlive

	// Logger receives the Manager's records. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// LogCapacity sizes the in-memory log ring. Defaults to
	// logring.DefaultCapacity. Ignored when Ring is set.
	LogCapacity int

	// Ring, when set, is the ring Log reads. Other components can tee
	// their records into it so they show up in the same log.
	Ring *logring.Ring

	// OnChange, when set, is called with a fresh Status after every
	// state change. It is called without the Manager's lock held but
	// possibly from the session goroutine, so it must not block.
	OnChange func(Status)
}

// Manager maintains the control channel. All methods are safe for
// concurrent use.
type Manager struct {
	clock       clock.Clock
	dialer      Dialer
	credentials Credentials
	settings    Settings
	handler     CommandHandler
	keepAlive   KeepAlive
	logger      *slog.Logger
	ring        *logring.Ring
	onChange    func(Status)

	mutex       sync.Mutex
	state       State
	endpoint    string
	pairingCode string
	attempt     int
	lastCommand string
	lastError   string

	// session is the live session, nil when disconnected.
	session    *session
	generation uint64

	// reconnectSeq invalidates reconnect timers: a timer only acts if
	// the sequence is unchanged since it was armed.
	reconnectTimer *clock.Timer
	reconnectSeq   uint64

	grant           Grant
	grantGeneration uint64

	pendingPushToken string
	pendingVoIPToken string
}

// session is one dial-to-close lifetime of the transport.
type session struct {
	generation uint64
	endpoint   string
	deviceID   string
	ctx        context.Context
	cancel     context.CancelFunc

	// conn is set under the Manager's mutex once the dial succeeds.
	conn Conn

	writeMutex sync.Mutex
}

// New validates config and returns a disconnected Manager.
func New(config Config) (*Manager, error) {
	if config.Dialer == nil {
		return nil, errors.New("connection: Dialer is required")
	}
	if config.Credentials == nil {
		return nil, errors.New("connection: Credentials is required")
	}
	if config.Settings == nil {
		return nil, errors.New("connection: Settings is required")
	}
	if config.Handler == nil {
		return nil, errors.New("connection: Handler is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.LogCapacity <= 0 {
		config.LogCapacity = logring.DefaultCapacity
	}

	ring := config.Ring
	if ring == nil {
		ring = logring.New(config.LogCapacity)
	}
	logger := slog.New(logring.NewHandler(ring, config.Logger.Handler(), slog.LevelInfo))

	return &Manager{
		clock:       config.Clock,
		dialer:      config.Dialer,
		credentials: config.Credentials,
		settings:    config.Settings,
		handler:     config.Handler,
		keepAlive:   config.KeepAlive,
		logger:      logger,
		ring:        ring,
		onChange:    config.OnChange,
		state:       Disconnected,
	}, nil
}

// Connect starts a new session against the configured endpoint,
// replacing any session already in progress. It returns once the
// session goroutine is started; progress is reported through Status
// and OnChange.
func (m *Manager) Connect() error {
	m.mutex.Lock()
	m.reconnectSeq++
	seq := m.reconnectSeq
	m.mutex.Unlock()
	return m.connect(seq)
}

// connect starts a session unless seq has been superseded by a later
// Connect or Disconnect.
func (m *Manager) connect(seq uint64) error {
	endpoint := m.settings.Endpoint()
	if endpoint == "" {
		return ErrNoEndpoint
	}
	deviceID, err := m.credentials.DeviceID()
	if err != nil {
		return fmt.Errorf("loading device identity: %w", err)
	}
	migrated, err := m.credentials.MigrateLegacy(endpoint)
	if err != nil {
		m.logger.Warn("legacy token migration failed", "endpoint", endpoint, "error", err)
	} else if migrated {
		m.logger.Info("migrated stored token to endpoint scope", "endpoint", endpoint)
	}

	m.mutex.Lock()
	if seq != m.reconnectSeq {
		m.mutex.Unlock()
		return nil
	}
	stale := m.retireLocked()
	s := m.startLocked(endpoint, deviceID)
	status := m.statusLocked()
	m.mutex.Unlock()

	closeConn(stale, websocket.StatusGoingAway, "reconnecting")
	m.logger.Info("connecting", "endpoint", endpoint)
	m.notify(status)
	go m.run(s)
	return nil
}

// Disconnect closes the live session, if any, and cancels a pending
// reconnect. The Manager stays disconnected until the next Connect.
func (m *Manager) Disconnect() {
	m.mutex.Lock()
	wasLive := m.session != nil || m.reconnectTimer != nil
	conn := m.retireLocked()
	m.state = Disconnected
	m.pairingCode = ""
	status := m.statusLocked()
	m.mutex.Unlock()

	closeConn(conn, websocket.StatusGoingAway, "disconnect")
	if wasLive {
		m.logger.Info("disconnected")
	}
	m.notify(status)
}

// Reconnect drops the current session and connects again, picking up
// any change to the configured endpoint.
func (m *Manager) Reconnect() error {
	m.Disconnect()
	return m.Connect()
}

// Unpair disconnects and forgets the token for the current endpoint,
// so the next Connect starts a fresh pairing.
func (m *Manager) Unpair() error {
	m.mutex.Lock()
	endpoint := m.endpoint
	m.mutex.Unlock()
	if endpoint == "" {
		endpoint = m.settings.Endpoint()
	}

	m.Disconnect()
	if endpoint == "" {
		return nil
	}
	if err := m.credentials.DeleteToken(endpoint); err != nil {
		return fmt.Errorf("forgetting token for %s: %w", endpoint, err)
	}
	m.logger.Info("unpaired", "endpoint", endpoint)
	return nil
}

// SendEvent sends an unsolicited event on the paired session.
func (m *Manager) SendEvent(ctx context.Context, name string, data *protocol.Value) error {
	s, conn, err := m.pairedSession()
	if err != nil {
		return err
	}
	if err := m.send(ctx, s, conn, protocol.Event{Event: name, Data: data}); err != nil {
		return fmt.Errorf("sending event %q: %w", name, err)
	}
	m.logger.Info("event sent", "event", name)
	return nil
}

// SendPushToken registers a push token with the server. While not
// paired the token is held and sent as soon as pairing completes; a
// later token replaces an earlier pending one.
func (m *Manager) SendPushToken(ctx context.Context, token string) error {
	return m.sendToken(ctx, protocol.PushToken{Token: token}, token, &m.pendingPushToken)
}

// SendVoIPToken registers a VoIP wake token with the same queueing as
// SendPushToken.
func (m *Manager) SendVoIPToken(ctx context.Context, token string) error {
	return m.sendToken(ctx, protocol.VoIPToken{Token: token}, token, &m.pendingVoIPToken)
}

// sendToken writes envelope if paired, otherwise parks token in
// pending, which is guarded by the Manager's mutex.
func (m *Manager) sendToken(ctx context.Context, envelope protocol.Outbound, token string, pending *string) error {
	m.mutex.Lock()
	s := m.session
	if m.state != Paired || s == nil || s.conn == nil {
		*pending = token
		m.mutex.Unlock()
		m.logger.Info("token queued until paired", "type", envelope.Type())
		return nil
	}
	conn := s.conn
	m.mutex.Unlock()

	if err := m.send(ctx, s, conn, envelope); err != nil {
		return fmt.Errorf("sending %s: %w", envelope.Type(), err)
	}
	m.logger.Info("token registered", "type", envelope.Type())
	return nil
}

// Status returns a snapshot of the connection state.
func (m *Manager) Status() Status {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.statusLocked()
}

// Log returns the recent log entries, newest first.
func (m *Manager) Log() []logring.Entry {
	return m.ring.Entries()
}

func (m *Manager) statusLocked() Status {
	return Status{
		State:       m.state,
		Endpoint:    m.endpoint,
		PairingCode: m.pairingCode,
		Attempt:     m.attempt,
		LastCommand: m.lastCommand,
		LastError:   m.lastError,
	}
}

func (m *Manager) notify(status Status) {
	if m.onChange != nil {
		m.onChange(status)
	}
}

// startLocked creates and registers a new session in the connecting
// state. The caller starts its goroutine after unlocking.
func (m *Manager) startLocked(endpoint, deviceID string) *session {
	m.generation++
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		generation: m.generation,
		endpoint:   endpoint,
		deviceID:   deviceID,
		ctx:        ctx,
		cancel:     cancel,
	}
	m.session = s
	m.endpoint = endpoint
	m.state = Connecting
	m.pairingCode = ""
	return s
}

// retireLocked stops the reconnect timer and the live session. It
// returns the session's transport, which the caller closes after
// unlocking.
func (m *Manager) retireLocked() Conn {
	m.reconnectSeq++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	s := m.session
	if s == nil {
		return nil
	}
	m.session = nil
	s.cancel()
	m.releaseKeepAliveLocked()
	return s.conn
}

// current reports whether s is still the live session.
func (m *Manager) current(s *session) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.session == s
}

func (m *Manager) pairedSession() (*session, Conn, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s := m.session
	if m.state != Paired || s == nil || s.conn == nil {
		return nil, nil, ErrNotPaired
	}
	return s, s.conn, nil
}

// run is the session goroutine: dial, handshake, then the receive
// loop until the transport fails or the session is retired.
func (m *Manager) run(s *session) {
	m.acquireKeepAlive(s)

	conn, err := m.dialer.Dial(s.ctx, s.endpoint)
	if err != nil {
		m.fail(s, fmt.Errorf("connecting to %s: %w", s.endpoint, err))
		return
	}

	m.mutex.Lock()
	if m.session != s {
		m.mutex.Unlock()
		closeConn(conn, websocket.StatusGoingAway, "superseded")
		return
	}
	s.conn = conn
	m.mutex.Unlock()

	name := m.settings.DeviceName()
	if err := m.send(s.ctx, s, conn, protocol.Hello{DeviceID: s.deviceID, Name: name}); err != nil {
		m.fail(s, fmt.Errorf("sending hello: %w", err))
		return
	}
	m.logger.Info("sent hello", "device_id", s.deviceID, "name", name)

	if err := m.sendStoredAuth(s, conn); err != nil {
		m.fail(s, err)
		return
	}

	for {
		messageType, data, err := conn.Read(s.ctx)
		if err != nil {
			m.fail(s, err)
			return
		}
		if messageType != websocket.MessageText {
			m.logger.Warn("dropped non-text frame", "bytes", len(data))
			continue
		}
		m.dispatch(s, conn, data)
	}
}

// sendStoredAuth sends auth if a token is stored for the session's
// endpoint. A store read error is logged and treated as no token, so
// the server falls back to pairing.
func (m *Manager) sendStoredAuth(s *session, conn Conn) error {
	token, ok, err := m.credentials.Token(s.endpoint)
	if err != nil {
		m.logger.Error("reading stored token failed", "endpoint", s.endpoint, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	if err := m.send(s.ctx, s, conn, protocol.Auth{DeviceID: s.deviceID, Token: token}); err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}
	m.logger.Info("sent auth")
	return nil
}

func (m *Manager) dispatch(s *session, conn Conn, data []byte) {
	envelope, err := protocol.DecodeInbound(data)
	if err != nil {
		m.logger.Warn("unknown message received", "error", err)
		return
	}

	switch envelope := envelope.(type) {
	case protocol.PairingCode:
		m.handlePairingCode(s, envelope)
	case protocol.AuthResult:
		m.handleAuthResult(s, conn, envelope)
	case protocol.AuthRequired:
		if !m.current(s) {
			return
		}
		token, ok, err := m.credentials.Token(s.endpoint)
		if err != nil || !ok {
			m.logger.Info("server requires authentication, waiting for pairing code")
			return
		}
		if err := m.send(s.ctx, s, conn, protocol.Auth{DeviceID: s.deviceID, Token: token}); err != nil {
			m.logger.Error("sending auth failed", "error", err)
			return
		}
		m.logger.Info("sent auth")
	case protocol.Command:
		m.handleCommand(s, conn, envelope)
	}
}

func (m *Manager) handlePairingCode(s *session, message protocol.PairingCode) {
	m.mutex.Lock()
	if m.session != s {
		m.mutex.Unlock()
		return
	}
	m.state = WaitingForPairing
	m.pairingCode = message.Code
	status := m.statusLocked()
	m.mutex.Unlock()

	m.logger.Info("pairing code received", "code", message.Code)
	m.notify(status)
}

func (m *Manager) handleAuthResult(s *session, conn Conn, result protocol.AuthResult) {
	if !m.current(s) {
		return
	}

	if !result.Success {
		reason := "authentication rejected"
		if result.Error != nil && *result.Error != "" {
			reason = *result.Error
		}
		if err := m.credentials.DeleteToken(s.endpoint); err != nil {
			m.logger.Error("deleting rejected token failed", "endpoint", s.endpoint, "error", err)
		}

		m.mutex.Lock()
		if m.session != s {
			m.mutex.Unlock()
			return
		}
		m.state = Disconnected
		m.pairingCode = ""
		m.lastError = "auth failed: " + reason
		status := m.statusLocked()
		m.mutex.Unlock()

		m.logger.Warn("authentication failed", "error", reason)
		m.notify(status)
		return
	}

	if result.Token != nil {
		if err := m.credentials.SaveToken(s.endpoint, *result.Token); err != nil {
			m.logger.Error("storing token failed", "endpoint", s.endpoint, "error", err)
		}
	}

	m.mutex.Lock()
	if m.session != s {
		m.mutex.Unlock()
		return
	}
	m.state = Paired
	m.pairingCode = ""
	m.attempt = 0
	m.lastError = ""
	pushToken, voipToken := m.pendingPushToken, m.pendingVoIPToken
	m.pendingPushToken, m.pendingVoIPToken = "", ""
	status := m.statusLocked()
	m.mutex.Unlock()

	m.logger.Info("paired", "endpoint", s.endpoint)
	m.notify(status)

	if pushToken != "" {
		m.flushToken(s, conn, protocol.PushToken{Token: pushToken})
	}
	if voipToken != "" {
		m.flushToken(s, conn, protocol.VoIPToken{Token: voipToken})
	}
}

func (m *Manager) flushToken(s *session, conn Conn, envelope protocol.Outbound) {
	if err := m.send(s.ctx, s, conn, envelope); err != nil {
		m.logger.Error("sending queued token failed", "type", envelope.Type(), "error", err)
		return
	}
	m.logger.Info("token registered", "type", envelope.Type())
}

// handleCommand runs one command to completion and answers it. The
// capability context survives the session; the answer is dropped if
// the session was retired meanwhile.
func (m *Manager) handleCommand(s *session, conn Conn, command protocol.Command) {
	m.mutex.Lock()
	if m.session != s {
		m.mutex.Unlock()
		return
	}
	m.lastCommand = command.Command
	status := m.statusLocked()
	m.mutex.Unlock()
	m.notify(status)

	m.logger.Info("command received", "id", command.ID, "command", command.Command)
	response := m.handler.Handle(context.WithoutCancel(s.ctx), command.ID, command.Command, command.Params)

	if !m.current(s) {
		m.logger.Warn("dropped response for closed connection", "id", command.ID, "command", command.Command)
		return
	}
	data, err := protocol.EncodeOutbound(response)
	if err != nil {
		m.logger.Error("encoding response failed", "id", command.ID, "command", command.Command, "error", err)
		data, err = protocol.EncodeOutbound(protocol.Failure(command.ID, string(capability.InternalError), "Response could not be encoded"))
		if err != nil {
			m.logger.Error("encoding failure response failed", "id", command.ID, "error", err)
			return
		}
	}
	if err := m.write(s.ctx, s, conn, data); err != nil {
		m.logger.Error("sending response failed", "id", command.ID, "error", err)
	}
}

// fail handles the end of a live session that nobody asked for: it
// records the error and arms the reconnect timer. Failures of retired
// sessions are ignored.
func (m *Manager) fail(s *session, err error) {
	m.mutex.Lock()
	if m.session != s {
		m.mutex.Unlock()
		return
	}
	m.session = nil
	s.cancel()
	m.releaseKeepAliveLocked()
	m.state = Disconnected
	m.pairingCode = ""
	m.lastError = err.Error()
	conn := s.conn
	delay := m.scheduleReconnectLocked()
	status := m.statusLocked()
	m.mutex.Unlock()

	closeConn(conn, websocket.StatusGoingAway, "")
	m.logger.Error("connection lost", "error", err, "expected_close", netutil.IsExpectedCloseError(err))
	m.logger.Info("reconnecting", "delay", delay, "attempt", status.Attempt)
	m.notify(status)
}

// scheduleReconnectLocked arms the single reconnect timer and returns
// its delay.
func (m *Manager) scheduleReconnectLocked() time.Duration {
	delay := Backoff(m.attempt)
	m.attempt++
	m.reconnectSeq++
	seq := m.reconnectSeq
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = m.clock.AfterFunc(delay, func() { m.reconnectFired(seq) })
	return delay
}

func (m *Manager) reconnectFired(seq uint64) {
	m.mutex.Lock()
	if seq != m.reconnectSeq {
		m.mutex.Unlock()
		return
	}
	m.reconnectTimer = nil
	m.mutex.Unlock()

	err := m.connect(seq)
	if err == nil {
		return
	}

	// The attempt never reached the dialer; back off and try again
	// unless a Connect or Disconnect has taken over meanwhile.
	m.mutex.Lock()
	if seq != m.reconnectSeq || m.session != nil {
		m.mutex.Unlock()
		m.logger.Error("reconnect failed", "error", err)
		return
	}
	m.lastError = err.Error()
	delay := m.scheduleReconnectLocked()
	status := m.statusLocked()
	m.mutex.Unlock()

	m.logger.Error("reconnect failed", "error", err, "delay", delay, "attempt", status.Attempt)
	m.notify(status)
}

// acquireKeepAlive takes the keep-alive for s without holding the
// Manager's lock, since acquisition is a bus round trip. The grant is
// kept only if s is still the live session.
func (m *Manager) acquireKeepAlive(s *session) {
	if m.keepAlive == nil {
		return
	}
	grant, err := m.keepAlive.Acquire(func() { m.keepAliveRevoked(s.generation) })
	if err != nil {
		m.logger.Warn("background keep-alive unavailable", "error", err)
		return
	}

	m.mutex.Lock()
	if m.session != s || m.grant != nil {
		m.mutex.Unlock()
		grant.Release()
		return
	}
	m.grant = grant
	m.grantGeneration = s.generation
	m.mutex.Unlock()
}

func (m *Manager) releaseKeepAliveLocked() {
	if m.grant == nil {
		return
	}
	m.grant.Release()
	m.grant = nil
}

func (m *Manager) keepAliveRevoked(generation uint64) {
	m.mutex.Lock()
	if m.grant == nil || m.grantGeneration != generation {
		m.mutex.Unlock()
		return
	}
	m.releaseKeepAliveLocked()
	m.mutex.Unlock()
	m.logger.Warn("background keep-alive revoked")
}

// send encodes and writes one frame. Writes on a session are
// serialized so frames leave in call order.
func (m *Manager) send(ctx context.Context, s *session, conn Conn, envelope protocol.Outbound) error {
	data, err := protocol.EncodeOutbound(envelope)
	if err != nil {
		return err
	}
	return m.write(ctx, s, conn, data)
}

func (m *Manager) write(ctx context.Context, s *session, conn Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	return conn.Write(ctx, websocket.MessageText, data)
}

func closeConn(conn Conn, code websocket.StatusCode, reason string) {
	if conn == nil {
		return
	}
	conn.Close(code, reason)
}
