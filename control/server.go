// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/omcli/omcli-device/call"
	"github.com/omcli/omcli-device/capability"
	"github.com/omcli/omcli-device/connection"
	"github.com/omcli/omcli-device/lib/codec"
	"github.com/omcli/omcli-device/lib/logring"
	"github.com/omcli/omcli-device/lib/netutil"
	"github.com/omcli/omcli-device/protocol"
)

// Connection is the connection manager as seen from the socket.
type Connection interface {
	Connect() error
	Disconnect()
	Reconnect() error
	Unpair() error
	Status() connection.Status
	Log() []logring.Entry
	SendEvent(ctx context.Context, name string, data *protocol.Value) error
	SendPushToken(ctx context.Context, token string) error
	SendVoIPToken(ctx context.Context, token string) error
}

// Camera resolves a pending photo request.
type Camera interface {
	Approve() error
	Decline() error
	Pending() (capability.Facing, bool)
}

// Calls answers and declines incoming calls and takes push wakes.
type Calls interface {
	Answer(ctx context.Context) error
	Decline(ctx context.Context) error
	Wake(ctx context.Context, payload protocol.Object) error
	Pending() (call.Call, bool)
}

// Alarm is the local dismissal side of the alarm.
type Alarm interface {
	Dismiss() (time.Time, error)
	Active() bool
}

// Config wires the server to the agent. Connection is required; the
// actions of a nil Camera, Calls or Alarm answer "not available".
type Config struct {
	SocketPath string
	Connection Connection
	Camera     Camera
	Calls      Calls
	Alarm      Alarm
	Logger     *slog.Logger
}

// ActionFunc handles one action. raw is the complete CBOR request,
// action field included. A nil result yields {ok: true}.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Server serves the control socket.
type Server struct {
	config   Config
	handlers map[string]ActionFunc
	logger   *slog.Logger

	activeConnections sync.WaitGroup
}

// ErrUnavailable is returned by actions whose collaborator is absent.
var ErrUnavailable = errors.New("not available on this device")

const (
	readTimeout    = 30 * time.Second
	writeTimeout   = 10 * time.Second
	maxRequestSize = 64 * 1024
)

// NewServer creates a server with every action registered.
func NewServer(config Config) (*Server, error) {
	if config.SocketPath == "" {
		return nil, errors.New("control: SocketPath is required")
	}
	if config.Connection == nil {
		return nil, errors.New("control: Connection is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	s := &Server{
		config:   config,
		handlers: make(map[string]ActionFunc),
		logger:   config.Logger,
	}

	s.Handle(ActionStatus, s.status)
	s.Handle(ActionLog, s.log)
	s.Handle(ActionConnect, func(context.Context, []byte) (any, error) {
		return nil, config.Connection.Connect()
	})
	s.Handle(ActionDisconnect, func(context.Context, []byte) (any, error) {
		config.Connection.Disconnect()
		return nil, nil
	})
	s.Handle(ActionReconnect, func(context.Context, []byte) (any, error) {
		return nil, config.Connection.Reconnect()
	})
	s.Handle(ActionUnpair, func(context.Context, []byte) (any, error) {
		return nil, config.Connection.Unpair()
	})
	s.Handle(ActionCameraApprove, s.camera(Camera.Approve))
	s.Handle(ActionCameraDecline, s.camera(Camera.Decline))
	s.Handle(ActionCallAnswer, s.calls(Calls.Answer))
	s.Handle(ActionCallDecline, s.calls(Calls.Decline))
	s.Handle(ActionAlarmDismiss, s.dismiss)
	s.Handle(ActionEventEmit, s.emit)
	s.Handle(ActionPushToken, s.token(config.Connection.SendPushToken))
	s.Handle(ActionVoIPToken, s.token(config.Connection.SendVoIPToken))
	s.Handle(ActionPushWake, s.wake)
	return s, nil
}

// Handle registers handler for action. Registering an action twice
// panics.
func (s *Server) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("control.Server: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Serve accepts connections until ctx is cancelled, then waits for
// in-flight requests. A stale socket file is replaced; the socket is
// removed on return.
func (s *Server) Serve(ctx context.Context) error {
	path := s.config.SocketPath
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", path, err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", path, err)
	}
	defer func() {
		listener.Close()
		os.Remove(path)
	}()
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("restricting %s: %w", path, err)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("control socket listening", "path", path)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if netutil.IsExpectedCloseError(err) {
			return
		}
		s.writeResponse(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeResponse(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if header.Action == "" {
		s.writeResponse(conn, Response{Error: "missing required field: action"})
		return
	}
	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeResponse(conn, Response{Error: fmt.Sprintf("unknown action %q", header.Action)})
		return
	}

	result, err := handler(ctx, raw)
	if err != nil {
		s.logger.Debug("control action failed", "action", header.Action, "error", err)
		s.writeResponse(conn, Response{Error: err.Error()})
		return
	}

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeResponse(conn, Response{Error: fmt.Sprintf("internal: marshaling response: %v", err)})
			return
		}
		response.Data = data
	}
	s.writeResponse(conn, response)
}

func (s *Server) writeResponse(conn net.Conn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		if netutil.IsExpectedCloseError(err) {
			s.logger.Debug("client hung up before response", "error", err)
			return
		}
		s.logger.Warn("writing control response failed", "error", err)
	}
}

func (s *Server) status(context.Context, []byte) (any, error) {
	status := s.config.Connection.Status()
	reply := StatusReply{
		State:       string(status.State),
		Endpoint:    status.Endpoint,
		PairingCode: status.PairingCode,
		Attempt:     status.Attempt,
		LastCommand: status.LastCommand,
		LastError:   status.LastError,
	}
	if s.config.Camera != nil {
		if facing, pending := s.config.Camera.Pending(); pending {
			reply.CameraPending = string(facing)
		}
	}
	if s.config.Calls != nil {
		_, reply.CallPending = s.config.Calls.Pending()
	}
	if s.config.Alarm != nil {
		reply.AlarmRinging = s.config.Alarm.Active()
	}
	return reply, nil
}

func (s *Server) log(context.Context, []byte) (any, error) {
	entries := s.config.Connection.Log()
	reply := make([]LogEntry, len(entries))
	for i, entry := range entries {
		reply[i] = LogEntry{Time: entry.Time, Level: entry.Level, Message: entry.Message}
	}
	return reply, nil
}

func (s *Server) camera(resolve func(Camera) error) ActionFunc {
	return func(context.Context, []byte) (any, error) {
		if s.config.Camera == nil {
			return nil, fmt.Errorf("camera: %w", ErrUnavailable)
		}
		return nil, resolve(s.config.Camera)
	}
}

func (s *Server) calls(act func(Calls, context.Context) error) ActionFunc {
	return func(ctx context.Context, _ []byte) (any, error) {
		if s.config.Calls == nil {
			return nil, fmt.Errorf("calls: %w", ErrUnavailable)
		}
		return nil, act(s.config.Calls, ctx)
	}
}

// dismiss stops the alarm and reports the dismissal to the server as
// an alarm.dismissed event.
func (s *Server) dismiss(ctx context.Context, _ []byte) (any, error) {
	if s.config.Alarm == nil {
		return nil, fmt.Errorf("alarm: %w", ErrUnavailable)
	}
	at, err := s.config.Alarm.Dismiss()
	if err != nil {
		return nil, err
	}
	reply := DismissReply{DismissedAt: at.UTC().Format(time.RFC3339)}
	data := protocol.Object{"dismissed_at": protocol.String(reply.DismissedAt)}.Value()
	switch err := s.config.Connection.SendEvent(ctx, "alarm.dismissed", &data); {
	case err == nil:
		reply.Reported = true
	case errors.Is(err, connection.ErrNotPaired):
		s.logger.Warn("alarm dismissed while not paired")
	default:
		s.logger.Warn("reporting alarm dismissal failed", "error", err)
	}
	return reply, nil
}

func (s *Server) emit(ctx context.Context, raw []byte) (any, error) {
	var request EventRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid event.emit request: %w", err)
	}
	if request.Event == "" {
		return nil, errors.New("missing required field: event")
	}
	var data *protocol.Value
	if request.Data != "" {
		value, err := protocol.ParseValue([]byte(request.Data))
		if err != nil {
			return nil, fmt.Errorf("event data: %w", err)
		}
		data = &value
	}
	return nil, s.config.Connection.SendEvent(ctx, request.Event, data)
}

func (s *Server) token(send func(context.Context, string) error) ActionFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		var request TokenRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid token request: %w", err)
		}
		if request.Token == "" {
			return nil, errors.New("missing required field: token")
		}
		return nil, send(ctx, request.Token)
	}
}

func (s *Server) wake(ctx context.Context, raw []byte) (any, error) {
	if s.config.Calls == nil {
		return nil, fmt.Errorf("calls: %w", ErrUnavailable)
	}
	var request WakeRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid push.wake request: %w", err)
	}
	var payload protocol.Object
	if request.Payload != "" {
		value, err := protocol.ParseValue([]byte(request.Payload))
		if err != nil {
			return nil, fmt.Errorf("wake payload: %w", err)
		}
		object, ok := value.AsObject()
		if !ok {
			return nil, errors.New("wake payload must be a JSON object")
		}
		payload = object
	}
	return nil, s.config.Calls.Wake(ctx, payload)
}
