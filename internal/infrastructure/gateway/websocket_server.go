package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The gateway binds to loopback for the local UI shell.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StateEvent is one push frame: the full session snapshot. The shell renders
// whatever arrives last; there is no delta protocol.
type StateEvent struct {
	Type          string               `json:"type"`
	Status        domain.SessionStatus `json:"status"`
	ActiveCall    *domain.Call         `json:"activeCall,omitempty"`
	IncomingCall  *domain.Call         `json:"incomingCall,omitempty"`
	Sharing       bool                 `json:"sharing"`
	RemotePrimary bool                 `json:"remotePrimary"`
	RemoteShare   bool                 `json:"remoteShare"`
}

// CommandMessage is one command frame from the shell.
type CommandMessage struct {
	Type     string          `json:"type"`
	CallType domain.CallType `json:"callType,omitempty"`
}

// WebSocketServer pushes session state to connected UI shells and accepts
// call commands from them. Each connection gets its own observable
// subscriptions; slow shells see conflated snapshots, never a backlog.
type WebSocketServer struct {
	callService ports.CallService
	selfID      domain.UserID
	groupID     domain.GroupID

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

type Options struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
}

func NewWebSocketServer(
	callService ports.CallService,
	selfID domain.UserID,
	groupID domain.GroupID,
	opts Options,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 60 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &WebSocketServer{
		callService:  callService,
		selfID:       selfID,
		groupID:      groupID,
		pingInterval: opts.PingInterval,
		pongTimeout:  opts.PongTimeout,
		writeTimeout: opts.WriteTimeout,
		logger:       logger,
	}
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.logger.Infow("shell connected", "remote", r.RemoteAddr)

	var writeMu sync.Mutex
	writeJSON := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		return conn.WriteJSON(v)
	}

	// Push snapshots whenever any observable changes. Each subscription
	// replays its current value, so the first frames arrive immediately.
	go s.pushLoop(ctx, cancel, writeJSON)

	conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	commandChan := make(chan CommandMessage, 10)
	errorChan := make(chan error, 1)
	go func() {
		for {
			var msg CommandMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
			commandChan <- msg
		}
	}()

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-commandChan:
			if err := s.handleCommand(ctx, msg); err != nil {
				s.logger.Warnw("command failed", "type", msg.Type, "error", err)
				_ = writeJSON(map[string]string{"type": "error", "error": err.Error()})
			}

		case <-pingTicker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				s.logger.Infow("ping failed, dropping shell", "error", err)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("shell read error", "error", err)
			}
			s.logger.Infow("shell disconnected", "remote", r.RemoteAddr)
			return
		}
	}
}

func (s *WebSocketServer) pushLoop(ctx context.Context, cancel context.CancelFunc, writeJSON func(interface{}) error) {
	defer cancel()

	statusCh := s.callService.Status().Subscribe(ctx)
	activeCh := s.callService.ActiveCall().Subscribe(ctx)
	incomingCh := s.callService.IncomingCall().Subscribe(ctx)
	sharingCh := s.callService.Sharing().Subscribe(ctx)
	primaryCh := s.callService.RemotePrimary().Subscribe(ctx)
	shareCh := s.callService.RemoteShare().Subscribe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-statusCh:
		case <-activeCh:
		case <-incomingCh:
		case <-sharingCh:
		case <-primaryCh:
		case <-shareCh:
		}
		if ctx.Err() != nil {
			return
		}

		if err := writeJSON(s.snapshot()); err != nil {
			s.logger.Infow("state push failed, dropping shell", "error", err)
			return
		}
	}
}

func (s *WebSocketServer) snapshot() StateEvent {
	return StateEvent{
		Type:          "state",
		Status:        s.callService.Status().Get(),
		ActiveCall:    s.callService.ActiveCall().Get(),
		IncomingCall:  s.callService.IncomingCall().Get(),
		Sharing:       s.callService.Sharing().Get(),
		RemotePrimary: s.callService.RemotePrimary().Get() != nil,
		RemoteShare:   s.callService.RemoteShare().Get() != nil,
	}
}

func (s *WebSocketServer) handleCommand(ctx context.Context, msg CommandMessage) error {
	switch msg.Type {
	case "start_call":
		callType := msg.CallType
		if callType == "" {
			callType = domain.CallRegular
		}
		return s.callService.StartCall(ctx, s.groupID, s.selfID, callType)
	case "answer_call":
		incoming := s.callService.IncomingCall().Get()
		if incoming == nil {
			return fmt.Errorf("no incoming call to answer")
		}
		return s.callService.AnswerCall(ctx, incoming)
	case "reject_call":
		s.callService.RejectIncoming()
		return nil
	case "end_call":
		return s.callService.EndCall(ctx, s.selfID)
	case "start_share":
		return s.callService.StartShare(ctx)
	case "stop_share":
		return s.callService.StopShare(ctx)
	default:
		return fmt.Errorf("unknown command type: %s", msg.Type)
	}
}
