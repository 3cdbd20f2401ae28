package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/bonk1t/agent-os/internal/domain"
	"github.com/bonk1t/agent-os/internal/usecase"
)

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	ws        *websocket.Conn
	sendCh    chan OutboundFrame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
}

// Server is the HTTP and WebSocket gateway.
type Server struct {
	verifier  domain.TokenVerifier
	agencies  *usecase.AgencyManager
	agents    *usecase.AgentManager
	skills    *usecase.SkillManager
	sessions  *usecase.SessionManager
	executor  *usecase.SkillExecutor
	variables *usecase.UserVariableManager

	clients   sync.Map // connID (uint64) -> *clientConn
	nextID    atomic.Uint64
	logger    *slog.Logger
	addr      string
	httpSrv   *http.Server
	boundAddr string
}

// Managers bundles the application services the gateway exposes.
type Managers struct {
	Agencies  *usecase.AgencyManager
	Agents    *usecase.AgentManager
	Skills    *usecase.SkillManager
	Sessions  *usecase.SessionManager
	Executor  *usecase.SkillExecutor
	Variables *usecase.UserVariableManager
}

// NewServer creates a gateway server listening on addr.
func NewServer(v domain.TokenVerifier, m Managers, addr string, logger *slog.Logger) *Server {
	return &Server{
		verifier:  v,
		agencies:  m.Agencies,
		agents:    m.Agents,
		skills:    m.Skills,
		sessions:  m.Sessions,
		executor:  m.Executor,
		variables: m.Variables,
		logger:    logger,
		addr:      addr,
	}
}

// routes builds the gateway's HTTP route table.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)

	mux.HandleFunc("GET /api/agency/list", s.handleAgencyList)
	mux.HandleFunc("GET /api/agency/{id}", s.handleAgencyGet)
	mux.HandleFunc("POST /api/agency", s.handleAgencySave)
	mux.HandleFunc("DELETE /api/agency/{id}", s.handleAgencyDelete)

	mux.HandleFunc("GET /api/agent/list", s.handleAgentList)
	mux.HandleFunc("GET /api/agent/{id}", s.handleAgentGet)
	mux.HandleFunc("POST /api/agent", s.handleAgentSave)
	mux.HandleFunc("DELETE /api/agent/{id}", s.handleAgentDelete)

	mux.HandleFunc("GET /api/skill/list", s.handleSkillList)
	mux.HandleFunc("GET /api/skill/{id}", s.handleSkillGet)
	mux.HandleFunc("PUT /api/skill", s.handleSkillSave)
	mux.HandleFunc("DELETE /api/skill/{id}", s.handleSkillDelete)
	mux.HandleFunc("POST /api/skill/execute", s.handleSkillExecute)

	mux.HandleFunc("GET /api/session/list", s.handleSessionList)
	mux.HandleFunc("POST /api/session", s.handleSessionCreate)
	mux.HandleFunc("DELETE /api/session", s.handleSessionDelete)
	mux.HandleFunc("GET /api/session/{id}/messages", s.handleSessionMessages)

	mux.HandleFunc("PUT /api/variable", s.handleVariableSet)
	return mux
}

// Start begins serving. Blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.routes()

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{Handler: mux}

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the gateway.
func (s *Server) Stop(ctx context.Context) error {
	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.closeOnce.Do(func() { close(cc.done) })
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the actual address the server bound to. Only valid
// after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		ws:     ws,
		sendCh: make(chan OutboundFrame, 64),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)
	s.logger.Info("gateway client connected", "conn_id", connID)

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	cc.closeOnce.Do(func() { close(cc.done) })
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame InboundFrame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return // connection closed or error
		}

		go func() {
			reply := s.HandleFrame(ctx, frame)
			select {
			case cc.sendCh <- reply:
			case <-cc.done:
			}
		}()
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
