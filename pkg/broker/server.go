package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"meetbot/pkg/bus"
	"meetbot/pkg/logger"
)

const (
	writeTimeout    = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server exposes a Broker to other processes: persistent channels over
// websocket at /connect and one-shot messages at /message.
type Server struct {
	addr      string
	broker    *Broker
	log       *slog.Logger
	startedAt time.Time
}

type healthResponse struct {
	Status        string     `json:"status"`
	BotStatus     bus.Status `json:"bot_status"`
	Ports         int        `json:"ports"`
	UptimeSeconds int64      `json:"uptime_seconds"`
}

func NewServer(addr string, broker *Broker, log *slog.Logger) *Server {
	return &Server{
		addr:      addr,
		broker:    broker,
		log:       logger.Component(log, "broker.server"),
		startedAt: time.Now().UTC(),
	}
}

// Handler returns the HTTP routes of the broker.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/connect", s.handleConnect)
	r.Post("/message", s.handleMessage)

	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Broker server started", "address", s.addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start broker server: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, err := s.broker.Status(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "closed"}, s.log)
		return
	}

	ports, _ := s.broker.PortCount(r.Context())
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		BotStatus:     status,
		Ports:         ports,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}, s.log)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg bus.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, bus.Response{Error: "invalid message body"}, s.log)
		return
	}

	resp, err := s.broker.Send(r.Context(), msg)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, bus.Response{Error: err.Error()}, s.log)
		return
	}

	writeJSON(w, http.StatusOK, resp, s.log)
}

// handleConnect bridges one websocket to one broker port.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	port, err := s.broker.Connect(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Error("Failed to accept channel websocket", "error", err)
		port.Disconnect()
		return
	}
	defer port.Disconnect()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.pumpOutbound(ctx, cancel, conn, port)

	for {
		var msg bus.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				s.log.Debug("Channel read failed", "port_id", port.ID, "error", err)
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}

		if err := port.Post(ctx, msg); err != nil {
			_ = conn.Close(websocket.StatusGoingAway, "broker closed")
			return
		}
	}
}

// pumpOutbound forwards broker frames to the websocket until the port is dropped.
func (s *Server) pumpOutbound(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, port *Port) {
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-port.Messages():
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "port closed")
				return
			}

			writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancelWrite()
			if err != nil {
				s.log.Debug("Channel write failed", "port_id", port.ID, "error", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error("Failed to write response", "error", err)
	}
}
