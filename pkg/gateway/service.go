// Package gateway runs the status broker process: the broker actor, its HTTP
// front and any configured notifiers, with a readiness endpoint covering all
// of them.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"meetbot/pkg/broker"
	"meetbot/pkg/channel"
	"meetbot/pkg/config"
	"meetbot/pkg/logger"
)

const (
	componentBroker = "broker"
	componentServer = "server"

	shutdownTimeout = 5 * time.Second
)

// Notifier follows the broker over a channel link until ctx is cancelled.
type Notifier interface {
	Name() string
	Run(ctx context.Context, dialer channel.Dialer, name string) error
}

type Service struct {
	cfg       config.BrokerConfig
	log       *slog.Logger
	broker    *broker.Broker
	server    *broker.Server
	notifiers []Notifier

	mu              sync.RWMutex
	startedAt       time.Time
	componentStates map[string]componentState
}

type componentState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string                    `json:"status"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Components    map[string]componentState `json:"components"`
}

func NewService(cfg config.BrokerConfig, notifiers []Notifier, log *slog.Logger) *Service {
	b := broker.New(cfg.ChannelName, log)

	return &Service{
		cfg:             cfg,
		log:             logger.Component(log, "gateway"),
		broker:          b,
		server:          broker.NewServer(cfg.BrokerAddr(), b, log),
		notifiers:       notifiers,
		componentStates: make(map[string]componentState),
	}
}

// Broker returns the status authority run by the service.
func (s *Service) Broker() *broker.Broker {
	return s.broker
}

// Handler serves the broker routes plus /readyz.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/readyz", s.handleReady)
	r.Mount("/", s.server.Handler())
	return r
}

// Run listens on the configured broker address and serves until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	addr := s.cfg.BrokerAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve runs every component on ln. A notifier failure is recorded and
// reported by /readyz; it does not stop the broker.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	s.setComponentState(componentBroker, componentState{Running: true})
	g.Go(func() error {
		err := s.broker.Run(gctx)
		s.setComponentState(componentBroker, componentState{Running: false, Error: errorString(err)})
		return err
	})

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	})

	s.setComponentState(componentServer, componentState{Running: true})
	g.Go(func() error {
		s.log.Info("Broker gateway started", "address", ln.Addr().String(), "channel", s.broker.ChannelName())
		err := server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.setComponentState(componentServer, componentState{Running: false, Error: err.Error()})
			return fmt.Errorf("serve broker: %w", err)
		}
		s.setComponentState(componentServer, componentState{Running: false})
		return nil
	})

	dialer := channel.LocalDialer{Broker: s.broker}
	for _, notifier := range s.notifiers {
		s.setComponentState(notifier.Name(), componentState{Running: true})

		g.Go(func() error {
			err := notifier.Run(gctx, dialer, s.broker.ChannelName())
			s.setComponentState(notifier.Name(), componentState{Running: false, Error: errorString(err)})
			if err != nil && gctx.Err() == nil {
				s.log.Error("Notifier stopped", "notifier", notifier.Name(), "error", err)
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(s.currentStatus(status)); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	components := make(map[string]componentState, len(s.componentStates))
	for name, state := range s.componentStates {
		components[name] = state
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Components:    components,
	}
}

// isReady requires the broker, the server and every notifier to be running.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, name := range []string{componentBroker, componentServer} {
		if !s.componentStates[name].Running {
			return false
		}
	}

	for _, notifier := range s.notifiers {
		if !s.componentStates[notifier.Name()].Running {
			return false
		}
	}

	return true
}

func (s *Service) setComponentState(name string, state componentState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.componentStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
