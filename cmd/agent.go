package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"meetbot/pkg/agent"
	"meetbot/pkg/bot"
	"meetbot/pkg/bus"
	"meetbot/pkg/channel"
	"meetbot/pkg/config"
	"meetbot/pkg/dom"
	"meetbot/pkg/dom/cdpdom"
)

var (
	agentCDPURL string
	agentListen string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Attach the content agent to a meeting tab",
	Long:  "Attaches to a Chrome tab over the DevTools protocol, injects the control panel while a meeting is visible, and keeps it in sync with the broker.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, log, err := loadRuntime("cmd.agent")
		if err != nil {
			fmt.Println(err)
			return
		}

		cdpURL := resolveCDPURL(agentCDPURL, cfg.Agent)
		if cdpURL == "" {
			log.Error("Agent configuration invalid", "error", "agent.cdp_url or --cdp-url is required")
			return
		}

		runCtx, stop := runContext()
		defer stop()

		if err := runAgent(runCtx, cfg, cdpURL, strings.TrimSpace(agentListen), log); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Agent runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.Flags().StringVar(&agentCDPURL, "cdp-url", "", "DevTools websocket URL of the browser (overrides agent.cdp_url)")
	agentCmd.Flags().StringVar(&agentListen, "listen", "", "address for the one-shot message endpoint, e.g. 127.0.0.1:18792")
}

func resolveCDPURL(flag string, cfg config.AgentConfig) string {
	if value := strings.TrimSpace(flag); value != "" {
		return value
	}

	return strings.TrimSpace(cfg.CDPURL)
}

var attachPage = func(ctx context.Context, cdpURL, urlPart string, log *slog.Logger) (dom.Document, func(), error) {
	return cdpdom.Attach(ctx, cdpURL, urlPart, log)
}

// runAgent detaches from the page only after the agent has removed its panel.
func runAgent(ctx context.Context, cfg *config.Config, cdpURL, listen string, log *slog.Logger) error {
	doc, detach, err := attachPage(ctx, cdpURL, cfg.Agent.TargetURLContains, log)
	if err != nil {
		return err
	}
	defer detach()

	events := bus.New()
	defer events.Close()

	remote := apiClient(cfg, log)
	sessions, closeStore, err := openSession(cfg, remote, events, log)
	if err != nil {
		return err
	}
	defer closeStore()

	broker := brokerURL(cfg)
	inst := agent.New(agent.Deps{
		Document:  doc,
		Dialer:    channel.WebsocketDialer{BaseURL: broker},
		Messenger: channel.HTTPMessenger{BaseURL: broker},
		Commands:  bot.NewClient(remote, sessions, cfg.Agent.Platform, log),
		Auth:      sessions,
		Events:    events,
	}, agent.OptionsFromConfig(cfg), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return inst.Run(gctx)
	})

	if listen != "" {
		g.Go(func() error {
			return serveMessages(gctx, listen, inst, log)
		})
	}

	log.Info("Agent attached", "cdp_url", cdpURL, "target", cfg.Agent.TargetURLContains, "broker", broker)
	return g.Wait()
}

// messageEndpoint is the part of the agent exposed over HTTP.
type messageEndpoint interface {
	HandleMessage(ctx context.Context, msg bus.Message) bus.Response
	History() []agent.StatusChange
}

// messageRoutes lets other surfaces query the agent the way the popup pings a tab.
func messageRoutes(agentAPI messageEndpoint, log *slog.Logger) http.Handler {
	var handle bus.MessageHandler = agentAPI.HandleMessage

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/history", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(agentAPI.History()); err != nil {
			log.Error("Failed to write agent history", "error", err)
		}
	})

	r.Post("/message", func(w http.ResponseWriter, r *http.Request) {
		var msg bus.Message
		statusCode := http.StatusOK
		var resp bus.Response

		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			statusCode = http.StatusBadRequest
			resp = bus.Response{Error: "invalid message body"}
		} else {
			resp = handle(r.Context(), msg)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Error("Failed to write agent response", "error", err)
		}
	})

	return r
}

func serveMessages(ctx context.Context, addr string, agentAPI messageEndpoint, log *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           messageRoutes(agentAPI, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("Agent message endpoint started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start agent message endpoint: %w", err)
	}

	return nil
}
