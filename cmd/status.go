package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"meetbot/pkg/bus"
	"meetbot/pkg/channel"
	"meetbot/pkg/config"
	"meetbot/pkg/panel"
)

const oneShotTimeout = 5 * time.Second

var targetAgent string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current bot status",
	Long:  "Sends one GET_STATUS message to the broker, or to a content agent with --agent, and prints the answer.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		resp, err := sendOneShot(bus.Message{Type: bus.TypeGetStatus})
		if err != nil {
			fmt.Printf("status request failed: %v\n", err)
			return
		}

		fmt.Println(statusLine(resp.Status))
	},
}

var setStatusCmd = &cobra.Command{
	Use:   "set-status <status>",
	Short: "Overwrite the broker status",
	Long:  "Sends one SET_STATUS message. The broker broadcasts the new value to every connected channel.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		status, err := parseStatus(args[0])
		if err != nil {
			fmt.Println(err)
			return
		}

		resp, err := sendOneShot(bus.Message{Type: bus.TypeSetStatus, Status: status})
		if err != nil {
			fmt.Printf("set-status request failed: %v\n", err)
			return
		}
		if !resp.Success {
			fmt.Printf("set-status rejected: %s\n", resp.Error)
			return
		}

		fmt.Println(statusLine(status))
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check whether a content agent is injected",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		resp, err := sendOneShot(bus.Message{Type: bus.TypePing})
		if err != nil || !resp.Success {
			fmt.Println("not reachable")
			return
		}

		fmt.Printf("alive (%s)\n", resp.Status)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(setStatusCmd)
	rootCmd.AddCommand(pingCmd)

	for _, c := range []*cobra.Command{statusCmd, setStatusCmd, pingCmd} {
		c.Flags().StringVar(&targetAgent, "agent", "", "content agent message endpoint instead of the broker, e.g. http://127.0.0.1:18792")
	}
}

func sendOneShot(msg bus.Message) (bus.Response, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return bus.Response{}, fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), oneShotTimeout)
	defer cancel()

	messenger := channel.HTTPMessenger{BaseURL: oneShotTarget(targetAgent, cfg)}
	return messenger.Send(ctx, msg)
}

func oneShotTarget(agentURL string, cfg *config.Config) string {
	if value := strings.TrimSpace(agentURL); value != "" {
		return value
	}

	return brokerURL(cfg)
}

func parseStatus(raw string) (bus.Status, error) {
	status := bus.Status(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", errors.New("status must be one of idle, awaiting, joined, stopped, error")
	}

	return status, nil
}

func statusLine(status bus.Status) string {
	title, description := panel.Describe(status)
	return fmt.Sprintf("%s: %s (%s)", status, title, description)
}
