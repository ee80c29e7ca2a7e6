package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/casaviva/hestia/internal/config"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send a message through the model cascade",
	Long: `Send a message through the model cascade.

Examples:
  hestia ask "explain goroutines in one paragraph"
  hestia ask --session 3f2c... "and channels?"
  hestia ask --one-off "what is 6*7"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")
		sessionID, _ := cmd.Flags().GetString("session")
		oneOff, _ := cmd.Flags().GetBool("one-off")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"message": message}
		if sessionID != "" {
			req["session_id"] = sessionID
		}
		if oneOff {
			req["one_off"] = true
		}

		resp, err := client.post(cmd.Context(), "/v1/chat", req)
		if err != nil {
			return err
		}

		var result struct {
			SessionID string `json:"session_id"`
			Success   bool   `json:"success"`
			Text      string `json:"text"`
			ModelID   string `json:"model_id"`
			Attempts  int    `json:"attempts"`
			Retried   bool   `json:"retried"`
			ErrorKind string `json:"error_kind"`
			Error     string `json:"error"`
			Failures  []struct {
				ModelID string `json:"model_id"`
				Kind    string `json:"kind"`
				Message string `json:"message"`
			} `json:"failures"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if !result.Success {
			printError("dispatch failed (%s) after %d attempt(s)", result.ErrorKind, result.Attempts)
			for _, f := range result.Failures {
				fmt.Fprintf(os.Stderr, "  %s  %s: %s\n", colorize(colorCyan, f.ModelID), f.Kind, f.Message)
			}
			return fmt.Errorf("%s", result.Error)
		}

		fmt.Println(result.Text)

		note := fmt.Sprintf("answered by %s (attempt %d)", result.ModelID, result.Attempts)
		if result.Retried {
			note += ", retried"
		}
		if result.SessionID != "" {
			note += fmt.Sprintf(", session %s", result.SessionID)
		}
		fmt.Fprintln(os.Stderr, colorize(colorBold, note))
		return nil
	},
}

func init() {
	askCmd.Flags().String("session", "", "session ID to continue a conversation")
	askCmd.Flags().Bool("one-off", false, "dispatch without conversation history")
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the free models eligible for the cascade, best first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/models")
		if err != nil {
			return err
		}

		var result struct {
			Data []struct {
				ID            string   `json:"id"`
				Score         int      `json:"score"`
				ContextWindow int      `json:"context_window"`
				Capabilities  []string `json:"capabilities"`
			} `json:"data"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Data) == 0 {
			fmt.Println("No eligible models.")
			return nil
		}

		for i, m := range result.Data {
			caps := ""
			if len(m.Capabilities) > 0 {
				caps = "  [" + strings.Join(m.Capabilities, ", ") + "]"
			}
			fmt.Printf("%d. %s  score %d, context %d%s\n",
				i+1, colorize(colorBold, m.ID), m.Score, m.ContextWindow, caps)
		}
		return nil
	},
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect or delete live sessions",
}

var sessionsHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show a session's conversation history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/sessions/"+args[0]+"/history")
		if err != nil {
			return err
		}

		var result struct {
			History []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
				At      string `json:"at"`
			} `json:"history"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.History) == 0 {
			fmt.Println("Empty session.")
			return nil
		}
		for _, m := range result.History {
			fmt.Printf("%s %s\n", colorize(colorCyan, "["+m.Role+"]"), m.Content)
		}
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/sessions/"+args[0])
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Deleted session %s", args[0])
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsHistoryCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

// --- exchanges ---

var exchangesCmd = &cobra.Command{
	Use:   "exchanges",
	Short: "List recent exchanges from the dispatch log",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if client.token == "" {
			return fmt.Errorf("the exchange log requires an API token; set HESTIA_API_TOKEN")
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/exchanges?limit=%d", limit))
		if err != nil {
			return err
		}

		var result struct {
			Data []struct {
				ID        string `json:"ID"`
				CreatedAt string `json:"CreatedAt"`
				Prompt    string `json:"Prompt"`
				ModelID   string `json:"ModelID"`
				Status    string `json:"Status"`
			} `json:"data"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Data) == 0 {
			fmt.Println("No exchanges found.")
			return nil
		}

		for _, e := range result.Data {
			prompt := e.Prompt
			if len(prompt) > 80 {
				prompt = prompt[:80] + "..."
			}
			status := e.Status
			if status == "failed" {
				status = colorize(colorRed, status)
			}
			fmt.Printf("%s  %s  %-10s %s\n",
				colorize(colorCyan, e.ID[:8]),
				e.CreatedAt,
				status,
				prompt,
			)
		}
		return nil
	},
}

func init() {
	exchangesCmd.Flags().Int("limit", 20, "maximum number of exchanges to list")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret (upstream.api_key, api.token) in the platform secret store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetSecret(key, value); err != nil {
			return err
		}

		printSuccess("Stored secret %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
