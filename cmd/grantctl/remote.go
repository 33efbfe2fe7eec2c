package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL    string
	serverSecret string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the response cache of a running server",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached source response",
	RunE: func(cmd *cobra.Command, _ []string) error {
		body, err := adminRequest(cmd.Context(), http.MethodDelete, "/api/v1/cache", nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("cache cleared"), DimStyle.Render(strings.TrimSpace(string(body))))
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health <source-id> <healthy|degraded|down|unknown>",
	Short: "Force the health status of a source on a running server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := map[string]string{"status": args[1]}
		if _, err := adminRequest(cmd.Context(), http.MethodPut, "/api/v1/sources/"+args[0]+"/health", payload); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render(args[0]+" marked "+args[1]))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{cacheCmd, healthCmd} {
		c.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the aggregator server")
		c.PersistentFlags().StringVar(&serverSecret, "secret", "", "Admin secret (defaults to ADMIN_SECRET)")
	}
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd, healthCmd)
}

func adminRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	secret := serverSecret
	if secret == "" {
		cfg, _, err := loadConfig()
		if err != nil {
			return nil, err
		}
		secret = cfg.AdminSecret
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(serverURL, "/")+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Admin-Secret", secret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
