package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/candrapwr/meet-datasiber/internal/config"
)

type serverStats struct {
	Rooms        int   `json:"rooms"`
	Participants int   `json:"participants"`
	Pending      int   `json:"pending"`
	Sessions     int64 `json:"sessions"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the signaling server's room and session counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Options{})
		if err != nil {
			return err
		}
		base := cfg.HTTPBase()
		stats, err := fetchJSON[serverStats](cmd.Context(), base+"/stats")
		if err != nil {
			return &commandError{op: "fetch stats", err: err}
		}
		ver, err := fetchJSON[map[string]string](cmd.Context(), base+"/version")
		if err != nil {
			ver = map[string]string{"version": "unknown"}
		}
		renderStats(cmd.OutOrStdout(), base, ver["version"], stats)
		return nil
	},
}

func fetchJSON[T any](ctx context.Context, url string) (T, error) {
	var out T
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return out, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("%s: unexpected status %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("%s: %w", url, err)
	}
	return out, nil
}

func renderStats(w io.Writer, server, serverVersion string, s serverStats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("📊 " + server)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Server version", serverVersion},
		{"Connected sessions", s.Sessions},
		{"Rooms", s.Rooms},
		{"Participants", s.Participants},
		{"Waiting for approval", s.Pending},
	})
	t.Render()
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
