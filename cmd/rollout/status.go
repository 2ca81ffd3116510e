package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/rollout"
)

func newStatusCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query a running instance's status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rollout.LoadConfig(gf.ConfigPath)
			if err != nil {
				return err
			}
			if c.Server.Listen == "" {
				return fmt.Errorf("server.listen is not configured; the status API is disabled")
			}
			st, err := fetchStatus(statusURL(c.Server.Listen, c.Server.BasePath))
			if err != nil {
				return err
			}
			cmd.Printf("state: %s\n", st.State)
			cmd.Printf("current: %s\n", st.Current)
			if st.Previous != "" {
				cmd.Printf("previous: %s\n", st.Previous)
			}
			cmd.Printf("history: %s\n", strings.Join(st.History, " "))
			if st.Process.Running {
				cmd.Printf("process: running pid=%d\n", st.Process.PID)
			} else {
				cmd.Printf("process: stopped\n")
				if st.Process.ExitErr != "" {
					cmd.Printf("exit error: %s\n", st.Process.ExitErr)
				}
			}
			return nil
		},
	}
}

// statusURL resolves the status endpoint from the configured listen address.
// A bare ":port" address is reached over loopback.
func statusURL(listen, basePath string) string {
	host := listen
	if strings.HasPrefix(host, ":") {
		host = "127.0.0.1" + host
	}
	base := strings.TrimRight(strings.TrimSpace(basePath), "/")
	if base != "" && !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return "http://" + host + base + "/status"
}

func fetchStatus(url string) (*rollout.Status, error) {
	hc := &http.Client{Timeout: 5 * time.Second}
	resp, err := hc.Get(url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	var st rollout.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}
