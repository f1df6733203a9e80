package cli

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultDiagAddr = "http://127.0.0.1:6061"

// newRemoteCommands returns the commands that talk to a running daemon's
// diagnostics endpoint.
func newRemoteCommands() []*cobra.Command {
	status := remoteCommand("status", "Show queue, trigger and supervisor status", http.MethodGet, func([]string) string { return "/status" })
	status.Args = cobra.NoArgs
	queue := remoteCommand("queue", "List running and pending actions", http.MethodGet, func([]string) string { return "/queue" })
	queue.Args = cobra.NoArgs
	metrics := remoteCommand("metrics", "Show current metric readings", http.MethodGet, func([]string) string { return "/metrics" })
	metrics.Args = cobra.NoArgs

	var ctl []*cobra.Command
	for _, op := range []string{"pause", "resume", "clear"} {
		c := remoteCommand(op, strings.ToUpper(op[:1])+op[1:]+" the queue", http.MethodPost, func([]string) string { return "/queue/" + op })
		c.Args = cobra.NoArgs
		ctl = append(ctl, c)
	}

	cancel := remoteCommand("cancel <id>", "Cancel one running or pending action", http.MethodPost, func(args []string) string {
		return "/queue/" + url.PathEscape(args[0]) + "/cancel"
	})
	cancel.Args = cobra.ExactArgs(1)
	fire := remoteCommand("fire <job>", "Fire a job's trigger now", http.MethodPost, func(args []string) string {
		return "/triggers/" + url.PathEscape(args[0]) + "/fire"
	})
	fire.Args = cobra.ExactArgs(1)

	return append([]*cobra.Command{status, queue, metrics, cancel, fire}, ctl...)
}

func remoteCommand(use, short, method string, path func(args []string) string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			token, _ := cmd.Flags().GetString("token")
			req, err := http.NewRequestWithContext(cmd.Context(), method, strings.TrimRight(addr, "/")+path(args), nil)
			if err != nil {
				return err
			}
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode >= 300 {
				return fmt.Errorf("%s %s: %s: %s", method, req.URL.Path, resp.Status, bytes.TrimSpace(body))
			}
			if len(body) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), resp.Status)
				return nil
			}
			_, err = cmd.OutOrStdout().Write(body)
			return err
		},
	}
	cmd.Flags().String("addr", envOr("ACTIONQUEUE_ADDR", defaultDiagAddr), "diagnostics base URL")
	cmd.Flags().String("token", envOr("ACTIONQUEUE_TOKEN", ""), "diagnostics bearer token")
	return cmd
}
