// Package cli implements interviewctl, a terminal client for interviewd.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	adminKey   string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "interviewctl",
	Short:         "Terminal client for the interview server",
	Long:          "Run a mock interview from the terminal and inspect a running interviewd instance.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "Server base URL (default: $INTERVIEWCTL_SERVER or http://localhost:8000)")
	RootCmd.PersistentFlags().StringVar(&adminKey, "admin-key", "", "Admin API key (default: $INTERVIEWD_ADMIN_API_KEY)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func getServerURL() string {
	if serverURL != "" {
		return strings.TrimSuffix(serverURL, "/")
	}
	if env := os.Getenv("INTERVIEWCTL_SERVER"); env != "" {
		return strings.TrimSuffix(env, "/")
	}
	return "http://localhost:8000"
}

func getAdminKey() string {
	if adminKey != "" {
		return adminKey
	}
	return os.Getenv("INTERVIEWD_ADMIN_API_KEY")
}

func newClient() *Client {
	return NewClient(getServerURL(), getAdminKey())
}

// printJSON writes v indented.
func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
