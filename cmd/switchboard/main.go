// Command switchboard routes queries to agents, records handoffs and reads
// back execution traces and the event journal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"switchboard/internal/domain"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Multi-agent routing and handoff core",
	Long: `switchboard picks the agent that should answer a query, records
agent-to-agent handoffs and keeps a hierarchical trace of every request.

Configuration is read from --config (default ./config.yaml) and may be
overridden with SWITCHBOARD_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", defaultConfigPath(), "config file path")
	rootCmd.AddCommand(routeCmd, handoffCmd, historyCmd, traceCmd, eventsCmd, scheduleCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("SWITCHBOARD_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseMessages turns "role: content" strings into messages. Entries without
// a known role prefix are treated as user messages.
func parseMessages(raw []string) []domain.Message {
	out := make([]domain.Message, 0, len(raw))
	for _, r := range raw {
		role, content, ok := strings.Cut(r, ":")
		role = strings.ToLower(strings.TrimSpace(role))
		switch {
		case ok && (role == domain.RoleUser || role == domain.RoleAssistant || role == domain.RoleSystem):
			out = append(out, domain.Message{Role: role, Content: strings.TrimSpace(content)})
		default:
			out = append(out, domain.Message{Role: domain.RoleUser, Content: strings.TrimSpace(r)})
		}
	}
	return out
}
