package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/systemshift/codegraph/cmd/codegraph/client"
	"github.com/systemshift/codegraph/internal/api"
	"github.com/systemshift/codegraph/internal/core"
	"github.com/systemshift/codegraph/internal/events"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("86"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

var serverURL string

func main() {
	root := &cobra.Command{
		Use:   "codegraph",
		Short: "Agent-side client for the codegraph coordination server",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", envOr("CODEGRAPH_SERVER", "http://localhost:8080"), "codegraph server base URL")

	root.AddCommand(waitCmd(), sendCmd(), pendingCmd(), agentsCmd(), historyCmd(), monitorCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}

func waitCmd() *cobra.Command {
	var (
		timeoutMs    int64
		taskTypes    []string
		componentIDs []string
		minPriority  string
	)
	cmd := &cobra.Command{
		Use:   "wait <agent-id>",
		Short: "Block until a matching command arrives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := core.CommandFilters{
				TaskTypes:    taskTypes,
				ComponentIDs: componentIDs,
			}
			if minPriority != "" {
				p := core.Priority(strings.ToUpper(minPriority))
				filters.MinPriority = &p
			}

			ctx, cancel := signalContext()
			defer cancel()

			fmt.Println(dimStyle.Render(fmt.Sprintf("waiting as %s ...", args[0])))
			received, err := client.New(serverURL).Wait(ctx, api.WaitRequest{
				AgentID:   args[0],
				TimeoutMs: timeoutMs,
				Filters:   filters,
			})
			if err != nil {
				return err
			}
			fmt.Println(okStyle.Render("command received"))
			return printJSON(received)
		},
	}
	cmd.Flags().Int64Var(&timeoutMs, "timeout-ms", 0, "wait timeout in milliseconds (0 = server default)")
	cmd.Flags().StringSliceVar(&taskTypes, "task-type", nil, "accept only these task types")
	cmd.Flags().StringSliceVar(&componentIDs, "component", nil, "accept only commands targeting these components")
	cmd.Flags().StringVar(&minPriority, "min-priority", "", "minimum priority (LOW, MEDIUM, HIGH, URGENT)")
	return cmd
}

func sendCmd() *cobra.Command {
	var (
		source       string
		taskType     string
		priority     string
		componentIDs []string
		payloadJSON  string
	)
	cmd := &cobra.Command{
		Use:   "send <type>",
		Short: "Send a command to a waiting agent or the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := core.CommandInput{
				Type:               args[0],
				Source:             source,
				TaskType:           taskType,
				Priority:           core.Priority(strings.ToUpper(priority)),
				TargetComponentIDs: componentIDs,
			}
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &in.Payload); err != nil {
					return fmt.Errorf("parsing payload: %w", err)
				}
			}
			result, err := client.New(serverURL).Send(in)
			if err != nil {
				return err
			}
			if result.Delivered {
				fmt.Println(okStyle.Render("delivered to " + result.AgentID))
			} else {
				fmt.Println(dimStyle.Render("queued"))
			}
			return printJSON(result.Command)
		},
	}
	cmd.Flags().StringVar(&source, "source", "cli", "command source tag")
	cmd.Flags().StringVar(&taskType, "task-type", "", "task type for filter matching")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (LOW, MEDIUM, HIGH, URGENT)")
	cmd.Flags().StringSliceVar(&componentIDs, "component", nil, "target component ids")
	cmd.Flags().StringVar(&payloadJSON, "payload", "", "JSON payload")
	return cmd
}

func pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List queued commands in delivery order",
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, err := client.New(serverURL).PendingCommands()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Println(dimStyle.Render("no pending commands"))
				return nil
			}
			for _, c := range pending {
				fmt.Printf("%s %s %s %s\n",
					dimStyle.Render(c.CreatedAt.Format(time.RFC3339)),
					titleStyle.Render(string(c.Priority)),
					c.Type,
					dimStyle.Render(c.ID),
				)
			}
			return nil
		},
	}
}

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agents currently waiting on the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			agents, err := client.New(serverURL).WaitingAgents()
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				fmt.Println(dimStyle.Render("no waiting agents"))
				return nil
			}
			for _, a := range agents {
				fmt.Printf("%s waiting %s\n",
					titleStyle.Render(a.AgentID),
					dimStyle.Render(fmt.Sprintf("%dms", a.ElapsedMs)),
				)
			}
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the broker's audit history",
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := client.New(serverURL).History(limit)
			if err != nil {
				return err
			}
			for _, entry := range history {
				agent := entry.AgentID
				if agent == "" {
					agent = "-"
				}
				fmt.Printf("%s %-18s %s\n",
					dimStyle.Render(entry.Timestamp.Format(time.RFC3339)),
					string(entry.Action),
					agent,
				)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of entries")
	return cmd
}

func monitorCmd() *cobra.Command {
	var names []string
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Tail the server's event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			fmt.Println(titleStyle.Render("codegraph events") + dimStyle.Render("  ("+serverURL+")"))
			return client.New(serverURL).StreamEvents(ctx, names, func(event events.Event) {
				payload, _ := json.Marshal(event.Payload)
				fmt.Printf("%s %s %s\n",
					dimStyle.Render(event.Timestamp.Format("15:04:05.000")),
					okStyle.Render(event.Name),
					string(payload),
				)
			})
		},
	}
	cmd.Flags().StringSliceVar(&names, "event", nil, "subscribe to these event names only")
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n" + dimStyle.Render("interrupted"))
		cancel()
	}()
	return ctx, cancel
}

func printJSON(v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
