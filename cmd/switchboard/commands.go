package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"switchboard/internal/domain"
	"switchboard/internal/usecase/scheduling"
	"switchboard/internal/usecase/tracing"
)

var routeFlags struct {
	session string
	user    string
	context []string
	timeout time.Duration
}

var routeCmd = &cobra.Command{
	Use:   "route QUERY",
	Short: "Pick the agent for a query",
	Long: `Route a query through the registry, the LLM classifier and the
fallback chain. The decision and the id of the persisted trace are printed
as JSON.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRoute,
}

func runRoute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, configFile)
	if err != nil {
		return err
	}
	defer a.Close()

	tc := a.newTrace()
	tc.Start(routeFlags.session, routeFlags.user)
	ctx = tracing.WithContext(ctx, tc)

	decision := a.router.Route(ctx, domain.RoutingContext{
		Query:               strings.Join(args, " "),
		ConversationContext: routeFlags.context,
		SessionID:           routeFlags.session,
		Timeout:             routeFlags.timeout,
	})

	tr, err := tc.End(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), struct {
		Decision domain.RoutingDecision `json:"decision"`
		TraceID  string                 `json:"trace_id"`
	}{decision, tr.TraceID})
}

var handoffFlags struct {
	session  string
	from     string
	to       string
	reason   string
	intent   string
	messages []string
	traceID  string
}

var handoffCmd = &cobra.Command{
	Use:   "handoff",
	Short: "Record a handoff between two agents",
	Long: `Validate and persist a handoff. Conversation history is passed with
repeated --message flags in "role: content" form.`,
	Args: cobra.NoArgs,
	RunE: runHandoff,
}

func runHandoff(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, configFile)
	if err != nil {
		return err
	}
	defer a.Close()

	tc := a.newTrace()
	tc.Start(handoffFlags.session, "")
	ctx = tracing.WithContext(ctx, tc)

	res, herr := a.handoffs.Handoff(ctx, domain.HandoffRequest{
		SessionID:           handoffFlags.session,
		FromAgent:           handoffFlags.from,
		ToAgent:             handoffFlags.to,
		Reason:              handoffFlags.reason,
		ConversationHistory: parseMessages(handoffFlags.messages),
		HarnessTraceID:      handoffFlags.traceID,
		UserIntent:          handoffFlags.intent,
	})
	if _, err := tc.End(ctx); err != nil {
		a.log.Warn("end handoff trace", "error", err)
	}
	if herr != nil {
		return fmt.Errorf("%w (code %s)", herr, domain.ErrorCodeOf(herr))
	}
	return printJSON(cmd.OutOrStdout(), res)
}

var historyFlags struct {
	last  bool
	count bool
	from  string
	to    string
}

var historyCmd = &cobra.Command{
	Use:   "history SESSION_ID",
	Short: "Show the handoffs of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, configFile)
	if err != nil {
		return err
	}
	defer a.Close()

	session := args[0]
	out := cmd.OutOrStdout()
	switch {
	case historyFlags.count:
		n := a.handoffs.Count(ctx, session, domain.HandoffFilter{FromAgent: historyFlags.from, ToAgent: historyFlags.to})
		return printJSON(out, map[string]int{"count": n})
	case historyFlags.last:
		return printJSON(out, a.handoffs.Last(ctx, session))
	default:
		return printJSON(out, a.handoffs.History(ctx, session))
	}
}

var traceFlags struct {
	limit int
}

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Read persisted traces",
}

var traceGetCmd = &cobra.Command{
	Use:   "get TRACE_ID",
	Short: "Show one trace",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		tr, err := a.traces.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), tr)
	}),
}

var traceSessionCmd = &cobra.Command{
	Use:   "session SESSION_ID",
	Short: "List the traces of a session, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		traces, err := a.traces.ForSession(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), traces)
	}),
}

var traceUserCmd = &cobra.Command{
	Use:   "user USER_ID",
	Short: "List a user's most recent traces",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		traces, err := a.traces.ForUser(ctx, args[0], traceFlags.limit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), traces)
	}),
}

var eventsCmd = &cobra.Command{
	Use:   "events SESSION_ID",
	Short: "Show the journaled bus events of a session, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		events, err := a.events.EventsForSession(ctx, args[0])
		if err != nil {
			return err
		}
		if events == nil {
			events = []domain.Event{}
		}
		return printJSON(cmd.OutOrStdout(), events)
	}),
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the configured maintenance tasks until interrupted",
	Long: `Run registry reloads and trace retention on the schedules listed under
scheduler.tasks. Exits on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: withApp(runSchedule),
}

func runSchedule(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
	if !a.cfg.Scheduler.Enabled {
		return fmt.Errorf("scheduler is disabled in config")
	}
	if _, err := a.registry.Load(ctx); err != nil {
		a.log.Warn("initial registry load failed", "error", err)
	}

	s := scheduling.NewScheduler(a.log)
	s.RegisterAction(scheduling.ActionRegistryReload, scheduling.RegistryReload(a.registry))
	s.RegisterAction(scheduling.ActionTraceRetention, scheduling.TraceRetention(a.db, a.cfg.Storage.TraceRetention, nil, a.log))
	if err := s.AddConfigured(a.cfg.Scheduler.Tasks); err != nil {
		return err
	}
	if a.cfg.Agents.ReloadSchedule != "" {
		if err := s.AddTask(scheduling.Task{
			Name:     "agents.reload_schedule",
			Schedule: a.cfg.Agents.ReloadSchedule,
			Action:   scheduling.ActionRegistryReload,
		}); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		return err
	}
	a.log.Info("scheduler running", "tasks", len(a.cfg.Scheduler.Tasks))
	<-ctx.Done()
	a.log.Info("shutting down scheduler")
	return s.Stop()
}

// withApp builds the app around fn and closes it afterwards.
func withApp(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, configFile)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a, cmd, args)
	}
}

func init() {
	rf := routeCmd.Flags()
	rf.StringVar(&routeFlags.session, "session", "cli", "session id")
	rf.StringVar(&routeFlags.user, "user", "", "user id recorded on the trace")
	rf.StringArrayVar(&routeFlags.context, "context", nil, "prior conversation message (repeatable)")
	rf.DurationVar(&routeFlags.timeout, "timeout", 0, "classifier timeout (0 uses routing.timeout)")

	hf := handoffCmd.Flags()
	hf.StringVar(&handoffFlags.session, "session", "", "session id")
	hf.StringVar(&handoffFlags.from, "from", "", "agent handing off")
	hf.StringVar(&handoffFlags.to, "to", "", "agent taking over")
	hf.StringVar(&handoffFlags.reason, "reason", "", "why the handoff happens")
	hf.StringVar(&handoffFlags.intent, "intent", "", "user intent passed to the target agent")
	hf.StringArrayVar(&handoffFlags.messages, "message", nil, `conversation message as "role: content" (repeatable)`)
	hf.StringVar(&handoffFlags.traceID, "trace-id", "", "harness trace id to carry along")

	hi := historyCmd.Flags()
	hi.BoolVar(&historyFlags.last, "last", false, "show only the most recent handoff")
	hi.BoolVar(&historyFlags.count, "count", false, "print the number of handoffs")
	hi.StringVar(&historyFlags.from, "from", "", "with --count, only handoffs from this agent")
	hi.StringVar(&historyFlags.to, "to", "", "with --count, only handoffs to this agent")

	traceUserCmd.Flags().IntVar(&traceFlags.limit, "limit", tracing.DefaultUserLimit, "maximum traces to return")
	traceCmd.AddCommand(traceGetCmd, traceSessionCmd, traceUserCmd)
}
