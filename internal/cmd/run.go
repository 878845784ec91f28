package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/relaypilot/agentbridge/internal/agent"
	"github.com/relaypilot/agentbridge/internal/bridge"
	"github.com/relaypilot/agentbridge/internal/cdp"
	"github.com/relaypilot/agentbridge/internal/config"
	"github.com/relaypilot/agentbridge/internal/logging"
	"github.com/relaypilot/agentbridge/internal/routing"
	"github.com/relaypilot/agentbridge/internal/session"
	"github.com/relaypilot/agentbridge/internal/sqlitekv"
	"github.com/relaypilot/agentbridge/internal/storage"
)

// RunOptions drives a single goal-scoped session to completion.
type RunOptions struct {
	Goal string
	Cfg  config.Config

	iooption.IOStreams
}

var (
	runLong = templates.LongDesc(`
		Run drives a single browser tab towards the given natural-language
		goal, then exits once the policy server reports done or the step
		cap is reached.`)

	runExample = templates.Examples(`
		# Run a one-off goal against a locally running Chrome
		agentbridge run --policy-url ws://policy.internal/ws "add a large pepperoni pizza to the cart"`)
)

func NewRunOptions(streams iooption.IOStreams) *RunOptions {
	return &RunOptions{
		Cfg:       config.Defaults(),
		IOStreams: streams,
	}
}

func NewRunCommand(o *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "run [goal]",
		DisableFlagsInUseLine: true,
		Short:                 "Run a single goal-scoped browser automation session",
		Long:                  runLong,
		Example:               runExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			return o.Run()
		},
	}

	config.BindFlags(cmd.PersistentFlags(), &o.Cfg)

	return cmd
}

func (o *RunOptions) Complete(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("goal is required")
	}
	o.Goal = args[0]
	return config.ApplyEnvOverrides(&o.Cfg)
}

func (o *RunOptions) Validate() error {
	if o.Goal == "" {
		return fmt.Errorf("goal is required")
	}
	if o.Cfg.PolicyURL == "" {
		return fmt.Errorf("policy-url is required")
	}
	return o.Cfg.Validate()
}

func (o *RunOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, cleanup, err := logging.New(logging.Options{Level: o.Cfg.LogLevel, JSON: o.Cfg.LogJSON, Out: o.Out})
	if err != nil {
		return fmt.Errorf("failed to initialise logging: %w", err)
	}
	defer cleanup()

	db, err := sqlitekv.Open(o.Cfg.SQLitePath, sqlitekv.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("failed to open session record database: %w", err)
	}
	defer db.Close()

	dirs := cdp.NewTabDirectory(o.Cfg.CDPEndpoint)
	controller := session.NewController(dirs, sqlitekv.NewStore(db), session.NewMemoryStore(), logger)

	fmt.Fprintf(o.Out, "attaching to a tab for goal %q...\n", o.Goal)
	handle, err := controller.Start(ctx, o.Goal, 0, nil)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	transport := bridge.New(ctx, bridge.Options{
		URL:                  o.Cfg.PolicyURL,
		HeartbeatInterval:    o.Cfg.HeartbeatInterval,
		ReconnectBaseDelay:   o.Cfg.ReconnectBaseDelay,
		ReconnectMaxAttempts: o.Cfg.ReconnectMaxAttempts,
		Logger:               logger,
	})
	defer transport.Close()
	transport.Send(bridge.NewStartSession(o.Goal, ""))

	loop := agent.New(handle.Driver, transport, handle.Session, routing.New(), o.Cfg.MaxSteps, logger)
	loop.Artifacts = storage.NewRingSink(20)

	runErr := loop.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := controller.Stop(stopCtx, handle, "run_complete"); err != nil {
		logger.WithError(err).Warn("cmd: session cleanup failed")
	}

	if runErr != nil {
		return fmt.Errorf("agent loop failed: %w", runErr)
	}

	fmt.Fprintf(o.Out, "session %s finished after %d steps\n", handle.Session.ID, handle.Session.Step)
	return nil
}
