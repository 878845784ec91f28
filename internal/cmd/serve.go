package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/relaypilot/agentbridge/internal/bridge"
	"github.com/relaypilot/agentbridge/internal/cdp"
	"github.com/relaypilot/agentbridge/internal/config"
	"github.com/relaypilot/agentbridge/internal/logging"
	"github.com/relaypilot/agentbridge/internal/server"
	"github.com/relaypilot/agentbridge/internal/session"
	"github.com/relaypilot/agentbridge/internal/sqlitekv"
)

type ServeOptions struct {
	Cfg config.Config
}

var (
	serveLong = templates.LongDesc(`Start the control plane's HTTP status server and wait for the policy server to trigger sessions.`)

	serveExample = templates.Examples(`
		# Start on the default port
		agentbridge serve --policy-url ws://policy.internal/ws

		# Start on a custom port against a remote policy server
		agentbridge serve --http-addr :9090 --policy-url ws://policy.internal/ws`)
)

func NewServeOptions() *ServeOptions {
	return &ServeOptions{Cfg: config.Defaults()}
}

func NewServeCommand(o *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the control plane server",
		Long:    serveLong,
		Example: serveExample,
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

	config.BindFlags(cmd.Flags(), &o.Cfg)

	return cmd
}

func (o *ServeOptions) Complete(cmd *cobra.Command, args []string) error {
	return config.ApplyEnvOverrides(&o.Cfg)
}

func (o *ServeOptions) Validate() error {
	if o.Cfg.PolicyURL == "" {
		return fmt.Errorf("policy-url is required")
	}
	return o.Cfg.Validate()
}

func (o *ServeOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, cleanup, err := logging.New(logging.Options{Level: o.Cfg.LogLevel, JSON: o.Cfg.LogJSON})
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
	status := session.NewMemoryStore()
	controller := session.NewController(dirs, sqlitekv.NewStore(db), status, logger)

	conn := bridge.New(ctx, bridge.Options{
		URL:                  o.Cfg.PolicyURL,
		HeartbeatInterval:    o.Cfg.HeartbeatInterval,
		ReconnectBaseDelay:   o.Cfg.ReconnectBaseDelay,
		ReconnectMaxAttempts: o.Cfg.ReconnectMaxAttempts,
		Logger:               logger,
	})
	defer conn.Close()

	mgr := newManager(controller, conn, status, o.Cfg, logger)
	go mgr.dispatchLoop(ctx)

	srv := server.New(status, mgr)
	addr := o.Cfg.HTTPAddr
	logger.WithField("addr", addr).Info("cmd: starting control plane server")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(addr) }()

	select {
	case <-ctx.Done():
		logger.Info("cmd: shutting down")
		mgr.stopAll("shutdown")
		return nil
	case err := <-errCh:
		return err
	}
}
