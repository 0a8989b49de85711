package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	Port int `short:"p" help:"Admin server port (overrides the configured metrics port)"`
}

func (s *ServeCmd) Run(global *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	cfg.MetricsEnabled = true
	if s.Port > 0 {
		cfg.MetricsPort = s.Port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := newService(ctx, global, cfg)
	if err != nil {
		return err
	}
	runErr := svc.Start(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := svc.Close(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
