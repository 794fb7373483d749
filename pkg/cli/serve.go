package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/logging"
	"github.com/DeBrosOfficial/hyperdrive/pkg/node"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a node: providers, health monitor, gossip and gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := validate(cmd, cfg); err != nil {
				return err
			}

			logger, err := logging.NewLogger(cfg.Logger())
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logger.Sync()

			n, err := node.NewNode(cfg, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := n.Start(ctx); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}
			if addr := n.GatewayAddr(); addr != "" {
				logger.ComponentInfo(logging.ComponentNode, "Gateway listening", zap.String("addr", addr))
			}

			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(c)

			select {
			case sig := <-c:
				logger.ComponentInfo(logging.ComponentNode, "Shutting down", zap.String("signal", sig.String()))
			case <-ctx.Done():
			}

			timeout := cfg.Gateway.ShutdownTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			stopCtx, stopCancel := context.WithTimeout(context.Background(), timeout)
			defer stopCancel()
			return n.Stop(stopCtx)
		},
	}
}
