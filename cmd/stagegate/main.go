package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/stagegate/pkg/config"
	"github.com/pario-ai/stagegate/pkg/logging"
)

var version = "dev"

const defaultConfigPath = "stagegate.yaml"

// app carries state shared by every command.
type app struct {
	configPath string
	cfg        *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errNeedsApproval) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "stagegate",
		Short:         "Stagegate: response cache and stage 2 routing gate for agent workflows",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			optional := !cmd.Flags().Changed("config")
			cfg, err := config.LoadOrDefault(a.configPath, optional)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return logging.Configure(cfg.Log, os.Stderr)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath, "path to config file")

	root.AddCommand(
		newCacheCmd(a),
		newRouteCmd(a),
		newResolveCmd(a),
		newFeedbackCmd(a),
		newApprovalRateCmd(a),
		newDecisionsCmd(a),
		newBudgetCmd(a),
		newConfigCmd(a),
		newMCPCmd(a),
		newTopCmd(a),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the stagegate version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "stagegate", version)
			return nil
		},
	}
}
