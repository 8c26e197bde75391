package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pario-ai/stagegate/pkg/mcp"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve stagegate tools over MCP (JSON-RPC on stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.open()
			if err != nil {
				return err
			}
			defer rt.Close()

			srv := mcp.New(rt.engine, rt.log, version)
			return srv.Run(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
