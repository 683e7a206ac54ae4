package cmd

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"gateflow/gateway"
	"gateflow/runtime/loader"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve flows over HTTP (start runs, poll questions, post answers)",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		reg, err := builtinRegistry()
		if err != nil {
			return err
		}
		defer reg.Shutdown()

		defs, err := loader.LoadDefinitions(flowsDir)
		if err != nil {
			return err
		}

		server := gateway.NewServer(defs, reg, logger)

		g := gin.Default()
		server.Register(g)

		logger.Info("gateway listening", "addr", serveAddr, "flows", len(defs))
		return g.Run(serveAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
}
