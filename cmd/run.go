package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gateflow/plugins/httpcall"
	"gateflow/runtime"
	"gateflow/runtime/loader"
)

var runInput string

var runCmd = &cobra.Command{
	Use:   "run <flow-id>",
	Short: "Run a flow interactively in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		reg, err := builtinRegistry()
		if err != nil {
			return err
		}
		defer reg.Shutdown()

		channel := runtime.NewInteraction(
			runtime.StdioAnswerSource(os.Stdin, os.Stdout), logger)

		flows, err := loader.LoadDir(flowsDir, reg, channel, logger)
		if err != nil {
			return err
		}

		flow, ok := flows[args[0]]
		if !ok {
			return fmt.Errorf("flow %q not found in %s", args[0], flowsDir)
		}

		result, err := flow.Run(cmd.Context(), runInput)
		if err != nil {
			return err
		}

		fmt.Printf("\nFlow %s finished (last step: %s)\n%s\n",
			flow.ID, result.Producer, result.PayloadString())
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "initial flow input (asked interactively when empty)")
}

// builtinRegistry registers the executables bundled with the CLI.
// Applications embedding the engine register their own.
func builtinRegistry() (*runtime.Registry, error) {
	reg := runtime.NewRegistry()

	httpPlugin, err := httpcall.New(nil)
	if err != nil {
		return nil, err
	}
	if err := reg.Register("http.call", httpPlugin); err != nil {
		return nil, err
	}

	if err := reg.Initialize(); err != nil {
		return nil, err
	}
	return reg, nil
}
