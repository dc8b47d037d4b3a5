package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect generated value models",
}

var modelsShowCmd = &cobra.Command{
	Use:   "show <model-id>",
	Short: "Print a value model as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initOpsStore(ctx, "models")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		vm, err := st.GetModel(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "models show")
		}
		return printJSON(vm)
	},
}

func init() {
	modelsCmd.AddCommand(modelsShowCmd)
	rootCmd.AddCommand(modelsCmd)
}
