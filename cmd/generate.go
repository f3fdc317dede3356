package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/venturelens/strategy-cli/internal/model"
)

var generatePhase string

var generateCmd = &cobra.Command{
	Use:   "generate <business-id>",
	Short: "Run the full analysis batch for a phase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		businessID := args[0]

		p, ok := model.ParsePhase(generatePhase)
		if !ok {
			return eris.Errorf("unknown phase %q (expected initial, essential, good, or advanced)", generatePhase)
		}

		env, err := initEnv(ctx, "generate")
		if err != nil {
			return err
		}
		defer env.Close()

		_, mgr, err := env.loadSession(ctx, businessID)
		if err != nil {
			return err
		}

		zap.L().Info("generating phase analyses",
			zap.String("business_id", businessID),
			zap.String("phase", string(p)),
		)
		return mgr.RegeneratePhase(ctx, p)
	},
}

func init() {
	generateCmd.Flags().StringVar(&generatePhase, "phase", "initial", "phase whose analyses to generate")
	rootCmd.AddCommand(generateCmd)
}
