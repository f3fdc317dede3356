package main

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/venturelens/strategy-cli/internal/model"
	"github.com/venturelens/strategy-cli/internal/registry"
)

var regenCmd = &cobra.Command{
	Use:   "regen <business-id> <analysis-type>",
	Short: "Regenerate a single analysis",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		businessID := args[0]
		typ := model.AnalysisType(args[1])

		if _, ok := registry.Lookup(typ); !ok {
			names := make([]string, 0, len(registry.Types()))
			for _, t := range registry.Types() {
				names = append(names, string(t))
			}
			sort.Strings(names)
			return eris.Errorf("unknown analysis type %q (valid: %s)", typ, strings.Join(names, ", "))
		}

		env, err := initEnv(ctx, "regen")
		if err != nil {
			return err
		}
		defer env.Close()

		sess, _, err := env.loadSession(ctx, businessID)
		if err != nil {
			return err
		}

		zap.L().Info("regenerating analysis",
			zap.String("business_id", businessID),
			zap.String("type", string(typ)),
		)
		_, err = env.Service.Regenerate(ctx, sess, typ, sess.StateSetters())
		return err
	},
}

func init() {
	rootCmd.AddCommand(regenCmd)
}
