package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/venturelens/strategy-cli/internal/model"
	"github.com/venturelens/strategy-cli/internal/registry"
)

var statusCmd = &cobra.Command{
	Use:   "status <business-id>",
	Short: "Show phase progress, unlocked features, and cached analyses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		businessID := args[0]

		env, err := initEnv(ctx, "status")
		if err != nil {
			return err
		}
		defer env.Close()

		sess, mgr, err := env.loadSession(ctx, businessID)
		if err != nil {
			return err
		}

		header := color.New(color.FgCyan, color.Bold)
		done := color.New(color.FgGreen).SprintFunc()
		open := color.New(color.FgRed).SprintFunc()

		header.Printf("Business %s\n", businessID)

		header.Println("\nPhases")
		completedSet := make(map[model.Phase]bool)
		for _, p := range mgr.CompletedPhases() {
			completedSet[p] = true
		}
		for _, p := range []model.Phase{model.PhaseInitial, model.PhaseEssential, model.PhaseGood, model.PhaseAdvanced} {
			mark := open("incomplete")
			if completedSet[p] {
				mark = done("complete")
			}
			fmt.Printf("  %-10s %s\n", p, mark)
		}

		header.Println("\nFeatures")
		features := mgr.UnlockedFeatures()
		for _, f := range []struct {
			name     string
			unlocked bool
		}{
			{"brief", features.Brief},
			{"analysis", features.Analysis},
			{"initial phase", features.InitialPhase},
			{"essential phase", features.EssentialPhase},
			{"advanced phase", features.AdvancedPhase},
			{"document", features.HasDocument},
		} {
			mark := open("locked")
			if f.unlocked {
				mark = done("unlocked")
			}
			fmt.Printf("  %-16s %s\n", f.name, mark)
		}

		header.Println("\nAnalyses")
		for _, entry := range registry.All() {
			slot, _ := sess.Slot(entry.SlotKey)
			mark := open("missing")
			if slot.Data != nil {
				mark = done("present")
			}
			fmt.Printf("  %-28s %s\n", entry.DisplayName, mark)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
