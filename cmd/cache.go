package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/venturelens/strategy-cli/internal/model"
	"github.com/venturelens/strategy-cli/internal/store"
)

var (
	cacheListType  string
	cacheListPhase string
	cacheListLimit int
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and prune the local analysis cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list <business-id>",
	Short: "List cached analysis results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		businessID := args[0]

		env, err := initEnv(ctx, "status")
		if err != nil {
			return err
		}
		defer env.Close()

		records, err := env.Cache.ListAnalyses(ctx, businessID, store.AnalysisFilter{
			Type:  cacheListType,
			Phase: cacheListPhase,
			Limit: cacheListLimit,
		})
		if err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("no cached analyses")
			return nil
		}

		header := color.New(color.FgCyan, color.Bold)
		header.Printf("%-24s %-12s %-20s %s\n", "TYPE", "PHASE", "CREATED", "SIZE")
		for _, r := range records {
			size := "-"
			if data, err := json.Marshal(r.AnalysisData); err == nil {
				size = fmt.Sprintf("%dB", len(data))
			}
			fmt.Printf("%-24s %-12s %-20s %s\n",
				r.AnalysisType, r.Phase, r.CreatedAt.Format("2006-01-02 15:04:05"), size)
		}
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge <business-id> <phase>",
	Short: "Remove a phase's cached results for a business",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		businessID := args[0]

		p, ok := model.ParsePhase(args[1])
		if !ok {
			return fmt.Errorf("unknown phase %q", args[1])
		}

		env, err := initEnv(ctx, "status")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Cache.PurgePhase(ctx, businessID, string(p))
		if err != nil {
			return err
		}
		fmt.Printf("purged %d cached analyses\n", n)
		return nil
	},
}

func init() {
	cacheListCmd.Flags().StringVar(&cacheListType, "type", "", "filter by analysis type")
	cacheListCmd.Flags().StringVar(&cacheListPhase, "phase", "", "filter by persist phase")
	cacheListCmd.Flags().IntVar(&cacheListLimit, "limit", 50, "maximum records to show")
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
