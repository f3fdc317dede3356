package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/venturelens/strategy-cli/internal/model"
	"github.com/venturelens/strategy-cli/internal/registry"
)

var questionsBusinessID string

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "List the questionnaire by phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "questions")
		if err != nil {
			return err
		}
		defer env.Close()

		questions, err := env.Backend.GetQuestions(ctx)
		if err != nil {
			zap.L().Warn("backend questions unavailable, using fixture",
				zap.String("fixture", cfg.Questions.FixturePath),
				zap.Error(err),
			)
			questions, err = registry.LoadQuestionsFromFile(cfg.Questions.FixturePath)
			if err != nil {
				return err
			}
		}

		completed := map[string]bool{}
		if questionsBusinessID != "" {
			resp, err := env.Backend.GetConversations(ctx, questionsBusinessID)
			if err != nil {
				return err
			}
			completed, _ = model.RebuildFromConversations(resp.Conversations)
		}

		phaseColor := color.New(color.FgCyan, color.Bold)
		mandatory := color.New(color.FgYellow).SprintFunc()
		done := color.New(color.FgGreen).SprintFunc()
		open := color.New(color.FgRed).SprintFunc()

		for _, p := range model.QuestionPhases {
			inPhase := model.QuestionsByPhase(questions, p)
			if len(inPhase) == 0 {
				continue
			}
			sort.SliceStable(inPhase, func(i, j int) bool {
				return inPhase[i].Order < inPhase[j].Order
			})

			phaseColor.Printf("\n%s phase (%d questions)\n", p, len(inPhase))
			for _, q := range inPhase {
				mark := " "
				if questionsBusinessID != "" {
					if completed[q.ID] {
						mark = done("✓")
					} else {
						mark = open("·")
					}
				}
				severity := ""
				if q.Mandatory() {
					severity = mandatory(" [mandatory]")
				}
				fmt.Printf("  %s %s%s\n", mark, q.Text, severity)
			}
		}
		return nil
	},
}

func init() {
	questionsCmd.Flags().StringVar(&questionsBusinessID, "business", "", "mark completion for this business")
	rootCmd.AddCommand(questionsCmd)
}
