package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"linesync/internal/config"
	"linesync/internal/daemonrun"
	"linesync/internal/stats"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var lineID string
	var lang string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize production and finances",
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := language.Parse(lang)
			if err != nil {
				return fmt.Errorf("invalid language %q: %w", lang, err)
			}
			return ctx.withComponents(func(_ *config.Config, comps *daemonrun.Components) error {
				sess, err := currentUser(cmd.Context(), comps)
				if err != nil {
					return err
				}
				summary, err := comps.Stats.Summary(cmd.Context(), sess.UserID, lineID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, summary)
				}
				return stats.Render(cmd.OutOrStdout(), summary, tag)
			})
		},
	}
	cmd.Flags().StringVarP(&lineID, "line", "l", "", "Restrict to one line")
	cmd.Flags().StringVar(&lang, "lang", "en", "Language tag used for number formatting")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
