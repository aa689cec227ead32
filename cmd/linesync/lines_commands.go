package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"linesync/internal/backend"
	"linesync/internal/config"
	"linesync/internal/daemonrun"
	"linesync/internal/lines"
	"linesync/internal/queue"
)

func newLinesCommand(ctx *commandContext) *cobra.Command {
	linesCmd := &cobra.Command{
		Use:   "lines",
		Short: "List and manage production lines",
	}

	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the lines you own",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(_ *config.Config, comps *daemonrun.Components) error {
				sess, err := currentUser(cmd.Context(), comps)
				if err != nil {
					return err
				}
				res, err := comps.Lines.List(cmd.Context(), sess.UserID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, res.Value)
				}
				out := cmd.OutOrStdout()
				p := newPalette(out)
				if len(res.Value) == 0 {
					fmt.Fprintln(out, "No lines")
				} else {
					rows := make([][]string, 0, len(res.Value))
					for _, l := range res.Value {
						kind := statusOK
						if l.Status != backend.LineEnabled {
							kind = statusWarn
						}
						rows = append(rows, []string{l.ID, l.Name, p.status(kind, l.Status), l.Plan, l.ExpireDate})
					}
					fmt.Fprint(out, renderTable(
						[]string{"ID", "Name", "Status", "Plan", "Expires"},
						rows,
						nil,
						"", fmt.Sprintf("%d active", lines.ActiveCount(res.Value)),
					))
				}
				if res.Source != queue.SourceNone {
					printSourceNote(out, p, res.Source, res.FetchedAt)
				}
				return nil
			})
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	renameCmd := &cobra.Command{
		Use:   "rename <line-id> <name>",
		Short: "Rename a line (queued when offline)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			change := queue.UpdateLine{LineID: args[0], Name: strings.Join(args[1:], " ")}
			return updateLine(ctx, cmd, change, "Line renamed")
		},
	}

	enableCmd := &cobra.Command{
		Use:   "enable <line-id>",
		Short: "Enable a line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateLine(ctx, cmd, queue.UpdateLine{LineID: args[0], Status: backend.LineEnabled}, "Line enabled")
		},
	}

	disableCmd := &cobra.Command{
		Use:   "disable <line-id>",
		Short: "Disable a line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateLine(ctx, cmd, queue.UpdateLine{LineID: args[0], Status: backend.LineDisabled}, "Line disabled")
		},
	}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a line on the monthly plan (queued when offline)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(_ *config.Config, comps *daemonrun.Components) error {
				sess, err := currentUser(cmd.Context(), comps)
				if err != nil {
					return err
				}
				created, err := comps.Lines.Create(cmd.Context(), sess.UserID, strings.Join(args, " "), time.Now())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if created.Queued {
					fmt.Fprintf(out, "Backend unreachable; line %s queued (%s)\n", created.Line.ID, created.Line.Status)
					return nil
				}
				fmt.Fprintf(out, "Line %s created (%s, expires %s)\n", created.Line.ID, created.Line.Status, created.Line.ExpireDate)
				return nil
			})
		},
	}

	linesCmd.AddCommand(listCmd, createCmd, renameCmd, enableCmd, disableCmd)
	return linesCmd
}

func updateLine(ctx *commandContext, cmd *cobra.Command, change queue.UpdateLine, done string) error {
	return ctx.withComponents(func(_ *config.Config, comps *daemonrun.Components) error {
		queued, err := comps.Lines.Update(cmd.Context(), change)
		if err != nil {
			return err
		}
		if queued {
			fmt.Fprintln(cmd.OutOrStdout(), "Backend unreachable; change queued")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), done)
		return nil
	})
}
