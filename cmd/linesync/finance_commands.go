package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"linesync/internal/config"
	"linesync/internal/daemonrun"
	"linesync/internal/finance"
	"linesync/internal/queue"
)

func newFinanceCommand(ctx *commandContext) *cobra.Command {
	financeCmd := &cobra.Command{
		Use:   "finance",
		Short: "Record and browse income and expenses",
	}
	financeCmd.AddCommand(newFinanceAddCommand(ctx))
	financeCmd.AddCommand(newFinanceListCommand(ctx))
	financeCmd.AddCommand(newFinanceDeleteCommand(ctx))
	return financeCmd
}

func newFinanceAddCommand(ctx *commandContext) *cobra.Command {
	var in finance.Input
	cmd := &cobra.Command{
		Use:   "add <income|expense>",
		Short: "Add a finance entry (queued when offline)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Type = strings.ToLower(strings.TrimSpace(args[0]))
			if in.Date == "" {
				in.Date = time.Now().Format(time.DateOnly)
			}
			return ctx.withComponents(func(_ *config.Config, comps *daemonrun.Components) error {
				sess, err := currentUser(cmd.Context(), comps)
				if err != nil {
					return err
				}
				in.UserID = sess.UserID
				res, err := comps.Finance.Add(cmd.Context(), in)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if res.Queued {
					fmt.Fprintf(out, "Backend unreachable; %s of %s queued\n", in.Type, formatAmount(in.Amount))
					return nil
				}
				fmt.Fprintf(out, "Added %s %s (%s)\n", in.Type, formatAmount(in.Amount), res.Entry.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&in.LineID, "line", "l", "", "Line id")
	cmd.Flags().StringVar(&in.Category, "category", "", "Category, e.g. gold_sales")
	cmd.Flags().Float64VarP(&in.Amount, "amount", "a", 0, "Amount")
	cmd.Flags().StringVar(&in.Date, "date", "", "Entry date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&in.Description, "description", "", "Description")
	_ = cmd.MarkFlagRequired("line")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newFinanceListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list <line-id>",
		Short: "List a line's finance entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(_ *config.Config, comps *daemonrun.Components) error {
				listing, err := comps.Finance.List(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, listing)
				}
				out := cmd.OutOrStdout()
				p := newPalette(out)
				if len(listing.Entries) == 0 {
					fmt.Fprintln(out, "No finance entries")
				} else {
					var net float64
					rows := make([][]string, 0, len(listing.Entries))
					for _, e := range listing.Entries {
						amount := e.Amount
						kind := statusOK
						if e.Type == queue.EntryExpense {
							amount = -amount
							kind = statusWarn
						}
						net += amount
						id := shortID(e.ID)
						if e.Offline {
							id = "(queued)"
						}
						rows = append(rows, []string{
							id, e.Date, p.status(kind, e.Type), e.Category, formatAmount(e.Amount), e.Description,
						})
					}
					fmt.Fprint(out, renderTable(
						[]string{"ID", "Date", "Type", "Category", "Amount", "Description"},
						rows,
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
						"", "", "", "Net", formatAmount(net),
					))
				}
				if listing.Source != queue.SourceNone {
					printSourceNote(out, p, listing.Source, listing.FetchedAt)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newFinanceDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <line-id> <entry-id>",
		Short: "Delete a finance entry (requires the backend)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(_ *config.Config, comps *daemonrun.Components) error {
				sess, err := currentUser(cmd.Context(), comps)
				if err != nil {
					return err
				}
				if err := comps.Finance.Delete(cmd.Context(), args[0], args[1], sess.UserID); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Finance entry deleted")
				return nil
			})
		},
	}
}

func formatAmount(v float64) string {
	return humanize.CommafWithDigits(v, 2)
}
