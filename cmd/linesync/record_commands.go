package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"linesync/internal/api"
	"linesync/internal/config"
	"linesync/internal/daemonrun"
	"linesync/internal/ipc"
	"linesync/internal/queue"
	"linesync/internal/records"
	"linesync/internal/syncer"
)

func newFlushCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Send queued records and mutations to the backend now",
		RunE: func(cmd *cobra.Command, args []string) error {
			var summary api.FlushSummary
			if client := ctx.tryClient(); client != nil {
				defer client.Close()
				resp, err := client.Flush()
				if err != nil {
					return err
				}
				summary = *resp
			} else {
				err := ctx.withComponents(func(_ *config.Config, comps *daemonrun.Components) error {
					res, err := comps.Syncer.Flush(cmd.Context())
					summary = api.FromFlushResult(res)
					return err
				})
				if err != nil {
					return err
				}
			}
			if asJSON {
				return writeJSON(cmd, summary)
			}
			out := cmd.OutOrStdout()
			if summary.Skipped {
				fmt.Fprintln(out, "A flush is already running")
				return nil
			}
			fmt.Fprintf(out, "Flush finished: %s\n", flushDetail(summary))
			if len(summary.RefreshedLines) > 0 {
				fmt.Fprintf(out, "Refreshed lines: %s\n", strings.Join(summary.RefreshedLines, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newRecordCommand(ctx *commandContext) *cobra.Command {
	recordCmd := &cobra.Command{
		Use:     "records",
		Aliases: []string{"record"},
		Short:   "Enter and browse production records",
	}
	recordCmd.AddCommand(newRecordAddCommand(ctx))
	recordCmd.AddCommand(newRecordListCommand(ctx))
	recordCmd.AddCommand(newRecordDeleteCommand(ctx))
	return recordCmd
}

func newRecordAddCommand(ctx *commandContext) *cobra.Command {
	var req ipc.EnqueueRequest
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record production for a line (queued when offline)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Date == "" {
				req.Date = time.Now().Format(time.DateOnly)
			}
			if req.Photo != "" {
				abs, err := filepath.Abs(req.Photo)
				if err != nil {
					return fmt.Errorf("resolve photo path: %w", err)
				}
				req.Photo = abs
			}

			var result api.SubmitResponse
			if client := ctx.tryClient(); client != nil {
				defer client.Close()
				resp, err := client.Enqueue(req)
				if err != nil {
					return err
				}
				result = *resp
			} else {
				err := ctx.withComponents(func(_ *config.Config, comps *daemonrun.Components) error {
					res, err := comps.Syncer.Submit(cmd.Context(), syncer.Draft{
						LineID:      req.LineID,
						Date:        req.Date,
						Quantity:    req.Quantity,
						Operator:    req.Operator,
						Notes:       req.Notes,
						PhotoSource: req.Photo,
					})
					result = api.SubmitResponse{
						LocalID:   res.LocalID,
						Status:    string(res.Status),
						Queued:    res.Queued,
						LastError: res.LastError,
					}
					return err
				})
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if !result.Queued {
				fmt.Fprintf(out, "Record %s synced\n", shortID(result.LocalID))
				return nil
			}
			fmt.Fprintf(out, "Record %s queued (%s)\n", shortID(result.LocalID), result.Status)
			if result.LastError != "" {
				fmt.Fprintf(out, "Last error: %s\n", result.LastError)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.LineID, "line", "l", "", "Line id")
	cmd.Flags().StringVar(&req.Date, "date", "", "Production date (YYYY-MM-DD, default today)")
	cmd.Flags().IntVarP(&req.Quantity, "quantity", "q", 0, "Produced quantity")
	cmd.Flags().StringVar(&req.Operator, "operator", "", "Operator name")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "Free-form notes")
	cmd.Flags().StringVar(&req.Photo, "photo", "", "Photo to attach")
	_ = cmd.MarkFlagRequired("line")
	_ = cmd.MarkFlagRequired("quantity")
	return cmd
}

func newRecordListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list <line-id>",
		Short: "List a line's records, including queued ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var listing records.Listing
			if client := ctx.tryClient(); client != nil {
				defer client.Close()
				resp, err := client.LineRecords(args[0])
				if err != nil {
					return err
				}
				listing = *resp
			} else {
				err := ctx.withComponents(func(_ *config.Config, comps *daemonrun.Components) error {
					var err error
					listing, err = comps.Records.List(cmd.Context(), args[0])
					return err
				})
				if err != nil {
					return err
				}
			}
			if asJSON {
				return writeJSON(cmd, listing)
			}
			printRecordListing(cmd.OutOrStdout(), listing)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printRecordListing(out io.Writer, listing records.Listing) {
	p := newPalette(out)
	if len(listing.Entries) == 0 {
		fmt.Fprintln(out, "No records")
		if listing.Source != queue.SourceNone {
			printSourceNote(out, p, listing.Source, listing.FetchedAt)
		}
		return
	}
	rows := make([][]string, 0, len(listing.Entries))
	total := 0
	for _, e := range listing.Entries {
		total += e.Quantity
		state := "synced"
		kind := statusOK
		if e.Offline {
			state = string(e.Status)
			kind = queueStatusKind(e.Status)
		}
		photo := ""
		if e.PhotoURL != "" {
			photo = e.PhotoURL
		} else if e.PhotoPath != "" {
			photo = "(pending)"
		}
		rows = append(rows, []string{
			shortID(e.ID),
			e.Date,
			strconv.Itoa(e.Quantity),
			e.Operator,
			p.status(kind, state),
			photo,
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"ID", "Date", "Qty", "Operator", "State", "Photo"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
		"", "Total", humanize.Comma(int64(total)),
	))
	if listing.Queued > 0 {
		fmt.Fprintf(out, "%d records waiting to sync\n", listing.Queued)
	}
	printSourceNote(out, p, listing.Source, listing.FetchedAt)
}

func newRecordDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <line-id> <record-id>",
		Short: "Delete a record (line owners only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(_ *config.Config, comps *daemonrun.Components) error {
				sess, err := currentUser(cmd.Context(), comps)
				if err != nil {
					return err
				}
				outcome, err := comps.Records.Delete(cmd.Context(), args[0], args[1], sess.UserID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch outcome {
				case records.DeletedLocal:
					fmt.Fprintln(out, "Queued record discarded")
				case records.DeletedRemote:
					fmt.Fprintln(out, "Record deleted")
				case records.DeleteQueued:
					fmt.Fprintln(out, "Backend unreachable; delete queued")
				}
				return nil
			})
		},
	}
}
