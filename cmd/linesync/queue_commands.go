package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"linesync/internal/api"
	"linesync/internal/ipc"
	"linesync/internal/photo"
	"linesync/internal/queue"
	"linesync/internal/queueaccess"
)

func (c *commandContext) withQueue(fn func(queueaccess.Access) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	session, err := queueaccess.OpenWithFallback(
		func() (*ipc.Client, error) { return ipc.Dial(cfg.SocketPath()) },
		func() (*queue.Store, error) { return queue.Open(cfg) },
		photo.NewPreparer(cfg),
	)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session.Access)
}

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the offline queue",
	}
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearFailedCommand(ctx))
	queueCmd.AddCommand(newQueueDropMutationCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))
	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued records and mutations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(q queueaccess.Access) error {
				list, err := q.List(cmd.Context(), statuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, list)
				}
				printQueueList(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (pending, photo_pending, failed)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printQueueList(out io.Writer, list api.QueueListResponse) {
	p := newPalette(out)
	if len(list.Records) == 0 && len(list.Mutations) == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return
	}
	if len(list.Records) > 0 {
		rows := make([][]string, 0, len(list.Records))
		for _, r := range api.SortRecordsNewestFirst(list.Records) {
			photoCol := ""
			if r.HasPhoto {
				photoCol = "yes"
			}
			rows = append(rows, []string{
				shortID(r.LocalID),
				r.LineID,
				r.Date,
				strconv.Itoa(r.Quantity),
				photoCol,
				p.status(queueStatusKind(queue.Status(r.Status)), r.Status),
				strconv.Itoa(r.Attempts),
				queuedAge(r.CreatedAt),
				r.LastError,
			})
		}
		fmt.Fprint(out, renderTable(
			[]string{"ID", "Line", "Date", "Qty", "Photo", "Status", "Tries", "Queued", "Last error"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
		))
	}
	if len(list.Mutations) > 0 {
		rows := make([][]string, 0, len(list.Mutations))
		for _, m := range list.Mutations {
			lastErr := m.LastError
			if m.DecodeError != "" {
				lastErr = m.DecodeError
			}
			rows = append(rows, []string{
				strconv.FormatInt(m.ID, 10),
				m.Kind,
				m.LineID,
				p.status(queueStatusKind(queue.Status(m.Status)), m.Status),
				strconv.Itoa(m.Attempts),
				lastErr,
			})
		}
		fmt.Fprint(out, renderTable(
			[]string{"Mutation", "Kind", "Line", "Status", "Tries", "Last error"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
		))
	}
}

func queuedAge(createdAt string) string {
	ts := api.ParseQueueTime(createdAt)
	if ts.IsZero() {
		return ""
	}
	return humanize.Time(ts)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <local-id>...",
		Short: "Delete queued records (their photos are discarded)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(q queueaccess.Access) error {
				res, err := q.Remove(cmd.Context(), args)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, r := range res.Records {
					switch r.Outcome {
					case api.RemoveNotFound:
						fmt.Fprintf(out, "Record %s not found\n", r.LocalID)
					case api.RemoveRemoved:
						fmt.Fprintf(out, "Record %s removed\n", r.LocalID)
					}
				}
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [local-id...]",
		Short: "Move failed records (and, without ids, failed mutations) back to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(q queueaccess.Access) error {
				recs, muts, err := q.Retry(cmd.Context(), args)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retrying %d records and %d mutations\n", recs, muts)
				return nil
			})
		},
	}
}

func newQueueClearFailedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-failed",
		Short: "Delete records that exhausted sync.max_attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(q queueaccess.Access) error {
				removed, err := q.ClearFailed(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d failed records\n", removed)
				return nil
			})
		},
	}
}

func newQueueDropMutationCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "drop-mutation <id>",
		Short: "Delete a queued mutation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid mutation id %q", args[0])
			}
			return ctx.withQueue(func(q queueaccess.Access) error {
				removed, err := q.RemoveMutation(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !removed {
					return errors.New("mutation not found")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Mutation %d removed\n", id)
				return nil
			})
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the queue database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(q queueaccess.Access) error {
				health, err := q.Health(cmd.Context())
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Database path: %s\n", health.DBPath)
				fmt.Fprintf(out, "Database exists: %s\n", yesNo(health.DatabaseExists))
				fmt.Fprintf(out, "Readable: %s\n", yesNo(health.DatabaseReadable))
				fmt.Fprintf(out, "Schema version: %d\n", health.SchemaVersion)
				fmt.Fprintf(out, "Integrity check: %s\n", yesNo(health.IntegrityCheck))
				fmt.Fprintf(out, "Queued records: %d\n", health.TotalRecords)
				if health.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", health.Error)
				}
				return err
			})
		},
	}
}
