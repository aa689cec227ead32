package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"linesync/internal/backend"
	"linesync/internal/config"
	"linesync/internal/daemonrun"
	"linesync/internal/members"
	"linesync/internal/queue"
)

var roleAliases = map[string]string{
	"owner":      backend.RoleOwner,
	"lead":       backend.RoleLineLead,
	"line-lead":  backend.RoleLineLead,
	"shift":      backend.RoleShiftLead,
	"shift-lead": backend.RoleShiftLead,
}

func parseRole(value string) (string, error) {
	value = strings.TrimSpace(value)
	if role, ok := roleAliases[strings.ToLower(value)]; ok {
		return role, nil
	}
	if backend.ValidRole(value) {
		return value, nil
	}
	return "", fmt.Errorf("unknown role %q (use owner, lead or shift-lead)", value)
}

func newMembersCommand(ctx *commandContext) *cobra.Command {
	membersCmd := &cobra.Command{
		Use:     "members",
		Aliases: []string{"member"},
		Short:   "List and manage line members",
	}

	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list <line-id>",
		Short: "List the members of a line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(_ *config.Config, comps *daemonrun.Components) error {
				res, err := comps.Members.List(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if res.Source == queue.SourceNone {
					return fmt.Errorf("members unavailable: %w", res.RemoteErr)
				}
				if asJSON {
					return writeJSON(cmd, res.Value)
				}
				out := cmd.OutOrStdout()
				rows := make([][]string, 0, len(res.Value))
				for _, m := range res.Value {
					rows = append(rows, []string{m.UserID, m.Role})
				}
				fmt.Fprint(out, renderTable([]string{"User", "Role"}, rows, nil, "", fmt.Sprintf("%d members", len(rows))))
				printSourceNote(out, newPalette(out), res.Source, res.FetchedAt)
				return nil
			})
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	var (
		addUserID string
		addRole   string
	)
	addCmd := &cobra.Command{
		Use:   "add <line-id> [username]",
		Short: "Add a user to a line by username or --user-id (queued when offline)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := parseRole(addRole)
			if err != nil {
				return err
			}
			req := members.NewMember{LineID: args[0], UserID: strings.TrimSpace(addUserID), Role: role}
			if len(args) == 2 {
				req.Username = args[1]
			}
			if req.UserID == "" && req.Username == "" {
				return fmt.Errorf("a username or --user-id is required")
			}
			return ctx.withComponents(func(_ *config.Config, comps *daemonrun.Components) error {
				sess, err := currentUser(cmd.Context(), comps)
				if err != nil {
					return err
				}
				queued, err := comps.Members.Add(cmd.Context(), sess.UserID, req)
				if err != nil {
					return err
				}
				if queued {
					fmt.Fprintln(cmd.OutOrStdout(), "Backend unreachable; member add queued")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Member added")
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&addUserID, "user-id", "", "User id to add instead of a username")
	addCmd.Flags().StringVarP(&addRole, "role", "r", "shift-lead", "Role: owner, lead or shift-lead")

	removeCmd := &cobra.Command{
		Use:   "remove <line-id> <user-id>",
		Short: "Remove a member from a line (queued when offline)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(_ *config.Config, comps *daemonrun.Components) error {
				sess, err := currentUser(cmd.Context(), comps)
				if err != nil {
					return err
				}
				queued, err := comps.Members.Remove(cmd.Context(), sess.UserID, args[0], args[1])
				if err != nil {
					return err
				}
				if queued {
					fmt.Fprintln(cmd.OutOrStdout(), "Backend unreachable; member removal queued")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Member removed")
				return nil
			})
		},
	}

	membersCmd.AddCommand(listCmd, addCmd, removeCmd)
	return membersCmd
}
