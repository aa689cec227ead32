package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"linesync/internal/config"
	"linesync/internal/daemonrun"
	"linesync/internal/ipc"
	"linesync/internal/session"
)

func newLoginCommand(ctx *commandContext) *cobra.Command {
	var sess session.Session
	var tokenFromStdin bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an issued access token as the local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tokenFromStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				sess.AccessToken = strings.TrimSpace(line)
			}
			sess.CreatedAt = time.Now().UTC()
			if err := sess.Validate(); err != nil {
				return err
			}
			return ctx.withComponents(func(_ *config.Config, comps *daemonrun.Components) error {
				if err := comps.Sessions.Save(cmd.Context(), &sess); err != nil {
					return err
				}
				name := sess.Username
				if name == "" {
					name = sess.UserID
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sess.UserID, "user-id", "", "Backend user id")
	cmd.Flags().StringVar(&sess.Username, "username", "", "Display name")
	cmd.Flags().StringVar(&sess.AccessToken, "token", "", "Access token")
	cmd.Flags().BoolVar(&tokenFromStdin, "token-stdin", false, "Read the access token from stdin")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func newLogoutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the session and cached listings (queued work is kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(_ *config.Config, comps *daemonrun.Components) error {
				err := comps.Sessions.Clear(cmd.Context())
				if err != nil && !errors.Is(err, session.ErrNoSession) {
					return err
				}
				if err := comps.Store.ClearSnapshots(cmd.Context()); err != nil {
					return err
				}
				health, err := comps.Store.Health(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Logged out")
				if health.Total > 0 {
					fmt.Fprintf(out, "%d queued records kept; they sync after the next login\n", health.Total)
				}
				return nil
			})
		},
	}
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				p := newPalette(out)
				if resp.Sent {
					fmt.Fprintln(out, renderStatusLine(p, "Notification", statusOK, resp.Message))
				} else {
					fmt.Fprintln(out, renderStatusLine(p, "Notification", statusWarn, resp.Message))
				}
				return nil
			})
		},
	}
}
