package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/types"
	"github.com/BrandonDHaskell/Bulletin/internal/client"
)

type globalOptions struct {
	server  string
	token   string
	timeout time.Duration
	json    bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "bulletinctl",
		Short:         "Command-line client for the bulletin announcement server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("BULLETIN_URL", "http://localhost:8080"), "Server base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("BULLETIN_TOKEN"), "Session token for gated commands")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")
	flags.BoolVarP(&opts.json, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(issueCmd(opts))
	rootCmd.AddCommand(verifyCmd(opts))
	rootCmd.AddCommand(announcementsCmd(opts))
	rootCmd.AddCommand(announceCmd(opts))
	rootCmd.AddCommand(logoutCmd(opts))
	rootCmd.AddCommand(probeCmd(opts))

	return rootCmd
}

func issueCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "issue",
		Short: "Request an access code; it is delivered to the configured channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			resp, err := opts.client().Issue(ctx)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			expires := time.UnixMilli(resp.Expiration).UTC().Format(time.RFC3339)
			fmt.Fprintf(cmd.OutOrStdout(), "session: %s\nexpires: %s\n", resp.SessionID, expires)
			return nil
		},
	}
}

func verifyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <session-id> <code>",
		Short: "Verify an access code and print the session token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			resp, err := opts.client().Verify(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if opts.json {
				if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
					return err
				}
			} else if resp.Success {
				fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
			}
			if !resp.Success {
				return fmt.Errorf("denied: %s (%s)", resp.Message, resp.Reason)
			}
			return nil
		},
	}
}

func announcementsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "announcements",
		Short: "List announcements, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.requireToken(); err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			list, err := opts.client().Announcements(ctx, opts.token)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), types.ListResponse{Announcements: list})
			}
			for _, a := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  [%s]  %s\n    %s\n", a.Timestamp, a.Priority, a.Title, a.Content)
			}
			return nil
		},
	}
}

func announceCmd(opts *globalOptions) *cobra.Command {
	var req types.PublishRequest

	cmd := &cobra.Command{
		Use:   "announce",
		Short: "Publish an announcement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.requireToken(); err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			a, err := opts.client().Announce(ctx, opts.token, req)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), a)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", a.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.Title, "title", "t", "", "Announcement title")
	cmd.Flags().StringVarP(&req.Content, "content", "c", "", "Announcement body")
	cmd.Flags().StringVarP(&req.Priority, "priority", "p", "info", "Priority (info, update, alert)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("content")

	return cmd
}

func logoutCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Close the session behind --token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.requireToken(); err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			if err := opts.client().Logout(ctx, opts.token); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func probeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check the server and its webhook configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			pr, err := opts.client().Probe(ctx)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), pr)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status: %s\nwebhook: %t\ntime: %s\n", pr.Status, pr.HasWebhook, pr.Timestamp)
			return nil
		},
	}
}

func (o *globalOptions) client() *client.Client {
	return client.New(o.server, nil)
}

func (o *globalOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, o.timeout)
}

func (o *globalOptions) requireToken() error {
	if o.token == "" {
		return errors.New("a session token is required (--token or BULLETIN_TOKEN)")
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
