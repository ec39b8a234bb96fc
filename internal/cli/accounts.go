package cli

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/hamychatgpt/Rasad-v2/internal/credentials"
)

func newAccountsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage the credential pool",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import credentials from a JSON or YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := ReadAccountsFile(args[0])
			if err != nil {
				return err
			}
			app, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			added, err := app.API.ImportCredentials(cmd.Context(), creds)
			fmt.Fprintf(cmd.OutOrStdout(), "read %d, added %d, skipped %d\n", len(creds), added, len(creds)-added)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List credentials and their rate-limit state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			renderCredentials(cmd.OutOrStdout(), app.API.Credentials())
			return nil
		},
	})

	for _, active := range []bool{true, false} {
		use, short := "activate <username>", "Put a credential back into rotation"
		if !active {
			use, short = "deactivate <username>", "Take a credential out of rotation"
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := opts.app(cmd.Context())
				if err != nil {
					return err
				}
				defer app.Close()
				return app.API.SetCredentialActive(cmd.Context(), args[0], active)
			},
		})
	}
	return cmd
}

func renderCredentials(w io.Writer, list []credentials.Status) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Username", "Email", "Active", "Last Used", "Remaining", "Reset At", "Exhausted"})
	for _, st := range list {
		c := st.Credential
		lastUsed, remaining, resetAt := "-", "-", "-"
		if c.LastUsedAt != nil {
			lastUsed = c.LastUsedAt.Format("2006-01-02 15:04:05")
		}
		if st.RateLimit != nil {
			remaining = fmt.Sprint(st.RateLimit.Remaining)
			resetAt = st.RateLimit.ResetAt.Format("15:04:05")
		}
		t.AppendRow(table.Row{c.Username, c.Email, c.Active, lastUsed, remaining, resetAt, st.Exhausted})
	}
	t.Render()
}
