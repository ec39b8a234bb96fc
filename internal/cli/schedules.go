package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

const manualReason = "manual"

func newSchedulesCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Inspect and override topic polling",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List topic schedules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			renderSchedules(cmd.OutOrStdout(), app.API.Schedules())
			return nil
		},
	})

	var reason string
	escalate := &cobra.Command{
		Use:   "escalate <topic>",
		Short: "Switch a topic to critical polling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			return app.API.Escalate(cmd.Context(), args[0], reason)
		},
	}
	deescalate := &cobra.Command{
		Use:   "deescalate <topic>",
		Short: "Return a topic to normal polling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			return app.API.Deescalate(cmd.Context(), args[0], reason)
		},
	}
	escalateAll := &cobra.Command{
		Use:   "escalate-all",
		Short: "Switch every topic to critical polling",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			changed, err := app.API.EscalateAll(cmd.Context(), reason)
			fmt.Fprintf(cmd.OutOrStdout(), "escalated %d topics: %s\n", len(changed), strings.Join(changed, ", "))
			return err
		},
	}
	for _, c := range []*cobra.Command{escalate, deescalate, escalateAll} {
		c.Flags().StringVar(&reason, "reason", manualReason, "reason recorded with the transition")
		cmd.AddCommand(c)
	}
	return cmd
}

func renderSchedules(w io.Writer, list []models.TopicSchedule) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Topic", "Kind", "Importance", "Status", "Normal", "Critical", "Last Checked", "Active"})
	for _, ts := range list {
		checked := "-"
		if ts.LastCheckedAt != nil {
			checked = ts.LastCheckedAt.Format("2006-01-02 15:04:05")
		}
		t.AppendRow(table.Row{
			ts.Topic, ts.Kind, ts.Importance, ts.Status,
			ts.NormalInterval, ts.CriticalInterval, checked, ts.Active,
		})
	}
	t.Render()
}
