package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lalithlochan/outreach/internal/campaign"
	"github.com/lalithlochan/outreach/internal/redis"
)

func (c *cli) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import businesses from a CSV, JSON or XLSX file",
		Long: `Import businesses from a lead file. The format follows the extension.

Rows with has_website set are skipped. Rows matching an existing business
by name and phone update its email instead of creating a duplicate.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.app.Importer.ImportFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func (c *cli) businessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "business",
		Short: "Inspect businesses",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show BUSINESS_ID",
		Short: "Show a business with its emails and appointments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "business")
			if err != nil {
				return err
			}
			details, err := c.app.Campaigns.BusinessDetails(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), details)
		},
	})
	return cmd
}

func (c *cli) dispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Send every scheduled email that is due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.app.Runner.Dispatch(cmd.Context())
			if errors.Is(err, redis.ErrLockHeld) {
				return fmt.Errorf("another dispatch pass is running")
			}
			if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
				return perr
			}
			return err
		},
	}
}

func (c *cli) analyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Write today's analytics snapshot for live campaigns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := c.app.Runner.UpdateAnalytics(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %d campaign snapshots\n", n)
			return nil
		},
	}
}

func (c *cli) appointmentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appointment",
		Short: "Record appointments won by a campaign",
	}

	var (
		in   campaign.NewAppointment
		when string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a scheduled appointment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := time.Parse(time.RFC3339, when)
			if err != nil {
				return fmt.Errorf("invalid --time %q, want RFC 3339", when)
			}
			in.ScheduledTime = t
			appt, err := c.app.Campaigns.AddAppointment(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), appt)
		},
	}
	add.Flags().Int64Var(&in.BusinessID, "business", 0, "Business id (required)")
	add.Flags().Int64Var(&in.CampaignID, "campaign", 0, "Campaign id (required)")
	add.Flags().StringVar(&when, "time", "", "Appointment time, RFC 3339 (required)")
	add.Flags().StringVar(&in.Notes, "notes", "", "Notes")
	add.Flags().StringVar(&in.CalendlyLink, "link", "", "Booking link")
	_ = add.MarkFlagRequired("business")
	_ = add.MarkFlagRequired("campaign")
	_ = add.MarkFlagRequired("time")

	cmd.AddCommand(add)
	return cmd
}

func (c *cli) templatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List the available email templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tpl := c.app.Templates
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSUBJECT")
			for _, name := range tpl.Names() {
				body, _ := tpl.Get(name)
				fmt.Fprintf(tw, "%s\t%s\n", name, firstLine(body))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if src := tpl.Source(); src != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "\noverrides loaded from %s\n", src)
			}
			return nil
		},
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
