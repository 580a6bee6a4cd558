package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lalithlochan/outreach/internal/campaign"
	"github.com/lalithlochan/outreach/internal/db"
)

func (c *cli) campaignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Create, fill, schedule and inspect campaigns",
	}
	cmd.AddCommand(
		c.campaignCreateCmd(),
		c.campaignListCmd(),
		c.campaignAddCmd(),
		c.campaignGenerateCmd(),
		c.campaignScheduleCmd(),
		c.campaignStatsCmd(),
		c.campaignExportCmd(),
		c.campaignStatusCmd(),
		c.campaignRequeueCmd(),
	)
	return cmd
}

func (c *cli) campaignCreateCmd() *cobra.Command {
	var in campaign.NewCampaign
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft campaign",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := c.app.Campaigns.CreateCampaign(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), created)
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "Campaign name (required)")
	cmd.Flags().StringVar(&in.Description, "description", "", "Free-form description")
	cmd.Flags().StringVar(&in.TemplateName, "template", "", "Template for initial emails (default initial_contact)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (c *cli) campaignListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List campaigns with their email counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := c.app.Campaigns.ListCampaigns(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tEMAILS\tSENT\tCREATED")
			for _, s := range list {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n",
					s.ID, s.Name, s.Status, s.TotalEmails, s.SentEmails, s.CreatedAt.UTC().Format(time.DateOnly))
			}
			return tw.Flush()
		},
	}
}

func (c *cli) campaignAddCmd() *cobra.Command {
	var filter db.BusinessFilter
	cmd := &cobra.Command{
		Use:   "add CAMPAIGN_ID",
		Short: "Add businesses to a campaign",
		Long: `Add businesses to a campaign as pending initial emails.

Select them by --ids, or by --category and --location. With no selector
every business is added. Businesses already in the campaign are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "campaign")
			if err != nil {
				return err
			}
			res, err := c.app.Campaigns.AddBusinesses(cmd.Context(), id, filter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().Int64SliceVar(&filter.IDs, "ids", nil, "Business ids")
	cmd.Flags().StringVar(&filter.Category, "category", "", "Category substring")
	cmd.Flags().StringVar(&filter.Location, "location", "", "Location substring")
	return cmd
}

func (c *cli) campaignGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate CAMPAIGN_ID",
		Short: "Fill subject and body for emails that have none",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "campaign")
			if err != nil {
				return err
			}
			res, err := c.app.Campaigns.GenerateCampaignEmails(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func (c *cli) campaignScheduleCmd() *cobra.Command {
	var (
		start string
		req   = campaign.ScheduleRequest{
			EmailsPerDay: campaign.DefaultEmailsPerDay,
			FollowUpDays: campaign.DefaultFollowUpDays,
		}
	)
	cmd := &cobra.Command{
		Use:   "schedule CAMPAIGN_ID",
		Short: "Assign send days to pending emails and create follow-ups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "campaign")
			if err != nil {
				return err
			}
			if start != "" {
				if req.StartDate, err = time.Parse(time.DateOnly, start); err != nil {
					return fmt.Errorf("invalid --start %q, want YYYY-MM-DD", start)
				}
			}
			out, err := c.app.Campaigns.ScheduleCampaign(cmd.Context(), id, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "First send day, YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&req.EmailsPerDay, "per-day", req.EmailsPerDay, "Emails sent per day")
	cmd.Flags().IntVar(&req.FollowUpDays, "follow-up-days", req.FollowUpDays, "Days between an initial email and its follow-up")
	return cmd
}

func (c *cli) campaignStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats CAMPAIGN_ID",
		Short: "Show email counts and engagement rates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "campaign")
			if err != nil {
				return err
			}
			stats, err := c.app.Campaigns.GetCampaignStats(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func (c *cli) campaignExportCmd() *cobra.Command {
	var (
		out    string
		upload bool
	)
	cmd := &cobra.Command{
		Use:   "export CAMPAIGN_ID",
		Short: "Write the campaign report workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "campaign")
			if err != nil {
				return err
			}

			if upload {
				if !c.app.Reports.CanUpload() {
					return fmt.Errorf("--upload needs REPORT_BUCKET")
				}
				key, err := c.app.Reports.Upload(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "uploaded s3://%s/%s\n", c.app.Config.ReportBucket, key)
				return nil
			}

			data, err := c.app.Reports.Build(cmd.Context(), id)
			if err != nil {
				return err
			}
			if out == "" {
				out = fmt.Sprintf("campaign-%d.xlsx", id)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default campaign-ID.xlsx)")
	cmd.Flags().BoolVar(&upload, "upload", false, "Upload to REPORT_BUCKET instead of writing a file")
	return cmd
}

func (c *cli) campaignStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "status CAMPAIGN_ID STATUS",
		Short:     "Move a campaign forward: scheduled, active or completed",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"scheduled", "active", "completed"},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "campaign")
			if err != nil {
				return err
			}
			updated, err := c.app.Campaigns.AdvanceStatus(cmd.Context(), id, db.CampaignStatus(args[1]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		},
	}
}

func (c *cli) campaignRequeueCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "requeue CAMPAIGN_ID",
		Short: "Move failed emails back to scheduled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "campaign")
			if err != nil {
				return err
			}
			var when time.Time
			if at != "" {
				if when, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("invalid --at %q, want RFC 3339", at)
				}
			}
			n, err := c.app.Campaigns.RequeueFailed(cmd.Context(), id, when)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d emails\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "New send time, RFC 3339 (default now)")
	return cmd
}
