package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cooldog631-ai/aim-bot/internal/config"
	"github.com/cooldog631-ai/aim-bot/internal/db"
	"github.com/cooldog631-ai/aim-bot/internal/report"
	"github.com/cooldog631-ai/aim-bot/internal/store"
)

func newReportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Query stored reports",
	}

	cmd.AddCommand(newReportsListCmd())
	return cmd
}

func newReportsListCmd() *cobra.Command {
	var (
		configPath string
		platform   string
		userID     string
		from, to   string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List confirmed reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := store.ReportFilter{Platform: platform, UserID: userID, Limit: limit}
			var err error
			if f.From, err = parseDay(from); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if f.To, err = parseDay(to); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			return runReportsList(cmd, configPath, f)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to AIM config file")
	cmd.Flags().StringVar(&platform, "platform", "", "filter by platform (discord, slack)")
	cmd.Flags().StringVar(&userID, "user", "", "filter by platform user ID")
	cmd.Flags().StringVar(&from, "from", "", "earliest report date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "latest report date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of reports")
	return cmd
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation("2006-01-02", s, time.UTC)
}

func runReportsList(cmd *cobra.Command, configPath string, f store.ReportFilter) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	st, err := store.New(gormDB)
	if err != nil {
		return err
	}

	records, err := st.Reports(cmd.Context(), f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No reports found.")
		return nil
	}

	fields := cfg.FieldSet().Names()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := []string{"ID", "DATE", "PLATFORM", "USER"}
	for _, n := range fields {
		if n != report.FieldDate {
			header = append(header, strings.ToUpper(n))
		}
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, r := range records {
		row := []string{fmt.Sprint(r.ID), r.ReportDate.Format(report.DateLayout), r.Platform, r.UserID}
		for _, n := range fields {
			if n != report.FieldDate {
				row = append(row, truncate(r.Fields[n], 40))
			}
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
