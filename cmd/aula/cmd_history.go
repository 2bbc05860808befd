package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/aula/internal/domain"
	"github.com/felixgeelhaar/aula/internal/eventlog"
)

var historyCmd = &cobra.Command{
	Use:   "history [submission or instance id]",
	Short: "Show the audited events of one record",
	Long: `Reads the grade_events audit table. Requires events.eventlog_url or
EVENTLOG_URL pointing at a migrated PostgreSQL database.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	if cfg.Events.EventLogURL == "" {
		return errors.New("no event log configured (set EVENTLOG_URL)")
	}
	id, err := domain.ParseRecordID(args[0])
	if err != nil {
		return err
	}

	audit, err := eventlog.Open(cfg.Events.EventLogURL)
	if err != nil {
		return err
	}
	defer audit.Close()

	entries, err := audit.ListByAggregate(cmd.Context(), id)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No events for %s\n", id)
		return nil
	}
	return printHistory(cmd.OutOrStdout(), entries)
}

func printHistory(w io.Writer, entries []eventlog.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tEVENT\tSTUDENT\tSCORE")
	for _, e := range entries {
		score := "-"
		if e.FinalScore != nil {
			score = fmt.Sprintf("%d", *e.FinalScore)
		}
		student := string(e.StudentID)
		if student == "" {
			student = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.OccurredAt.Local().Format(time.DateTime), e.Type, student, score)
	}
	return tw.Flush()
}
