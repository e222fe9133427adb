package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/samotage/claude-monitor/internal/corrlog"
)

var turnsCmd = &cobra.Command{
	Use:   "turns",
	Short: "Replay turn history from the correlation log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _ := loadConfig()
		logPath, err := cfg.LogPath()
		if err != nil {
			return err
		}
		sink, err := corrlog.NewAppender(logPath, cfg.Log.Retention, cfg.Log.DebugAppends)
		if err != nil {
			return err
		}

		sessionID, _ := cmd.Flags().GetString("session")
		records, err := sink.ReconstructTurns(sessionID)
		if err != nil {
			return err
		}

		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		renderTurns(records)
		return nil
	},
}

func init() {
	turnsCmd.Flags().String("session", "", "only show turns for this session id")
	turnsCmd.Flags().String("format", "table", "output format: table or json")
	rootCmd.AddCommand(turnsCmd)
}

func renderTurns(records []*corrlog.TurnRecord) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleRounded)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft},
		{Number: 3, Align: text.AlignLeft, WidthMax: 40},
		{Number: 4, Align: text.AlignLeft},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignLeft, WidthMax: 50},
	})
	tw.AppendHeader(table.Row{"Turn", "Session", "Command", "Status", "Duration", "Summary"})

	for _, rec := range records {
		var start corrlog.StartPayload
		if rec.Start != nil {
			_ = json.Unmarshal([]byte(rec.Start.Payload), &start)
		}
		var complete corrlog.CompletePayload
		if rec.Complete != nil {
			_ = json.Unmarshal([]byte(rec.Complete.Payload), &complete)
		}

		status := "pending"
		duration := "-"
		summary := ""
		if rec.Complete != nil {
			if rec.Complete.Success {
				status = "completed"
			} else {
				status = "abandoned"
			}
			duration = (time.Duration(complete.DurationSeconds * float64(time.Second))).Round(time.Second).String()
			summary = runewidth.Truncate(complete.ResponseSummary, 48, "…")
		}

		tw.AppendRow(table.Row{
			rec.CorrelationID,
			rec.SessionID,
			runewidth.Truncate(start.Command, 38, "…"),
			status,
			duration,
			summary,
		})
	}
	if len(records) == 0 {
		tw.AppendRow(table.Row{"-", "(no turns recorded)", "-", "-", "-", "-"})
	}
	tw.Render()
	fmt.Printf("%d turn(s)\n", len(records))
}
