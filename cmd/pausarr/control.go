package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pausarr/pausarr/internal/client"
	"github.com/pausarr/pausarr/internal/models"
)

func newStatusCmd(v *viper.Viper) *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the monitor status of a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := client.New(v.GetString("server")).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch status: %w", err)
			}
			writeStatus(cmd.OutOrStdout(), status, history, time.Now())
			return nil
		},
	}
	cmd.Flags().IntVar(&history, "history", 5, "number of history entries to show")
	return cmd
}

func newStartCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the monitor loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := client.New(v.GetString("server")).Start(cmd.Context()); err != nil {
				return fmt.Errorf("start monitor: %w", err)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "monitor started")
			return err
		},
	}
}

func newStopCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the monitor loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := client.New(v.GetString("server")).Stop(cmd.Context()); err != nil {
				return fmt.Errorf("stop monitor: %w", err)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "monitor stopped")
			return err
		},
	}
}

func newCheckCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one session check now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := client.New(v.GetString("server")).Check(cmd.Context())
			if err != nil {
				return fmt.Errorf("run check: %w", err)
			}
			writeStatus(cmd.OutOrStdout(), status, 0, time.Now())
			return nil
		},
	}
}

func newPauseAllCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "pause-all",
		Short: "Pause every enabled managed container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := client.New(v.GetString("server")).PauseAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("pause containers: %w", err)
			}
			return writeBatch(cmd.OutOrStdout(), res)
		},
	}
}

func newUnpauseAllCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "unpause-all",
		Short: "Unpause every enabled managed container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := client.New(v.GetString("server")).UnpauseAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("unpause containers: %w", err)
			}
			return writeBatch(cmd.OutOrStdout(), res)
		},
	}
}

func writeStatus(w io.Writer, status *models.StatusReport, history int, now time.Time) {
	state := "stopped"
	if status.Running {
		state = "running"
	}
	if !status.ConfigEnabled {
		state += " (disabled)"
	}
	fmt.Fprintf(w, "monitor:    %s\n", state)
	fmt.Fprintf(w, "sessions:   %s\n", yesNo(status.SessionsActive, "active", "none"))
	fmt.Fprintf(w, "containers: %s\n", yesNo(status.ContainersPaused, "paused", "running"))

	lastCheck := "never"
	if status.LastCheck != nil {
		lastCheck = humanize.RelTime(*status.LastCheck, now, "ago", "from now")
	}
	fmt.Fprintf(w, "last check: %s\n", lastCheck)
	if status.LastAction != nil {
		fmt.Fprintf(w, "last action: %s\n", *status.LastAction)
	}
	if status.Error != nil {
		fmt.Fprintf(w, "error:      %s\n", *status.Error)
	}

	entries := status.History
	if history < 0 {
		history = 0
	}
	if history < len(entries) {
		entries = entries[len(entries)-history:]
	}
	for _, e := range entries {
		fmt.Fprintf(w, "  %-12s %-16s %s\n", humanize.RelTime(e.Timestamp, now, "ago", "from now"), e.Action, e.Details)
	}
}

func writeBatch(w io.Writer, res *models.BatchResult) error {
	names := make([]string, 0, len(res.Results))
	for name := range res.Results {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r := res.Results[name]
		fmt.Fprintf(w, "%-4s %s\n", yesNo(r.OK, "ok", "FAIL"), r.Message)
	}
	if !res.Success {
		return fmt.Errorf("%s of %s containers failed", humanize.Comma(int64(countFailed(res.Results))), humanize.Comma(int64(len(res.Results))))
	}
	return nil
}

func countFailed(results map[string]models.ActionResult) int {
	n := 0
	for _, r := range results {
		if !r.OK {
			n++
		}
	}
	return n
}

func yesNo(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}
