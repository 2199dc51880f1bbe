package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewFlushCommand creates the flush command.
func NewFlushCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Deliver queued wishes that are not in backoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := rootOpts.formatter(cmd)
			res, err := a.Queue.Flush(a.Context(cmd.Context()))
			if err != nil {
				return out.fail(ExitFailure, "flush queue", err)
			}

			text := fmt.Sprintf("Offline: %d pending", res.Remaining)
			if res.Online {
				text = fmt.Sprintf("Posted %d of %d attempted, %d pending", res.Posted, res.Attempted, res.Remaining)
			}
			return out.Success(res, text)
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the offline queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := rootOpts.formatter(cmd)
			st, err := a.Queue.Status(a.Context(cmd.Context()))
			if err != nil {
				return out.fail(ExitFailure, "queue status", err)
			}

			text := fmt.Sprintf("%d pending", st.Size)
			if st.OldestMs != nil {
				text += fmt.Sprintf(", oldest %s ago", millis(*st.OldestMs))
			}
			if st.NextRetryMs != nil {
				text += fmt.Sprintf(", next retry in %s", millis(*st.NextRetryMs))
			}
			return out.Success(st, text)
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued wish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := rootOpts.formatter(cmd)
			if err := a.Queue.Clear(a.Context(cmd.Context())); err != nil {
				return out.fail(ExitFailure, "clear queue", err)
			}
			return out.Success(map[string]int{"size": 0}, "Queue cleared")
		},
	}
}

func millis(ms int64) time.Duration {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second)
}
