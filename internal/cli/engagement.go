package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/wishwell/backend/internal/engagement"
	"github.com/kimhsiao/wishwell/backend/internal/models"
)

func parseKindArg(arg string) (models.EngagementKind, error) {
	kind, err := models.ParseKind(arg)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "invalid kind", err)
	}
	return kind, nil
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "record <posting|gifting|fulfillment>",
		Short: "Record an engagement event for today",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKindArg(args[0])
			if err != nil {
				return err
			}
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if userID == "" {
				userID = a.UserID()
			}
			out := rootOpts.formatter(cmd)
			res, err := a.Service.Record(a.Context(cmd.Context()), userID, kind)
			if err != nil {
				return out.fail(ExitFailure, "record engagement", err)
			}
			if res == nil {
				return out.Success(nil, "Not recorded: no authorized user")
			}

			text := fmt.Sprintf("%s streak %d (longest %d)", res.Kind, res.Current, res.Longest)
			if len(res.Unlocked) > 0 {
				text += "; unlocked " + strings.Join(res.Unlocked, ", ")
			}
			return out.Success(res, text)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (default session.user_id)")
	return cmd
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show streaks and milestones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if userID == "" {
				userID = a.UserID()
			}
			out := rootOpts.formatter(cmd)
			stats, err := a.Service.Stats(a.Context(cmd.Context()), userID)
			if err != nil {
				return out.fail(ExitFailure, "read engagement", err)
			}

			today := a.Ledger.Today()
			var b strings.Builder
			for i, kind := range models.EngagementKinds {
				e := stats.Entry(kind)
				last := "never"
				if e.LastDate != nil {
					last = *e.LastDate
				}
				if i > 0 {
					b.WriteString("\n")
				}
				fmt.Fprintf(&b, "%-12s current %d, longest %d, last %s, milestones %d",
					kind, e.Current, e.Longest, last, len(e.Milestones))
				if engagement.Lapsed(e, today) {
					b.WriteString(", lapsed")
				}
			}

			usage, err := a.Service.PostTypeUsage(cmd.Context(), userID)
			if err != nil {
				return out.fail(ExitFailure, "read post type usage", err)
			}
			if usage.Preferred != "" {
				fmt.Fprintf(&b, "\n%-12s %s (%d posts)", "preferred", usage.Preferred, usage.Counts[usage.Preferred])
			}
			return out.Success(map[string]interface{}{
				"streaks":    stats,
				"post_types": usage,
			}, b.String())
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (default session.user_id)")
	return cmd
}

// NewMilestoneCommand creates the milestone command.
func NewMilestoneCommand(rootOpts *RootOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "milestone <posting|gifting|fulfillment>",
		Short: "Show the next milestone for a kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKindArg(args[0])
			if err != nil {
				return err
			}
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if userID == "" {
				userID = a.UserID()
			}
			out := rootOpts.formatter(cmd)
			m, err := a.Service.NextMilestone(a.Context(cmd.Context()), userID, kind)
			if err != nil {
				return out.fail(ExitFailure, "next milestone", err)
			}
			if m == nil {
				return out.Success(nil, fmt.Sprintf("All %s milestones unlocked", kind))
			}
			return out.Success(m, fmt.Sprintf("Next: %s at %d days", m.ID, m.Target))
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (default session.user_id)")
	return cmd
}
