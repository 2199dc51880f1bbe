package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/wishwell/backend/internal/models"
)

// WishOptions holds flags shared by post and enqueue.
type WishOptions struct {
	*RootOptions
	UserID    string
	Type      string
	Text      string
	MediaURL  string
	MediaType string
	Extra     string
}

func (o *WishOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.UserID, "user", "", "author user id (default session.user_id)")
	cmd.Flags().StringVar(&o.Type, "type", models.WishTypeWish, "post type (wish|gift|fulfillment|...)")
	cmd.Flags().StringVar(&o.Text, "text", "", "wish text")
	cmd.Flags().StringVar(&o.MediaURL, "media-url", "", "attached media URL")
	cmd.Flags().StringVar(&o.MediaType, "media-type", "", "attached media type")
	cmd.Flags().StringVar(&o.Extra, "extra", "", "additional payload fields as a JSON object")
}

func (o *WishOptions) payload(sessionUser string) (models.WishPayload, error) {
	p := models.WishPayload{
		UserID:    o.UserID,
		Type:      o.Type,
		Text:      o.Text,
		MediaURL:  o.MediaURL,
		MediaType: o.MediaType,
	}
	if p.UserID == "" {
		p.UserID = sessionUser
	}
	if o.Extra != "" {
		if err := json.Unmarshal([]byte(o.Extra), &p.Extra); err != nil {
			return p, WrapExitError(ExitCommandError, "invalid --extra JSON", err)
		}
	}
	if err := p.Validate(); err != nil {
		return p, WrapExitError(ExitCommandError, "invalid wish", err)
	}
	return p, nil
}

// NewPostCommand creates the post command.
func NewPostCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WishOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post a wish, queueing it when offline",
		Long: `Post a wish to the remote store.

When the device is offline or the create fails, the wish is added to the
offline queue and delivered by a later flush.

Example:
  wishwell post --type gift --text "a red kite"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPost(cmd, opts)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runPost(cmd *cobra.Command, opts *WishOptions) error {
	a, err := opts.openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	payload, err := opts.payload(a.UserID())
	if err != nil {
		return err
	}

	out := opts.formatter(cmd)
	res, err := a.Service.Post(a.Context(cmd.Context()), payload)
	if err != nil {
		return out.fail(ExitFailure, "post wish", err)
	}

	text := fmt.Sprintf("Queued wish %s (%d pending)", res.QueueID, res.QueueSize)
	if !res.Queued {
		text = fmt.Sprintf("Posted wish %s", res.Ref.ID)
		if res.Engagement != nil {
			text += fmt.Sprintf(" (posting streak %d)", res.Engagement.Current)
		}
	}
	return out.Success(res, text)
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WishOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Add a wish to the offline queue without posting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(cmd, opts)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runEnqueue(cmd *cobra.Command, opts *WishOptions) error {
	a, err := opts.openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	payload, err := opts.payload(a.UserID())
	if err != nil {
		return err
	}

	out := opts.formatter(cmd)
	res, err := a.Queue.Enqueue(a.Context(cmd.Context()), payload)
	if err != nil {
		return out.fail(ExitFailure, "enqueue wish", err)
	}
	text := fmt.Sprintf("Queued wish %s (%d pending)", res.ID, res.Size)
	if res.Evicted {
		text += fmt.Sprintf("; queue full, oldest of %d dropped", a.Queue.MaxLength())
	}
	return out.Success(res, text)
}

