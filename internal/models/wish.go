// Package models provides the data types shared by the WishWell client core.
package models

import (
	"encoding/json"
	"strings"

	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
)

// Post types known to the posting flow. Other values pass through untouched.
const (
	WishTypeWish        = "wish"
	WishTypeGift        = "gift"
	WishTypeFulfillment = "fulfillment"
)

// WishPayload is the body of a remote "create wish" write.
// Fields the client does not model are kept in Extra and written back
// verbatim, so newer remote contracts survive a round trip through the queue.
type WishPayload struct {
	UserID    string
	Type      string
	Text      string
	MediaURL  string
	MediaType string
	Extra     map[string]interface{}
}

var wishPayloadKeys = map[string]bool{
	"userId":    true,
	"type":      true,
	"text":      true,
	"mediaUrl":  true,
	"mediaType": true,
}

// Validate checks the fields the remote create requires.
func (p WishPayload) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return apperrors.New(apperrors.ErrValidation, "wish payload requires userId")
	}
	if strings.TrimSpace(p.Type) == "" {
		return apperrors.New(apperrors.ErrValidation, "wish payload requires type")
	}
	return nil
}

// MarshalJSON flattens Extra next to the modelled fields.
func (p WishPayload) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(p.Extra)+5)
	for k, v := range p.Extra {
		if !wishPayloadKeys[k] {
			out[k] = v
		}
	}
	out["userId"] = p.UserID
	out["type"] = p.Type
	if p.Text != "" {
		out["text"] = p.Text
	}
	if p.MediaURL != "" {
		out["mediaUrl"] = p.MediaURL
	}
	if p.MediaType != "" {
		out["mediaType"] = p.MediaType
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads modelled fields leniently; non-string values for them
// are ignored rather than rejected.
func (p *WishPayload) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = WishPayload{}
	for k, v := range raw {
		if !wishPayloadKeys[k] {
			if p.Extra == nil {
				p.Extra = make(map[string]interface{})
			}
			p.Extra[k] = v
			continue
		}
		s, _ := v.(string)
		switch k {
		case "userId":
			p.UserID = s
		case "type":
			p.Type = s
		case "text":
			p.Text = s
		case "mediaUrl":
			p.MediaURL = s
		case "mediaType":
			p.MediaType = s
		}
	}
	return nil
}

// PendingWish is one entry of the offline queue.
type PendingWish struct {
	ID            string      `json:"id"`
	Payload       WishPayload `json:"payload"`
	EnqueuedAt    int64       `json:"enqueuedAt"`    // ms since epoch, set once
	Attempts      int         `json:"attempts"`      // failed deliveries so far
	NextAttemptAt *int64      `json:"nextAttemptAt"` // nil means eligible now
}

// Eligible reports whether the entry may be attempted at nowMs.
func (w *PendingWish) Eligible(nowMs int64) bool {
	return w.NextAttemptAt == nil || *w.NextAttemptAt <= nowMs
}

// Clone returns a deep copy of the entry.
func (w PendingWish) Clone() PendingWish {
	c := w
	if w.NextAttemptAt != nil {
		next := *w.NextAttemptAt
		c.NextAttemptAt = &next
	}
	if w.Payload.Extra != nil {
		c.Payload.Extra = make(map[string]interface{}, len(w.Payload.Extra))
		for k, v := range w.Payload.Extra {
			c.Payload.Extra[k] = v
		}
	}
	return c
}

// RecordRef identifies a record created by the remote store.
type RecordRef struct {
	ID string `json:"id"`
}

// PostTypeUsage summarizes which post types a user creates.
type PostTypeUsage struct {
	Preferred string         `json:"preferred,omitempty"`
	Counts    map[string]int `json:"counts"`
}
