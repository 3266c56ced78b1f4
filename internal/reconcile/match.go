package reconcile

import (
	"github.com/BTreeMap/MessagePipe/internal/models"
)

// matches reports whether a new-message candidate confirms the given pending
// request. Matching is deliberately heuristic: the store assigns its own
// identity to our sends, so this is the closest correlation available when
// no identifier side channel was used.
func matches(req *models.SendRequest, event models.ChangeEvent) bool {
	if event.Kind != models.EventNewMessage {
		return false
	}
	if event.ChatID != req.ChatID {
		return false
	}
	// Never match a candidate strictly older than the request. SentAt is
	// already backdated by the clock skew offset.
	if event.SentAt.Before(req.SentAt) {
		return false
	}
	if req.IsAttachment {
		return matchesTransferName(req, event)
	}
	return matchesText(req, event)
}

// matchesTransferName compares the candidate's attachment transfer names
// against the request's expected name. The request carries the name the send
// pipeline actually transmitted, i.e. the post-transcode extension when an
// audio attachment was converted before transmission.
func matchesTransferName(req *models.SendRequest, event models.ChangeEvent) bool {
	for _, name := range event.TransferNames {
		if name == req.TransferName {
			return true
		}
	}
	return false
}

// matchesText compares candidate text against the request. Plain and edit
// sends appear in the store under their literal text. Reaction sends appear
// under the store's synthesized display text, and unsends clear the row's
// text entirely.
func matchesText(req *models.SendRequest, event models.ChangeEvent) bool {
	switch req.Intent {
	case models.IntentReaction:
		display, err := models.ReactionDisplayText(req.Reaction, req.ReactionTarget, req.ReactionMedia)
		if err != nil {
			return false
		}
		return event.Text == display
	case models.IntentUnsend:
		// An unsent row keeps no text, but so does an inbound attachment-only
		// message. Require an own outbound row with no attachments.
		return event.Text == "" && event.IsFromMe && len(event.TransferNames) == 0
	default:
		return event.Text == req.Text
	}
}
