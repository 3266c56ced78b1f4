// Package models defines the core data structures for MessagePipe.
//
// This file reproduces the display text the message store synthesizes for
// reaction rows. Reaction sends never appear in the store under the caller's
// literal text; the store writes a derived phrase instead, so reconciliation
// has to reconstruct that phrase to recognize its own sends.
package models

import "strings"

// ReactionKind identifies a reaction, mirroring the store's naming. A
// leading "-" marks the negation (removal) of a previously placed reaction.
type ReactionKind string

const (
	ReactionLove      ReactionKind = "love"
	ReactionLike      ReactionKind = "like"
	ReactionDislike   ReactionKind = "dislike"
	ReactionLaugh     ReactionKind = "laugh"
	ReactionEmphasize ReactionKind = "emphasize"
	ReactionQuestion  ReactionKind = "question"

	ReactionRemoveLove      ReactionKind = "-love"
	ReactionRemoveLike      ReactionKind = "-like"
	ReactionRemoveDislike   ReactionKind = "-dislike"
	ReactionRemoveLaugh     ReactionKind = "-laugh"
	ReactionRemoveEmphasize ReactionKind = "-emphasize"
	ReactionRemoveQuestion  ReactionKind = "-question"
)

// MediaKind selects the media phrase the store uses for reactions on
// attachment-only messages.
type MediaKind string

const (
	MediaImage      MediaKind = "image"
	MediaMovie      MediaKind = "movie"
	MediaAttachment MediaKind = "attachment"
)

// reactionPhrases maps each reaction kind to the verb phrase the store
// prepends to the target description.
var reactionPhrases = map[ReactionKind]string{
	ReactionLove:      "Loved",
	ReactionLike:      "Liked",
	ReactionDislike:   "Disliked",
	ReactionLaugh:     "Laughed at",
	ReactionEmphasize: "Emphasized",
	ReactionQuestion:  "Questioned",

	ReactionRemoveLove:      "Removed a heart from",
	ReactionRemoveLike:      "Removed a like from",
	ReactionRemoveDislike:   "Removed a dislike from",
	ReactionRemoveLaugh:     "Removed a laugh from",
	ReactionRemoveEmphasize: "Removed an exclamation from",
	ReactionRemoveQuestion:  "Removed a question mark from",
}

// mediaPhrases maps a media kind to the store's article phrase.
var mediaPhrases = map[MediaKind]string{
	MediaImage:      "an image",
	MediaMovie:      "a movie",
	MediaAttachment: "an attachment",
}

// IsValidReactionKind reports whether the given reaction kind is one the
// store synthesizes display text for.
func IsValidReactionKind(k ReactionKind) bool {
	_, ok := reactionPhrases[k]
	return ok
}

// MediaKindForMIME maps an attachment MIME type to the store's media phrase
// selector. Unknown types fall back to the generic attachment phrase.
func MediaKindForMIME(mime string) MediaKind {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MediaImage
	case strings.HasPrefix(mime, "video/"):
		return MediaMovie
	default:
		return MediaAttachment
	}
}

// ReactionDisplayText reconstructs the display text the store writes for a
// reaction row: the verb phrase followed by the quoted target text, or by a
// media phrase when the target message was attachment-only.
//
// This is a best-effort string heuristic inherited from the store's own
// behavior. It can in principle collide with genuine user text that happens
// to equal the synthesized phrase; the ambiguity lives in the store itself
// and is not resolvable on this side.
func ReactionDisplayText(kind ReactionKind, targetText string, media MediaKind) (string, error) {
	phrase, ok := reactionPhrases[kind]
	if !ok {
		return "", ErrUnknownReaction
	}
	if targetText != "" {
		return phrase + " “" + targetText + "”", nil
	}
	mediaPhrase, ok := mediaPhrases[media]
	if !ok {
		mediaPhrase = mediaPhrases[MediaAttachment]
	}
	return phrase + " " + mediaPhrase, nil
}
