package models

import (
	"errors"
	"testing"
)

func TestReactionDisplayTextWithTargetText(t *testing.T) {
	cases := []struct {
		kind   ReactionKind
		target string
		want   string
	}{
		{ReactionLove, "hello", "Loved “hello”"},
		{ReactionLike, "hello", "Liked “hello”"},
		{ReactionDislike, "hello", "Disliked “hello”"},
		{ReactionLaugh, "hello", "Laughed at “hello”"},
		{ReactionEmphasize, "hello", "Emphasized “hello”"},
		{ReactionQuestion, "hello", "Questioned “hello”"},
		{ReactionRemoveLove, "hello", "Removed a heart from “hello”"},
		{ReactionRemoveLike, "hello", "Removed a like from “hello”"},
		{ReactionRemoveQuestion, "hello", "Removed a question mark from “hello”"},
	}
	for _, c := range cases {
		got, err := ReactionDisplayText(c.kind, c.target, "")
		if err != nil {
			t.Fatalf("ReactionDisplayText(%s): unexpected error: %v", c.kind, err)
		}
		if got != c.want {
			t.Errorf("ReactionDisplayText(%s) = %q, want %q", c.kind, got, c.want)
		}
	}
}

func TestReactionDisplayTextWithMedia(t *testing.T) {
	cases := []struct {
		kind  ReactionKind
		media MediaKind
		want  string
	}{
		{ReactionLove, MediaImage, "Loved an image"},
		{ReactionLaugh, MediaMovie, "Laughed at a movie"},
		{ReactionRemoveLove, MediaAttachment, "Removed a heart from an attachment"},
	}
	for _, c := range cases {
		got, err := ReactionDisplayText(c.kind, "", c.media)
		if err != nil {
			t.Fatalf("ReactionDisplayText(%s, %s): unexpected error: %v", c.kind, c.media, err)
		}
		if got != c.want {
			t.Errorf("ReactionDisplayText(%s, %s) = %q, want %q", c.kind, c.media, got, c.want)
		}
	}
}

func TestReactionDisplayTextEmptyTargetDefaultsToAttachment(t *testing.T) {
	got, err := ReactionDisplayText(ReactionLike, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Liked an attachment" {
		t.Errorf("got %q, want %q", got, "Liked an attachment")
	}
}

func TestReactionDisplayTextUnknownKind(t *testing.T) {
	_, err := ReactionDisplayText("shrug", "hello", "")
	if !errors.Is(err, ErrUnknownReaction) {
		t.Errorf("expected ErrUnknownReaction, got %v", err)
	}
}

func TestMediaKindForMIME(t *testing.T) {
	cases := []struct {
		mime string
		want MediaKind
	}{
		{"image/png", MediaImage},
		{"image/jpeg", MediaImage},
		{"video/mp4", MediaMovie},
		{"audio/mpeg", MediaAttachment},
		{"application/pdf", MediaAttachment},
		{"", MediaAttachment},
	}
	for _, c := range cases {
		if got := MediaKindForMIME(c.mime); got != c.want {
			t.Errorf("MediaKindForMIME(%q) = %s, want %s", c.mime, got, c.want)
		}
	}
}
