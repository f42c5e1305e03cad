package post

import (
	"strings"
	"time"
	"unicode/utf8"

	"unilink/backend/apperr"
)

// MaxContentRunes bounds the text of a post.
const MaxContentRunes = 2000

// Post is a feed item annotated for the viewer who fetched it.
type Post struct {
	ID              int64     `json:"id"`
	AuthorID        int64     `json:"author_id"`
	AuthorUsername  string    `json:"author_username"`
	AuthorFullName  string    `json:"author_full_name"`
	AuthorAvatarURL string    `json:"author_avatar_url"`
	AuthorAvatarKey string    `json:"-"`
	GroupID         *int64    `json:"group_id,omitempty"`
	Content         string    `json:"content"`
	ImageURL        string    `json:"image_url"`
	ImageKey        string    `json:"-"`
	LikeCount       int       `json:"like_count"`
	CommentCount    int       `json:"comment_count"`
	LikedByMe       bool      `json:"liked_by_me"`
	CreatedAt       time.Time `json:"created_at"`
}

// LikeState is returned by like and unlike so clients can reconcile an
// optimistic toggle.
type LikeState struct {
	Liked     bool `json:"liked"`
	LikeCount int  `json:"like_count"`
}

func normalizeContent(s string) (string, error) {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxContentRunes {
		return "", apperr.Invalid("content must be at most 2000 characters")
	}
	return s, nil
}
