package comment

import (
	"strings"
	"time"
	"unicode/utf8"

	"unilink/backend/apperr"
)

const MaxContentRunes = 1000

type Comment struct {
	ID              int64     `json:"id"`
	PostID          int64     `json:"post_id"`
	AuthorID        int64     `json:"author_id"`
	AuthorUsername  string    `json:"author_username"`
	AuthorAvatarURL string    `json:"author_avatar_url"`
	AuthorAvatarKey string    `json:"-"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at"`
}

func normalizeContent(s string) (string, error) {
	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return "", apperr.Invalid("comment cannot be empty")
	}
	if n > MaxContentRunes {
		return "", apperr.Invalid("comment must be at most 1000 characters")
	}
	return s, nil
}
