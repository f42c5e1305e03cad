package comment

import (
	"context"
	"log"
	"net/http"

	"unilink/backend/apperr"
	"unilink/backend/notification"
	"unilink/backend/post"
	"unilink/backend/user"
)

// Posts resolves a post as seen by a viewer; hidden posts read as missing.
type Posts interface {
	Get(ctx context.Context, id, viewer int64) (post.Post, error)
}

type Notifier interface {
	Notify(ctx context.Context, n notification.Notification) error
}

type AvatarURLs interface {
	URL(key string) string
}

// Handler serves the comment endpoints.
type Handler struct {
	Store    *Store
	Posts    Posts
	Notifier Notifier
	Avatars  AvatarURLs
}

func (h *Handler) present(c Comment) Comment {
	c.AuthorAvatarURL = h.Avatars.URL(c.AuthorAvatarKey)
	return c
}

func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	postID, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Comments", err)
		return
	}
	if _, err := h.Posts.Get(r.Context(), postID, user.Caller(r).ID); err != nil {
		apperr.Write(w, "Comments", err)
		return
	}
	comments, err := h.Store.List(r.Context(), postID)
	if err != nil {
		apperr.Write(w, "Comments", err)
		return
	}
	for i := range comments {
		comments[i] = h.present(comments[i])
	}
	apperr.WriteJSON(w, http.StatusOK, comments)
}

func (h *Handler) CreateComment(w http.ResponseWriter, r *http.Request) {
	caller := user.Caller(r)
	postID, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Comments", err)
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := apperr.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, "Comments", err)
		return
	}
	content, err := normalizeContent(req.Content)
	if err != nil {
		apperr.Write(w, "Comments", err)
		return
	}

	p, err := h.Posts.Get(r.Context(), postID, caller.ID)
	if err != nil {
		apperr.Write(w, "Comments", err)
		return
	}
	c := Comment{PostID: postID, AuthorID: caller.ID, Content: content}
	if err := h.Store.Create(r.Context(), &c); err != nil {
		apperr.Write(w, "Comments", err)
		return
	}

	if err := h.Notifier.Notify(r.Context(), notification.Notification{
		RecipientID: p.AuthorID,
		ActorID:     caller.ID,
		Kind:        notification.KindPostCommented,
		Message:     "commented on your post",
		PostID:      postID,
	}); err != nil {
		log.Printf("[Comments] Notification for post %d failed: %v", postID, err)
	}

	created, err := h.Store.Get(r.Context(), c.ID)
	if err != nil {
		apperr.Write(w, "Comments", err)
		return
	}
	log.Printf("[Comments] Profile %d commented on post %d", caller.ID, postID)
	apperr.WriteJSON(w, http.StatusCreated, h.present(created))
}

// DeleteComment is allowed to the comment's author and the post's author.
func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	caller := user.Caller(r)
	id, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Comments", err)
		return
	}
	c, err := h.Store.Get(r.Context(), id)
	if err != nil {
		apperr.Write(w, "Comments", err)
		return
	}
	if c.AuthorID != caller.ID {
		p, err := h.Posts.Get(r.Context(), c.PostID, caller.ID)
		if err != nil {
			apperr.Write(w, "Comments", err)
			return
		}
		if p.AuthorID != caller.ID {
			apperr.Write(w, "Comments", apperr.Forbidden("you cannot delete this comment"))
			return
		}
	}
	if err := h.Store.Delete(r.Context(), id); err != nil {
		apperr.Write(w, "Comments", err)
		return
	}
	log.Printf("[Comments] Profile %d deleted comment %d", caller.ID, id)
	w.WriteHeader(http.StatusNoContent)
}
