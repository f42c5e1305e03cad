package post

import (
	"context"
	"log"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"unilink/backend/apperr"
	"unilink/backend/group"
	"unilink/backend/notification"
	"unilink/backend/user"
)

// Memberships answers whether a profile belongs to a group.
type Memberships interface {
	Role(ctx context.Context, groupID, profileID int64) (group.MemberRole, error)
}

type Notifier interface {
	Notify(ctx context.Context, n notification.Notification) error
}

// Handler serves the feed, post and like endpoints.
type Handler struct {
	Store          *Store
	Groups         Memberships
	Objects        user.ObjectStore
	Notifier       Notifier
	PageSize       int
	MaxUploadBytes int64
}

func (h *Handler) present(p Post) Post {
	p.AuthorAvatarURL = h.Objects.URL(p.AuthorAvatarKey)
	p.ImageURL = h.Objects.URL(p.ImageKey)
	return p
}

func (h *Handler) presentAll(posts []Post) []Post {
	for i := range posts {
		posts[i] = h.present(posts[i])
	}
	return posts
}

func (h *Handler) requireMember(ctx context.Context, groupID, profileID int64) error {
	role, err := h.Groups.Role(ctx, groupID, profileID)
	if err != nil {
		return err
	}
	if role == "" {
		return apperr.Forbidden("you are not a member of this group")
	}
	return nil
}

// createRequest is the JSON form of CreatePost; multipart requests carry
// the same fields plus an "image" file.
type createRequest struct {
	Content string `json:"content"`
	GroupID *int64 `json:"group_id"`
}

func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	caller := user.Caller(r)

	var req createRequest
	multipart := isMultipart(r)
	if multipart {
		if err := apperr.ParseMultipart(w, r, h.MaxUploadBytes); err != nil {
			apperr.Write(w, "Posts", err)
			return
		}
		req.Content = r.FormValue("content")
		if raw := strings.TrimSpace(r.FormValue("group_id")); raw != "" {
			gid, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || gid <= 0 {
				apperr.Write(w, "Posts", apperr.Invalid("invalid group_id"))
				return
			}
			req.GroupID = &gid
		}
	} else if err := apperr.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, "Posts", err)
		return
	}

	content, err := normalizeContent(req.Content)
	if err != nil {
		apperr.Write(w, "Posts", err)
		return
	}
	if req.GroupID != nil {
		if err := h.requireMember(r.Context(), *req.GroupID, caller.ID); err != nil {
			apperr.Write(w, "Posts", err)
			return
		}
	}

	var imageKey string
	if multipart {
		if imageKey, err = h.Objects.SaveFormFile(r, "image", "posts"); err != nil {
			apperr.Write(w, "Posts", err)
			return
		}
	}
	if content == "" && imageKey == "" {
		apperr.Write(w, "Posts", apperr.Invalid("a post needs content or an image"))
		return
	}

	p := Post{AuthorID: caller.ID, GroupID: req.GroupID, Content: content, ImageKey: imageKey}
	if err := h.Store.Create(r.Context(), &p); err != nil {
		if imageKey != "" {
			_ = h.Objects.Delete(r.Context(), imageKey)
		}
		apperr.Write(w, "Posts", err)
		return
	}

	created, err := h.Store.Get(r.Context(), p.ID, caller.ID)
	if err != nil {
		apperr.Write(w, "Posts", err)
		return
	}
	log.Printf("[Posts] Profile %d created post %d", caller.ID, p.ID)
	apperr.WriteJSON(w, http.StatusCreated, h.present(created))
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// page reads ?limit= and ?before= into q.
func (h *Handler) page(r *http.Request, q *Query) error {
	limit, err := user.QueryLimit(r, h.PageSize, 100)
	if err != nil {
		return err
	}
	q.Limit = limit
	if raw := r.URL.Query().Get("before"); raw != "" {
		before, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || before <= 0 {
			return apperr.Invalid("invalid before cursor")
		}
		q.Before = before
	}
	return nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, q Query) {
	if err := h.page(r, &q); err != nil {
		apperr.Write(w, "Posts", err)
		return
	}
	posts, err := h.Store.List(r.Context(), q)
	if err != nil {
		apperr.Write(w, "Posts", err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, h.presentAll(posts))
}

// Feed lists public posts and posts of the caller's groups.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, Query{Viewer: user.Caller(r).ID})
}

func (h *Handler) GroupFeed(w http.ResponseWriter, r *http.Request) {
	caller := user.Caller(r)
	groupID, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Posts", err)
		return
	}
	if err := h.requireMember(r.Context(), groupID, caller.ID); err != nil {
		apperr.Write(w, "Posts", err)
		return
	}
	h.list(w, r, Query{Viewer: caller.ID, GroupID: groupID})
}

func (h *Handler) ProfilePosts(w http.ResponseWriter, r *http.Request) {
	authorID, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Posts", err)
		return
	}
	h.list(w, r, Query{Viewer: user.Caller(r).ID, AuthorID: authorID})
}

func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	id, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Posts", err)
		return
	}
	p, err := h.Store.Get(r.Context(), id, user.Caller(r).ID)
	if err != nil {
		apperr.Write(w, "Posts", err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, h.present(p))
}

// DeletePost removes the caller's own post and its stored image.
func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	caller := user.Caller(r)
	id, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Posts", err)
		return
	}
	p, err := h.Store.Get(r.Context(), id, caller.ID)
	if err != nil {
		apperr.Write(w, "Posts", err)
		return
	}
	if p.AuthorID != caller.ID {
		apperr.Write(w, "Posts", apperr.Forbidden("only the author can delete this post"))
		return
	}
	if err := h.Store.Delete(r.Context(), id); err != nil {
		apperr.Write(w, "Posts", err)
		return
	}
	if err := h.Objects.Delete(r.Context(), p.ImageKey); err != nil {
		log.Printf("[Posts] Removing image %q of post %d failed: %v", p.ImageKey, id, err)
	}
	log.Printf("[Posts] Profile %d deleted post %d", caller.ID, id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Like(w http.ResponseWriter, r *http.Request) {
	caller := user.Caller(r)
	id, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Likes", err)
		return
	}
	p, err := h.Store.Get(r.Context(), id, caller.ID)
	if err != nil {
		apperr.Write(w, "Likes", err)
		return
	}
	added, err := h.Store.Like(r.Context(), id, caller.ID)
	if err != nil {
		apperr.Write(w, "Likes", err)
		return
	}
	if added {
		if err := h.Notifier.Notify(r.Context(), notification.Notification{
			RecipientID: p.AuthorID,
			ActorID:     caller.ID,
			Kind:        notification.KindPostLiked,
			Message:     "liked your post",
			PostID:      id,
		}); err != nil {
			log.Printf("[Likes] Notification for post %d failed: %v", id, err)
		}
	}
	h.writeLikeState(w, r, id, true)
}

func (h *Handler) Unlike(w http.ResponseWriter, r *http.Request) {
	caller := user.Caller(r)
	id, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Likes", err)
		return
	}
	if _, err := h.Store.Get(r.Context(), id, caller.ID); err != nil {
		apperr.Write(w, "Likes", err)
		return
	}
	if err := h.Store.Unlike(r.Context(), id, caller.ID); err != nil {
		apperr.Write(w, "Likes", err)
		return
	}
	h.writeLikeState(w, r, id, false)
}

func (h *Handler) writeLikeState(w http.ResponseWriter, r *http.Request, postID int64, liked bool) {
	count, err := h.Store.LikeCount(r.Context(), postID)
	if err != nil {
		apperr.Write(w, "Likes", err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, LikeState{Liked: liked, LikeCount: count})
}
