package group

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"unilink/backend/apperr"
	"unilink/backend/notification"
	"unilink/backend/user"
)

// ProfileLookup resolves usernames for owner-driven enrolment.
type ProfileLookup interface {
	ByUsername(ctx context.Context, username string) (user.Profile, error)
}

type Notifier interface {
	Notify(ctx context.Context, n notification.Notification) error
}

// AvatarURLs turns stored avatar keys into public URLs.
type AvatarURLs interface {
	URL(key string) string
}

// Handler serves the group endpoints.
type Handler struct {
	Store            *Store
	Profiles         ProfileLookup
	Notifier         Notifier
	Avatars          AvatarURLs
	JoinCodeAttempts int
}

// member loads groupID for the caller and fails unless they belong to it.
func (h *Handler) member(r *http.Request, groupID int64) (Group, error) {
	g, err := h.Store.Get(r.Context(), groupID, user.Caller(r).ID)
	if err != nil {
		return Group{}, err
	}
	if g.MyRole == "" {
		return Group{}, apperr.Forbidden("you are not a member of this group")
	}
	return g, nil
}

// owner loads groupID and fails unless the caller owns it.
func (h *Handler) owner(r *http.Request, groupID int64) (Group, error) {
	g, err := h.member(r, groupID)
	if err != nil {
		return Group{}, err
	}
	if g.MyRole != RoleOwner {
		return Group{}, apperr.Forbidden("only the group owner can do this")
	}
	return g, nil
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	caller := user.Caller(r)
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Kind        Kind   `json:"kind"`
	}
	if err := apperr.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, "Groups", err)
		return
	}

	name, err := validateName(req.Name)
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	desc, err := validateDescription(req.Description)
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	if req.Kind == "" {
		req.Kind = KindClass
	}
	if !req.Kind.Valid() {
		apperr.Write(w, "Groups", apperr.Invalid("kind must be class or attendance"))
		return
	}
	if req.Kind == KindAttendance && caller.Role != user.RoleTeacher {
		apperr.Write(w, "Groups", apperr.Forbidden("only teachers can create attendance groups"))
		return
	}

	g := Group{Name: name, Description: desc, Kind: req.Kind, OwnerID: caller.ID}
	if err := h.Store.Create(r.Context(), &g, h.JoinCodeAttempts); err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	// reload for owner username
	if full, err := h.Store.Get(r.Context(), g.ID, caller.ID); err == nil {
		g = full
	}

	log.Printf("[Groups] Profile %d created %s group %d", caller.ID, g.Kind, g.ID)
	apperr.WriteJSON(w, http.StatusCreated, g)
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Store.ListForProfile(r.Context(), user.Caller(r).ID)
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, groups)
}

func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	g, err := h.member(r, id)
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, g)
}

func (h *Handler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := apperr.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, "Groups", err)
		return
	}

	g, err := h.owner(r, id)
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	if req.Name != nil {
		if g.Name, err = validateName(*req.Name); err != nil {
			apperr.Write(w, "Groups", err)
			return
		}
	}
	if req.Description != nil {
		if g.Description, err = validateDescription(*req.Description); err != nil {
			apperr.Write(w, "Groups", err)
			return
		}
	}
	if err := h.Store.Update(r.Context(), &g); err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, g)
}

func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	if _, err := h.owner(r, id); err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	if err := h.Store.Delete(r.Context(), id); err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	log.Printf("[Groups] Profile %d deleted group %d", user.Caller(r).ID, id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RegenerateCode(w http.ResponseWriter, r *http.Request) {
	id, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	if _, err := h.owner(r, id); err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	code, err := h.Store.RegenerateCode(r.Context(), id, h.JoinCodeAttempts)
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	log.Printf("[Groups] Join code of group %d regenerated", id)
	apperr.WriteJSON(w, http.StatusOK, map[string]string{"join_code": code})
}

// PreviewByCode shows what a join code points at without joining.
func (h *Handler) PreviewByCode(w http.ResponseWriter, r *http.Request) {
	code, ok := NormalizeJoinCode(muxVar(r, "code"))
	if !ok {
		apperr.Write(w, "Groups", apperr.Invalid("invalid join code"))
		return
	}
	g, err := h.Store.GetByCode(r.Context(), code, user.Caller(r).ID)
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	if g.MyRole != RoleOwner {
		g.JoinCode = ""
	}
	apperr.WriteJSON(w, http.StatusOK, g)
}

func groupMessage(format string, g Group, args ...any) string {
	return fmt.Sprintf(format, append([]any{g.Name}, args...)...)
}
