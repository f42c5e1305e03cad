package group

import (
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"unilink/backend/apperr"
	"unilink/backend/notification"
	"unilink/backend/user"
)

func muxVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

// Join enrolls the caller in the group a join code points at.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	caller := user.Caller(r)
	var req struct {
		Code string `json:"code"`
	}
	if err := apperr.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	code, ok := NormalizeJoinCode(req.Code)
	if !ok {
		apperr.Write(w, "Groups", apperr.Invalid("invalid join code"))
		return
	}

	g, err := h.Store.GetByCode(r.Context(), code, caller.ID)
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	if g.MyRole != "" {
		apperr.Write(w, "Groups", apperr.Conflict("already a member of this group"))
		return
	}
	if g.Kind == KindAttendance && caller.Role != user.RoleStudent {
		apperr.Write(w, "Groups", apperr.Forbidden("only students can join attendance groups"))
		return
	}
	if err := h.Store.AddMember(r.Context(), g.ID, caller.ID); err != nil {
		apperr.Write(w, "Groups", err)
		return
	}

	if err := h.Notifier.Notify(r.Context(), notification.Notification{
		RecipientID: g.OwnerID,
		ActorID:     caller.ID,
		Kind:        notification.KindGroupJoined,
		Message:     groupMessage("A new member joined %s", g),
		GroupID:     g.ID,
	}); err != nil {
		log.Printf("[Groups] Join notification failed: %v", err)
	}

	log.Printf("[Groups] Profile %d joined group %d by code", caller.ID, g.ID)
	g, err = h.Store.Get(r.Context(), g.ID, caller.ID)
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, g)
}

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	id, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	if _, err := h.member(r, id); err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	members, err := h.Store.Members(r.Context(), id)
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	for i := range members {
		members[i].AvatarURL = h.Avatars.URL(members[i].AvatarKey)
	}
	apperr.WriteJSON(w, http.StatusOK, members)
}

// AddMember lets the owner enroll a profile by username: lookup profile,
// verify its role, insert the membership.
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	id, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	var req struct {
		Username string `json:"username"`
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
	p, err := h.Profiles.ByUsername(r.Context(), req.Username)
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	if g.Kind == KindAttendance && p.Role != user.RoleStudent {
		apperr.Write(w, "Groups", apperr.Invalid("only students can be added to attendance groups"))
		return
	}
	if err := h.Store.AddMember(r.Context(), g.ID, p.ID); err != nil {
		apperr.Write(w, "Groups", err)
		return
	}

	log.Printf("[Groups] Owner %d added profile %d to group %d", g.OwnerID, p.ID, g.ID)
	apperr.WriteJSON(w, http.StatusCreated, Member{
		ProfileID: p.ID,
		Username:  p.Username,
		FullName:  p.FullName,
		Role:      RoleMember,
		UserRole:  string(p.Role),
		AvatarURL: h.Avatars.URL(p.AvatarKey),
	})
}

// RemoveMember is owner-only; the owner cannot remove themselves.
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	target, err := user.PathID(r, "profileID")
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	g, err := h.owner(r, id)
	if err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	if target == g.OwnerID {
		apperr.Write(w, "Groups", apperr.Invalid("the owner cannot be removed"))
		return
	}
	if err := h.Store.RemoveMember(r.Context(), id, target); err != nil {
		apperr.Write(w, "Groups", err)
		return
	}
	log.Printf("[Groups] Owner %d removed profile %d from group %d", g.OwnerID, target, id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
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
	if g.MyRole == RoleOwner {
		apperr.Write(w, "Groups", apperr.Conflict("the owner cannot leave; delete the group instead"))
		return
	}
	if err := h.Store.RemoveMember(r.Context(), id, user.Caller(r).ID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		apperr.Write(w, "Groups", err)
		return
	}
	log.Printf("[Groups] Profile %d left group %d", user.Caller(r).ID, id)
	w.WriteHeader(http.StatusNoContent)
}
