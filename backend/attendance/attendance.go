package attendance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"unilink/backend/apperr"
	"unilink/backend/db"
	"unilink/backend/group"
	"unilink/backend/notification"
	"unilink/backend/user"
)

// Groups resolves a group as seen by a viewer, including the viewer's role.
type Groups interface {
	Get(ctx context.Context, id, viewer int64) (group.Group, error)
}

type Notifier interface {
	Notify(ctx context.Context, n notification.Notification) error
}

// Handler serves attendance sessions and records.
type Handler struct {
	Store    *Store
	Groups   Groups
	Notifier Notifier
}

// membership loads groupID for the caller, failing unless they belong to it.
func (h *Handler) membership(r *http.Request, groupID int64) (group.Group, error) {
	g, err := h.Groups.Get(r.Context(), groupID, user.Caller(r).ID)
	if err != nil {
		return group.Group{}, err
	}
	if g.MyRole == "" {
		return group.Group{}, apperr.Forbidden("you are not a member of this group")
	}
	return g, nil
}

// session loads the session named by the "id" route variable and the group
// it belongs to. ownerOnly restricts access to the group owner.
func (h *Handler) session(r *http.Request, ownerOnly bool) (Session, group.Group, error) {
	id, err := user.PathID(r, "id")
	if err != nil {
		return Session{}, group.Group{}, err
	}
	sess, err := h.Store.GetSession(r.Context(), id)
	if err != nil {
		return Session{}, group.Group{}, err
	}
	g, err := h.membership(r, sess.GroupID)
	if err != nil {
		return Session{}, group.Group{}, err
	}
	if ownerOnly && g.MyRole != group.RoleOwner {
		return Session{}, group.Group{}, apperr.Forbidden("only the group owner can manage attendance")
	}
	return sess, g, nil
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	caller := user.Caller(r)
	groupID, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	var req struct {
		Title    string     `json:"title"`
		StartsAt *time.Time `json:"starts_at"`
		EndsAt   *time.Time `json:"ends_at"`
	}
	// Every field is optional, so an empty body starts a default session.
	if err := apperr.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		apperr.Write(w, "Attendance", err)
		return
	}

	g, err := h.membership(r, groupID)
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	if g.MyRole != group.RoleOwner || caller.Role != user.RoleTeacher {
		apperr.Write(w, "Attendance", apperr.Forbidden("only the teacher who owns the group can start sessions"))
		return
	}

	sess := Session{GroupID: groupID, CreatedBy: caller.ID, StartsAt: db.Now()}
	if req.StartsAt != nil {
		sess.StartsAt = req.StartsAt.UTC().Truncate(time.Second)
	}
	if req.EndsAt != nil {
		end := req.EndsAt.UTC().Truncate(time.Second)
		if !end.After(sess.StartsAt) {
			apperr.Write(w, "Attendance", apperr.Invalid("ends_at must be after starts_at"))
			return
		}
		sess.EndsAt = &end
	}
	if sess.Title, err = validateTitle(req.Title, sess.StartsAt); err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	if err := h.Store.CreateSession(r.Context(), &sess); err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}

	created, err := h.Store.GetSession(r.Context(), sess.ID)
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	log.Printf("[Attendance] Teacher %d opened session %d in group %d", caller.ID, sess.ID, groupID)
	apperr.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	groupID, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	if _, err := h.membership(r, groupID); err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	sessions, err := h.Store.ListSessions(r.Context(), groupID)
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, sessions)
}

// GetSession shows the owner every record; other members only see their own.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, g, err := h.session(r, false)
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	var only int64
	if g.MyRole != group.RoleOwner {
		only = user.Caller(r).ID
	}
	records, err := h.Store.Records(r.Context(), sess, only)
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, SessionDetail{Session: sess, Records: records})
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, _, err := h.session(r, true)
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	if err := h.Store.DeleteSession(r.Context(), sess.ID); err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	log.Printf("[Attendance] Session %d deleted by %d", sess.ID, user.Caller(r).ID)
	w.WriteHeader(http.StatusNoContent)
}

// Mark sets one student's status, overwriting any earlier mark.
func (h *Handler) Mark(w http.ResponseWriter, r *http.Request) {
	studentID, err := user.PathID(r, "studentID")
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	var m Mark
	if err := apperr.DecodeJSON(r, &m); err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	m.StudentID = studentID
	h.mark(w, r, []Mark{m})
}

// MarkBulk applies every mark or none of them.
func (h *Handler) MarkBulk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Records []Mark `json:"records"`
	}
	if err := apperr.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	if len(req.Records) == 0 {
		apperr.Write(w, "Attendance", apperr.Invalid("records must not be empty"))
		return
	}
	h.mark(w, r, req.Records)
}

func (h *Handler) mark(w http.ResponseWriter, r *http.Request, marks []Mark) {
	seen := make(map[int64]bool, len(marks))
	for i := range marks {
		if err := marks[i].validate(); err != nil {
			apperr.Write(w, "Attendance", err)
			return
		}
		if seen[marks[i].StudentID] {
			apperr.Write(w, "Attendance", apperr.Invalid(fmt.Sprintf("student %d is listed twice", marks[i].StudentID)))
			return
		}
		seen[marks[i].StudentID] = true
	}

	sess, _, err := h.session(r, true)
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	caller := user.Caller(r)
	if err := h.Store.MarkRecords(r.Context(), sess.ID, caller.ID, marks); err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	log.Printf("[Attendance] Owner %d marked %d record(s) in session %d", caller.ID, len(marks), sess.ID)
	h.writeDetail(w, r, sess.ID)
}

// Finalize closes the session and tells every student their final status.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	sess, g, err := h.session(r, true)
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	caller := user.Caller(r)
	filled, err := h.Store.Finalize(r.Context(), sess.ID, caller.ID)
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	log.Printf("[Attendance] Session %d finalized, %d unmarked student(s) set absent", sess.ID, filled)

	final, err := h.Store.GetSession(r.Context(), sess.ID)
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	records, err := h.Store.Records(r.Context(), final, 0)
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	for _, rec := range records {
		if err := h.Notifier.Notify(r.Context(), notification.Notification{
			RecipientID: rec.StudentID,
			ActorID:     caller.ID,
			Kind:        notification.KindAttendanceFinalized,
			Message:     fmt.Sprintf("%s in %s: you were marked %s", final.Title, g.Name, rec.Status),
			GroupID:     g.ID,
			SessionID:   final.ID,
		}); err != nil {
			log.Printf("[Attendance] Notifying student %d failed: %v", rec.StudentID, err)
		}
	}
	apperr.WriteJSON(w, http.StatusOK, SessionDetail{Session: final, Records: records})
}

func (h *Handler) writeDetail(w http.ResponseWriter, r *http.Request, sessionID int64) {
	sess, err := h.Store.GetSession(r.Context(), sessionID)
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	records, err := h.Store.Records(r.Context(), sess, 0)
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, SessionDetail{Session: sess, Records: records})
}

// StudentSummary lets students see their own totals and the owner see anyone's.
func (h *Handler) StudentSummary(w http.ResponseWriter, r *http.Request) {
	groupID, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	studentID, err := user.PathID(r, "profileID")
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	g, err := h.membership(r, groupID)
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	if g.MyRole != group.RoleOwner && studentID != user.Caller(r).ID {
		apperr.Write(w, "Attendance", apperr.Forbidden("you can only view your own attendance"))
		return
	}
	sum, err := h.Store.StudentSummary(r.Context(), groupID, studentID)
	if err != nil {
		apperr.Write(w, "Attendance", err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, sum)
}
