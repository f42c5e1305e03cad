package notification

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	"unilink/backend/apperr"
	"unilink/backend/db"
	"unilink/backend/user"
)

// Pusher delivers live frames to a profile's open connections.
type Pusher interface {
	SendToProfile(profileID int64, v any) int
}

// Service persists notifications and pushes them to online recipients.
type Service struct {
	db   *sql.DB
	push Pusher
}

func NewService(conn *sql.DB, push Pusher) *Service {
	return &Service{db: conn, push: push}
}

// nullID maps the zero id to NULL.
func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// Notify stores n and pushes it. Notifications about the recipient's own
// actions are dropped.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if n.RecipientID == 0 || n.RecipientID == n.ActorID {
		return nil
	}
	n.CreatedAt = db.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (recipient_id, actor_id, kind, message, post_id, group_id, session_id, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		n.RecipientID, nullID(n.ActorID), n.Kind, n.Message, nullID(n.PostID), nullID(n.GroupID), nullID(n.SessionID), n.CreatedAt)
	if err != nil {
		return apperr.Internal("insert notification", err)
	}
	if n.ID, err = res.LastInsertId(); err != nil {
		return apperr.Internal("insert notification", err)
	}

	if n.ActorID != 0 {
		if err := s.db.QueryRowContext(ctx, `SELECT username FROM profiles WHERE id = ?`, n.ActorID).Scan(&n.ActorUsername); err != nil {
			log.Printf("[Notifications] Actor lookup for %d failed: %v", n.ActorID, err)
		}
	}

	if s.push != nil {
		s.push.SendToProfile(n.RecipientID, Event{Type: "notification", Notification: n})
	}
	return nil
}

// List returns the newest notifications of recipient.
func (s *Service) List(ctx context.Context, recipient int64, limit int, unreadOnly bool) ([]Notification, error) {
	query := `
		SELECT n.id, n.recipient_id, COALESCE(n.actor_id, 0), COALESCE(p.username, ''), n.kind, n.message,
		       COALESCE(n.post_id, 0), COALESCE(n.group_id, 0), COALESCE(n.session_id, 0), n.read, n.created_at
		FROM notifications n
		LEFT JOIN profiles p ON p.id = n.actor_id
		WHERE n.recipient_id = ?`
	if unreadOnly {
		query += ` AND n.read = 0`
	}
	query += ` ORDER BY n.id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, recipient, limit)
	if err != nil {
		return nil, apperr.Internal("list notifications", err)
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.ActorID, &n.ActorUsername, &n.Kind, &n.Message,
			&n.PostID, &n.GroupID, &n.SessionID, &n.Read, &n.CreatedAt); err != nil {
			return nil, apperr.Internal("scan notification", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Service) UnreadCount(ctx context.Context, recipient int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND read = 0`, recipient).Scan(&count)
	if err != nil {
		return 0, apperr.Internal("count notifications", err)
	}
	return count, nil
}

// MarkRead flags one notification of recipient as read.
func (s *Service) MarkRead(ctx context.Context, recipient, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ? AND recipient_id = ?`, id, recipient)
	if err != nil {
		return apperr.Internal("mark notification read", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("notification not found")
	}
	return nil
}

// MarkAllRead flags every unread notification of recipient and returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, recipient int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE recipient_id = ? AND read = 0`, recipient)
	if err != nil {
		return 0, apperr.Internal("mark notifications read", err)
	}
	return res.RowsAffected()
}

// Handler serves the notification endpoints.
type Handler struct {
	Service *Service
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := user.QueryLimit(r, 50, 200)
	if err != nil {
		apperr.Write(w, "Notifications", err)
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"
	list, err := h.Service.List(r.Context(), user.Caller(r).ID, limit, unreadOnly)
	if err != nil {
		apperr.Write(w, "Notifications", err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	count, err := h.Service.UnreadCount(r.Context(), user.Caller(r).ID)
	if err != nil {
		apperr.Write(w, "Notifications", err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]int{"unread": count})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := user.PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Notifications", err)
		return
	}
	if err := h.Service.MarkRead(r.Context(), user.Caller(r).ID, id); err != nil {
		apperr.Write(w, "Notifications", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.MarkAllRead(r.Context(), user.Caller(r).ID)
	if err != nil {
		apperr.Write(w, "Notifications", err)
		return
	}
	log.Printf("[Notifications] Profile %d marked %d read", user.Caller(r).ID, n)
	apperr.WriteJSON(w, http.StatusOK, map[string]int64{"updated": n})
}
