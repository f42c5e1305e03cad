package notification

import "time"

type Kind string

const (
	KindPostLiked           Kind = "post_liked"
	KindPostCommented       Kind = "post_commented"
	KindGroupJoined         Kind = "group_joined"
	KindAttendanceFinalized Kind = "attendance_finalized"
)

// Notification is a persisted message for one recipient.
type Notification struct {
	ID            int64     `json:"id"`
	RecipientID   int64     `json:"recipient_id"`
	ActorID       int64     `json:"actor_id,omitempty"`
	ActorUsername string    `json:"actor_username,omitempty"`
	Kind          Kind      `json:"kind"`
	Message       string    `json:"message"`
	PostID        int64     `json:"post_id,omitempty"`
	GroupID       int64     `json:"group_id,omitempty"`
	SessionID     int64     `json:"session_id,omitempty"`
	Read          bool      `json:"read"`
	CreatedAt     time.Time `json:"created_at"`
}

// Event is the frame pushed over the realtime hub.
type Event struct {
	Type         string       `json:"type"`
	Notification Notification `json:"notification"`
}
