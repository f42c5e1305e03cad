package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"unilink/backend/apperr"
	"unilink/backend/db"
)

// Store handles attendance sessions and records.
type Store struct {
	db *sql.DB
}

func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn}
}

// sessionSelect annotates each session with its record counts. Members
// without a record only count as unmarked while the session is open.
const sessionSelect = `
	SELECT s.id, s.group_id, s.created_by, s.title, s.starts_at, s.ends_at, s.status, s.finalized_at, s.created_at,
	       (SELECT COUNT(*) FROM attendance_records r WHERE r.session_id = s.id AND r.status = 'present'),
	       (SELECT COUNT(*) FROM attendance_records r WHERE r.session_id = s.id AND r.status = 'absent'),
	       (SELECT COUNT(*) FROM attendance_records r WHERE r.session_id = s.id AND r.status = 'penalty'),
	       CASE WHEN s.status = 'open' THEN (
	           SELECT COUNT(*) FROM group_members m
	           WHERE m.group_id = s.group_id AND m.role = 'member'
	             AND NOT EXISTS (SELECT 1 FROM attendance_records r WHERE r.session_id = s.id AND r.student_id = m.profile_id)
	       ) ELSE 0 END
	FROM attendance_sessions s`

func scanSession(row interface{ Scan(...any) error }, s *Session) error {
	var endsAt, finalizedAt sql.NullTime
	if err := row.Scan(&s.ID, &s.GroupID, &s.CreatedBy, &s.Title, &s.StartsAt, &endsAt, &s.Status, &finalizedAt, &s.CreatedAt,
		&s.Counts.Present, &s.Counts.Absent, &s.Counts.Penalty, &s.Counts.Unmarked); err != nil {
		return err
	}
	s.EndsAt = timePtr(endsAt)
	s.FinalizedAt = timePtr(finalizedAt)
	return nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	now := db.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_sessions (group_id, created_by, title, starts_at, ends_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, 'open', ?)`,
		sess.GroupID, sess.CreatedBy, sess.Title, sess.StartsAt, nullTime(sess.EndsAt), now)
	if err != nil {
		return apperr.Internal("insert session", err)
	}
	if sess.ID, err = res.LastInsertId(); err != nil {
		return apperr.Internal("session id", err)
	}
	sess.Status = SessionOpen
	sess.CreatedAt = now
	return nil
}

func (s *Store) GetSession(ctx context.Context, id int64) (Session, error) {
	var sess Session
	err := scanSession(s.db.QueryRowContext(ctx, sessionSelect+` WHERE s.id = ?`, id), &sess)
	return sess, apperr.FromQuery(err, "session not found")
}

// ListSessions returns groupID's sessions, latest start first.
func (s *Store) ListSessions(ctx context.Context, groupID int64) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, sessionSelect+` WHERE s.group_id = ? ORDER BY s.starts_at DESC, s.id DESC`, groupID)
	if err != nil {
		return nil, apperr.Internal("list sessions", err)
	}
	defer rows.Close()

	out := []Session{}
	for rows.Next() {
		var sess Session
		if err := scanSession(rows, &sess); err != nil {
			return nil, apperr.Internal("scan session", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("list sessions", err)
	}
	return out, nil
}

// Records lists the records of sess. While the session is open, student
// members without a record are included as unmarked. A non-zero studentID
// restricts the result to that student.
func (s *Store) Records(ctx context.Context, sess Session, studentID int64) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.username, p.full_name, COALESCE(r.status, 'unmarked'), COALESCE(r.note, ''),
		       COALESCE(r.marked_by, 0), r.marked_at
		FROM profiles p
		LEFT JOIN attendance_records r ON r.session_id = ? AND r.student_id = p.id
		WHERE (r.student_id IS NOT NULL
		       OR (? = 'open' AND EXISTS (
		           SELECT 1 FROM group_members m WHERE m.group_id = ? AND m.profile_id = p.id AND m.role = 'member')))
		  AND (? = 0 OR p.id = ?)
		ORDER BY p.username`,
		sess.ID, sess.Status, sess.GroupID, studentID, studentID)
	if err != nil {
		return nil, apperr.Internal("list records", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var rec Record
		var markedAt sql.NullTime
		if err := rows.Scan(&rec.StudentID, &rec.Username, &rec.FullName, &rec.Status, &rec.Note, &rec.MarkedBy, &markedAt); err != nil {
			return nil, apperr.Internal("scan record", err)
		}
		rec.MarkedAt = timePtr(markedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("list records", err)
	}
	return out, nil
}

// openSession loads the group of sessionID inside tx, failing unless the
// session is still open.
func openSession(ctx context.Context, tx *sql.Tx, sessionID int64) (int64, error) {
	var groupID int64
	var status SessionStatus
	err := tx.QueryRowContext(ctx, `SELECT group_id, status FROM attendance_sessions WHERE id = ?`, sessionID).Scan(&groupID, &status)
	if err != nil {
		return 0, apperr.FromQuery(err, "session not found")
	}
	if status != SessionOpen {
		return 0, apperr.Conflict("session is already finalized")
	}
	return groupID, nil
}

// MarkRecords upserts marks for sessionID in one transaction. Every student
// must be a non-owner member of the session's group; any failure leaves the
// session untouched.
func (s *Store) MarkRecords(ctx context.Context, sessionID, markedBy int64, marks []Mark) error {
	now := db.Now()
	return db.WithTx(s.db, func(tx *sql.Tx) error {
		groupID, err := openSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		for _, m := range marks {
			var role string
			err := tx.QueryRowContext(ctx, `SELECT role FROM group_members WHERE group_id = ? AND profile_id = ?`,
				groupID, m.StudentID).Scan(&role)
			if errors.Is(err, sql.ErrNoRows) || role == "owner" {
				return apperr.Invalid(fmt.Sprintf("profile %d is not a student of this group", m.StudentID))
			}
			if err != nil {
				return apperr.Internal("lookup membership", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO attendance_records (session_id, student_id, status, note, marked_by, marked_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (session_id, student_id) DO UPDATE SET
					status = excluded.status, note = excluded.note,
					marked_by = excluded.marked_by, marked_at = excluded.marked_at`,
				sessionID, m.StudentID, m.Status, m.Note, markedBy, now); err != nil {
				return apperr.Internal("upsert record", err)
			}
		}
		return nil
	})
}

// Finalize marks every unmarked student absent and closes the session. It
// reports how many absences were filled in.
func (s *Store) Finalize(ctx context.Context, sessionID, finalizedBy int64) (int64, error) {
	now := db.Now()
	var filled int64
	err := db.WithTx(s.db, func(tx *sql.Tx) error {
		groupID, err := openSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_records (session_id, student_id, status, note, marked_by, marked_at)
			SELECT ?, m.profile_id, 'absent', '', ?, ?
			FROM group_members m
			WHERE m.group_id = ? AND m.role = 'member'
			  AND NOT EXISTS (SELECT 1 FROM attendance_records r WHERE r.session_id = ? AND r.student_id = m.profile_id)`,
			sessionID, finalizedBy, now, groupID, sessionID)
		if err != nil {
			return apperr.Internal("fill absences", err)
		}
		filled, _ = res.RowsAffected()

		if _, err := tx.ExecContext(ctx, `UPDATE attendance_sessions SET status = 'finalized', finalized_at = ? WHERE id = ?`,
			now, sessionID); err != nil {
			return apperr.Internal("finalize session", err)
		}
		return nil
	})
	return filled, err
}

func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM attendance_sessions WHERE id = ?`, id)
	if err != nil {
		return apperr.Internal("delete session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("session not found")
	}
	return nil
}

// StudentSummary tallies studentID's records across every session of groupID.
func (s *Store) StudentSummary(ctx context.Context, groupID, studentID int64) (Summary, error) {
	sum := Summary{GroupID: groupID, StudentID: studentID}
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM attendance_sessions WHERE group_id = ?),
		       COUNT(r.student_id),
		       COALESCE(SUM(CASE WHEN r.status = 'present' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN r.status = 'absent' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN r.status = 'penalty' THEN 1 ELSE 0 END), 0)
		FROM attendance_records r
		JOIN attendance_sessions s ON s.id = r.session_id
		WHERE s.group_id = ? AND r.student_id = ?`,
		groupID, groupID, studentID).Scan(&sum.Sessions, &sum.Marked, &sum.Present, &sum.Absent, &sum.Penalty)
	if err != nil {
		return Summary{}, apperr.Internal("attendance summary", err)
	}
	if sum.Marked > 0 {
		sum.AttendanceRate = float64(sum.Present) / float64(sum.Marked)
	}
	return sum, nil
}
