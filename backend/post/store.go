package post

import (
	"context"
	"database/sql"
	"strings"

	"unilink/backend/apperr"
	"unilink/backend/db"
)

// Store handles posts and likes.
type Store struct {
	db *sql.DB
}

func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn}
}

// postSelect takes the viewer id as its first parameter.
const postSelect = `
	SELECT p.id, p.author_id, a.username, a.full_name, a.avatar_key, p.group_id, p.content, p.image_key, p.created_at,
	       (SELECT COUNT(*) FROM post_likes l WHERE l.post_id = p.id),
	       (SELECT COUNT(*) FROM comments c WHERE c.post_id = p.id),
	       EXISTS (SELECT 1 FROM post_likes l WHERE l.post_id = p.id AND l.profile_id = ?)
	FROM posts p
	JOIN profiles a ON a.id = p.author_id`

// visibleTo restricts to public posts and posts of groups the viewer belongs to.
const visibleTo = `(p.group_id IS NULL OR EXISTS (
	SELECT 1 FROM group_members m WHERE m.group_id = p.group_id AND m.profile_id = ?))`

func scanPost(row interface{ Scan(...any) error }, p *Post) error {
	var groupID sql.NullInt64
	if err := row.Scan(&p.ID, &p.AuthorID, &p.AuthorUsername, &p.AuthorFullName, &p.AuthorAvatarKey, &groupID,
		&p.Content, &p.ImageKey, &p.CreatedAt, &p.LikeCount, &p.CommentCount, &p.LikedByMe); err != nil {
		return err
	}
	if groupID.Valid {
		id := groupID.Int64
		p.GroupID = &id
	}
	return nil
}

// Create inserts p and fills its id and timestamp.
func (s *Store) Create(ctx context.Context, p *Post) error {
	now := db.Now()
	var groupID any
	if p.GroupID != nil {
		groupID = *p.GroupID
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO posts (author_id, group_id, content, image_key, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.AuthorID, groupID, p.Content, p.ImageKey, now)
	if err != nil {
		return apperr.Internal("insert post", err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return apperr.Internal("post id", err)
	}
	p.CreatedAt = now
	return nil
}

// Get returns post id if viewer may see it. Hidden posts read as missing.
func (s *Store) Get(ctx context.Context, id, viewer int64) (Post, error) {
	var p Post
	err := scanPost(s.db.QueryRowContext(ctx, postSelect+` WHERE p.id = ? AND `+visibleTo, viewer, id, viewer), &p)
	return p, apperr.FromQuery(err, "post not found")
}

// Query selects a page of posts. Zero fields do not filter.
type Query struct {
	Viewer   int64
	GroupID  int64
	AuthorID int64
	// Before is a keyset cursor: only ids below it are returned.
	Before int64
	Limit  int
}

// List returns the posts matching q visible to q.Viewer, newest first.
func (s *Store) List(ctx context.Context, q Query) ([]Post, error) {
	where := []string{visibleTo}
	args := []any{q.Viewer, q.Viewer}
	if q.GroupID > 0 {
		where = append(where, "p.group_id = ?")
		args = append(args, q.GroupID)
	}
	if q.AuthorID > 0 {
		where = append(where, "p.author_id = ?")
		args = append(args, q.AuthorID)
	}
	if q.Before > 0 {
		where = append(where, "p.id < ?")
		args = append(args, q.Before)
	}
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, postSelect+` WHERE `+strings.Join(where, " AND ")+` ORDER BY p.id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, apperr.Internal("list posts", err)
	}
	defer rows.Close()

	out := []Post{}
	for rows.Next() {
		var p Post
		if err := scanPost(rows, &p); err != nil {
			return nil, apperr.Internal("scan post", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("list posts", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return apperr.Internal("delete post", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("post not found")
	}
	return nil
}

// Like records profileID's like on postID. It reports whether the like is new.
func (s *Store) Like(ctx context.Context, postID, profileID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO post_likes (post_id, profile_id, created_at) VALUES (?, ?, ?)`,
		postID, profileID, db.Now())
	if err != nil {
		return false, apperr.Internal("like post", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) Unlike(ctx context.Context, postID, profileID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM post_likes WHERE post_id = ? AND profile_id = ?`, postID, profileID); err != nil {
		return apperr.Internal("unlike post", err)
	}
	return nil
}

func (s *Store) LikeCount(ctx context.Context, postID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM post_likes WHERE post_id = ?`, postID).Scan(&n); err != nil {
		return 0, apperr.Internal("count likes", err)
	}
	return n, nil
}
