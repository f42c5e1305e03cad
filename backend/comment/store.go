package comment

import (
	"context"
	"database/sql"

	"unilink/backend/apperr"
	"unilink/backend/db"
)

type Store struct {
	db *sql.DB
}

func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn}
}

const commentSelect = `
	SELECT c.id, c.post_id, c.author_id, a.username, a.avatar_key, c.content, c.created_at
	FROM comments c
	JOIN profiles a ON a.id = c.author_id`

func scanComment(row interface{ Scan(...any) error }, c *Comment) error {
	return row.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.AuthorUsername, &c.AuthorAvatarKey, &c.Content, &c.CreatedAt)
}

// List returns the comments on postID, oldest first.
func (s *Store) List(ctx context.Context, postID int64) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, commentSelect+` WHERE c.post_id = ? ORDER BY c.id ASC`, postID)
	if err != nil {
		return nil, apperr.Internal("list comments", err)
	}
	defer rows.Close()

	out := []Comment{}
	for rows.Next() {
		var c Comment
		if err := scanComment(rows, &c); err != nil {
			return nil, apperr.Internal("scan comment", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("list comments", err)
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, c *Comment) error {
	now := db.Now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO comments (post_id, author_id, content, created_at) VALUES (?, ?, ?, ?)`,
		c.PostID, c.AuthorID, c.Content, now)
	if err != nil {
		return apperr.Internal("insert comment", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return apperr.Internal("comment id", err)
	}
	c.CreatedAt = now
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (Comment, error) {
	var c Comment
	err := scanComment(s.db.QueryRowContext(ctx, commentSelect+` WHERE c.id = ?`, id), &c)
	return c, apperr.FromQuery(err, "comment not found")
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, id)
	if err != nil {
		return apperr.Internal("delete comment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("comment not found")
	}
	return nil
}
