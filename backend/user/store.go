package user

import (
	"context"
	"database/sql"
	"strings"

	"unilink/backend/apperr"
	"unilink/backend/db"
)

// Store handles profiles.
type Store struct {
	db *sql.DB
}

func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn}
}

const profileColumns = `id, email, username, full_name, role, bio, avatar_key, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }, p *Profile, extra ...any) error {
	dest := []any{&p.ID, &p.Email, &p.Username, &p.FullName, &p.Role, &p.Bio, &p.AvatarKey, &p.CreatedAt, &p.UpdatedAt}
	return row.Scan(append(dest, extra...)...)
}

// Create inserts p with the given password hash and fills its id and timestamps.
func (s *Store) Create(ctx context.Context, p *Profile, passwordHash string) error {
	now := db.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (email, username, password_hash, full_name, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Email, p.Username, passwordHash, p.FullName, p.Role, now, now)
	if err != nil {
		if db.IsUniqueViolation(err) {
			if strings.Contains(err.Error(), "profiles.email") {
				return apperr.Conflict("email already registered")
			}
			return apperr.Conflict("username already taken")
		}
		return apperr.Internal("insert profile", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return apperr.Internal("insert profile", err)
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

func (s *Store) ByID(ctx context.Context, id int64) (Profile, error) {
	var p Profile
	err := scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id), &p)
	return p, apperr.FromQuery(err, "profile not found")
}

func (s *Store) ByUsername(ctx context.Context, username string) (Profile, error) {
	var p Profile
	err := scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE username = ?`,
		strings.ToLower(strings.TrimSpace(username))), &p)
	return p, apperr.FromQuery(err, "profile not found")
}

// Credentials looks a profile up by email or username and returns its password hash.
func (s *Store) Credentials(ctx context.Context, login string) (Profile, string, error) {
	var p Profile
	var hash string
	login = strings.ToLower(strings.TrimSpace(login))
	err := scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+`, password_hash FROM profiles WHERE email = ? OR username = ?`, login, login), &p, &hash)
	return p, hash, apperr.FromQuery(err, "profile not found")
}

// Update persists full name and bio of p.
func (s *Store) Update(ctx context.Context, p *Profile) error {
	now := db.Now()
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET full_name = ?, bio = ?, updated_at = ? WHERE id = ?`,
		p.FullName, p.Bio, now, p.ID)
	if err != nil {
		return apperr.Internal("update profile", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("profile not found")
	}
	p.UpdatedAt = now
	return nil
}

// SetAvatar stores key and returns the key it replaced.
func (s *Store) SetAvatar(ctx context.Context, id int64, key string) (string, error) {
	var old string
	err := db.WithTx(s.db, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT avatar_key FROM profiles WHERE id = ?`, id).Scan(&old); err != nil {
			return apperr.FromQuery(err, "profile not found")
		}
		_, err := tx.ExecContext(ctx, `UPDATE profiles SET avatar_key = ?, updated_at = ? WHERE id = ?`, key, db.Now(), id)
		return err
	})
	if err != nil {
		return "", apperr.FromQuery(err, "profile not found")
	}
	return old, nil
}

// Search returns profiles whose username or full name starts with q.
func (s *Store) Search(ctx context.Context, q string, role Role, limit int) ([]Profile, error) {
	pattern := escapeLike(strings.ToLower(strings.TrimSpace(q))) + "%"
	query := `SELECT ` + profileColumns + ` FROM profiles
		WHERE (username LIKE ? ESCAPE '\' OR lower(full_name) LIKE ? ESCAPE '\')`
	args := []any{pattern, pattern}
	if role != "" {
		query += ` AND role = ?`
		args = append(args, role)
	}
	query += ` ORDER BY username LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Internal("search profiles", err)
	}
	defer rows.Close()

	out := []Profile{}
	for rows.Next() {
		var p Profile
		if err := scanProfile(rows, &p); err != nil {
			return nil, apperr.Internal("scan profile", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
