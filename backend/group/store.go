package group

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"unilink/backend/apperr"
	"unilink/backend/db"
)

// errCodeTaken signals a join code collision inside insertWithCode.
var errCodeTaken = errors.New("join code taken")

// Store handles groups and memberships.
type Store struct {
	db *sql.DB
	// NewCode draws join codes; replaced in tests to force collisions.
	NewCode func() (string, error)
}

func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn, NewCode: NewJoinCode}
}

const groupSelect = `
	SELECT g.id, g.name, g.description, g.kind, g.join_code, g.owner_id, p.username,
	       (SELECT COUNT(*) FROM group_members c WHERE c.group_id = g.id),
	       COALESCE(m.role, ''), g.created_at, g.updated_at
	FROM study_groups g
	JOIN profiles p ON p.id = g.owner_id
	LEFT JOIN group_members m ON m.group_id = g.id AND m.profile_id = ?`

func scanGroup(row interface{ Scan(...any) error }, g *Group) error {
	return row.Scan(&g.ID, &g.Name, &g.Description, &g.Kind, &g.JoinCode, &g.OwnerID, &g.OwnerUsername,
		&g.MemberCount, &g.MyRole, &g.CreatedAt, &g.UpdatedAt)
}

// withFreshCode runs insert with newly drawn codes until it stops reporting
// errCodeTaken, giving up after attempts draws.
func (s *Store) withFreshCode(attempts int, insert func(code string) error) (string, error) {
	for i := 0; i < attempts; i++ {
		code, err := s.NewCode()
		if err != nil {
			return "", apperr.Internal("draw join code", err)
		}
		err = insert(code)
		if errors.Is(err, errCodeTaken) {
			continue
		}
		return code, err
	}
	return "", apperr.Internal("allocate join code", errors.New("join code space exhausted"))
}

func isCodeViolation(err error) bool {
	return db.IsUniqueViolation(err) && strings.Contains(err.Error(), "join_code")
}

// Create inserts g owned by g.OwnerID, enrolling the owner, and assigns a join code.
func (s *Store) Create(ctx context.Context, g *Group, attempts int) error {
	now := db.Now()
	return db.WithTx(s.db, func(tx *sql.Tx) error {
		code, err := s.withFreshCode(attempts, func(code string) error {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO study_groups (name, description, kind, join_code, owner_id, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				g.Name, g.Description, g.Kind, code, g.OwnerID, now, now)
			if err != nil {
				if isCodeViolation(err) {
					return errCodeTaken
				}
				return apperr.Internal("insert group", err)
			}
			g.ID, err = res.LastInsertId()
			return err
		})
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO group_members (group_id, profile_id, role, joined_at) VALUES (?, ?, 'owner', ?)`,
			g.ID, g.OwnerID, now); err != nil {
			return apperr.Internal("insert owner membership", err)
		}
		g.JoinCode = code
		g.MemberCount = 1
		g.MyRole = RoleOwner
		g.CreatedAt, g.UpdatedAt = now, now
		return nil
	})
}

// Get returns group id as seen by viewer.
func (s *Store) Get(ctx context.Context, id, viewer int64) (Group, error) {
	var g Group
	err := scanGroup(s.db.QueryRowContext(ctx, groupSelect+` WHERE g.id = ?`, viewer, id), &g)
	return g, apperr.FromQuery(err, "group not found")
}

// GetByCode returns the group a normalized join code points at.
func (s *Store) GetByCode(ctx context.Context, code string, viewer int64) (Group, error) {
	var g Group
	err := scanGroup(s.db.QueryRowContext(ctx, groupSelect+` WHERE g.join_code = ?`, viewer, code), &g)
	return g, apperr.FromQuery(err, "no group uses this join code")
}

// ListForProfile returns every group profileID belongs to, most recently joined first.
func (s *Store) ListForProfile(ctx context.Context, profileID int64) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, groupSelect+` WHERE m.profile_id IS NOT NULL ORDER BY m.joined_at DESC, g.id DESC`, profileID)
	if err != nil {
		return nil, apperr.Internal("list groups", err)
	}
	defer rows.Close()

	out := []Group{}
	for rows.Next() {
		var g Group
		if err := scanGroup(rows, &g); err != nil {
			return nil, apperr.Internal("scan group", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Role returns profileID's role in groupID, or "" when not a member.
func (s *Store) Role(ctx context.Context, groupID, profileID int64) (MemberRole, error) {
	var role MemberRole
	err := s.db.QueryRowContext(ctx, `SELECT role FROM group_members WHERE group_id = ? AND profile_id = ?`,
		groupID, profileID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", apperr.Internal("lookup membership", err)
	}
	return role, nil
}

// Members lists groupID's members, owner first then by username.
func (s *Store) Members(ctx context.Context, groupID int64) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.username, p.full_name, m.role, p.role, p.avatar_key, m.joined_at
		FROM group_members m
		JOIN profiles p ON p.id = m.profile_id
		WHERE m.group_id = ?
		ORDER BY m.role = 'owner' DESC, p.username`, groupID)
	if err != nil {
		return nil, apperr.Internal("list members", err)
	}
	defer rows.Close()

	out := []Member{}
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ProfileID, &m.Username, &m.FullName, &m.Role, &m.UserRole, &m.AvatarKey, &m.JoinedAt); err != nil {
			return nil, apperr.Internal("scan member", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddMember enrolls profileID as a regular member.
func (s *Store) AddMember(ctx context.Context, groupID, profileID int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO group_members (group_id, profile_id, role, joined_at) VALUES (?, ?, 'member', ?)`,
		groupID, profileID, db.Now())
	if err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.Conflict("already a member of this group")
		}
		return apperr.Internal("insert membership", err)
	}
	return nil
}

// RemoveMember deletes a non-owner membership.
func (s *Store) RemoveMember(ctx context.Context, groupID, profileID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ? AND profile_id = ? AND role = 'member'`,
		groupID, profileID)
	if err != nil {
		return apperr.Internal("delete membership", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("member not found")
	}
	return nil
}

// Update persists name and description of g.
func (s *Store) Update(ctx context.Context, g *Group) error {
	now := db.Now()
	_, err := s.db.ExecContext(ctx, `UPDATE study_groups SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		g.Name, g.Description, now, g.ID)
	if err != nil {
		return apperr.Internal("update group", err)
	}
	g.UpdatedAt = now
	return nil
}

// RegenerateCode replaces the join code of groupID.
func (s *Store) RegenerateCode(ctx context.Context, groupID int64, attempts int) (string, error) {
	return s.withFreshCode(attempts, func(code string) error {
		_, err := s.db.ExecContext(ctx, `UPDATE study_groups SET join_code = ?, updated_at = ? WHERE id = ?`, code, db.Now(), groupID)
		if err != nil {
			if isCodeViolation(err) {
				return errCodeTaken
			}
			return apperr.Internal("update join code", err)
		}
		return nil
	})
}

// Delete removes groupID and everything hanging off it.
func (s *Store) Delete(ctx context.Context, groupID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM study_groups WHERE id = ?`, groupID)
	if err != nil {
		return apperr.Internal("delete group", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("group not found")
	}
	return nil
}
