package group

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"unilink/backend/apperr"
	"unilink/backend/db/dbtest"
	"unilink/backend/notification"
	"unilink/backend/user"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n notification.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

type noAvatars struct{}

func (noAvatars) URL(key string) string { return key }

type env struct {
	conn     *sql.DB
	store    *Store
	notifier *fakeNotifier
	router   *mux.Router
}

func newEnv(t *testing.T) *env {
	t.Helper()
	conn := dbtest.New(t)
	e := &env{conn: conn, store: NewStore(conn), notifier: &fakeNotifier{}}
	h := &Handler{
		Store:            e.store,
		Profiles:         user.NewStore(conn),
		Notifier:         e.notifier,
		Avatars:          noAvatars{},
		JoinCodeAttempts: 5,
	}
	r := mux.NewRouter()
	r.HandleFunc("/groups", h.ListMine).Methods(http.MethodGet)
	r.HandleFunc("/groups", h.CreateGroup).Methods(http.MethodPost)
	r.HandleFunc("/groups/join", h.Join).Methods(http.MethodPost)
	r.HandleFunc("/groups/code/{code}", h.PreviewByCode).Methods(http.MethodGet)
	r.HandleFunc("/groups/{id}", h.GetGroup).Methods(http.MethodGet)
	r.HandleFunc("/groups/{id}", h.UpdateGroup).Methods(http.MethodPatch)
	r.HandleFunc("/groups/{id}", h.DeleteGroup).Methods(http.MethodDelete)
	r.HandleFunc("/groups/{id}/members", h.ListMembers).Methods(http.MethodGet)
	r.HandleFunc("/groups/{id}/members", h.AddMember).Methods(http.MethodPost)
	r.HandleFunc("/groups/{id}/members/{profileID}", h.RemoveMember).Methods(http.MethodDelete)
	r.HandleFunc("/groups/{id}/leave", h.Leave).Methods(http.MethodPost)
	r.HandleFunc("/groups/{id}/code", h.RegenerateCode).Methods(http.MethodPost)
	e.router = r
	return e
}

func (e *env) do(t *testing.T, who user.Identity, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(user.WithIdentity(req.Context(), who))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) profile(t *testing.T, name string, role user.Role) user.Identity {
	return user.Identity{ID: dbtest.InsertProfile(t, e.conn, name, string(role)), Role: role}
}

func (e *env) create(t *testing.T, who user.Identity, name string, kind Kind) Group {
	t.Helper()
	rec := e.do(t, who, http.MethodPost, "/groups", map[string]any{"name": name, "kind": kind})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var g Group
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&g))
	return g
}

func TestJoinCodeFormat(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := NewJoinCode()
		require.NoError(t, err)
		norm, ok := NormalizeJoinCode(code)
		require.True(t, ok, code)
		require.Equal(t, code, norm)
	}

	norm, ok := NormalizeJoinCode("  abc234 ")
	require.True(t, ok)
	require.Equal(t, "ABC234", norm)

	for _, bad := range []string{"", "ABC", "ABCDEFG", "ABCD0I", "AB-234"} {
		_, ok := NormalizeJoinCode(bad)
		require.False(t, ok, bad)
	}
}

func TestCreateRetriesOnCodeCollision(t *testing.T) {
	e := newEnv(t)
	owner := e.profile(t, "ada", user.RoleTeacher)
	ctx := context.Background()

	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	e.store.NewCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	first := Group{Name: "one", Kind: KindClass, OwnerID: owner.ID}
	require.NoError(t, e.store.Create(ctx, &first, 3))
	require.Equal(t, "AAAAAA", first.JoinCode)

	second := Group{Name: "two", Kind: KindClass, OwnerID: owner.ID}
	require.NoError(t, e.store.Create(ctx, &second, 3))
	require.Equal(t, "BBBBBB", second.JoinCode)

	// bounded: every draw collides
	e.store.NewCode = func() (string, error) { return "AAAAAA", nil }
	third := Group{Name: "three", Kind: KindClass, OwnerID: owner.ID}
	err := e.store.Create(ctx, &third, 4)
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeInternal, appErr.Code)

	var count int
	require.NoError(t, e.conn.QueryRow(`SELECT COUNT(*) FROM study_groups`).Scan(&count))
	require.Equal(t, 2, count)
	require.NoError(t, e.conn.QueryRow(`SELECT COUNT(*) FROM group_members`).Scan(&count))
	require.Equal(t, 2, count)

	_, err = e.store.RegenerateCode(ctx, second.ID, 2)
	require.Error(t, err)
}

func TestCreateGroupRules(t *testing.T) {
	e := newEnv(t)
	teacher := e.profile(t, "ada", user.RoleTeacher)
	student := e.profile(t, "bob", user.RoleStudent)

	g := e.create(t, teacher, "  Algorithms  ", KindAttendance)
	require.Equal(t, "Algorithms", g.Name)
	require.Equal(t, RoleOwner, g.MyRole)
	require.Equal(t, 1, g.MemberCount)
	require.Equal(t, "ada", g.OwnerUsername)
	require.Len(t, g.JoinCode, JoinCodeLength)

	rec := e.do(t, student, http.MethodPost, "/groups", map[string]any{"name": "Cohort", "kind": KindAttendance})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, student, http.MethodPost, "/groups", map[string]any{"name": "  "})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, student, http.MethodPost, "/groups", map[string]any{"name": "Club", "kind": "party"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	club := e.create(t, student, "Study club", "")
	require.Equal(t, KindClass, club.Kind)
}

func TestJoinByCode(t *testing.T) {
	e := newEnv(t)
	teacher := e.profile(t, "ada", user.RoleTeacher)
	other := e.profile(t, "turing", user.RoleTeacher)
	student := e.profile(t, "bob", user.RoleStudent)
	g := e.create(t, teacher, "Algorithms", KindAttendance)

	rec := e.do(t, student, http.MethodGet, "/groups/code/"+g.JoinCode, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var preview Group
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&preview))
	require.Equal(t, "Algorithms", preview.Name)
	require.Empty(t, preview.JoinCode)
	require.Empty(t, preview.MyRole)

	rec = e.do(t, student, http.MethodPost, "/groups/join", map[string]string{"code": " " + toLower(g.JoinCode) + " "})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var joined Group
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&joined))
	require.Equal(t, RoleMember, joined.MyRole)
	require.Equal(t, 2, joined.MemberCount)

	require.Len(t, e.notifier.sent, 1)
	require.Equal(t, teacher.ID, e.notifier.sent[0].RecipientID)
	require.Equal(t, notification.KindGroupJoined, e.notifier.sent[0].Kind)

	rec = e.do(t, student, http.MethodPost, "/groups/join", map[string]string{"code": g.JoinCode})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, other, http.MethodPost, "/groups/join", map[string]string{"code": g.JoinCode})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, other, http.MethodPost, "/groups/join", map[string]string{"code": "ZZZZZZ"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, other, http.MethodPost, "/groups/join", map[string]string{"code": "nope"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMembership(t *testing.T) {
	e := newEnv(t)
	teacher := e.profile(t, "ada", user.RoleTeacher)
	bob := e.profile(t, "bob", user.RoleStudent)
	eve := e.profile(t, "eve", user.RoleStudent)
	prof := e.profile(t, "turing", user.RoleTeacher)
	g := e.create(t, teacher, "Algorithms", KindAttendance)
	base := fmt.Sprintf("/groups/%d", g.ID)

	rec := e.do(t, bob, http.MethodGet, base, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, bob, http.MethodPost, base+"/members", map[string]string{"username": "eve"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, teacher, http.MethodPost, base+"/members", map[string]string{"username": "bob"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = e.do(t, teacher, http.MethodPost, base+"/members", map[string]string{"username": "BOB"})
	require.Equal(t, http.StatusConflict, rec.Code)
	rec = e.do(t, teacher, http.MethodPost, base+"/members", map[string]string{"username": "turing"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, teacher, http.MethodPost, base+"/members", map[string]string{"username": "ghost"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(t, teacher, http.MethodPost, base+"/members", map[string]string{"username": "eve"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, bob, http.MethodGet, base+"/members", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var members []Member
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&members))
	require.Len(t, members, 3)
	require.Equal(t, RoleOwner, members[0].Role)
	require.Equal(t, "bob", members[1].Username)
	require.Equal(t, "student", members[1].UserRole)

	rec = e.do(t, teacher, http.MethodDelete, fmt.Sprintf("%s/members/%d", base, teacher.ID), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, teacher, http.MethodDelete, fmt.Sprintf("%s/members/%d", base, eve.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, teacher, http.MethodDelete, fmt.Sprintf("%s/members/%d", base, prof.ID), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, teacher, http.MethodPost, base+"/leave", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	rec = e.do(t, bob, http.MethodPost, base+"/leave", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, bob, http.MethodGet, "/groups", nil)
	var mine []Group
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&mine))
	require.Empty(t, mine)

	rec = e.do(t, teacher, http.MethodGet, "/groups", nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&mine))
	require.Len(t, mine, 1)
	require.Equal(t, 1, mine[0].MemberCount)
}

func TestOwnerOperations(t *testing.T) {
	e := newEnv(t)
	teacher := e.profile(t, "ada", user.RoleTeacher)
	bob := e.profile(t, "bob", user.RoleStudent)
	g := e.create(t, teacher, "Algorithms", KindClass)
	base := fmt.Sprintf("/groups/%d", g.ID)
	require.NoError(t, e.store.AddMember(context.Background(), g.ID, bob.ID))

	rec := e.do(t, bob, http.MethodPatch, base, map[string]string{"name": "Hijacked"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, teacher, http.MethodPatch, base, map[string]string{"name": "Algorithms II", "description": "graphs"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated Group
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	require.Equal(t, "Algorithms II", updated.Name)
	require.Equal(t, "graphs", updated.Description)

	rec = e.do(t, teacher, http.MethodPost, base+"/code", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.NotEqual(t, g.JoinCode, out["join_code"])

	rec = e.do(t, bob, http.MethodPost, "/groups/join", map[string]string{"code": g.JoinCode})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, bob, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = e.do(t, teacher, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, teacher, http.MethodGet, base, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var count int
	require.NoError(t, e.conn.QueryRow(`SELECT COUNT(*) FROM group_members`).Scan(&count))
	require.Zero(t, count)
}

func toLower(s string) string {
	return string(bytes.ToLower([]byte(s)))
}
