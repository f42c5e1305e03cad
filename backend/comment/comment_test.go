package comment

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"unilink/backend/db/dbtest"
	"unilink/backend/group"
	"unilink/backend/notification"
	"unilink/backend/post"
	"unilink/backend/user"
)

type avatars struct{}

func (avatars) URL(key string) string {
	if key == "" {
		return ""
	}
	return "/uploads/" + key
}

type env struct {
	conn   *sql.DB
	posts  *post.Store
	notes  *notification.Service
	router *mux.Router
}

func newEnv(t *testing.T) *env {
	t.Helper()
	conn := dbtest.New(t)
	e := &env{conn: conn, posts: post.NewStore(conn), notes: notification.NewService(conn, nil)}
	h := &Handler{Store: NewStore(conn), Posts: e.posts, Notifier: e.notes, Avatars: avatars{}}

	r := mux.NewRouter()
	r.HandleFunc("/posts/{id}/comments", h.ListComments).Methods(http.MethodGet)
	r.HandleFunc("/posts/{id}/comments", h.CreateComment).Methods(http.MethodPost)
	r.HandleFunc("/comments/{id}", h.DeleteComment).Methods(http.MethodDelete)
	e.router = r
	return e
}

func (e *env) do(t *testing.T, caller int64, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(user.WithIdentity(req.Context(), user.Identity{ID: caller, Role: user.RoleStudent}))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) newPost(t *testing.T, author int64, groupID *int64) int64 {
	t.Helper()
	p := post.Post{AuthorID: author, GroupID: groupID, Content: "post"}
	require.NoError(t, e.posts.Create(context.Background(), &p))
	return p.ID
}

func (e *env) comment(t *testing.T, caller, postID int64, content string) Comment {
	t.Helper()
	rec := e.do(t, caller, http.MethodPost, fmt.Sprintf("/posts/%d/comments", postID), map[string]string{"content": content})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c Comment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&c))
	return c
}

func TestCommentFlow(t *testing.T) {
	e := newEnv(t)
	ada := dbtest.InsertProfile(t, e.conn, "ada", "student")
	bob := dbtest.InsertProfile(t, e.conn, "bob", "student")
	postID := e.newPost(t, ada, nil)

	first := e.comment(t, bob, postID, "  nice  ")
	require.Equal(t, "nice", first.Content)
	require.Equal(t, "bob", first.AuthorUsername)
	e.comment(t, ada, postID, "thanks")

	rec := e.do(t, bob, http.MethodGet, fmt.Sprintf("/posts/%d/comments", postID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var comments []Comment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&comments))
	require.Len(t, comments, 2)
	require.Equal(t, "nice", comments[0].Content)
	require.Equal(t, "thanks", comments[1].Content)

	// self-comments are not notified
	unread, err := e.notes.UnreadCount(context.Background(), ada)
	require.NoError(t, err)
	require.Equal(t, 1, unread)
	notes, err := e.notes.List(context.Background(), ada, 10, false)
	require.NoError(t, err)
	require.Equal(t, notification.KindPostCommented, notes[0].Kind)
	require.Equal(t, postID, notes[0].PostID)
}

func TestCommentValidation(t *testing.T) {
	e := newEnv(t)
	ada := dbtest.InsertProfile(t, e.conn, "ada", "student")
	eve := dbtest.InsertProfile(t, e.conn, "eve", "student")
	postID := e.newPost(t, ada, nil)

	rec := e.do(t, ada, http.MethodPost, fmt.Sprintf("/posts/%d/comments", postID), map[string]string{"content": "  "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, ada, http.MethodPost, fmt.Sprintf("/posts/%d/comments", postID), map[string]string{"content": strings.Repeat("x", MaxContentRunes+1)})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, ada, http.MethodPost, "/posts/999/comments", map[string]string{"content": "hi"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	groups := group.NewStore(e.conn)
	g := group.Group{Name: "Private", Kind: group.KindClass, OwnerID: ada}
	require.NoError(t, groups.Create(context.Background(), &g, 3))
	hidden := e.newPost(t, ada, &g.ID)

	rec = e.do(t, eve, http.MethodPost, fmt.Sprintf("/posts/%d/comments", hidden), map[string]string{"content": "hi"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(t, eve, http.MethodGet, fmt.Sprintf("/posts/%d/comments", hidden), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteCommentPermissions(t *testing.T) {
	e := newEnv(t)
	ada := dbtest.InsertProfile(t, e.conn, "ada", "student")
	bob := dbtest.InsertProfile(t, e.conn, "bob", "student")
	eve := dbtest.InsertProfile(t, e.conn, "eve", "student")
	postID := e.newPost(t, ada, nil)

	byBob := e.comment(t, bob, postID, "one")
	byEve := e.comment(t, eve, postID, "two")

	rec := e.do(t, eve, http.MethodDelete, fmt.Sprintf("/comments/%d", byBob.ID), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, bob, http.MethodDelete, fmt.Sprintf("/comments/%d", byBob.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, ada, http.MethodDelete, fmt.Sprintf("/comments/%d", byEve.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, ada, http.MethodDelete, fmt.Sprintf("/comments/%d", byEve.ID), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
