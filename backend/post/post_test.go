package post

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"unilink/backend/db/dbtest"
	"unilink/backend/group"
	"unilink/backend/notification"
	"unilink/backend/storage"
	"unilink/backend/user"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg notification.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

type env struct {
	conn     *sql.DB
	groups   *group.Store
	dir      string
	notifier *recordingNotifier
	router   *mux.Router
}

func newEnv(t *testing.T) *env {
	t.Helper()
	conn := dbtest.New(t)
	dir := filepath.Join(t.TempDir(), "uploads")
	objects, err := storage.NewLocal(dir, "http://cdn.test", 1<<20)
	require.NoError(t, err)

	e := &env{conn: conn, groups: group.NewStore(conn), dir: dir, notifier: &recordingNotifier{}}
	h := &Handler{
		Store:          NewStore(conn),
		Groups:         e.groups,
		Objects:        objects,
		Notifier:       e.notifier,
		PageSize:       20,
		MaxUploadBytes: 1 << 20,
	}
	r := mux.NewRouter()
	r.HandleFunc("/posts", h.Feed).Methods(http.MethodGet)
	r.HandleFunc("/posts", h.CreatePost).Methods(http.MethodPost)
	r.HandleFunc("/posts/{id}", h.GetPost).Methods(http.MethodGet)
	r.HandleFunc("/posts/{id}", h.DeletePost).Methods(http.MethodDelete)
	r.HandleFunc("/posts/{id}/like", h.Like).Methods(http.MethodPost)
	r.HandleFunc("/posts/{id}/like", h.Unlike).Methods(http.MethodDelete)
	r.HandleFunc("/groups/{id}/posts", h.GroupFeed).Methods(http.MethodGet)
	r.HandleFunc("/profiles/{id}/posts", h.ProfilePosts).Methods(http.MethodGet)
	e.router = r
	return e
}

func (e *env) profile(t *testing.T, name string) int64 {
	return dbtest.InsertProfile(t, e.conn, name, "student")
}

func (e *env) group(t *testing.T, owner int64, members ...int64) int64 {
	t.Helper()
	g := group.Group{Name: "Algorithms", Kind: group.KindClass, OwnerID: owner}
	require.NoError(t, e.groups.Create(context.Background(), &g, 3))
	for _, m := range members {
		require.NoError(t, e.groups.AddMember(context.Background(), g.ID, m))
	}
	return g.ID
}

func (e *env) serve(t *testing.T, caller int64, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	req = req.WithContext(user.WithIdentity(req.Context(), user.Identity{ID: caller, Role: user.RoleStudent}))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) do(t *testing.T, caller int64, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return e.serve(t, caller, req)
}

func (e *env) post(t *testing.T, caller int64, body map[string]any) Post {
	t.Helper()
	rec := e.do(t, caller, http.MethodPost, "/posts", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p Post
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	return p
}

func decodePosts(t *testing.T, rec *httptest.ResponseRecorder) []Post {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var posts []Post
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&posts))
	return posts
}

func TestCreatePostValidation(t *testing.T) {
	e := newEnv(t)
	ada := e.profile(t, "ada")
	bob := e.profile(t, "bob")
	gid := e.group(t, bob)

	p := e.post(t, ada, map[string]any{"content": "  hello campus  "})
	require.Equal(t, "hello campus", p.Content)
	require.Equal(t, "ada", p.AuthorUsername)
	require.Nil(t, p.GroupID)
	require.Empty(t, p.ImageURL)

	rec := e.do(t, ada, http.MethodPost, "/posts", map[string]any{"content": "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, ada, http.MethodPost, "/posts", map[string]any{"content": strings.Repeat("é", MaxContentRunes+1)})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	p = e.post(t, ada, map[string]any{"content": strings.Repeat("é", MaxContentRunes)})
	require.Equal(t, MaxContentRunes, len([]rune(p.Content)))

	rec = e.do(t, ada, http.MethodPost, "/posts", map[string]any{"content": "sneaky", "group_id": gid})
	require.Equal(t, http.StatusForbidden, rec.Code)

	p = e.post(t, bob, map[string]any{"content": "group only", "group_id": gid})
	require.NotNil(t, p.GroupID)
	require.Equal(t, gid, *p.GroupID)
}

func multipartPost(t *testing.T, content string, withImage bool) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("content", content))
	if withImage {
		var img bytes.Buffer
		require.NoError(t, png.Encode(&img, image.NewGray(image.Rect(0, 0, 2, 2))))
		fw, err := mw.CreateFormFile("image", "photo.png")
		require.NoError(t, err)
		_, err = fw.Write(img.Bytes())
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/posts", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestImagePostLifecycle(t *testing.T) {
	e := newEnv(t)
	ada := e.profile(t, "ada")
	bob := e.profile(t, "bob")

	rec := e.serve(t, ada, multipartPost(t, "", false))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.serve(t, ada, multipartPost(t, "", true))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p Post
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	require.True(t, strings.HasPrefix(p.ImageURL, "http://cdn.test/uploads/posts/"), p.ImageURL)
	require.True(t, strings.HasSuffix(p.ImageURL, ".png"), p.ImageURL)

	key := strings.TrimPrefix(p.ImageURL, "http://cdn.test/uploads/")
	_, err := os.Stat(filepath.Join(e.dir, filepath.FromSlash(key)))
	require.NoError(t, err)

	rec = e.do(t, bob, http.MethodDelete, fmt.Sprintf("/posts/%d", p.ID), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, ada, http.MethodDelete, fmt.Sprintf("/posts/%d", p.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	_, err = os.Stat(filepath.Join(e.dir, filepath.FromSlash(key)))
	require.True(t, os.IsNotExist(err))

	rec = e.do(t, ada, http.MethodGet, fmt.Sprintf("/posts/%d", p.ID), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func oversizedImagePost(t *testing.T, size int) *http.Request {
	t.Helper()
	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewGray(image.Rect(0, 0, 2, 2))))
	img.Write(make([]byte, size-img.Len()))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "huge.png")
	require.NoError(t, err)
	_, err = fw.Write(img.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/posts", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestOversizedImageIsRejected(t *testing.T) {
	e := newEnv(t)
	ada := e.profile(t, "ada")

	for _, size := range []int{3 << 20, 3 << 19} {
		rec := e.serve(t, ada, oversizedImagePost(t, size))
		require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, "size %d: %s", size, rec.Body.String())
		var body map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Equal(t, "payload_too_large", body["error"])
	}

	entries, err := os.ReadDir(e.dir)
	require.NoError(t, err)
	for _, entry := range entries {
		files, err := os.ReadDir(filepath.Join(e.dir, entry.Name()))
		require.NoError(t, err)
		require.Empty(t, files)
	}
}

func TestFeedVisibilityAndPaging(t *testing.T) {
	e := newEnv(t)
	ada := e.profile(t, "ada")
	bob := e.profile(t, "bob")
	eve := e.profile(t, "eve")
	gid := e.group(t, ada, bob)

	public := e.post(t, ada, map[string]any{"content": "public"})
	private := e.post(t, bob, map[string]any{"content": "members", "group_id": gid})
	latest := e.post(t, eve, map[string]any{"content": "eve says hi"})

	posts := decodePosts(t, e.do(t, eve, http.MethodGet, "/posts", nil))
	require.Len(t, posts, 2)
	require.Equal(t, latest.ID, posts[0].ID)
	require.Equal(t, public.ID, posts[1].ID)

	posts = decodePosts(t, e.do(t, bob, http.MethodGet, "/posts", nil))
	require.Len(t, posts, 3)

	posts = decodePosts(t, e.do(t, bob, http.MethodGet, "/posts?limit=2", nil))
	require.Len(t, posts, 2)
	require.Equal(t, []int64{latest.ID, private.ID}, []int64{posts[0].ID, posts[1].ID})

	posts = decodePosts(t, e.do(t, bob, http.MethodGet, fmt.Sprintf("/posts?limit=2&before=%d", private.ID), nil))
	require.Len(t, posts, 1)
	require.Equal(t, public.ID, posts[0].ID)

	rec := e.do(t, bob, http.MethodGet, "/posts?limit=101", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, bob, http.MethodGet, "/posts?before=x", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, eve, http.MethodGet, fmt.Sprintf("/posts/%d", private.ID), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, eve, http.MethodGet, fmt.Sprintf("/groups/%d/posts", gid), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	posts = decodePosts(t, e.do(t, ada, http.MethodGet, fmt.Sprintf("/groups/%d/posts", gid), nil))
	require.Len(t, posts, 1)
	require.Equal(t, private.ID, posts[0].ID)

	posts = decodePosts(t, e.do(t, eve, http.MethodGet, fmt.Sprintf("/profiles/%d/posts", bob), nil))
	require.Empty(t, posts)
	posts = decodePosts(t, e.do(t, ada, http.MethodGet, fmt.Sprintf("/profiles/%d/posts", bob), nil))
	require.Len(t, posts, 1)
}

func TestLikeIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ada := e.profile(t, "ada")
	bob := e.profile(t, "bob")
	p := e.post(t, ada, map[string]any{"content": "like me"})
	path := fmt.Sprintf("/posts/%d/like", p.ID)

	var state LikeState
	for i := 0; i < 2; i++ {
		rec := e.do(t, bob, http.MethodPost, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
		require.Equal(t, LikeState{Liked: true, LikeCount: 1}, state)
	}
	require.Len(t, e.notifier.sent, 1)
	require.Equal(t, ada, e.notifier.sent[0].RecipientID)
	require.Equal(t, bob, e.notifier.sent[0].ActorID)
	require.Equal(t, notification.KindPostLiked, e.notifier.sent[0].Kind)
	require.Equal(t, p.ID, e.notifier.sent[0].PostID)

	rec := e.do(t, bob, http.MethodGet, fmt.Sprintf("/posts/%d", p.ID), nil)
	var got Post
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.True(t, got.LikedByMe)
	require.Equal(t, 1, got.LikeCount)

	rec = e.do(t, ada, http.MethodGet, fmt.Sprintf("/posts/%d", p.ID), nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.False(t, got.LikedByMe)

	for i := 0; i < 2; i++ {
		rec := e.do(t, bob, http.MethodDelete, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
		require.Equal(t, LikeState{Liked: false, LikeCount: 0}, state)
	}

	rec = e.do(t, bob, http.MethodPost, "/posts/999/like", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
