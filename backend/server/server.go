// Package server wires the domain handlers into one HTTP handler.
package server

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"unilink/backend/apperr"
	"unilink/backend/attendance"
	"unilink/backend/comment"
	"unilink/backend/config"
	"unilink/backend/group"
	"unilink/backend/notification"
	"unilink/backend/post"
	"unilink/backend/realtime"
	"unilink/backend/storage"
	"unilink/backend/user"
)

// Server holds the wired application.
type Server struct {
	db      *sql.DB
	tokens  *user.Tokens
	hub     *realtime.Hub
	objects *storage.Local

	users         *user.Handler
	posts         *post.Handler
	comments      *comment.Handler
	groups        *group.Handler
	attendance    *attendance.Handler
	notifications *notification.Handler

	allowedOrigin string
}

// New builds every store and handler on top of conn.
func New(cfg config.Config, conn *sql.DB) (*Server, error) {
	objects, err := storage.NewLocal(cfg.Storage.Dir, cfg.Storage.PublicBaseURL, cfg.Storage.MaxUploadBytes)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	tokens := user.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	hub := realtime.NewHub(tokens, cfg.Server.AllowedOrigin)
	notes := notification.NewService(conn, hub)

	profiles := user.NewStore(conn)
	groups := group.NewStore(conn)
	posts := post.NewStore(conn)

	return &Server{
		db:      conn,
		tokens:  tokens,
		hub:     hub,
		objects: objects,
		users: &user.Handler{
			Store:          profiles,
			Tokens:         tokens,
			Objects:        objects,
			MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		},
		posts: &post.Handler{
			Store:          posts,
			Groups:         groups,
			Objects:        objects,
			Notifier:       notes,
			PageSize:       cfg.Feed.PageSize,
			MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		},
		comments: &comment.Handler{
			Store:    comment.NewStore(conn),
			Posts:    posts,
			Notifier: notes,
			Avatars:  objects,
		},
		groups: &group.Handler{
			Store:            groups,
			Profiles:         profiles,
			Notifier:         notes,
			Avatars:          objects,
			JoinCodeAttempts: cfg.Groups.JoinCodeAttempts,
		},
		attendance: &attendance.Handler{
			Store:    attendance.NewStore(conn),
			Groups:   groups,
			Notifier: notes,
		},
		notifications: &notification.Handler{Service: notes},
		allowedOrigin: cfg.Server.AllowedOrigin,
	}, nil
}

// Hub exposes the realtime hub.
func (s *Server) Hub() *realtime.Hub { return s.hub }

// Handler returns the root handler with CORS and request logging applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.hub.ServeWS)
	r.PathPrefix(storage.URLPrefix).Handler(s.objects.Handler()).Methods(http.MethodGet, http.MethodHead)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", s.users.Register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.users.Login).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(user.RequireAuth(s.tokens))

	authed.HandleFunc("/me", s.users.Me).Methods(http.MethodGet)
	authed.HandleFunc("/me", s.users.UpdateMe).Methods(http.MethodPatch)
	authed.HandleFunc("/me/avatar", s.users.UploadAvatar).Methods(http.MethodPost)
	authed.HandleFunc("/profiles", s.users.Search).Methods(http.MethodGet)
	authed.HandleFunc("/profiles/{id:[0-9]+}", s.users.GetProfile).Methods(http.MethodGet)
	authed.HandleFunc("/profiles/{id:[0-9]+}/posts", s.posts.ProfilePosts).Methods(http.MethodGet)

	authed.HandleFunc("/posts", s.posts.Feed).Methods(http.MethodGet)
	authed.HandleFunc("/posts", s.posts.CreatePost).Methods(http.MethodPost)
	authed.HandleFunc("/posts/{id:[0-9]+}", s.posts.GetPost).Methods(http.MethodGet)
	authed.HandleFunc("/posts/{id:[0-9]+}", s.posts.DeletePost).Methods(http.MethodDelete)
	authed.HandleFunc("/posts/{id:[0-9]+}/like", s.posts.Like).Methods(http.MethodPost)
	authed.HandleFunc("/posts/{id:[0-9]+}/like", s.posts.Unlike).Methods(http.MethodDelete)
	authed.HandleFunc("/posts/{id:[0-9]+}/comments", s.comments.ListComments).Methods(http.MethodGet)
	authed.HandleFunc("/posts/{id:[0-9]+}/comments", s.comments.CreateComment).Methods(http.MethodPost)
	authed.HandleFunc("/comments/{id:[0-9]+}", s.comments.DeleteComment).Methods(http.MethodDelete)

	authed.HandleFunc("/groups", s.groups.ListMine).Methods(http.MethodGet)
	authed.HandleFunc("/groups", s.groups.CreateGroup).Methods(http.MethodPost)
	authed.HandleFunc("/groups/join", s.groups.Join).Methods(http.MethodPost)
	authed.HandleFunc("/groups/code/{code}", s.groups.PreviewByCode).Methods(http.MethodGet)
	authed.HandleFunc("/groups/{id:[0-9]+}", s.groups.GetGroup).Methods(http.MethodGet)
	authed.HandleFunc("/groups/{id:[0-9]+}", s.groups.UpdateGroup).Methods(http.MethodPatch)
	authed.HandleFunc("/groups/{id:[0-9]+}", s.groups.DeleteGroup).Methods(http.MethodDelete)
	authed.HandleFunc("/groups/{id:[0-9]+}/members", s.groups.ListMembers).Methods(http.MethodGet)
	authed.HandleFunc("/groups/{id:[0-9]+}/members", s.groups.AddMember).Methods(http.MethodPost)
	authed.HandleFunc("/groups/{id:[0-9]+}/members/{profileID:[0-9]+}", s.groups.RemoveMember).Methods(http.MethodDelete)
	authed.HandleFunc("/groups/{id:[0-9]+}/leave", s.groups.Leave).Methods(http.MethodPost)
	authed.HandleFunc("/groups/{id:[0-9]+}/code", s.groups.RegenerateCode).Methods(http.MethodPost)
	authed.HandleFunc("/groups/{id:[0-9]+}/posts", s.posts.GroupFeed).Methods(http.MethodGet)
	authed.HandleFunc("/groups/{id:[0-9]+}/sessions", s.attendance.ListSessions).Methods(http.MethodGet)
	authed.HandleFunc("/groups/{id:[0-9]+}/sessions", s.attendance.CreateSession).Methods(http.MethodPost)
	authed.HandleFunc("/groups/{id:[0-9]+}/attendance/{profileID:[0-9]+}", s.attendance.StudentSummary).Methods(http.MethodGet)

	authed.HandleFunc("/sessions/{id:[0-9]+}", s.attendance.GetSession).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/{id:[0-9]+}", s.attendance.DeleteSession).Methods(http.MethodDelete)
	authed.HandleFunc("/sessions/{id:[0-9]+}/records", s.attendance.MarkBulk).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/{id:[0-9]+}/records/{studentID:[0-9]+}", s.attendance.Mark).Methods(http.MethodPut)
	authed.HandleFunc("/sessions/{id:[0-9]+}/finalize", s.attendance.Finalize).Methods(http.MethodPost)

	authed.HandleFunc("/notifications", s.notifications.List).Methods(http.MethodGet)
	authed.HandleFunc("/notifications/unread", s.notifications.Unread).Methods(http.MethodGet)
	authed.HandleFunc("/notifications/read-all", s.notifications.MarkAllRead).Methods(http.MethodPost)
	authed.HandleFunc("/notifications/{id:[0-9]+}/read", s.notifications.MarkRead).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		apperr.Write(w, "HTTP", apperr.NotFound("no such endpoint"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		apperr.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{
			"error":   "method_not_allowed",
			"message": "method not allowed",
		})
	})

	return allowCORS(s.allowedOrigin, logRequests(r))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		log.Printf("[Health] Database ping failed: %v", err)
		apperr.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
