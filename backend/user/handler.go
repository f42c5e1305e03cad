package user

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"unilink/backend/apperr"
)

// ObjectStore is the slice of storage the profile handlers need.
type ObjectStore interface {
	SaveFormFile(r *http.Request, field, prefix string) (string, error)
	URL(key string) string
	Delete(ctx context.Context, key string) error
}

// Handler serves the auth and profile endpoints.
type Handler struct {
	Store   *Store
	Tokens  *Tokens
	Objects ObjectStore
	// MaxUploadBytes bounds multipart bodies.
	MaxUploadBytes int64
}

type authResponse struct {
	Token   string  `json:"token"`
	Profile Profile `json:"profile"`
}

// present fills derived fields; email is only shown to its owner.
func (h *Handler) present(p Profile, self bool) Profile {
	p.AvatarURL = h.Objects.URL(p.AvatarKey)
	if !self {
		p.Email = ""
	}
	return p
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registration
	if err := apperr.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, "Register", err)
		return
	}
	if err := req.normalize(); err != nil {
		apperr.Write(w, "Register", err)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		apperr.Write(w, "Register", apperr.Internal("hash password", err))
		return
	}

	p := Profile{Email: req.Email, Username: req.Username, FullName: req.FullName, Role: req.Role}
	if err := h.Store.Create(r.Context(), &p, string(hashed)); err != nil {
		apperr.Write(w, "Register", err)
		return
	}

	token, err := h.Tokens.Issue(p)
	if err != nil {
		apperr.Write(w, "Register", apperr.Internal("issue token", err))
		return
	}

	log.Printf("[Register] Profile %d (%s) registered as %s", p.ID, p.Username, p.Role)
	apperr.WriteJSON(w, http.StatusCreated, authResponse{Token: token, Profile: h.present(p, true)})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := apperr.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, "Login", err)
		return
	}

	invalid := apperr.New(apperr.CodeUnauthenticated, "invalid credentials")
	p, hash, err := h.Store.Credentials(r.Context(), req.Login)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			apperr.Write(w, "Login", invalid)
			return
		}
		apperr.Write(w, "Login", err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		log.Printf("[Login] Invalid password for id=%d", p.ID)
		apperr.Write(w, "Login", invalid)
		return
	}

	token, err := h.Tokens.Issue(p)
	if err != nil {
		apperr.Write(w, "Login", apperr.Internal("issue token", err))
		return
	}
	log.Printf("[Login] Profile %d logged in", p.ID)
	apperr.WriteJSON(w, http.StatusOK, authResponse{Token: token, Profile: h.present(p, true)})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.ByID(r.Context(), Caller(r).ID)
	if err != nil {
		apperr.Write(w, "Profiles", err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, h.present(p, true))
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req profileUpdate
	if err := apperr.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, "Profiles", err)
		return
	}

	p, err := h.Store.ByID(r.Context(), Caller(r).ID)
	if err != nil {
		apperr.Write(w, "Profiles", err)
		return
	}
	if err := req.apply(&p); err != nil {
		apperr.Write(w, "Profiles", err)
		return
	}
	if err := h.Store.Update(r.Context(), &p); err != nil {
		apperr.Write(w, "Profiles", err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, h.present(p, true))
}

func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	caller := Caller(r)
	if err := apperr.ParseMultipart(w, r, h.MaxUploadBytes); err != nil {
		apperr.Write(w, "Avatar", err)
		return
	}

	key, err := h.Objects.SaveFormFile(r, "avatar", "avatars")
	if err != nil {
		apperr.Write(w, "Avatar", err)
		return
	}
	if key == "" {
		apperr.Write(w, "Avatar", apperr.Invalid("avatar file is required"))
		return
	}

	old, err := h.Store.SetAvatar(r.Context(), caller.ID, key)
	if err != nil {
		_ = h.Objects.Delete(r.Context(), key)
		apperr.Write(w, "Avatar", err)
		return
	}
	if err := h.Objects.Delete(r.Context(), old); err != nil {
		log.Printf("[Avatar] Removing previous avatar %q failed: %v", old, err)
	}

	log.Printf("[Avatar] Profile %d uploaded %s", caller.ID, key)
	apperr.WriteJSON(w, http.StatusOK, map[string]string{"avatar_url": h.Objects.URL(key)})
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "id")
	if err != nil {
		apperr.Write(w, "Profiles", err)
		return
	}
	p, err := h.Store.ByID(r.Context(), id)
	if err != nil {
		apperr.Write(w, "Profiles", err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, h.present(p, id == Caller(r).ID))
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	role := Role(q.Get("role"))
	if role != "" && !role.Valid() {
		apperr.Write(w, "Profiles", apperr.Invalid("role must be student or teacher"))
		return
	}
	limit, err := QueryLimit(r, 20, 50)
	if err != nil {
		apperr.Write(w, "Profiles", err)
		return
	}

	profiles, err := h.Store.Search(r.Context(), q.Get("q"), role, limit)
	if err != nil {
		apperr.Write(w, "Profiles", err)
		return
	}
	caller := Caller(r).ID
	for i := range profiles {
		profiles[i] = h.present(profiles[i], profiles[i].ID == caller)
	}
	apperr.WriteJSON(w, http.StatusOK, profiles)
}

// PathID parses the positive integer route variable name.
func PathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("invalid " + name)
	}
	return id, nil
}

// QueryLimit parses ?limit=, applying def when absent and rejecting values
// outside 1..max.
func QueryLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > max {
		return 0, apperr.Invalid("limit must be between 1 and " + strconv.Itoa(max))
	}
	return n, nil
}
