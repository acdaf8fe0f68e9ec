package controller

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
)

const sessionName = "pond-pi"

// AuthConfig enables sign-in on the HTTP API when User is set.
type AuthConfig struct {
	User         string `yaml:"user" json:"user"`
	PasswordHash string `yaml:"password_hash" json:"-"` // bcrypt
	SessionKey   string `yaml:"session_key" json:"-"`
}

// Enabled reports whether sign-in is required.
func (a AuthConfig) Enabled() bool { return a.User != "" }

type auth struct {
	cfg   AuthConfig
	store *sessions.CookieStore
}

func newAuth(cfg AuthConfig) *auth {
	return &auth{cfg: cfg, store: sessions.NewCookieStore([]byte(cfg.SessionKey))}
}

func (a *auth) check(user, password string) bool {
	if user != a.cfg.User {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.cfg.PasswordHash), []byte(password)) == nil
}

func (a *auth) signIn(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		User     string `json:"user"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !a.check(creds.User, creds.Password) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	session, _ := a.store.Get(r, sessionName)
	session.Values["user"] = creds.User
	if err := session.Save(r, w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *auth) signOut(w http.ResponseWriter, r *http.Request) {
	session, _ := a.store.Get(r, sessionName)
	session.Options.MaxAge = -1
	session.Save(r, w)
	w.WriteHeader(http.StatusNoContent)
}

// middleware accepts a signed-in session or basic auth credentials.
func (a *auth) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if session, err := a.store.Get(r, sessionName); err == nil {
			if u, ok := session.Values["user"].(string); ok && u == a.cfg.User {
				next.ServeHTTP(w, r)
				return
			}
		}
		if u, p, ok := r.BasicAuth(); ok && a.check(u, p) {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}
