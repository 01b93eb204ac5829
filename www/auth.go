package www

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
)

const (
	sessionName = "robolink_session"
	sessionUser = "username"

	maxLoginFailures = 5
	loginLockout     = 5 * time.Minute
)

type sessionStore struct {
	store *sessions.CookieStore
}

// newSessionStore keys the cookie store with the base64 secret, or with a
// random key when the secret is missing or short. A random key logs every
// admin out on restart.
func newSessionStore(secret string) *sessionStore {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil || len(key) < 32 {
		log.Printf("www: session_secret is not 32+ bytes of base64, using a per-process key")
		key = make([]byte, 32)
		rand.Read(key)
	}
	cs := sessions.NewCookieStore(key)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   12 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	return &sessionStore{store: cs}
}

func (s *sessionStore) user(r *http.Request) (string, bool) {
	sess, _ := s.store.Get(r, sessionName)
	name, ok := sess.Values[sessionUser].(string)
	return name, ok && name != ""
}

func (s *sessionStore) login(w http.ResponseWriter, r *http.Request, username string) error {
	sess, _ := s.store.Get(r, sessionName)
	sess.Values[sessionUser] = username
	return sess.Save(r, w)
}

func (s *sessionStore) logout(w http.ResponseWriter, r *http.Request) {
	sess, _ := s.store.Get(r, sessionName)
	delete(sess.Values, sessionUser)
	sess.Options.MaxAge = -1
	sess.Save(r, w)
}

func checkPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

// loginGuard locks a client address out after repeated failed logins.
type loginGuard struct {
	mu       sync.Mutex
	failures map[string]int
	until    map[string]time.Time
	now      func() time.Time
}

func newLoginGuard() *loginGuard {
	return &loginGuard{
		failures: make(map[string]int),
		until:    make(map[string]time.Time),
		now:      time.Now,
	}
}

func (g *loginGuard) locked(addr string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.until[addr]
	if !ok {
		return false
	}
	if g.now().After(t) {
		delete(g.until, addr)
		return false
	}
	return true
}

func (g *loginGuard) fail(addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[addr]++
	if g.failures[addr] >= maxLoginFailures {
		g.until[addr] = g.now().Add(loginLockout)
		delete(g.failures, addr)
		log.Printf("www: locking out %s after %d failed logins", addr, maxLoginFailures)
	}
}

func (g *loginGuard) succeed(addr string) {
	g.mu.Lock()
	delete(g.failures, addr)
	g.mu.Unlock()
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// readCredentials accepts a JSON body or form values.
func readCredentials(w http.ResponseWriter, r *http.Request) credentials {
	var c credentials
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&c)
		return c
	}
	c.Username = r.FormValue("username")
	c.Password = r.FormValue("password")
	return c
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	if db == nil {
		writeError(w, http.StatusServiceUnavailable, "no user database")
		return
	}
	addr := clientAddr(r)
	if h.logins.locked(addr) {
		writeError(w, http.StatusTooManyRequests, "too many failed logins, try again later")
		return
	}
	c := readCredentials(w, r)
	if c.Username == "" || c.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	// With no admin configured the first login creates one.
	exists, err := db.AdminUserExists()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !exists {
		hash, err := hashPassword(c.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to hash password")
			return
		}
		if err := db.CreateAdminUser(c.Username, hash); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create admin user")
			return
		}
		log.Printf("www: first login created admin %q", c.Username)
	} else {
		user, err := db.GetAdminUser(c.Username)
		if err != nil || !checkPassword(c.Password, user.PasswordHash) {
			h.logins.fail(addr)
			writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
	}

	h.logins.succeed(addr)
	if err := db.RecordAdminLogin(c.Username); err != nil {
		log.Printf("www: record login %q: %v", c.Username, err)
	}
	if err := h.sessions.login(w, r, c.Username); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save session")
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "username": c.Username})
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.logout(w, r)
	writeJSON(w, map[string]string{"status": "ok"})
}

// apiWhoAmI reports the logged-in admin, or 401.
func (h *Handlers) apiWhoAmI(w http.ResponseWriter, r *http.Request) {
	username, _ := h.sessions.user(r)
	user, err := h.engine.DB().GetAdminUser(username)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}
	writeJSON(w, user)
}

func (h *Handlers) apiChangePassword(w http.ResponseWriter, r *http.Request) {
	username, _ := h.sessions.user(r)
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.NewPassword) < 6 {
		writeError(w, http.StatusBadRequest, "new password must be at least 6 characters")
		return
	}

	db := h.engine.DB()
	user, err := db.GetAdminUser(username)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}
	if !checkPassword(req.OldPassword, user.PasswordHash) {
		writeError(w, http.StatusBadRequest, "current password is incorrect")
		return
	}
	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	if err := db.UpdateAdminPassword(username, hash); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Printf("www: admin %q changed password", username)
	writeJSON(w, map[string]string{"status": "ok"})
}
