package www

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"

	"assetedge/store"
)

const (
	sessionName = "assetedge_session"
	sessionUser = "admin"
)

var errBadCredentials = errors.New("invalid username or password")

// adminUsers is the admin account table. *store.DB implements it.
type adminUsers interface {
	AdminUserExists(ctx context.Context) (bool, error)
	GetAdminUser(ctx context.Context, username string) (*store.AdminUser, error)
	SetAdminUser(ctx context.Context, username, passwordHash string) error
}

// adminAuth guards the destructive diagnostics endpoints. The signed-in
// admin is kept in a signed cookie.
type adminAuth struct {
	cookies *sessions.CookieStore
	users   adminUsers
	// bootstrap is the password that creates the first admin account.
	bootstrap string
}

// newAdminAuth keys the cookie store from a base64 secret of at least 32
// bytes. Otherwise a random key is used and sessions end with the process.
// With an empty bootstrap password no admin account can be created here.
func newAdminAuth(secret, bootstrap string, users adminUsers) *adminAuth {
	key, _ := base64.StdEncoding.DecodeString(secret)
	if len(key) < 32 {
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
	return &adminAuth{cookies: cs, users: users, bootstrap: bootstrap}
}

// authenticate checks a username and password. On a terminal with no admin
// yet, a login with the configured bootstrap password creates the admin
// account under the given username.
func (a *adminAuth) authenticate(ctx context.Context, username, password string) error {
	exists, err := a.users.AdminUserExists(ctx)
	if err != nil {
		return fmt.Errorf("look up admin users: %w", err)
	}
	if !exists {
		if a.bootstrap == "" {
			log.Printf("www: WARNING: login refused, no admin account and web.admin_password is not set")
			return errBadCredentials
		}
		if subtle.ConstantTimeCompare([]byte(password), []byte(a.bootstrap)) != 1 {
			return errBadCredentials
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		if err := a.users.SetAdminUser(ctx, username, string(hash)); err != nil {
			return fmt.Errorf("create admin user: %w", err)
		}
		log.Printf("www: WARNING: created admin user %q from the bootstrap password; remove web.admin_password from the config", username)
		return nil
	}

	u, err := a.users.GetAdminUser(ctx, username)
	if errors.Is(err, store.ErrNoAdminUser) {
		return errBadCredentials
	}
	if err != nil {
		return fmt.Errorf("get admin user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return errBadCredentials
	}
	return nil
}

func (a *adminAuth) session(r *http.Request) *sessions.Session {
	// A cookie that fails to decode yields a fresh session.
	sess, _ := a.cookies.Get(r, sessionName)
	return sess
}

func (a *adminAuth) currentUser(r *http.Request) string {
	u, _ := a.session(r).Values[sessionUser].(string)
	return u
}

func (a *adminAuth) signIn(w http.ResponseWriter, r *http.Request, username string) error {
	sess := a.session(r)
	sess.Values[sessionUser] = username
	return sess.Save(r, w)
}

func (a *adminAuth) signOut(w http.ResponseWriter, r *http.Request) {
	sess := a.session(r)
	delete(sess.Values, sessionUser)
	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		log.Printf("www: clear session: %v", err)
	}
}

// require rejects requests without a signed-in admin.
func (a *adminAuth) require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.currentUser(r) == "" {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
