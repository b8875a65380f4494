package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/brokerpilot/core/internal/auth"
)

// ticketTTL is how long a WebSocket ticket stays redeemable.
const ticketTTL = 60 * time.Second

// ticketBytes is the number of random bytes behind each ticket string.
const ticketBytes = 32

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleLogin exchanges the configured admin credential for a bearer JWT.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	creds := auth.Credentials{
		Username: s.secCfg.JWT.AdminUsername,
		Password: s.secCfg.JWT.AdminPassword,
	}

	token, err := auth.Login(req.Username, req.Password, creds, s.secCfg.JWT.Secret, s.secCfg.JWT.AccessTokenTTL)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeUnauthorized(w, "invalid credentials")
			return
		}
		writeInternalError(w, "failed to generate token")
		return
	}

	ttl := s.secCfg.JWT.AccessTokenTTL
	if ttl <= 0 {
		ttl = 15
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   ttl * 60,
	})
}

// handleWSTicket mints a single-use WebSocket ticket for the authenticated
// caller. The browser redeems it as a query parameter on the upgrade
// request, which keeps the bearer JWT out of URLs and access logs.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)

	ticket := s.tickets.issue(role)

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketStore holds pending single-use WebSocket tickets.
type ticketStore struct {
	mu      sync.Mutex
	pending map[string]ticketEntry
}

type ticketEntry struct {
	role      auth.Role
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{pending: make(map[string]ticketEntry)}
}

// issue mints a fresh ticket bound to role.
func (t *ticketStore) issue(role auth.Role) string {
	b := make([]byte, ticketBytes)
	rand.Read(b) //nolint:errcheck // crypto/rand.Read never fails on supported platforms
	ticket := hex.EncodeToString(b)

	t.mu.Lock()
	t.pending[ticket] = ticketEntry{role: role, expiresAt: time.Now().Add(ticketTTL)}
	t.mu.Unlock()

	return ticket
}

// consume redeems ticket. Tickets are single-use: the first redeem removes
// the entry whether or not it had already expired.
func (t *ticketStore) consume(ticket string) (auth.Role, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.pending[ticket]
	if !ok {
		return "", false
	}
	delete(t.pending, ticket)

	if time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.role, true
}

// sweep drops tickets that were never redeemed.
func (t *ticketStore) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for ticket, entry := range t.pending {
		if now.After(entry.expiresAt) {
			delete(t.pending, ticket)
		}
	}
}

// sweepLoop runs sweep on a ticketTTL cadence until ctx is cancelled.
func (t *ticketStore) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}
