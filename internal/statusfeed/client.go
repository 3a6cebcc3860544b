package statusfeed

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"camerasync/internal/auth"
	"camerasync/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 2 * pingPeriod
)

// Authenticator validates an incoming subscription request and returns a
// logical subscriber identifier.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// AllowAllAuthenticator accepts every request; used when no admin token is
// configured (local development).
type AllowAllAuthenticator struct{}

// Authenticate always succeeds.
func (AllowAllAuthenticator) Authenticate(*http.Request) (string, error) { return "", nil }

// HMACAuthenticator guards the status feed with the same compact
// HMAC-signed token used elsewhere on the debug surface (not beacon auth,
// which spec.md's non-goals explicitly exclude).
type HMACAuthenticator struct {
	verifier *auth.HMACTokenVerifier
}

// NewHMACAuthenticator builds an authenticator from a shared secret.
func NewHMACAuthenticator(secret string) (*HMACAuthenticator, error) {
	verifier, err := auth.NewHMACTokenVerifier(secret, 2*time.Second)
	if err != nil {
		return nil, err
	}
	return &HMACAuthenticator{verifier: verifier}, nil
}

// Authenticate extracts the bearer token from the query string or header and verifies it.
func (a *HMACAuthenticator) Authenticate(r *http.Request) (string, error) {
	if a == nil || a.verifier == nil {
		return "", errors.New("statusfeed: verifier not configured")
	}
	token := strings.TrimSpace(r.URL.Query().Get("auth_token"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Auth-Token"))
	}
	if token == "" {
		return "", errors.New("statusfeed: missing auth token")
	}
	claims, err := a.verifier.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Client is one registered websocket subscriber.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	id   string
	log  *logging.Logger
}

// BuildOriginChecker restricts the websocket upgrade to a configured origin
// allowlist, rejecting requests without an Origin header by default.
func BuildOriginChecker(logger *logging.Logger, allowlist []string) func(*http.Request) bool {
	if logger == nil {
		logger = logging.L()
	}
	allowed := make(map[string]struct{}, len(allowlist))
	for _, origin := range allowlist {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			logger.Warn("ignoring invalid allowed status-feed origin", logging.String("origin", origin), logging.Error(err))
			continue
		}
		allowed[strings.ToLower(u.Scheme+"://"+u.Host)] = struct{}{}
	}
	return func(r *http.Request) bool {
		originHeader := r.Header.Get("Origin")
		if originHeader == "" {
			return false
		}
		if len(allowed) == 0 {
			return false
		}
		_, ok := allowed[strings.ToLower(originHeader)]
		return ok
	}
}

// ServeWS authenticates, upgrades, registers, and pumps one subscriber
// connection until it disconnects.
func ServeWS(hub *Hub, upgrader websocket.Upgrader, authenticator Authenticator, logger *logging.Logger, w http.ResponseWriter, r *http.Request) error {
	if logger == nil {
		logger = logging.L()
	}
	if authenticator == nil {
		authenticator = AllowAllAuthenticator{}
	}
	clientID, err := authenticator.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return err
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &Client{conn: conn, send: make(chan []byte, 8), id: clientID, log: logger}
	hub.register <- client

	go client.writePump(hub)
	go client.readPump(hub)
	return nil
}

func (c *Client) readPump(hub *Hub) {
	defer func() {
		hub.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// The status feed is publish-only; inbound data frames are read and
		// discarded. Only pong frames refresh the read deadline.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.log.Warn("status feed read deadline exceeded", logging.Error(err))
			} else if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("status feed read error", logging.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump(hub *Hub) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Warn("status feed write error", logging.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
