// Package ws carries downloads over a duplex websocket channel. Clients
// send a request frame and receive a stream of named events scoped to the
// request's correlation id, ending in exactly one terminal event.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/peardrive/peardrive/internal/auth"
	"github.com/peardrive/peardrive/internal/bridge"
	"github.com/peardrive/peardrive/internal/catalog"
	"github.com/peardrive/peardrive/internal/logging"
	"github.com/peardrive/peardrive/internal/metrics"
	"github.com/peardrive/peardrive/internal/retrieval"
)

const (
	pingInterval = 2 * time.Second
	chunkSize    = 32 * 1024
)

var activeConns atomic.Int64

// Catalog is the metadata slice the channel transport needs.
type Catalog interface {
	FileByObjectID(ctx context.Context, objectID string) (*catalog.FileRef, error)
	ShareGrantByToken(ctx context.Context, token string) (*catalog.ShareGrant, error)
	UserByEmail(ctx context.Context, email string) (*catalog.User, error)
}

// Retriever is the download pipeline shared with the HTTP transport.
type Retriever interface {
	RetrieveFile(ctx context.Context, objectID string, creds bridge.Credentials, opts *retrieval.FileOptions) (*retrieval.Download, error)
	RetrieveFolder(ctx context.Context, folderID int64, creds bridge.Credentials, opts *retrieval.FolderOptions) (*retrieval.Download, error)
}

// Hub upgrades connections and serves download requests over them.
type Hub struct {
	catalog Catalog
	pipe    Retriever
	names   NameDecrypter
	auth    *auth.Auth

	upgrader websocket.Upgrader

	// Overridable in tests.
	pingEvery time.Duration
}

// NameDecrypter recovers caller-facing names from their stored form.
type NameDecrypter interface {
	DecryptName(storedName, contextKey string) (string, error)
}

// NewHub creates a hub over the shared pipeline.
func NewHub(cat Catalog, pipe Retriever, names NameDecrypter, authHandler *auth.Auth) *Hub {
	return &Hub{
		catalog: cat,
		pipe:    pipe,
		names:   names,
		auth:    authHandler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: chunkSize + 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pingEvery: pingInterval,
	}
}

// request is an inbound frame asking for a download. User and Mnemonic
// are client-side context echoed by drive clients; the server resolves
// credentials from the verified token instead.
type request struct {
	Type      string `json:"type"`
	SocketID  string `json:"socketId"`
	User      string `json:"user"`
	Mnemonic  string `json:"mnemonic"`
	FileID    string `json:"fileId"`
	AuthToken string `json:"authToken"`
	Token     string `json:"token"`
}

// event is an outbound frame. Data is absent for marker events.
type event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.SetSocketSessionsActive(activeConns.Add(1))
	defer func() { metrics.SetSocketSessionsActive(activeConns.Add(-1)) }()

	// Gorilla allows one concurrent writer per connection.
	wc := &wireConn{conn: conn}

	var wg sync.WaitGroup
	defer wg.Wait()

	// Registered after wg.Wait so cancellation fires before the wait.
	// r.Context() does not fire once the connection is hijacked; this is
	// the only signal in-flight transfers get on disconnect.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		wg.Add(1)
		go func(req request) {
			defer wg.Done()
			switch req.Type {
			case "get-file":
				h.serveFile(ctx, wc, req)
			case "get-file-share":
				h.serveShare(ctx, wc, req)
			default:
				logging.Warn("unknown channel request", zap.String("type", req.Type))
			}
		}(req)
	}
}

// wireConn serializes writes to a single websocket connection. Callers
// hold mu across the terminal-state check and the write so no event can
// slip out after a terminal one.
type wireConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wireConn) writeEventLocked(name string, data any) error {
	ev := event{Event: name}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		ev.Data = raw
	}
	return c.conn.WriteJSON(ev)
}
