// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/peardrive/peardrive/internal/auth"
	"github.com/peardrive/peardrive/internal/bridge"
	"github.com/peardrive/peardrive/internal/catalog"
	"github.com/peardrive/peardrive/internal/crypto"
	"github.com/peardrive/peardrive/internal/logging"
	"github.com/peardrive/peardrive/internal/metrics"
	"github.com/peardrive/peardrive/internal/retrieval"
)

// Catalog is the slice of the metadata catalog the HTTP surface needs.
type Catalog interface {
	retrieval.Lister
	DeleteFileByObjectID(ctx context.Context, objectID string) error
	CreateFolder(ctx context.Context, storedName string, parentID int64, bucket string) (*catalog.Folder, error)
	DeleteFolder(ctx context.Context, id int64) error
	CreateShareGrant(ctx context.Context, userEmail, target string, isFolder bool, mnemonic string, views int) (string, error)
	ShareGrantByToken(ctx context.Context, token string) (*catalog.ShareGrant, error)
	UserByEmail(ctx context.Context, email string) (*catalog.User, error)
}

// Retriever is the pipeline contract shared with the channel transport.
type Retriever interface {
	RetrieveFile(ctx context.Context, objectID string, creds bridge.Credentials, opts *retrieval.FileOptions) (*retrieval.Download, error)
	RetrieveFolder(ctx context.Context, folderID int64, creds bridge.Credentials, opts *retrieval.FolderOptions) (*retrieval.Download, error)
}

// Server is the HTTP server.
type Server struct {
	catalog Catalog
	pipe    Retriever
	bridge  bridge.Client
	names   *crypto.NameCipher
	auth    *auth.Auth

	// Optional duplex channel endpoint, mounted at /socket.
	socketHandler http.Handler
}

// NewServer creates a new server.
func NewServer(cat Catalog, pipe Retriever, br bridge.Client, names *crypto.NameCipher, authHandler *auth.Auth, socketHandler http.Handler) *Server {
	return &Server{
		catalog:       cat,
		pipe:          pipe,
		bridge:        br,
		names:         names,
		auth:          authHandler,
		socketHandler: socketHandler,
	}
}

// Handler returns the HTTP handler with auth, logging and metrics
// middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /auth/login", s.auth.HandleLogin)
	mux.HandleFunc("GET /share/{token}", s.handleShareDownload)

	if s.socketHandler != nil {
		mux.Handle("GET /socket", s.socketHandler)
	}

	// Protected endpoints
	protected := http.NewServeMux()
	protected.HandleFunc("GET /file/{id}", s.handleFileDownload)
	protected.HandleFunc("GET /folder/{id}", s.handleFolderContents)
	protected.HandleFunc("GET /folder/{id}/download", s.handleFolderDownload)
	protected.HandleFunc("POST /folder", s.handleCreateFolder)
	protected.HandleFunc("DELETE /folder/{id}", s.handleDeleteFolder)
	protected.HandleFunc("GET /bucket/{bucket}", s.handleBucketContents)
	protected.HandleFunc("DELETE /bucket/{bucket}/file/{id}", s.handleDeleteFile)
	protected.HandleFunc("POST /share/file/{id}", s.handleCreateShare)

	mux.Handle("/", s.auth.Middleware(protected))

	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
