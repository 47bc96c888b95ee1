package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/peardrive/peardrive/internal/auth"
	"github.com/peardrive/peardrive/internal/bridge"
	"github.com/peardrive/peardrive/internal/catalog"
	"github.com/peardrive/peardrive/internal/logging"
	"github.com/peardrive/peardrive/internal/metrics"
	"github.com/peardrive/peardrive/internal/retrieval"
)

// handleFileDownload streams a single object held by the requesting user.
func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" || id == "null" {
		s.sendMessage(w, http.StatusInternalServerError, "Missing file id")
		return
	}

	creds, err := s.credentialsFor(r)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "cannot resolve storage credentials")
		return
	}

	dl, err := s.pipe.RetrieveFile(r.Context(), id, creds, nil)
	if err != nil {
		s.sendRetrievalError(w, err)
		return
	}
	defer dl.Close()

	s.streamDownload(w, dl, "file")
}

// handleShareDownload streams the target of a share grant, no auth
// required. Folder targets are bundled into a zip archive.
func (s *Server) handleShareDownload(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	grant, err := s.catalog.ShareGrantByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "share not found")
			return
		}
		s.sendError(w, http.StatusInternalServerError, "cannot resolve share")
		return
	}

	owner, err := s.catalog.UserByEmail(r.Context(), grant.UserEmail)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "cannot resolve share owner")
		return
	}
	creds := bridge.Credentials{AccessKey: owner.AccessKey, SecretKey: owner.SecretKey}

	if grant.IsFolder {
		folderID, err := strconv.ParseInt(grant.Target, 10, 64)
		if err != nil {
			s.sendError(w, http.StatusInternalServerError, "malformed share target")
			return
		}
		dl, err := s.pipe.RetrieveFolder(r.Context(), folderID, creds, nil)
		if err != nil {
			if errors.Is(err, retrieval.ErrTooLarge) {
				s.sendError(w, http.StatusPaymentRequired, "Folder too large")
				return
			}
			logging.Error("shared folder download failed",
				zap.String("token", token), zap.Error(err))
			s.sendError(w, http.StatusPaymentRequired, "Error downloading folder")
			return
		}
		defer dl.Close()
		s.streamDownload(w, dl, "folder")
		return
	}

	dl, err := s.pipe.RetrieveFile(r.Context(), grant.Target, creds, nil)
	if err != nil {
		s.sendRetrievalError(w, err)
		return
	}
	defer dl.Close()

	s.streamDownload(w, dl, "file")
}

// handleFolderDownload bundles one of the requesting user's own folders.
// The same size guard applies as for shared folders.
func (s *Server) handleFolderDownload(w http.ResponseWriter, r *http.Request) {
	folderID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid folder id")
		return
	}

	creds, err := s.credentialsFor(r)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "cannot resolve storage credentials")
		return
	}

	dl, err := s.pipe.RetrieveFolder(r.Context(), folderID, creds, nil)
	if err != nil {
		if errors.Is(err, retrieval.ErrTooLarge) {
			s.sendError(w, http.StatusPaymentRequired, "Folder too large")
			return
		}
		s.sendRetrievalError(w, err)
		return
	}
	defer dl.Close()

	s.streamDownload(w, dl, "folder")
}

// streamDownload writes the download headers and copies the stream.
func (s *Server) streamDownload(w http.ResponseWriter, dl *retrieval.Download, kind string) {
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": dl.Name})

	w.Header().Set("Content-Type", dl.MIME)
	w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("x-file-name", base64.StdEncoding.EncodeToString([]byte(dl.Name)))

	n, err := io.Copy(w, dl)
	metrics.RecordDownload(kind, n, err == nil)
	if err != nil {
		// Headers are gone at this point, only log.
		logging.Warn("download stream interrupted",
			zap.String("name", dl.Name), zap.Error(err))
	}
}

// sendRetrievalError maps pipeline failures onto the status codes clients
// key off of: 402 for bridge rate limiting, 404 for unknown entries, 500
// otherwise.
func (s *Server) sendRetrievalError(w http.ResponseWriter, err error) {
	switch {
	case bridge.Classify(err) == bridge.KindRateLimited:
		s.sendMessage(w, http.StatusPaymentRequired, "Rate limited")
	case errors.Is(err, catalog.ErrNotFound), bridge.Classify(err) == bridge.KindNotFound:
		s.sendMessage(w, http.StatusNotFound, "File not found")
	default:
		logging.Error("download failed", zap.Error(err))
		s.sendMessage(w, http.StatusInternalServerError, "Error downloading file")
	}
}

func (s *Server) sendMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

// credentialsFor looks up the bridge credentials of the authenticated user.
func (s *Server) credentialsFor(r *http.Request) (bridge.Credentials, error) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		return bridge.Credentials{}, fmt.Errorf("no authenticated user on request")
	}
	user, err := s.catalog.UserByEmail(r.Context(), claims.Email)
	if err != nil {
		return bridge.Credentials{}, fmt.Errorf("lookup user %q: %w", claims.Email, err)
	}
	return bridge.Credentials{AccessKey: user.AccessKey, SecretKey: user.SecretKey}, nil
}
