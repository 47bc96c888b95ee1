package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/peardrive/peardrive/internal/auth"
	"github.com/peardrive/peardrive/internal/bridge"
	"github.com/peardrive/peardrive/internal/catalog"
	"github.com/peardrive/peardrive/internal/logging"
)

type folderEntry struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type fileEntry struct {
	ID       int64  `json:"id"`
	ObjectID string `json:"objectId"`
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Size     int64  `json:"size"`
}

type folderContents struct {
	ID      int64         `json:"id"`
	Name    string        `json:"name"`
	Folders []folderEntry `json:"folders"`
	Files   []fileEntry   `json:"files"`
}

// handleFolderContents lists the immediate children of a folder with
// caller-facing names.
func (s *Server) handleFolderContents(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid folder id")
		return
	}

	folder, err := s.catalog.FolderByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "folder not found")
			return
		}
		s.sendError(w, http.StatusInternalServerError, "cannot load folder")
		return
	}

	name, err := s.names.DecryptName(folder.StoredName, strconv.FormatInt(folder.ParentID, 10))
	if err != nil {
		name = folder.StoredName
	}
	out := folderContents{ID: folder.ID, Name: name, Folders: []folderEntry{}, Files: []fileEntry{}}

	subs, err := s.catalog.Subfolders(r.Context(), id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "cannot list folders")
		return
	}
	ctxKey := strconv.FormatInt(id, 10)
	for _, sub := range subs {
		subName, err := s.names.DecryptName(sub.StoredName, ctxKey)
		if err != nil {
			subName = sub.StoredName
		}
		out.Folders = append(out.Folders, folderEntry{ID: sub.ID, Name: subName})
	}

	files, err := s.catalog.FilesInFolder(r.Context(), id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "cannot list files")
		return
	}
	for _, f := range files {
		fileName, err := s.names.DecryptName(f.StoredName, ctxKey)
		if err != nil {
			fileName = f.StoredName
		}
		if f.Type != "" {
			fileName = fileName + "." + f.Type
		}
		out.Files = append(out.Files, fileEntry{
			ID: f.ID, ObjectID: f.ObjectID, Name: fileName, Type: f.Type, Size: f.Size,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleCreateFolder creates a folder under an existing parent. The name
// is stored encrypted against the parent id.
func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		ParentID int64  `json:"parentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name and parentId are required")
		return
	}

	parent, err := s.catalog.FolderByID(r.Context(), req.ParentID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "parent folder not found")
			return
		}
		s.sendError(w, http.StatusInternalServerError, "cannot load parent folder")
		return
	}

	stored, err := s.names.EncryptName(req.Name, strconv.FormatInt(parent.ID, 10))
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Error creating folder")
		return
	}

	folder, err := s.catalog.CreateFolder(r.Context(), stored, parent.ID, parent.Bucket)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Error creating folder")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(folderEntry{ID: folder.ID, Name: req.Name})
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid folder id")
		return
	}
	if err := s.catalog.DeleteFolder(r.Context(), id); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "folder not found")
			return
		}
		s.sendError(w, http.StatusInternalServerError, "Error deleting folder")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteFile removes an object from the bridge and then the catalog
// row. Placeholder ids are rejected before anything is touched.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	id := r.PathValue("id")
	if bucket == "" || bucket == "null" || id == "" || id == "null" {
		s.sendMessage(w, http.StatusInternalServerError, "Missing file id")
		return
	}

	creds, err := s.credentialsFor(r)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "cannot resolve storage credentials")
		return
	}

	if err := s.bridge.Delete(r.Context(), bucket, id, creds); err != nil {
		if bridge.Classify(err) == bridge.KindRateLimited {
			s.sendMessage(w, http.StatusPaymentRequired, "Rate limited")
			return
		}
		logging.Error("bridge delete failed",
			zap.String("bucket", bucket), zap.String("object", id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Error deleting file")
		return
	}

	if err := s.catalog.DeleteFileByObjectID(r.Context(), id); err != nil && !errors.Is(err, catalog.ErrNotFound) {
		s.sendError(w, http.StatusInternalServerError, "Error deleting file")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"deleted": true})
}

// handleBucketContents lists the raw objects in a bridge bucket. This is
// the reconciliation view: object ids and byte sizes as the bridge sees
// them, with no catalog joins.
func (s *Server) handleBucketContents(w http.ResponseWriter, r *http.Request) {
	bucket := r.PathValue("bucket")
	if bucket == "" || bucket == "null" {
		s.sendError(w, http.StatusBadRequest, "missing bucket id")
		return
	}

	creds, err := s.credentialsFor(r)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "cannot resolve storage credentials")
		return
	}

	objects, err := s.bridge.List(r.Context(), bucket, creds)
	if err != nil {
		if bridge.Classify(err) == bridge.KindRateLimited {
			s.sendMessage(w, http.StatusPaymentRequired, "Rate limited")
			return
		}
		logging.Error("bridge list failed", zap.String("bucket", bucket), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Error listing bucket")
		return
	}
	if objects == nil {
		objects = []bridge.ObjectInfo{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(objects)
}

// handleCreateShare mints a share grant for a file or folder owned by the
// requesting user.
func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	target := r.PathValue("id")
	if target == "" || target == "null" {
		s.sendMessage(w, http.StatusInternalServerError, "Missing file id")
		return
	}

	var req struct {
		IsFolder bool   `json:"isFolder"`
		Mnemonic string `json:"mnemonic"`
		Views    int    `json:"views"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Views == 0 {
		req.Views = 1
	}

	token, err := s.catalog.CreateShareGrant(r.Context(), claims.Email, target, req.IsFolder, req.Mnemonic, req.Views)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Error creating share")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}
