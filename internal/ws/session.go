package ws

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/peardrive/peardrive/internal/bridge"
	"github.com/peardrive/peardrive/internal/catalog"
	"github.com/peardrive/peardrive/internal/logging"
	"github.com/peardrive/peardrive/internal/metrics"
	"github.com/peardrive/peardrive/internal/retrieval"
)

// session scopes events to one correlation id and guarantees that at most
// one terminal event goes out, with nothing after it.
type session struct {
	conn   *wireConn
	prefix string
	done   atomic.Bool
}

func (s *session) emit(suffix string, data any) error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.done.Load() {
		return nil
	}
	metrics.RecordSocketEvent(suffix)
	if err := s.conn.writeEventLocked(s.prefix+suffix, data); err != nil {
		logging.Debug("channel write failed",
			zap.String("event", s.prefix+suffix), zap.Error(err))
		return err
	}
	return nil
}

func (s *session) terminal(suffix string, data any) {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if !s.done.CompareAndSwap(false, true) {
		return
	}
	metrics.RecordSocketEvent(suffix)
	if err := s.conn.writeEventLocked(s.prefix+suffix, data); err != nil {
		logging.Debug("channel write failed",
			zap.String("event", s.prefix+suffix), zap.Error(err))
	}
}

func (s *session) finish() {
	s.terminal("finished", nil)
}

func (s *session) fail(msg string) {
	s.terminal("error", map[string]string{"message": msg})
}

// stream sends the download body as base64 chunks, then the terminal event.
func (s *session) stream(dl *retrieval.Download, kind string) {
	var sent int64
	buf := make([]byte, chunkSize)
	for {
		n, err := dl.Read(buf)
		if n > 0 {
			sent += int64(n)
			// A failed chunk write means the peer is gone; stop reading.
			if werr := s.emit("stream", base64.StdEncoding.EncodeToString(buf[:n])); werr != nil {
				metrics.RecordDownload(kind, sent, false)
				s.fail("Error downloading file")
				return
			}
		}
		if err == io.EOF {
			metrics.RecordDownload(kind, sent, true)
			s.finish()
			return
		}
		if err != nil {
			metrics.RecordDownload(kind, sent, false)
			s.fail("Error downloading file")
			return
		}
	}
}

// serveFile handles an authenticated single-file request. A liveness ping
// goes out every two seconds until the transfer reaches a terminal event.
func (h *Hub) serveFile(ctx context.Context, wc *wireConn, req request) {
	s := &session{conn: wc, prefix: fmt.Sprintf("get-file-%s-", req.SocketID)}

	// Placeholder ids are rejected before anything is looked up.
	if req.FileID == "" || req.FileID == "null" {
		s.fail("Missing file id")
		return
	}

	claims, err := h.auth.VerifyToken(req.AuthToken)
	if err != nil {
		s.fail("Unauthorized")
		return
	}
	creds, err := h.credentialsFor(ctx, claims.Email)
	if err != nil {
		s.fail("Error downloading file")
		return
	}

	ref, err := h.catalog.FileByObjectID(ctx, req.FileID)
	if err != nil {
		s.fail("File not found")
		return
	}
	name, err := h.names.DecryptName(ref.StoredName, strconv.FormatInt(ref.FolderID, 10))
	if err != nil {
		s.fail("Error downloading file")
		return
	}
	if ref.Type != "" {
		name = name + "." + ref.Type
	}

	stopPing := h.startPing(ctx, s)
	defer stopPing()

	dl, err := h.pipe.RetrieveFile(ctx, req.FileID, creds, &retrieval.FileOptions{
		OnFetchStart: func() {
			s.emit("sending-data", map[string]any{"size": ref.Size, "fileName": name})
		},
	})
	if err != nil {
		s.fail(failureMessage(err))
		return
	}
	defer dl.Close()

	s.stream(dl, "file")
}

// serveShare handles a share-token request, no auth required. The client
// learns the byte length and caller-facing name before any bytes move.
func (h *Hub) serveShare(ctx context.Context, wc *wireConn, req request) {
	s := &session{conn: wc, prefix: fmt.Sprintf("get-file-share-%s-", req.Token)}

	grant, err := h.catalog.ShareGrantByToken(ctx, req.Token)
	if err != nil {
		s.fail("Share not found")
		return
	}
	creds, err := h.credentialsFor(ctx, grant.UserEmail)
	if err != nil {
		s.fail("Error downloading file")
		return
	}

	if grant.IsFolder {
		h.serveSharedFolder(ctx, s, grant, creds)
		return
	}

	ref, err := h.catalog.FileByObjectID(ctx, grant.Target)
	if err != nil {
		s.fail("File not found")
		return
	}
	name, err := h.names.DecryptName(ref.StoredName, strconv.FormatInt(ref.FolderID, 10))
	if err != nil {
		s.fail("Error downloading file")
		return
	}
	if ref.Type != "" {
		name = name + "." + ref.Type
	}

	s.emit("length", ref.Size)
	s.emit("fileName", name)

	dl, err := h.pipe.RetrieveFile(ctx, grant.Target, creds, &retrieval.FileOptions{
		OnFetchStart: func() { s.emit("step-downloading-from-net", nil) },
		OnFetched:    func() { s.emit("step-decrypting", nil) },
	})
	if err != nil {
		s.fail(failureMessage(err))
		return
	}
	defer dl.Close()

	s.stream(dl, "file")
}

func (h *Hub) serveSharedFolder(ctx context.Context, s *session, grant *catalog.ShareGrant, creds bridge.Credentials) {
	folderID, err := strconv.ParseInt(grant.Target, 10, 64)
	if err != nil {
		s.fail("Error downloading folder")
		return
	}

	dl, err := h.pipe.RetrieveFolder(ctx, folderID, creds, &retrieval.FolderOptions{
		OnSizeKnown: func(totalBytes int64) {
			s.emit("length", totalBytes)
		},
		OnNameKnown: func(archiveName string) {
			s.emit("fileName", archiveName)
			s.emit("step-downloading-from-net", nil)
		},
	})
	if err != nil {
		if errors.Is(err, retrieval.ErrTooLarge) {
			s.fail("Folder too large")
			return
		}
		s.fail(failureMessage(err))
		return
	}
	defer dl.Close()

	s.emit("step-decrypting", nil)
	s.stream(dl, "folder")
}

// startPing emits liveness pings until stopped. Stopping is idempotent.
func (h *Hub) startPing(ctx context.Context, s *session) func() {
	stop := make(chan struct{})
	var once atomic.Bool
	go func() {
		ticker := time.NewTicker(h.pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.emit("ping", nil)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		if once.CompareAndSwap(false, true) {
			close(stop)
		}
	}
}

func (h *Hub) credentialsFor(ctx context.Context, email string) (bridge.Credentials, error) {
	user, err := h.catalog.UserByEmail(ctx, email)
	if err != nil {
		return bridge.Credentials{}, fmt.Errorf("lookup user %q: %w", email, err)
	}
	return bridge.Credentials{AccessKey: user.AccessKey, SecretKey: user.SecretKey}, nil
}

func failureMessage(err error) string {
	switch {
	case bridge.Classify(err) == bridge.KindRateLimited:
		return "Rate limited"
	case errors.Is(err, catalog.ErrNotFound), bridge.Classify(err) == bridge.KindNotFound:
		return "File not found"
	default:
		return "Error downloading file"
	}
}
