package retrieval

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/peardrive/peardrive/internal/bridge"
	"github.com/peardrive/peardrive/internal/catalog"
	"github.com/peardrive/peardrive/internal/crypto"
)

// Service ties the catalog, bridge, name cipher and staging area into one
// pipeline shared by every delivery transport.
type Service struct {
	catalog          Lister
	bridge           bridge.Client
	names            *crypto.NameCipher
	staging          *StagingManager
	fetchConcurrency int
}

// NewService creates the retrieval pipeline.
func NewService(cat Lister, br bridge.Client, names *crypto.NameCipher, staging *StagingManager, fetchConcurrency int) *Service {
	if fetchConcurrency < 1 {
		fetchConcurrency = 1
	}
	return &Service{
		catalog:          cat,
		bridge:           br,
		names:            names,
		staging:          staging,
		fetchConcurrency: fetchConcurrency,
	}
}

// Download is a named, typed byte stream backed by a staging session.
// Closing it closes the underlying file and releases the session.
type Download struct {
	Name string // caller-facing plaintext filename
	MIME string
	Size int64

	file    *os.File
	session *Session
}

// Read implements io.Reader over the staged bytes.
func (d *Download) Read(p []byte) (int, error) {
	return d.file.Read(p)
}

// Close closes the staged file and releases the staging session. The
// session release runs no matter how delivery ended.
func (d *Download) Close() error {
	err := d.file.Close()
	d.session.Release()
	return err
}

var _ io.ReadCloser = (*Download)(nil)

// FileOptions carries per-transfer hooks for single-file retrieval. All
// fields are optional.
type FileOptions struct {
	// OnFetchStart fires just before the bridge fetch is issued.
	OnFetchStart func()
	// OnFetched fires once the object is fully staged, before decryption
	// of the caller-facing name.
	OnFetched func()
	// OnProgress receives cumulative byte counts during the fetch.
	OnProgress bridge.ProgressFunc
}

// RetrieveFile stages a single object from the bridge and returns it as a
// Download. There is no tree walk and no size guard; a single object's
// size is accepted as-is.
func (s *Service) RetrieveFile(ctx context.Context, objectID string, creds bridge.Credentials, opts *FileOptions) (*Download, error) {
	if objectID == "" || objectID == "null" {
		return nil, fmt.Errorf("missing file id: %w", catalog.ErrNotFound)
	}
	if opts == nil {
		opts = &FileOptions{}
	}

	ref, err := s.catalog.FileByObjectID(ctx, objectID)
	if err != nil {
		return nil, err
	}

	session, err := s.staging.Acquire("file-" + ref.ObjectID + "-" + shortID())
	if err != nil {
		return nil, err
	}

	dest := session.Path("blob")
	if opts.OnFetchStart != nil {
		opts.OnFetchStart()
	}
	if err := s.bridge.Fetch(ctx, ref.Bucket, ref.ObjectID, dest, creds, opts.OnProgress); err != nil {
		session.Release()
		return nil, fmt.Errorf("fetch %s: %w", ref.ObjectID, err)
	}
	if opts.OnFetched != nil {
		opts.OnFetched()
	}

	name, err := s.names.DecryptName(ref.StoredName, strconv.FormatInt(ref.FolderID, 10))
	if err != nil {
		session.Release()
		return nil, fmt.Errorf("decrypt file name: %w", err)
	}
	fileName := name
	mimeType := "application/octet-stream"
	if ref.Type != "" {
		fileName += "." + ref.Type
		if mt := mime.TypeByExtension("." + ref.Type); mt != "" {
			mimeType = mt
		}
	}

	f, err := os.Open(dest)
	if err != nil {
		session.Release()
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		session.Release()
		return nil, fmt.Errorf("stat staged file: %w", err)
	}

	return &Download{
		Name:    fileName,
		MIME:    mimeType,
		Size:    info.Size(),
		file:    f,
		session: session,
	}, nil
}

func shortID() string {
	return uuid.NewString()[:8]
}
