package retrieval

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"

	"github.com/peardrive/peardrive/internal/bridge"
)

// FolderOptions carries per-transfer hooks for folder retrieval.
type FolderOptions struct {
	// OnSizeKnown fires after the tree is resolved and the size guard has
	// passed, before any staging or fetching.
	OnSizeKnown func(totalBytes int64)
	// OnNameKnown fires once the archive's caller-facing name is fixed,
	// before materialization begins.
	OnNameKnown func(archiveName string)
}

// RetrieveFolder resolves a folder tree, materializes every leaf file
// from the bridge into a staging session mirroring the tree's shape, and
// returns the resulting archive as a Download.
//
// The size guard evaluates before the staging session is created and
// before any byte of any leaf is fetched.
func (s *Service) RetrieveFolder(ctx context.Context, folderID int64, creds bridge.Credentials, opts *FolderOptions) (*Download, error) {
	if opts == nil {
		opts = &FolderOptions{}
	}

	tree, err := s.ResolveTree(ctx, folderID)
	if err != nil {
		return nil, err
	}

	total := tree.TotalSize()
	if total > MaxBundleBytes {
		return nil, fmt.Errorf("tree of %d bytes: %w", total, ErrTooLarge)
	}
	if opts.OnSizeKnown != nil {
		opts.OnSizeKnown(total)
	}

	folderName, err := s.names.DecryptName(tree.Folder.StoredName, strconv.FormatInt(tree.Folder.ParentID, 10))
	if err != nil {
		return nil, fmt.Errorf("decrypt folder name: %w", err)
	}
	archiveName := folderName + ".zip"
	if opts.OnNameKnown != nil {
		opts.OnNameKnown(archiveName)
	}

	session, err := s.staging.Acquire(fmt.Sprintf("tree-%d-%s", tree.Folder.ID, shortID()))
	if err != nil {
		return nil, err
	}

	rootDir := session.Path(folderName)
	if err := s.materialize(ctx, tree, rootDir, creds); err != nil {
		session.Release()
		return nil, err
	}

	archivePath := session.Path(archiveName)
	if err := createZip(archivePath, rootDir, folderName); err != nil {
		session.Release()
		return nil, fmt.Errorf("create archive: %w", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		session.Release()
		return nil, fmt.Errorf("open archive: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		session.Release()
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	return &Download{
		Name:    archiveName,
		MIME:    "application/zip",
		Size:    info.Size(),
		file:    f,
		session: session,
	}, nil
}

// materialize walks the tree depth-first, creating local directories with
// decrypted names and fetching every leaf file from the bridge. Leaf
// fetches run with bounded concurrency; the first failure cancels the
// rest of the walk.
func (s *Service) materialize(ctx context.Context, tree *Node, rootDir string, creds bridge.Credentials) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchConcurrency)

	if err := s.walkNode(gctx, g, tree, rootDir, creds); err != nil {
		// Directory creation or name decryption failed; wait for any
		// scheduled fetches before reporting.
		if werr := g.Wait(); werr != nil {
			return werr
		}
		return err
	}
	return g.Wait()
}

func (s *Service) walkNode(ctx context.Context, g *errgroup.Group, node *Node, dir string, creds bridge.Credentials) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	for _, ref := range node.Files {
		name, err := s.names.DecryptName(ref.StoredName, strconv.FormatInt(ref.FolderID, 10))
		if err != nil {
			return fmt.Errorf("decrypt file name: %w", err)
		}
		if ref.Type != "" {
			name += "." + ref.Type
		}

		ref := ref
		dest := filepath.Join(dir, name)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.bridge.Fetch(ctx, ref.Bucket, ref.ObjectID, dest, creds, nil); err != nil {
				return fmt.Errorf("fetch %s: %w", ref.ObjectID, err)
			}
			return nil
		})
	}

	for _, child := range node.Children {
		name, err := s.names.DecryptName(child.Folder.StoredName, strconv.FormatInt(child.Folder.ParentID, 10))
		if err != nil {
			return fmt.Errorf("decrypt folder name: %w", err)
		}
		if err := s.walkNode(ctx, g, child, filepath.Join(dir, name), creds); err != nil {
			return err
		}
	}

	return nil
}

// createZip archives rootDir into archivePath, with entries rooted at
// baseName so the archive unpacks into a single top-level folder.
func createZip(archivePath, rootDir, baseName string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", archivePath, err)
	}

	zw := zip.NewWriter(out)
	err = filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(rootDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		entryName := filepath.ToSlash(filepath.Join(baseName, rel))

		if d.IsDir() {
			_, err := zw.Create(entryName + "/")
			return err
		}

		w, err := zw.Create(entryName)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, f)
		f.Close()
		return err
	})
	if err != nil {
		zw.Close()
		out.Close()
		return err
	}

	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
