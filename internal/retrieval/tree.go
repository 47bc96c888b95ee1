// Package retrieval implements the content retrieval and archival
// pipeline: resolving folder trees from the catalog, staging bytes fetched
// from the bridge, and bundling whole subtrees into a single archive.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/peardrive/peardrive/internal/catalog"
)

// MaxBundleBytes is the aggregate size limit for folder bundles. Trees
// above the limit are rejected before any staging or fetching happens.
const MaxBundleBytes = 300 * 1024 * 1024

// ErrTooLarge is returned when a folder tree exceeds MaxBundleBytes.
var ErrTooLarge = errors.New("folder tree exceeds size limit")

// Lister is the slice of the catalog the pipeline reads from.
type Lister interface {
	FolderByID(ctx context.Context, id int64) (*catalog.Folder, error)
	Subfolders(ctx context.Context, id int64) ([]catalog.Folder, error)
	FilesInFolder(ctx context.Context, id int64) ([]catalog.FileRef, error)
	FileByObjectID(ctx context.Context, objectID string) (*catalog.FileRef, error)
}

// Node is one folder in a fully materialized tree. Built once per
// retrieval request and never mutated afterwards.
type Node struct {
	Folder   catalog.Folder
	Files    []catalog.FileRef
	Children []*Node
}

// ResolveTree recursively loads the folder tree rooted at folderID from
// the catalog. No bridge I/O happens here.
func (s *Service) ResolveTree(ctx context.Context, folderID int64) (*Node, error) {
	root, err := s.catalog.FolderByID(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("resolve tree root: %w", err)
	}
	return s.resolveNode(ctx, *root)
}

func (s *Service) resolveNode(ctx context.Context, folder catalog.Folder) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	node := &Node{Folder: folder}

	files, err := s.catalog.FilesInFolder(ctx, folder.ID)
	if err != nil {
		return nil, fmt.Errorf("list files of folder %d: %w", folder.ID, err)
	}
	node.Files = files

	subfolders, err := s.catalog.Subfolders(ctx, folder.ID)
	if err != nil {
		return nil, fmt.Errorf("list subfolders of %d: %w", folder.ID, err)
	}
	for _, sub := range subfolders {
		child, err := s.resolveNode(ctx, sub)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}

	return node, nil
}

// TotalSize sums the stored sizes of every file in the tree.
func (n *Node) TotalSize() int64 {
	var total int64
	for _, f := range n.Files {
		total += f.Size
	}
	for _, child := range n.Children {
		total += child.TotalSize()
	}
	return total
}

// FileCount counts the leaf files in the tree.
func (n *Node) FileCount() int {
	count := len(n.Files)
	for _, child := range n.Children {
		count += child.FileCount()
	}
	return count
}
