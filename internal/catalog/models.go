// Package catalog provides the PostgreSQL-backed metadata catalog: files,
// folders, users and share grants. Content bytes live in the bridge; the
// catalog only knows names, sizes and relationships.
package catalog

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an id or token does not resolve.
var ErrNotFound = errors.New("catalog: not found")

// FileRef identifies a single stored object.
type FileRef struct {
	ID         int64
	Bucket     string // owning bucket id on the bridge
	ObjectID   string // object id within the bucket
	FolderID   int64  // logical parent folder
	StoredName string // encrypted name, context-keyed by FolderID
	Type       string // extension without the dot, may be empty
	Size       int64
}

// Folder is a directory entry.
type Folder struct {
	ID         int64
	StoredName string // encrypted name, context-keyed by ParentID
	ParentID   int64  // 0 for root folders
	Bucket     string
}

// User is the owner of a bucket, with bridge credentials.
type User struct {
	ID           int64
	Email        string
	RootFolderID int64
	AccessKey    string
	SecretKey    string
}

// ShareGrant maps an opaque token to a target file or folder plus the
// context needed to retrieve it without the owner's live session.
type ShareGrant struct {
	Token     string
	UserEmail string
	Target    string // object id (file) or folder id rendered as text
	IsFolder  bool
	Mnemonic  string // decryption context handed over by the sharer
	Views     int    // remaining views, <0 means unlimited
	CreatedAt time.Time
}
