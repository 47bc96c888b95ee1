package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/peardrive/peardrive/internal/logging"
)

// Store is a PostgreSQL metadata catalog.
type Store struct {
	db *sql.DB
}

// New opens a connection pool to the catalog database.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate runs SQL migration files.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

// ─── Files ──────────────────────────────────────────────────────────────────

// FileByObjectID looks up a file by its bridge object id.
func (s *Store) FileByObjectID(ctx context.Context, objectID string) (*FileRef, error) {
	var f FileRef
	err := s.db.QueryRowContext(ctx,
		`SELECT id, bucket, object_id, folder_id, name, type, size
		 FROM files WHERE object_id = $1`, objectID).
		Scan(&f.ID, &f.Bucket, &f.ObjectID, &f.FolderID, &f.StoredName, &f.Type, &f.Size)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("file %s: %w", objectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query file %s: %w", objectID, err)
	}
	return &f, nil
}

// FilesInFolder returns the files directly inside a folder.
func (s *Store) FilesInFolder(ctx context.Context, folderID int64) ([]FileRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, bucket, object_id, folder_id, name, type, size
		 FROM files WHERE folder_id = $1 ORDER BY id`, folderID)
	if err != nil {
		return nil, fmt.Errorf("query files in folder %d: %w", folderID, err)
	}
	defer rows.Close()

	var files []FileRef
	for rows.Next() {
		var f FileRef
		if err := rows.Scan(&f.ID, &f.Bucket, &f.ObjectID, &f.FolderID, &f.StoredName, &f.Type, &f.Size); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFileByObjectID removes a file row after its object is gone from
// the bridge.
func (s *Store) DeleteFileByObjectID(ctx context.Context, objectID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE object_id = $1`, objectID)
	if err != nil {
		return fmt.Errorf("delete file %s: %w", objectID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file %s: %w", objectID, ErrNotFound)
	}
	return nil
}

// ─── Folders ────────────────────────────────────────────────────────────────

// FolderByID looks up one folder.
func (s *Store) FolderByID(ctx context.Context, id int64) (*Folder, error) {
	var f Folder
	var parent sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, parent_id, bucket FROM folders WHERE id = $1`, id).
		Scan(&f.ID, &f.StoredName, &parent, &f.Bucket)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query folder %d: %w", id, err)
	}
	if parent.Valid {
		f.ParentID = parent.Int64
	}
	return &f, nil
}

// Subfolders returns the direct child folders of a folder.
func (s *Store) Subfolders(ctx context.Context, id int64) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, parent_id, bucket FROM folders WHERE parent_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query subfolders of %d: %w", id, err)
	}
	defer rows.Close()

	var folders []Folder
	for rows.Next() {
		var f Folder
		var parent sql.NullInt64
		if err := rows.Scan(&f.ID, &f.StoredName, &parent, &f.Bucket); err != nil {
			return nil, fmt.Errorf("scan folder row: %w", err)
		}
		if parent.Valid {
			f.ParentID = parent.Int64
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// CreateFolder inserts a folder and returns it with its assigned id.
func (s *Store) CreateFolder(ctx context.Context, storedName string, parentID int64, bucket string) (*Folder, error) {
	f := Folder{StoredName: storedName, ParentID: parentID, Bucket: bucket}
	// Roots carry a NULL parent so the self-referencing key holds.
	parent := sql.NullInt64{Int64: parentID, Valid: parentID != 0}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO folders (name, parent_id, bucket) VALUES ($1, $2, $3) RETURNING id`,
		storedName, parent, bucket).Scan(&f.ID)
	if err != nil {
		return nil, fmt.Errorf("insert folder: %w", err)
	}
	return &f, nil
}

// DeleteFolder removes a folder row. Subfolders and their files go with
// it through the parent_id and folder_id foreign keys.
func (s *Store) DeleteFolder(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM folders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete folder %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	return nil
}

// ─── Users ──────────────────────────────────────────────────────────────────

// UserByEmail looks up a user and their bridge credentials.
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, root_folder_id, bridge_access_key, bridge_secret_key
		 FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Email, &u.RootFolderID, &u.AccessKey, &u.SecretKey)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query user %s: %w", email, err)
	}
	return &u, nil
}
