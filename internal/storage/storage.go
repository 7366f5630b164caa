// Package storage persists attachment content on local disk. Database
// rows carry only the returned path references.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore writes attachment files under a root directory, one
// subdirectory per mail.
type FileStore struct {
	root string
}

// NewFileStore creates the store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FileStore{root: dir}, nil
}

// Save writes content for the given mail and returns the stored path.
// Filenames are flattened to their base name; path traversal in
// user-supplied names cannot escape the mail's directory.
func (f *FileStore) Save(mailType, mailID, filename string, content []byte) (string, error) {
	name := sanitize(filename)
	dir := filepath.Join(f.root, strings.ToLower(mailType), mailID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create mail dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	return path, nil
}

// Read returns the stored content for a path previously returned by Save.
func (f *FileStore) Read(path string) ([]byte, error) {
	clean := filepath.Clean(path)
	if !strings.HasPrefix(clean, filepath.Clean(f.root)+string(os.PathSeparator)) {
		return nil, fmt.Errorf("path outside storage root: %s", path)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return data, nil
}

// DeleteMail removes every file stored for a mail. Used by retention.
func (f *FileStore) DeleteMail(mailType, mailID string) error {
	if mailID == "" {
		return fmt.Errorf("empty mail id")
	}
	dir := filepath.Join(f.root, strings.ToLower(mailType), mailID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete mail dir: %w", err)
	}
	return nil
}

func sanitize(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "attachment"
	}
	return name
}
