package port

import "context"

// FileStorage keeps generated documents under a base directory.
// Paths are relative and use forward slashes.
type FileStorage interface {
	Save(ctx context.Context, path string, content []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) bool
}
