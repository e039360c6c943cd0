package reference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidIdentifier is returned for identifiers that are not plain file names.
var ErrInvalidIdentifier = errors.New("invalid reference identifier")

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// StorageError reports a failed read or write of a reference image.
type StorageError struct {
	Op  string
	ID  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("reference %s %s: %v", e.Op, e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Store keeps enrolled reference images as files in a single directory.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates the directory if needed and returns a store rooted at it.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StorageError{Op: "init", ID: dir, Err: err}
	}
	return &Store{dir: dir, logger: logger.Named("reference_store")}, nil
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// List returns the identifiers of all reference images in lexical order.
// A missing directory is an empty reference set.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, &StorageError{Op: "list", ID: s.dir, Err: err}
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Load reads the image stored under id.
func (s *Store) Load(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(id)
	if err != nil {
		return nil, &StorageError{Op: "load", ID: id, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &StorageError{Op: "load", ID: id, Err: err}
	}
	return data, nil
}

// Exists reports whether an image is stored under id.
func (s *Store) Exists(id string) bool {
	path, err := s.path(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Save writes data under id. The file only becomes visible once it is fully
// written; on failure nothing is left behind.
func (s *Store) Save(ctx context.Context, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return &StorageError{Op: "save", ID: id, Err: err}
	}
	path, err := s.path(id)
	if err != nil {
		return &StorageError{Op: "save", ID: id, Err: err}
	}

	tmp, err := os.CreateTemp(s.dir, ".enroll-*.tmp")
	if err != nil {
		return &StorageError{Op: "save", ID: id, Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() {
		if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("failed to remove temporary file", zap.String("path", tmpName), zap.Error(rmErr))
		}
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return &StorageError{Op: "save", ID: id, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return &StorageError{Op: "save", ID: id, Err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return &StorageError{Op: "save", ID: id, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return &StorageError{Op: "save", ID: id, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return &StorageError{Op: "save", ID: id, Err: err}
	}

	s.logger.Debug("reference image written", zap.String("id", id), zap.Int("bytes", len(data)))
	return nil
}

func (s *Store) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return "", ErrInvalidIdentifier
	}
	return filepath.Join(s.dir, id), nil
}

// NormalizeIdentifier derives a stable JPEG file name from an uploaded file
// name, e.g. "Jiří Novák.PNG" -> "Jiri-Novak.jpg". Case is preserved, so
// "Alice.png" and "alice.png" are distinct references.
func NormalizeIdentifier(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if stripped, _, err := transform.String(t, base); err == nil {
		base = stripped
	}

	var b strings.Builder
	lastDash := false
	for _, r := range base {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}

	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = uuid.NewString()
	}
	return name + ".jpg"
}
