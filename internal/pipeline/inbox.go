package pipeline

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/menu-safety/internal/common"
)

// MaxImageBytes caps an uploaded menu photo.
const MaxImageBytes = 8 << 20

// sniffedExt maps a detected content type to the extension tesseract is given.
var sniffedExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/bmp":  ".bmp",
}

// Inbox is the only directory the OCR stage reads from. Uploaded photos are
// written into it for the length of a run, and client-supplied image paths must
// resolve inside it.
type Inbox struct {
	dir string
}

// OpenInbox creates dir if needed. An empty dir means a menu-safety-inbox
// directory under os.TempDir.
func OpenInbox(dir string) (*Inbox, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "menu-safety-inbox")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create scan inbox: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("scan inbox: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return &Inbox{dir: abs}, nil
}

// Dir returns the absolute inbox path.
func (in *Inbox) Dir() string { return in.dir }

// Resolve maps a client path to a file inside the inbox. Relative paths are
// taken from the inbox root. Symlinks are followed before the containment check.
func (in *Inbox) Resolve(p string) (string, error) {
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(in.dir, full)
	}
	full = filepath.Clean(full)
	if real, err := filepath.EvalSymlinks(full); err == nil {
		full = real
	}
	rel, err := filepath.Rel(in.dir, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", common.NewAppError("INVALID_SCAN", "image_path must name a file inside the scan inbox", common.ErrInvalidInput)
	}
	return full, nil
}

// Store writes an uploaded photo to a new file in the inbox and returns its path.
func (in *Inbox) Store(data []byte) (string, error) {
	ext, err := imageExt(data)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(in.dir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("stage upload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("stage upload: %w", err)
	}
	return f.Name(), nil
}

func imageExt(data []byte) (string, error) {
	ct := http.DetectContentType(data)
	ext, ok := sniffedExt[ct]
	if !ok {
		return "", common.NewAppError("INVALID_SCAN", "unsupported image content "+ct, common.ErrInvalidInput)
	}
	return ext, nil
}
