package pipeline

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/joseph-ayodele/menu-safety/internal/common"
)

func TestInbox_Resolve(t *testing.T) {
	inbox, err := OpenInbox(filepath.Join(t.TempDir(), "inbox"))
	if err != nil {
		t.Fatal(err)
	}
	root := inbox.Dir()

	tests := []struct {
		name string
		in   string
		want string // empty means rejected
	}{
		{"relative", "menu.png", filepath.Join(root, "menu.png")},
		{"nested", "2025/03/menu.jpg", filepath.Join(root, "2025/03/menu.jpg")},
		{"absolute inside", filepath.Join(root, "menu.png"), filepath.Join(root, "menu.png")},
		{"dot segments that stay inside", "a/../menu.png", filepath.Join(root, "menu.png")},
		{"parent escape", "../menu.png", ""},
		{"absolute outside", "/etc/private/scan.png", ""},
		{"absolute with dot segments", "/root/../etc/private/scan.png", ""},
		{"inbox itself", root, ""},
		{"prefix sibling", root + "-other/menu.png", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := inbox.Resolve(tt.in)
			if tt.want == "" {
				if !errors.Is(err, common.ErrInvalidInput) {
					t.Errorf("Resolve(%q) = %q, %v; want invalid input", tt.in, got, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Resolve(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestInbox_ResolveRejectsSymlinkOut(t *testing.T) {
	base := t.TempDir()
	inbox, err := OpenInbox(filepath.Join(base, "inbox"))
	if err != nil {
		t.Fatal(err)
	}
	secret := filepath.Join(base, "secret.png")
	if err := os.WriteFile(secret, pngBytes, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(secret, filepath.Join(inbox.Dir(), "link.png")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if _, err := inbox.Resolve("link.png"); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("symlink out of the inbox resolved: %v", err)
	}
}

func TestInbox_Store(t *testing.T) {
	inbox, err := OpenInbox(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	path, err := inbox.Store(pngBytes)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if filepath.Dir(path) != inbox.Dir() || filepath.Ext(path) != ".png" {
		t.Errorf("stored at %s", path)
	}
	got, err := os.ReadFile(path)
	if err != nil || !bytes.Equal(got, pngBytes) {
		t.Errorf("stored content = %d bytes, %v", len(got), err)
	}

	if _, err := inbox.Store([]byte("%PDF-1.7")); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("pdf upload = %v, want invalid input", err)
	}
}
