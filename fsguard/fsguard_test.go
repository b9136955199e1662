package fsguard

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "in.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	outside := t.TempDir()

	tests := []struct {
		name    string
		root    string
		input   string
		wantErr bool
	}{
		{"no root", "", "/anywhere/at/all", false},
		{"relative", root, "in.txt", false},
		{"absolute inside", root, filepath.Join(root, "in.txt"), false},
		{"root itself", root, root, false},
		{"dotdot", root, "../etc/passwd", true},
		{"dotdot inside", root, "sub/../in.txt", false},
		{"absolute outside", root, filepath.Join(outside, "f.txt"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.root, tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Resolve(%q, %q) error=%v, wantErr=%v", tt.root, tt.input, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrOutsideRoot) {
				t.Errorf("error = %v, want ErrOutsideRoot", err)
			}
		})
	}
}

func TestResolve_Symlink(t *testing.T) {
	// WHAT: a symlink inside root pointing outside is refused.
	root := t.TempDir()
	outside := t.TempDir()
	target := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(target, []byte("s"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlink: %v", err)
	}
	if _, err := Resolve(root, "link.txt"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("err = %v, want ErrOutsideRoot", err)
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := ReadFile(path, 10)
	if err != nil || string(data) != "0123456789" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}
	if _, err := ReadFile(path, 9); !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}
	if _, err := ReadFile(path+".missing", 10); !os.IsNotExist(err) {
		t.Errorf("err = %v, want not exist", err)
	}
}
