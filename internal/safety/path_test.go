package safety

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestCleanGroupName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"report", "report", false},
		{"  sales 2024 ", "sales 2024", false},
		{"", "", true},
		{".", "", true},
		{"..", "", true},
		{"a/b", "", true},
		{`a\b`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanGroupName(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("CleanGroupName(%q) = %q, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CleanGroupName(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("CleanGroupName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestJoinUnder(t *testing.T) {
	root := t.TempDir()

	okPath, err := JoinUnder(root, "report")
	if err != nil {
		t.Fatalf("JoinUnder returned error: %v", err)
	}
	if okPath != filepath.Join(root, "report") {
		t.Fatalf("JoinUnder = %q, want %q", okPath, filepath.Join(root, "report"))
	}

	if _, err := JoinUnder(root, ".."); err == nil {
		t.Fatal("expected parent reference to fail")
	}
	if _, err := JoinUnder(root, "../escape"); err == nil {
		t.Fatal("expected traversal to fail")
	}
}

func TestEnsureUnderRoot(t *testing.T) {
	root := t.TempDir()
	if _, err := EnsureUnderRoot(root, root+"/child/file.txt"); err != nil {
		t.Fatalf("EnsureUnderRoot failed for child path: %v", err)
	}
	if _, err := EnsureUnderRoot(root, root+"/../escape"); err == nil {
		t.Fatal("expected escape path to fail")
	}
	if _, err := EnsureUnderRoot(root, root); err == nil {
		t.Fatal("expected root itself to fail")
	}
	if _, err := EnsureUnderRoot("data/backups", "data/backups/report"); err != nil {
		t.Fatalf("relative paths should compare lexically: %v", err)
	}
}

func TestReadAllWithLimit(t *testing.T) {
	_, err := ReadAllWithLimit(strings.NewReader("abc"), 2)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}

	data, err := ReadAllWithLimit(strings.NewReader("abc"), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "abc" {
		t.Fatalf("unexpected data: %q", string(data))
	}
}

func TestDecodeJSON(t *testing.T) {
	var req struct {
		Days int `json:"days"`
	}
	req.Days = 30

	if err := DecodeJSON(strings.NewReader("  "), 64, &req); err != nil {
		t.Fatalf("empty body: %v", err)
	}
	if req.Days != 30 {
		t.Errorf("empty body changed value to %d", req.Days)
	}

	if err := DecodeJSON(strings.NewReader(`{"days": 7}`), 64, &req); err != nil {
		t.Fatalf("valid body: %v", err)
	}
	if req.Days != 7 {
		t.Errorf("Days = %d, want 7", req.Days)
	}

	if err := DecodeJSON(strings.NewReader(`{"weeks": 1}`), 64, &req); err == nil {
		t.Error("unknown field accepted")
	}
	if err := DecodeJSON(strings.NewReader(`{"days": 7}`), 4, &req); !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("oversized body error = %v, want ErrBodyTooLarge", err)
	}
}

func TestIsLoopbackListen(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		"0.0.0.0:8080":   false,
		":8080":          false,
		"10.0.0.5:8080":  false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := IsLoopbackListen(addr); got != want {
			t.Errorf("IsLoopbackListen(%q) = %v, want %v", addr, got, want)
		}
	}
}
