package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStatic(t *testing.T) {
	s := Static{APIKey: "k", APISecretKey: ""}
	ctx := context.Background()

	if v, err := s.Get(ctx, APIKey); err != nil || v != "k" {
		t.Errorf("Get(APIKey) = %q, %v", v, err)
	}
	if _, err := s.Get(ctx, APISecretKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for blank value, got %v", err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEnv(t *testing.T) {
	t.Setenv("TRAWL_SECRET_API_SECRET_KEY", "shh")

	e := NewEnv("TRAWL_SECRET_")
	if got := e.VarName(AccessTokenSecret); got != "TRAWL_SECRET_ACCESS_TOKEN_SECRET" {
		t.Errorf("unexpected var name %s", got)
	}

	v, err := e.Get(context.Background(), APISecretKey)
	if err != nil || v != "shh" {
		t.Errorf("Get(APISecretKey) = %q, %v", v, err)
	}
	if _, err := e.Get(context.Background(), DBPassword); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	content := "API-key: abc\nAccess-token: \"tok\"\nsqlPwd: ''\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write secrets file: %v", err)
	}

	f := NewFile(path)
	ctx := context.Background()

	if v, err := f.Get(ctx, APIKey); err != nil || v != "abc" {
		t.Errorf("Get(APIKey) = %q, %v", v, err)
	}
	if v, err := f.Get(ctx, AccessToken); err != nil || v != "tok" {
		t.Errorf("Get(AccessToken) = %q, %v", v, err)
	}
	if _, err := f.Get(ctx, DBPassword); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty value, got %v", err)
	}
}

func TestFile_Missing(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := f.Get(context.Background(), APIKey); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestNew(t *testing.T) {
	if _, err := New("env", "X_", ""); err != nil {
		t.Errorf("env: %v", err)
	}
	if _, err := New("file", "", ""); err == nil {
		t.Error("file without path: expected error")
	}
	if _, err := New("vault", "", ""); err == nil {
		t.Error("unknown kind: expected error")
	}
}
