package storage_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/JaimeStill/rxflow/pkg/storage"
)

func newFilesystem(t *testing.T) storage.System {
	t.Helper()
	return storage.NewFilesystem(t.TempDir(), slog.New(slog.DiscardHandler))
}

func TestFilesystemRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newFilesystem(t)

	key := "uploads/abc/prescriptions.csv"
	if err := s.Upload(ctx, key, strings.NewReader("id,date\n1,2024-01-01\n"), "text/csv"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	ok, err := s.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v; want true, nil", ok, err)
	}

	rc, err := s.Download(ctx, key)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(data) != "id,date\n1,2024-01-01\n" {
		t.Errorf("Download() content = %q", data)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Download(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Download() after delete error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestFilesystemKeyValidation(t *testing.T) {
	ctx := context.Background()
	s := newFilesystem(t)

	tests := []struct {
		name string
		key  string
		want error
	}{
		{"empty", "", storage.ErrEmptyKey},
		{"traversal", "../etc/passwd", storage.ErrInvalidKey},
		{"nested traversal", "uploads/../../x", storage.ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Upload(ctx, tt.key, strings.NewReader("x"), "text/csv")
			if !errors.Is(err, tt.want) {
				t.Errorf("Upload(%q) error = %v, want %v", tt.key, err, tt.want)
			}
		})
	}
}

func TestFilesystemMissing(t *testing.T) {
	ctx := context.Background()
	s := newFilesystem(t)

	if err := s.Delete(ctx, "missing.csv"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Delete() error = %v, want %v", err, storage.ErrNotFound)
	}
	ok, err := s.Exists(ctx, "missing.csv")
	if err != nil || ok {
		t.Errorf("Exists() = %v, %v; want false, nil", ok, err)
	}
}

func TestConfigFinalize(t *testing.T) {
	tests := []struct {
		name    string
		cfg     storage.Config
		wantErr bool
	}{
		{"defaults to filesystem", storage.Config{}, false},
		{"azure without connection string", storage.Config{Provider: storage.ProviderAzure}, true},
		{"azure configured", storage.Config{Provider: storage.ProviderAzure, ConnectionString: "UseDevelopmentStorage=true"}, false},
		{"unknown provider", storage.Config{Provider: "s3"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Finalize(nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("Finalize() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
