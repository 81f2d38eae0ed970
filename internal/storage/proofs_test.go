package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestSaveOpenDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewProofStore(dir, 1024)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	ctx := context.Background()

	ref, err := store.Save(ctx, bytes.NewReader(pngHeader))
	if err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	if filepath.Ext(ref) != ".png" {
		t.Errorf("Expected .png reference, got %s", ref)
	}

	rc, err := store.Open(ref)
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, pngHeader) {
		t.Error("Stored content differs from upload")
	}

	if err := store.Delete(ctx, ref, "../etc/passwd", "missing.png"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ref)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected file to be removed, got %v", err)
	}
}

func TestSaveRejects(t *testing.T) {
	store, err := NewProofStore(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	ctx := context.Background()

	if _, err := store.Save(ctx, bytes.NewReader([]byte("plain text"))); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("Expected ErrUnsupportedType, got %v", err)
	}

	big := append(append([]byte{}, pngHeader...), make([]byte, 32)...)
	if _, err := store.Save(ctx, bytes.NewReader(big)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge, got %v", err)
	}
}

func TestOpenRejectsTraversal(t *testing.T) {
	store, err := NewProofStore(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if _, err := store.Open("../secret.png"); !errors.Is(err, ErrInvalidRef) {
		t.Errorf("Expected ErrInvalidRef, got %v", err)
	}
}

func TestValidRef(t *testing.T) {
	store, err := NewProofStore(t.TempDir(), 1<<10)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	ref, err := store.Save(context.Background(), bytes.NewReader(pngHeader))
	if err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	if !ValidRef(ref) {
		t.Errorf("Expected saved reference %q to be valid", ref)
	}
	for _, ref := range []string{"", "proof.png", "../secret.png", "550e8400-e29b-41d4-a716-446655440000.exe"} {
		if ValidRef(ref) {
			t.Errorf("Expected %q to be rejected", ref)
		}
	}
}
