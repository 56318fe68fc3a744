package blob

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryAccessor(t *testing.T) {
	a := NewMemory()
	ctx := context.Background()

	if err := a.Upload(ctx, "files/obj-1", bytes.NewReader([]byte("hello")), 5, "text/plain"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	ok, err := a.Exists(ctx, "files/obj-1")
	if err != nil || !ok {
		t.Fatalf("expected object to exist, got ok=%v err=%v", ok, err)
	}
	st, err := a.Stat(ctx, "files/obj-1")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Size != 5 {
		t.Fatalf("expected size 5, got %d", st.Size)
	}

	if err := a.Copy(ctx, "files/obj-1", "backups/obj-1"); err != nil {
		t.Fatalf("copy: %v", err)
	}
	ok, _ = a.Exists(ctx, "backups/obj-1")
	if !ok {
		t.Fatalf("expected copied object to exist")
	}
	if err := a.Copy(ctx, "files/missing", "files/dst"); !errors.Is(err, ErrObjectMissing) {
		t.Fatalf("expected ErrObjectMissing, got %v", err)
	}

	url, err := a.PresignGet(ctx, "files/obj-1", "report name.pdf", time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if url == "" {
		t.Fatalf("expected presigned url")
	}
	if _, err := a.PresignGet(ctx, "files/missing", "x", time.Minute); !errors.Is(err, ErrObjectMissing) {
		t.Fatalf("expected ErrObjectMissing, got %v", err)
	}

	if err := a.Delete(ctx, "files/obj-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, _ = a.Exists(ctx, "files/obj-1")
	if ok {
		t.Fatalf("expected object to be gone")
	}
	// Deleting a missing object is not an error.
	if err := a.Delete(ctx, "files/obj-1"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}
