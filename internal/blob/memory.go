package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

// MemoryAccessor is the in-memory Accessor used by tests and local
// development. Objects live in a mutex-guarded map keyed by path.
type MemoryAccessor struct {
	mu      sync.RWMutex
	objects map[string]memObject

	// FailCopy and FailDelete, when set, make the corresponding operation
	// return the given error. Tests use them to exercise best-effort
	// paths.
	FailCopy   error
	FailDelete error
}

type memObject struct {
	data    []byte
	modTime time.Time
}

// NewMemory constructs an empty MemoryAccessor.
func NewMemory() *MemoryAccessor {
	return &MemoryAccessor{objects: make(map[string]memObject)}
}

// Put stores data at path directly, bypassing Upload.
func (a *MemoryAccessor) Put(path string, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[path] = memObject{data: append([]byte(nil), data...), modTime: time.Now().UTC()}
}

// Exists reports whether an object is present at path.
func (a *MemoryAccessor) Exists(ctx context.Context, path string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.objects[path]
	return ok, nil
}

// Copy duplicates src at dst.
func (a *MemoryAccessor) Copy(ctx context.Context, src, dst string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailCopy != nil {
		return a.FailCopy
	}
	obj, ok := a.objects[src]
	if !ok {
		return fmt.Errorf("copy %s: %w", src, ErrObjectMissing)
	}
	a.objects[dst] = memObject{data: append([]byte(nil), obj.data...), modTime: time.Now().UTC()}
	return nil
}

// Delete removes the object at path; missing objects are not an error.
func (a *MemoryAccessor) Delete(ctx context.Context, path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailDelete != nil {
		return a.FailDelete
	}
	delete(a.objects, path)
	return nil
}

// Stat returns size and modification time of the object at path.
func (a *MemoryAccessor) Stat(ctx context.Context, path string) (Stat, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	obj, ok := a.objects[path]
	if !ok {
		return Stat{}, ErrObjectMissing
	}
	return Stat{Size: int64(len(obj.data)), ModTime: obj.modTime}, nil
}

// Upload stores the reader's contents at path.
func (a *MemoryAccessor) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	a.Put(path, buf.Bytes())
	return nil
}

// PresignGet returns a fake URL good enough for handler tests.
func (a *MemoryAccessor) PresignGet(ctx context.Context, path, filename string, ttl time.Duration) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.objects[path]; !ok {
		return "", ErrObjectMissing
	}
	return "memory://" + path + "?filename=" + url.QueryEscape(filename), nil
}
