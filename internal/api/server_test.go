package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/backup"
	"github.com/filedepot/filedepot/internal/blob"
	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/conflict"
	"github.com/filedepot/filedepot/internal/journal"
	"github.com/filedepot/filedepot/internal/model"
	"github.com/filedepot/filedepot/internal/signing"
	"github.com/filedepot/filedepot/internal/store"
	"github.com/filedepot/filedepot/internal/undo"
)

type testEnv struct {
	handler http.Handler
	store   *store.MemoryStore
	blobs   *blob.MemoryAccessor
	log     *journal.Log
}

func newTestEnv() *testEnv {
	cfg := &config.Config{
		Address:         ":0",
		FilesBucket:     "files",
		BackupBucket:    "backups",
		MaxFileSize:     1 << 20,
		RetentionWindow: time.Hour,
		JournalCapacity: journal.DefaultCapacity,
		SigningSecret:   []byte("test-secret"),
		ShareLinkTTL:    time.Minute,
	}
	st := store.NewMemoryStore()
	blobs := blob.NewMemory()
	log := journal.NewLog(cfg.JournalCapacity)
	logger := zap.NewNop()
	conflicts := conflict.NewEngine(st)
	backups := backup.NewService(st, blobs, log, logger, cfg.FilesBucket, cfg.BackupBucket)
	undoer := undo.NewEngine(st, blobs, backups, log, logger, cfg.FilesBucket)
	signer := signing.NewSigner(cfg.SigningSecret)
	srv := New(cfg, st, blobs, conflicts, backups, undoer, log, signer, logger)
	return &testEnv{handler: srv.Routes(), store: st, blobs: blobs, log: log}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("X-Depot-User", "u1")
	req.Header.Set("X-Depot-Session", "s1")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) doJSON(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	return e.do(t, method, path, body, "application/json")
}

func multipartBody(t *testing.T, filename string, content []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, filename string, content []byte, conflictAction string) (*httptest.ResponseRecorder, *model.FileRecord) {
	t.Helper()
	body, contentType := multipartBody(t, filename, content)
	path := "/files"
	if conflictAction != "" {
		path += "?conflictAction=" + url.QueryEscape(conflictAction)
	}
	rr := e.do(t, http.MethodPost, path, body, contentType)
	if rr.Code != http.StatusCreated {
		return rr, nil
	}
	var rec model.FileRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	return rr, &rec
}

func TestUploadAndList(t *testing.T) {
	e := newTestEnv()
	rr, rec := e.upload(t, "report.pdf", []byte("%PDF-1.4 fake contents"), "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "report.pdf", rec.DisplayName)
	assert.Equal(t, "report.pdf", rec.OriginalName)
	assert.Equal(t, 1, rec.Version)
	assert.NotEmpty(t, rec.InternalName)
	assert.NotEmpty(t, rec.Checksum)
	assert.Equal(t, model.VisibilityPrivate, rec.Visibility)

	exists, err := e.blobs.Exists(context.Background(), "files/"+rec.InternalName)
	require.NoError(t, err)
	assert.True(t, exists)

	list := e.do(t, http.MethodGet, "/files", nil, "")
	require.Equal(t, http.StatusOK, list.Code)
	var payload struct {
		Files []model.FileRecord `json:"files"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &payload))
	require.Len(t, payload.Files, 1)
}

func TestUploadRequiresUser(t *testing.T) {
	e := newTestEnv()
	body, contentType := multipartBody(t, "a.txt", []byte("hi"))
	req := httptest.NewRequest(http.MethodPost, "/files", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestUploadDuplicateReportsConflict(t *testing.T) {
	e := newTestEnv()
	rr, _ := e.upload(t, "report.pdf", []byte("original file body"), "")
	require.Equal(t, http.StatusCreated, rr.Code)

	rr, _ = e.upload(t, "report.pdf", []byte("x"), "")
	require.Equal(t, http.StatusConflict, rr.Code)
	var info conflict.Info
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.True(t, info.HasConflict)
	require.NotNil(t, info.Existing)
	assert.Equal(t, "report.pdf", info.Existing.DisplayName)
	assert.NotEmpty(t, info.Recommendations)
	assert.NotEmpty(t, info.Suggestions)
}

func TestUploadConflictRename(t *testing.T) {
	e := newTestEnv()
	rr, _ := e.upload(t, "report.pdf", []byte("first"), "")
	require.Equal(t, http.StatusCreated, rr.Code)

	rr, rec := e.upload(t, "report.pdf", []byte("second"), "rename")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "report (1).pdf", rec.DisplayName)
	assert.Equal(t, "report.pdf", rec.OriginalName)
}

func TestUploadInvalidConflictAction(t *testing.T) {
	e := newTestEnv()
	rr, _ := e.upload(t, "report.pdf", []byte("first"), "")
	require.Equal(t, http.StatusCreated, rr.Code)
	rr, _ = e.upload(t, "report.pdf", []byte("second"), "merge")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReplaceAndUndo(t *testing.T) {
	e := newTestEnv()
	rr, original := e.upload(t, "report.pdf", []byte("short body"), "")
	require.Equal(t, http.StatusCreated, rr.Code)

	rr, replacement := e.upload(t, "report.pdf", []byte(strings.Repeat("much longer body ", 10)), "replace")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "report.pdf", replacement.DisplayName)
	assert.NotEqual(t, original.InternalName, replacement.InternalName)

	exists, err := e.blobs.Exists(context.Background(), "files/"+original.InternalName)
	require.NoError(t, err)
	assert.False(t, exists, "the replaced object is removed")

	entries := e.log.Entries("u1")
	require.NotEmpty(t, entries)
	assert.Equal(t, model.ActionFileReplaced, entries[0].Action)
	assert.NotEmpty(t, entries[0].Details["snapshotId"])

	// Undo brings the original content back under a fresh internal name.
	rr = e.doJSON(t, http.MethodPost, "/undo", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	get := e.do(t, http.MethodGet, "/files", nil, "")
	var payload struct {
		Files []model.FileRecord `json:"files"`
	}
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &payload))
	require.Len(t, payload.Files, 1)
	restored := payload.Files[0]
	assert.Equal(t, "report.pdf", restored.DisplayName)
	assert.Equal(t, original.Version+1, restored.Version)
	assert.Equal(t, original.Size, restored.Size)
	assert.True(t, original.UploadedAt.Equal(restored.UploadedAt), "the original upload date survives the round trip")
}

func TestUndoUploadTwice(t *testing.T) {
	e := newTestEnv()
	rr, rec := e.upload(t, "a.txt", []byte("hello"), "")
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = e.doJSON(t, http.MethodPost, "/undo", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var entry model.ActionLogEntry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entry))
	assert.Equal(t, model.ActionUndoPerformed, entry.Action)

	get := e.do(t, http.MethodGet, "/files/"+rec.InternalName, nil, "")
	assert.Equal(t, http.StatusNotFound, get.Code)

	rr = e.doJSON(t, http.MethodPost, "/undo", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRename(t *testing.T) {
	e := newTestEnv()
	rr, rec := e.upload(t, "a.txt", []byte("hello"), "")
	require.Equal(t, http.StatusCreated, rr.Code)
	rr2, _ := e.upload(t, "taken.txt", []byte("other"), "")
	require.Equal(t, http.StatusCreated, rr2.Code)

	rr = e.doJSON(t, http.MethodPost, "/files/"+rec.InternalName+"/rename", map[string]string{"newName": "b.txt"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var updated model.FileRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	assert.Equal(t, "b.txt", updated.DisplayName)
	assert.Equal(t, rec.Version+1, updated.Version)

	rr = e.doJSON(t, http.MethodPost, "/files/"+rec.InternalName+"/rename", map[string]string{"newName": "taken.txt"})
	require.Equal(t, http.StatusConflict, rr.Code)
	var conflictResp struct {
		Suggestions []string `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &conflictResp))
	assert.NotEmpty(t, conflictResp.Suggestions)

	// Undo the successful rename.
	rr = e.doJSON(t, http.MethodPost, "/undo", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	get := e.do(t, http.MethodGet, "/files/"+rec.InternalName, nil, "")
	require.Equal(t, http.StatusOK, get.Code)
	var back model.FileRecord
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &back))
	assert.Equal(t, "a.txt", back.DisplayName)
}

func TestDeleteRestorePurge(t *testing.T) {
	e := newTestEnv()
	rr, rec := e.upload(t, "a.txt", []byte("hello"), "")
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = e.do(t, http.MethodDelete, "/files/"+rec.InternalName, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var deleted model.FileRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &deleted))
	assert.True(t, deleted.IsDeleted)
	require.NotNil(t, deleted.RecycleExpiresAt)

	bin := e.do(t, http.MethodGet, "/recycle-bin", nil, "")
	require.Equal(t, http.StatusOK, bin.Code)
	var payload struct {
		Files []model.FileRecord `json:"files"`
	}
	require.NoError(t, json.Unmarshal(bin.Body.Bytes(), &payload))
	require.Len(t, payload.Files, 1)

	// Purging an active record is rejected.
	rr = e.do(t, http.MethodPost, "/recycle-bin/"+rec.InternalName+"/restore", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	rr = e.do(t, http.MethodDelete, "/recycle-bin/"+rec.InternalName, nil, "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = e.do(t, http.MethodDelete, "/files/"+rec.InternalName, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	rr = e.do(t, http.MethodDelete, "/recycle-bin/"+rec.InternalName, nil, "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	exists, err := e.blobs.Exists(context.Background(), "files/"+rec.InternalName)
	require.NoError(t, err)
	assert.False(t, exists)
	get := e.do(t, http.MethodGet, "/files/"+rec.InternalName, nil, "")
	assert.Equal(t, http.StatusNotFound, get.Code)
}

func TestConflictPreview(t *testing.T) {
	e := newTestEnv()
	rr, _ := e.upload(t, "report.pdf", []byte("0123456789"), "")
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = e.do(t, http.MethodGet, "/conflicts?name=report.pdf&size=100&mime=application/pdf", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var info conflict.Info
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.True(t, info.HasConflict)
	require.NotEmpty(t, info.Recommendations)
	assert.Equal(t, conflict.ActionReplace, info.Recommendations[0].Action)

	rr = e.do(t, http.MethodGet, "/conflicts?name=free.pdf", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.False(t, info.HasConflict)
}

func TestJournalEndpoint(t *testing.T) {
	e := newTestEnv()
	rr, _ := e.upload(t, "a.txt", []byte("hello"), "")
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = e.do(t, http.MethodGet, "/journal", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var payload struct {
		Entries []model.ActionLogEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	require.Len(t, payload.Entries, 1)
	assert.Equal(t, model.ActionFileUploaded, payload.Entries[0].Action)
}

func TestSharedDownload(t *testing.T) {
	e := newTestEnv()
	rr, rec := e.upload(t, "a.txt", []byte("hello"), "")
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = e.do(t, http.MethodGet, "/files/"+rec.InternalName+"/share-link", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var link struct {
		URL     string `json:"url"`
		Expires string `json:"expires"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &link))
	require.NotEmpty(t, link.URL)

	// The signed link resolves even though the record is private.
	rr = e.do(t, http.MethodGet, link.URL, nil, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var download struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &download))
	assert.NotEmpty(t, download.URL)

	// Stripping the signature breaks the private link.
	token := strings.TrimPrefix(strings.Split(link.URL, "?")[0], "/shared/")
	rr = e.do(t, http.MethodGet, "/shared/"+token, nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Public records need no signature.
	rr = e.doJSON(t, http.MethodPost, "/files/"+rec.InternalName+"/share", map[string]string{"visibility": "public"})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = e.do(t, http.MethodGet, "/shared/"+token, nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	// Rotation revokes the published token.
	rr = e.doJSON(t, http.MethodPost, "/files/"+rec.InternalName+"/share/rotate", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var rotated struct {
		ShareToken string `json:"shareToken"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rotated))
	require.NotEqual(t, token, rotated.ShareToken)
	rr = e.do(t, http.MethodGet, "/shared/"+token, nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = e.do(t, http.MethodGet, "/shared/"+rotated.ShareToken, nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = e.doJSON(t, http.MethodPost, "/files/"+rec.InternalName+"/share", map[string]string{"visibility": "invalid"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTenantIsolation(t *testing.T) {
	e := newTestEnv()
	rr, rec := e.upload(t, "a.txt", []byte("hello"), "")
	require.Equal(t, http.StatusCreated, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/files/"+rec.InternalName, nil)
	req.Header.Set("X-Depot-User", "u2")
	got := httptest.NewRecorder()
	e.handler.ServeHTTP(got, req)
	assert.Equal(t, http.StatusNotFound, got.Code)
}

func TestUploadRejectsOversize(t *testing.T) {
	e := newTestEnv()
	content := bytes.Repeat([]byte("x"), (1<<20)+1)
	rr, _ := e.upload(t, "big.bin", content, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
