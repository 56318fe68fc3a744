// Package api exposes the HTTP surface. Handlers validate input, resolve
// the acting user, and delegate to the engine; authentication itself is an
// upstream concern and arrives as the X-Depot-User header.
package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
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

// Server hosts the HTTP handlers.
type Server struct {
	cfg       *config.Config
	store     store.Store
	blobs     blob.Uploader
	conflicts *conflict.Engine
	backups   *backup.Service
	undoer    *undo.Engine
	log       *journal.Log
	signer    *signing.Signer
	logger    *zap.Logger
	server    *http.Server
	once      sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, st store.Store, blobs blob.Uploader, conflicts *conflict.Engine,
	backups *backup.Service, undoer *undo.Engine, log *journal.Log, signer *signing.Signer, logger *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		blobs:     blobs,
		conflicts: conflicts,
		backups:   backups,
		undoer:    undoer,
		log:       log,
		signer:    signer,
		logger:    logger,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.Routes(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", zap.String("address", s.cfg.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Routes builds the handler tree. Exported so tests can drive the API
// through httptest without binding a socket.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/files", s.handleFiles)
	mux.HandleFunc("/files/", s.handleFileRoute)
	mux.HandleFunc("/recycle-bin", s.handleRecycleBin)
	mux.HandleFunc("/recycle-bin/", s.handleRecycleBinRoute)
	mux.HandleFunc("/conflicts", s.handleConflictPreview)
	mux.HandleFunc("/undo", s.handleUndo)
	mux.HandleFunc("/journal", s.handleJournal)
	mux.HandleFunc("/shared/", s.handleSharedDownload)
	return corsMiddleware(s.loggingMiddleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// userID resolves the acting tenant; empty means the caller skipped the
// gateway.
func userID(r *http.Request) string {
	return r.Header.Get("X-Depot-User")
}

func sessionID(r *http.Request) string {
	if sid := r.Header.Get("X-Depot-Session"); sid != "" {
		return sid
	}
	return "default"
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodGet:
		files, err := s.store.ListFilesForUser(r.Context(), user)
		if err != nil {
			s.respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"files": files})
	case http.MethodPost:
		s.handleUpload(w, r, user)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleFileRoute(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/files/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	internal := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			rec, err := s.store.GetByInternalName(r.Context(), user, internal)
			if err != nil {
				s.respondError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, rec)
		case http.MethodDelete:
			s.handleSoftDelete(w, r, user, internal)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}
	switch strings.Join(parts[1:], "/") {
	case "rename":
		s.handleRename(w, r, user, internal)
	case "share":
		s.handleShare(w, r, user, internal)
	case "share/rotate":
		s.handleShareRotate(w, r, user, internal)
	case "share-link":
		s.handleShareLink(w, r, user, internal)
	default:
		http.NotFound(w, r)
	}
}

// handleUpload stages the multipart body, runs the conflict check, and
// applies the requested resolution. conflictAction is one of "", "fail",
// "rename", "replace".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user string) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer part.Close()
	tmp, err := s.persistTemp(part)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer os.Remove(tmp.path)
	defer tmp.f.Close()

	displayName := tmp.filename
	conflictAction := r.URL.Query().Get("conflictAction")
	info, err := s.conflicts.CheckFileConflict(ctx, user, displayName, conflict.Stats{Size: tmp.size, MimeType: tmp.contentType})
	if err != nil {
		s.respondError(w, err)
		return
	}

	var snap *model.BackupSnapshot
	var replaced *model.FileRecord
	if info.HasConflict {
		switch conflictAction {
		case "", "fail":
			respondJSON(w, http.StatusConflict, info)
			return
		case "rename":
			displayName, err = s.conflicts.GenerateUniqueFilename(ctx, user, displayName)
			if err != nil {
				s.respondError(w, err)
				return
			}
		case "replace":
			replaced, err = s.store.GetByDisplayName(ctx, user, displayName)
			if err != nil {
				s.respondError(w, err)
				return
			}
			// Backups are best-effort; a failed copy degrades to replace
			// without undo support.
			snap, err = s.backups.CreateBackup(ctx, replaced, sessionID(r), "replace")
			if err != nil {
				s.logger.Warn("proceeding without backup", zap.String("file", displayName), zap.Error(err))
				snap = nil
			}
			if err := s.blobs.Delete(ctx, s.cfg.FilesBucket+"/"+replaced.InternalName); err != nil {
				s.respondError(w, err)
				return
			}
			if _, err := s.store.RemoveFile(ctx, user, replaced.InternalName); err != nil {
				s.respondError(w, err)
				return
			}
		default:
			http.Error(w, "invalid conflictAction", http.StatusBadRequest)
			return
		}
	}

	internal := uuid.NewString()
	if _, err := tmp.f.Seek(0, 0); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.blobs.Upload(ctx, s.cfg.FilesBucket+"/"+internal, tmp.f, tmp.size, tmp.contentType); err != nil {
		s.respondError(w, err)
		return
	}
	rec, err := s.store.AddFile(ctx, store.AddFileParams{
		UserID:       user,
		DisplayName:  displayName,
		OriginalName: tmp.filename,
		InternalName: internal,
		Size:         tmp.size,
		MimeType:     tmp.contentType,
		Checksum:     tmp.checksum,
	})
	if err != nil {
		// A concurrent upload can still win the name; surface it rather
		// than retrying.
		_ = s.blobs.Delete(ctx, s.cfg.FilesBucket+"/"+internal)
		s.respondError(w, err)
		return
	}

	if replaced != nil {
		details := map[string]string{
			"internalName": rec.InternalName,
			"displayName":  rec.DisplayName,
		}
		if snap != nil {
			details["snapshotId"] = snap.ID
		}
		s.log.Append(user, sessionID(r), model.ActionFileReplaced, details)
	} else {
		s.log.Append(user, sessionID(r), model.ActionFileUploaded, map[string]string{
			"internalName": rec.InternalName,
			"displayName":  rec.DisplayName,
		})
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request, user, internal string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		NewName string `json:"newName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewName == "" {
		http.Error(w, "newName required", http.StatusBadRequest)
		return
	}
	previous, ok, err := s.store.UpdateDisplayName(r.Context(), user, internal, req.NewName)
	if err != nil {
		if errors.Is(err, store.ErrNameConflict) {
			suggestions, sErr := s.conflicts.GenerateFilenameSuggestions(r.Context(), user, req.NewName)
			if sErr != nil {
				s.respondError(w, sErr)
				return
			}
			respondJSON(w, http.StatusConflict, map[string]any{
				"error":       "display name already in use",
				"suggestions": suggestions,
			})
			return
		}
		s.respondError(w, err)
		return
	}
	if !ok {
		s.respondError(w, store.ErrRecordMissing)
		return
	}
	s.log.Append(user, sessionID(r), model.ActionFileRenamed, map[string]string{
		"internalName": internal,
		"previousName": previous,
		"newName":      req.NewName,
	})
	updated, err := s.store.GetByInternalName(r.Context(), user, internal)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleSoftDelete(w http.ResponseWriter, r *http.Request, user, internal string) {
	rec, err := s.store.MoveToRecycleBin(r.Context(), user, internal, nil)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.log.Append(user, sessionID(r), model.ActionFileDeleted, map[string]string{
		"internalName": internal,
		"displayName":  rec.DisplayName,
	})
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRecycleBin(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	files, err := s.store.ListRecycleBin(r.Context(), user)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleRecycleBinRoute(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/recycle-bin/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	internal := parts[0]
	switch {
	case len(parts) == 2 && parts[1] == "restore" && r.Method == http.MethodPost:
		rec, err := s.store.RestoreFromRecycleBin(r.Context(), user, internal)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.log.Append(user, sessionID(r), model.ActionFileRestored, map[string]string{
			"internalName": internal,
			"displayName":  rec.DisplayName,
		})
		respondJSON(w, http.StatusOK, rec)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.handlePurge(w, r, user, internal)
	default:
		http.NotFound(w, r)
	}
}

// handlePurge permanently removes a soft-deleted record ahead of its
// expiry. Object deletion is the primary path here, so its failure is
// surfaced.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request, user, internal string) {
	rec, err := s.store.GetByInternalName(r.Context(), user, internal)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !rec.IsDeleted {
		http.Error(w, "file is not in the recycle bin", http.StatusConflict)
		return
	}
	if err := s.blobs.Delete(r.Context(), s.cfg.FilesBucket+"/"+internal); err != nil {
		s.respondError(w, err)
		return
	}
	if _, err := s.store.RemoveFile(r.Context(), user, internal); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConflictPreview(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	size, _ := strconv.ParseInt(r.URL.Query().Get("size"), 10, 64)
	info, err := s.conflicts.CheckFileConflict(r.Context(), user, name, conflict.Stats{
		Size:     size,
		MimeType: r.URL.Query().Get("mime"),
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ActionID string `json:"actionId"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
	}
	entry, err := s.undoer.Undo(r.Context(), user, sessionID(r), req.ActionID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": s.log.Entries(user)})
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request, user, internal string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Visibility string `json:"visibility"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	rec, err := s.store.UpdateShareState(r.Context(), user, internal, model.Visibility(req.Visibility))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleShareRotate(w http.ResponseWriter, r *http.Request, user, internal string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rec, err := s.store.RefreshShareToken(r.Context(), user, internal)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"shareToken": rec.ShareToken})
}

// handleShareLink issues a time-limited signed link for the record's
// current share token.
func (s *Server) handleShareLink(w http.ResponseWriter, r *http.Request, user, internal string) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rec, err := s.store.GetByInternalName(r.Context(), user, internal)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if rec.IsDeleted {
		s.respondError(w, store.ErrRecordMissing)
		return
	}
	expiry := time.Now().Add(s.cfg.ShareLinkTTL).Unix()
	signature := s.signer.Sign(rec.ShareToken, expiry)
	link := fmt.Sprintf("/shared/%s?expires=%d&signature=%s", rec.ShareToken, expiry, signature)
	respondJSON(w, http.StatusOK, map[string]string{
		"url":     link,
		"expires": strconv.FormatInt(expiry, 10),
	})
}

// handleSharedDownload resolves a share token to a presigned storage URL.
// Public records need no signature; private ones need a valid, unexpired
// signed link.
func (s *Server) handleSharedDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/shared/")
	if token == "" || strings.Contains(token, "/") {
		http.NotFound(w, r)
		return
	}
	rec, err := s.store.FindByShareToken(r.Context(), token)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if rec.Visibility != model.VisibilityPublic {
		expires := r.URL.Query().Get("expires")
		signature := r.URL.Query().Get("signature")
		expiryUnix, err := strconv.ParseInt(expires, 10, 64)
		if err != nil || time.Unix(expiryUnix, 0).Before(time.Now()) {
			http.Error(w, "link expired", http.StatusUnauthorized)
			return
		}
		if !s.signer.Validate(token, expires, signature) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}
	url, err := s.blobs.PresignGet(r.Context(), s.cfg.FilesBucket+"/"+rec.InternalName, rec.DisplayName, s.cfg.ShareLinkTTL)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
	checksum    string
}

// persistTemp streams one multipart file part to a temp file, enforcing
// the size cap, sniffing the MIME type, and hashing the content.
func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "filedepot-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	discard := func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}
	hasher := sha256.New()
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxFileSize {
				discard()
				return nil, fmt.Errorf("file exceeds limit (%d bytes)", s.cfg.MaxFileSize)
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			hasher.Write(buf[:n])
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				discard()
				return nil, fmt.Errorf("write temp file: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			discard()
			return nil, fmt.Errorf("read file: %w", readErr)
		}
	}
	if written == 0 {
		discard()
		return nil, errors.New("empty file")
	}
	contentType := part.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(sniff)
	}
	if _, err := tmpFile.Seek(0, 0); err != nil {
		discard()
		return nil, fmt.Errorf("rewind temp file: %w", err)
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload-" + uuid.NewString()[:8]
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: contentType,
		filename:    filename,
		checksum:    hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

// respondError maps the engine's error taxonomy onto HTTP statuses.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNameConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrRecordMissing):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrInvalidVisibility):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, backup.ErrBackupMissing):
		http.Error(w, err.Error(), http.StatusGone)
	case errors.Is(err, undo.ErrNothingToUndo):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, undo.ErrUndoUnsupported):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// An encode failure here means the client went away mid-write.
	_ = json.NewEncoder(w).Encode(payload)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-Depot-User,X-Depot-Session")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}
