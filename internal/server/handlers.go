package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/docsight/internal/answer"
	"github.com/hyperjump/docsight/internal/config"
	"github.com/hyperjump/docsight/internal/models"
	"github.com/hyperjump/docsight/internal/pipeline"
	"github.com/hyperjump/docsight/internal/search"
	"github.com/hyperjump/docsight/internal/storage"
)

const (
	multipartMemory = 32 << 20
	defaultPageSize = 50
	maxPageSize     = 200
	uploadFormField = "files"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()
	files := r.MultipartForm.File[uploadFormField]
	if len(files) == 0 {
		s.respondError(w, http.StatusBadRequest, "no files provided")
		return
	}
	// Reject the whole batch before anything is stored.
	for _, fh := range files {
		if err := s.checkUpload(fh); err != nil {
			s.respondErr(w, err)
			return
		}
	}

	docs := make([]*models.Document, 0, len(files))
	for _, fh := range files {
		data, err := readPart(fh)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to read %s", fh.Filename))
			return
		}
		doc, err := s.ingestor.Upload(r.Context(), pipeline.UploadRequest{
			SessionID: sessionID(r),
			FileName:  fh.Filename,
			MimeType:  fh.Header.Get("Content-Type"),
			Data:      data,
		})
		if doc == nil {
			s.logger.Error("upload failed", zap.String("file", fh.Filename), zap.Error(err))
			s.respondErr(w, err)
			return
		}
		if err != nil {
			s.logger.Warn("upload accepted but not queued", zap.String("doc_id", doc.ID), zap.Error(err))
		}
		docs = append(docs, doc)
	}
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{"documents": docs})
}

func (s *Server) checkUpload(fh *multipart.FileHeader) error {
	if fh.Size == 0 {
		return models.NewValidationError("file", fmt.Sprintf("%s is empty", fh.Filename))
	}
	if limit := s.config.Ingest.MaxFileSize; limit > 0 && fh.Size > limit {
		return models.NewValidationError("file",
			fmt.Sprintf("%s is %d bytes; the limit is %d", fh.Filename, fh.Size, limit))
	}
	return nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	user, ok := s.user(w, r)
	if !ok {
		return
	}
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	docs, err := s.store.ListDocuments(r.Context(), user.ID, offset, limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	total, err := s.store.CountDocuments(r.Context(), user.ID)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"total":     total,
		"offset":    offset,
		"limit":     limit,
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGetChunks(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	chunks, err := s.store.GetChunksByDocumentID(r.Context(), doc.ID)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if chunks == nil {
		chunks = []*models.DocumentChunk{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"chunks": chunks})
}

func (s *Server) handleGetTags(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	tags, err := s.store.ListDocumentTags(r.Context(), doc.ID)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if tags == nil {
		tags = []*models.DocumentTag{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"tags": tags, "auto_tags": doc.AutoTags})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	s.logger.Debug("delete document request", zap.String("id", doc.ID))
	if err := s.ingestor.Delete(r.Context(), doc.ID); err != nil {
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSearch(w, r)
	if !ok {
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.String("type", string(req.SearchType)))
	resp, err := s.search.Search(r.Context(), req)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		s.respondError(w, http.StatusNotImplemented, "answer synthesis not configured")
		return
	}
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.chat.Ask(r.Context(), answer.AskRequest{SessionID: sessionID(r), Search: req})
	if err != nil {
		s.logger.Error("answer failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	models.SearchRequest
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		s.respondError(w, http.StatusNotImplemented, "chat not configured")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.chat.Send(r.Context(), answer.ChatRequest{
		SessionID:      sessionID(r),
		ConversationID: req.ConversationID,
		Message:        req.Message,
		Search:         req.SearchRequest,
	})
	if err != nil {
		s.logger.Error("chat failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		s.respondError(w, http.StatusNotImplemented, "chat not configured")
		return
	}
	msgs, err := s.chat.Messages(r.Context(), sessionID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	healthy := true
	checks := map[string]string{"store": "ok", "blob_store": "ok"}
	if err := s.store.Ping(ctx); err != nil {
		healthy = false
		checks["store"] = err.Error()
	}
	if err := s.blobs.Ping(ctx); err != nil {
		healthy = false
		checks["blob_store"] = err.Error()
	}
	resp := map[string]interface{}{"checks": checks}

	if checks["store"] == "ok" {
		docCount, err := s.store.CountDocuments(ctx, "")
		if err != nil {
			s.logger.Error("status: count documents failed", zap.Error(err))
			s.respondErr(w, err)
			return
		}
		chunkCount, err := s.store.CountChunks(ctx)
		if err != nil {
			s.logger.Error("status: count chunks failed", zap.Error(err))
			s.respondErr(w, err)
			return
		}
		resp["documents"] = docCount
		resp["chunks"] = chunkCount
	}

	cfg := s.config
	resp["config"] = map[string]interface{}{
		"storage_driver":       cfg.Storage.Driver,
		"blob_driver":          cfg.Blob.Driver,
		"embedding_provider":   cfg.Embedding.Provider,
		"embedding_dimensions": cfg.Embedding.Dimensions,
		"chunk_size":           cfg.Ingest.ChunkSize,
		"chunk_overlap":        cfg.Ingest.ChunkOverlap,
		"keyword_index":        cfg.Storage.BleveIndexPath != "",
		"similarity_threshold": cfg.Search.DefaultSimilarityThreshold,
	}
	if usage, err := storage.MeasureDiskUsage(cfg.Storage, cfg.Blob); err == nil {
		resp["disk_usage_bytes"] = usage.Total()
		resp["disk_usage"] = usage
	}

	status := http.StatusOK
	resp["status"] = "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		resp["status"] = "degraded"
	}
	s.respondJSON(w, status, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) decodeSearch(w http.ResponseWriter, r *http.Request) (*models.SearchRequest, bool) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	user, ok := s.user(w, r)
	if !ok {
		return nil, false
	}
	req.UserID = user.ID
	return &req, true
}

func (s *Server) user(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, err := s.store.GetOrCreateUser(r.Context(), sessionID(r))
	if err != nil {
		s.respondErr(w, err)
		return nil, false
	}
	return user, true
}

// ownedDocument loads {id} and reports another user's document as not found.
func (s *Server) ownedDocument(w http.ResponseWriter, r *http.Request) (*models.Document, bool) {
	user, ok := s.user(w, r)
	if !ok {
		return nil, false
	}
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return nil, false
	}
	if doc.UserID != user.ID {
		s.respondError(w, http.StatusNotFound, "document not found")
		return nil, false
	}
	return doc, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// respondErr maps domain errors to status codes.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	switch {
	case models.IsValidation(err):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, search.ErrSearchUnavailable),
		errors.Is(err, pipeline.ErrQueueFull),
		errors.Is(err, pipeline.ErrQueueClosed):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
