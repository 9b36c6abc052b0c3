package api

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
	"github.com/spf13/cast"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/session"
	"settlement-reconciler/internal/storage"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// CorrelationIDHeader lets a client choose the session id
const CorrelationIDHeader = "X-Correlation-ID"

// uploadFormField is the multipart field carrying the report
const uploadFormField = "file"

var reportKinds = map[string]models.SourceKind{
	"mtr":     models.OrderReport,
	"payment": models.PaymentReport,
}

var allowedExtensions = map[models.SourceKind][]string{
	models.OrderReport:   {".xlsx", ".xls", ".csv"},
	models.PaymentReport: {".csv"},
}

// UploadResponse acknowledges one upload
type UploadResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// ResultPage is one page of stored results
type ResultPage struct {
	Items []*storage.Record `json:"items"`
	Total int               `json:"total"`
	Page  int               `json:"page"`
	Size  int               `json:"size"`
	Pages int               `json:"pages"`
}

// TransactionPage is one page of reconciled rows across stored results
type TransactionPage struct {
	Items []storage.Transaction `json:"items"`
	Total int                   `json:"total"`
	Page  int                   `json:"page"`
	Size  int                   `json:"size"`
	Pages int                   `json:"pages"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Create(strings.TrimSpace(r.Header.Get(CorrelationIDHeader)))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, UploadResponse{
		SessionID: snap.ID,
		Status:    string(snap.Status),
		Message:   "Session created. Upload the mtr and payment reports.",
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	kind, ok := reportKinds[vars["report_type"]]
	if !ok {
		s.writeError(w, r, badRequest("Invalid report type. Must be 'payment' or 'mtr'"))
		return
	}

	filename, data, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(filename) > storage.MaxFileNameLength {
		s.writeError(w, r, badRequest(fmt.Sprintf("file name must be at most %d bytes", storage.MaxFileNameLength)))
		return
	}
	if !extensionAllowed(kind, filename) {
		s.writeError(w, r, badRequest(fmt.Sprintf("%s report must be one of %s", vars["report_type"],
			strings.Join(allowedExtensions[kind], ", "))))
		return
	}

	snap, err := s.sessions.Attach(id, kind, filename, data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	message := fmt.Sprintf("Successfully uploaded %s report. Waiting for the other report to process.", vars["report_type"])
	if snap.Status != session.StatusWaiting {
		message = fmt.Sprintf("Successfully uploaded %s report. Processing has been queued.", vars["report_type"])
	}
	s.writeJSON(w, http.StatusAccepted, UploadResponse{
		SessionID: snap.ID,
		Status:    string(snap.Status),
		Message:   message,
	})
}

// readUpload reads the multipart file field, refusing anything over the size limit
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	limit := s.config.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			return "", nil, tooLarge(limit)
		}
		return "", nil, badRequest("expected a multipart form with a 'file' field")
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile(uploadFormField)
	if err != nil {
		return "", nil, badRequest("missing 'file' field in upload")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return "", nil, errors.Wrap(err, errors.CategoryFile, errors.CodeMalformedContent, "failed to read upload")
	}
	if int64(len(data)) > limit {
		return "", nil, tooLarge(limit)
	}
	return header.Filename, data, nil
}

func extensionAllowed(kind models.SourceKind, filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range allowedExtensions[kind] {
		if ext == allowed {
			return true
		}
	}
	return false
}

// pageFrom reads the page and size query parameters
func pageFrom(r *http.Request) (storage.Page, error) {
	q := r.URL.Query()
	page := storage.Page{Number: 1, Size: storage.DefaultPageSize}

	if v := q.Get("page"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil {
			return page, badRequest("page must be an integer")
		}
		page.Number = n
	}
	if v := q.Get("size"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil {
			return page, badRequest("size must be an integer")
		}
		page.Size = n
	}
	return page, nil
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	items, total, err := s.store.List(r.Context(), page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ResultPage{
		Items: items,
		Total: total,
		Page:  page.Number,
		Size:  page.Size,
		Pages: page.Pages(total),
	})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	record, err := s.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	items, total, err := storage.Transactions(r.Context(), s.store, page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TransactionPage{
		Items: items,
		Total: total,
		Page:  page.Number,
		Size:  page.Size,
		Pages: page.Pages(total),
	})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := storage.FindTransaction(r.Context(), s.store, mux.Vars(r)["order_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	rollup, err := storage.Summarize(r.Context(), s.store)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rollup)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("Failed to write response body")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	rerr := errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "request failed")
	status := statusFor(rerr)

	if status >= http.StatusInternalServerError {
		s.logger.WithFields(logger.Fields{
			"request_id": requestIDFrom(r.Context()),
			"code":       rerr.Code,
		}).WithError(err).Error("Request error")
	}

	s.writeJSON(w, status, ErrorResponse{
		Error:      string(rerr.Code),
		Message:    rerr.Message,
		Suggestion: rerr.Suggestion,
		RequestID:  requestIDFrom(r.Context()),
	})
}

// statusFor maps error codes onto HTTP statuses
func statusFor(err *errors.ReconcilerError) int {
	switch err.Code {
	case errors.CodeSessionNotFound, errors.CodeResultNotFound, errors.CodeTransactionNotFound:
		return http.StatusNotFound
	case errors.CodeSessionState:
		return http.StatusConflict
	case errors.CodeUploadTooLarge:
		return http.StatusRequestEntityTooLarge
	}
	switch err.Category {
	case errors.CategoryValidation, errors.CategoryConfiguration, errors.CategoryParse:
		return http.StatusBadRequest
	case errors.CategoryFile:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(message string) *errors.ReconcilerError {
	return errors.New(errors.CategoryValidation, errors.CodeInvalidRequest, message)
}

func tooLarge(limit int64) *errors.ReconcilerError {
	return errors.New(errors.CategoryValidation, errors.CodeUploadTooLarge,
		fmt.Sprintf("File too large. Maximum size is %d MiB.", limit>>20))
}
