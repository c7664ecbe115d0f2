package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
	"github.com/markdave123-py/pdfchat/internal/services"
)

const maxUploadBytes = 52 << 20

type DocumentHandler struct {
	docs *services.DocumentService
}

func NewDocumentHandler(docs *services.DocumentService) *DocumentHandler {
	return &DocumentHandler{docs: docs}
}

// UploadDocument stores the PDF and queues it. Processing continues in the
// background; clients follow it on the progress endpoints.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file")
		return
	}
	defer file.Close()

	docID, err := h.docs.Upload(r.Context(), uid, header.Filename, file)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message":     "File uploaded successfully. Processing started.",
		"document_id": docID,
	})
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	documents, err := h.docs.ListByUser(r.Context(), uid)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documents)
}

// ViewFile streams the stored PDF inline.
func (h *DocumentHandler) ViewFile(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	doc, f, err := h.docs.OpenFile(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": doc.FileName}))
	http.ServeContent(w, r, doc.FileName, doc.CreatedAt, io.NewSectionReader(f, 0, f.Size()))
}

// GetProgress returns the latest progress event. A document that finished
// before the process started again reports completion from its record.
func (h *DocumentHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	docID := chi.URLParam(r, "id")

	if ev, found := h.docs.Progress(docID, uid); found {
		writeJSON(w, http.StatusOK, ev)
		return
	}

	doc, err := h.docs.Get(r.Context(), uid, docID)
	if errors.Is(err, core.ErrDocumentNotFound) {
		writeError(w, http.StatusNotFound, "no processing information for this document")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Progress{
		DocumentID: doc.ID,
		UserID:     uid,
		Percent:    100,
		Status:     "Complete",
		Redirect:   "/chat/" + doc.ID,
		Terminal:   true,
	})
}
