package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/dbaas/internal/api/request"
	"github.com/edvin/dbaas/internal/api/response"
	"github.com/edvin/dbaas/internal/core"
	"github.com/edvin/dbaas/internal/model"
)

// DigestHeader carries the digest of an exported or imported status
// document.
const DigestHeader = "Digest"

type Backup struct {
	svc *core.BackupService
}

func NewBackup(svc *core.BackupService) *Backup {
	return &Backup{svc: svc}
}

func (h *Backup) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateBackup
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	name, err := h.svc.StartBackup(r.Context(), req.ToCore())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusAccepted, map[string]string{"name": name})
}

func (h *Backup) Get(w http.ResponseWriter, r *http.Request) {
	name, err := request.RequireName(chi.URLParam(r, "name"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	op, err := h.svc.GetFullStatus(r.Context(), name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, op)
}

func (h *Backup) Status(w http.ResponseWriter, r *http.Request) {
	name, err := request.RequireName(chi.URLParam(r, "name"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.svc.GetCurrentStatus(r.Context(), name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, summary)
}

// ExportMetadata returns the full status document with its digest in the
// Digest header.
func (h *Backup) ExportMetadata(w http.ResponseWriter, r *http.Request) {
	name, err := request.RequireName(chi.URLParam(r, "name"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, digest, err := h.svc.ExportMetadata(r.Context(), name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.Header().Set(DigestHeader, digest)
	response.WriteJSON(w, http.StatusOK, doc)
}

// ImportMetadata registers a backup from a status document. The Digest
// header is required.
func (h *Backup) ImportMetadata(w http.ResponseWriter, r *http.Request) {
	digest := r.Header.Get(DigestHeader)
	if digest == "" {
		response.WriteError(w, http.StatusBadRequest, "missing "+DigestHeader+" header")
		return
	}

	var doc model.Operation
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		response.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := h.svc.ImportMetadata(r.Context(), &doc, digest); err != nil {
		writeServiceError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, map[string]string{"name": doc.Name})
}

func (h *Backup) ArchiveMetadata(w http.ResponseWriter, r *http.Request) {
	name, err := request.RequireName(chi.URLParam(r, "name"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	key, err := h.svc.ArchiveMetadata(r.Context(), name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{"key": key})
}

func (h *Backup) ImportArchivedMetadata(w http.ResponseWriter, r *http.Request) {
	var req request.ImportArchivedMetadata
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	name, err := h.svc.ImportArchivedMetadata(r.Context(), req.Key)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, map[string]string{"name": name})
}

func (h *Backup) Delete(w http.ResponseWriter, r *http.Request) {
	name, err := request.RequireName(chi.URLParam(r, "name"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.DeleteBackup(r.Context(), name); err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
