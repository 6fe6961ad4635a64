package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/stencil/internal/workspace"
)

// Handler holds API route handlers.
type Handler struct {
	svc *workspace.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *workspace.Service) *Handler {
	return &Handler{svc: svc}
}

// templateID extracts the template identity from the URL (everything after
// /api/templates/). Encoded slashes are accepted (e.g. dto%2Fentity.tpl).
func templateID(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// Status handles GET /api/status.
//
//	@Summary		Current status line, queue and last run
//	@Tags			status
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

// ListTemplates handles GET /api/templates.
//
//	@Summary		List template files with their parse state
//	@Tags			templates
//	@Produce		json
//	@Success		200	{object}	TemplateListResponse
//	@Security		BearerAuth
//	@Router			/templates [get]
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListTemplates(r.Context())
	if err != nil {
		writeError(w, "list templates", err)
		return
	}
	writeJSON(w, http.StatusOK, TemplateListResponse{Templates: items, Total: len(items)})
}

// GetTemplate handles GET /api/templates/*.
//
//	@Summary		Get a template with its content and outputs
//	@Tags			templates
//	@Produce		json
//	@Param			id	path		string	true	"Template identity"
//	@Success		200	{object}	TemplateDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/templates/{id} [get]
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id := templateID(r)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id is required"))
		return
	}
	d, err := h.svc.GetTemplate(r.Context(), id)
	if err != nil {
		writeError(w, "get template", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// TemplateBlocks handles GET /api/templates/blocks?id=.
//
//	@Summary		Foldable regions of a template
//	@Tags			templates
//	@Produce		json
//	@Param			id	query		string	true	"Template identity"
//	@Success		200	{object}	BlocksResponse
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/templates/blocks [get]
func (h *Handler) TemplateBlocks(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'id' is required"))
		return
	}
	spans, err := h.svc.TemplateBlocks(r.Context(), id)
	if err != nil {
		writeError(w, "template blocks", err)
		return
	}
	writeJSON(w, http.StatusOK, BlocksResponse{ID: id, Blocks: spans})
}

// ListOutputs handles GET /api/outputs.
//
//	@Summary		Generated files recorded in the ledger
//	@Tags			outputs
//	@Produce		json
//	@Param			template	query		string	false	"Only outputs of this template"
//	@Success		200			{object}	OutputsResponse
//	@Security		BearerAuth
//	@Router			/outputs [get]
func (h *Handler) ListOutputs(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.ListOutputs(r.Context(), r.URL.Query().Get("template"))
	if err != nil {
		writeError(w, "list outputs", err)
		return
	}
	writeJSON(w, http.StatusOK, OutputsResponse{Outputs: rows})
}

// Generate handles POST /api/generate.
//
//	@Summary		Queue a generation pass
//	@Tags			generate
//	@Accept			json
//	@Produce		json
//	@Param			body	body		GenerateRequest	false	"Templates to regenerate; empty means all"
//	@Success		202		{object}	GenerateResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/generate [post]
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	n, err := h.svc.Regenerate(r.Context(), req.Templates)
	if err != nil {
		writeError(w, "generate", err)
		return
	}
	writeJSON(w, http.StatusAccepted, GenerateResponse{Queued: n})
}
