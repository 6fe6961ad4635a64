package api

import (
	"github.com/starford/stencil/internal/ledger"
	"github.com/starford/stencil/internal/outline"
	"github.com/starford/stencil/internal/workspace"
)

// GenerateRequest is the optional body of POST /api/generate. An empty list
// queues every template.
type GenerateRequest struct {
	Templates []string `json:"templates" example:"dto.tpl"`
}

// GenerateResponse reports how many templates were queued.
type GenerateResponse struct {
	Queued int `json:"queued" example:"3" validate:"required"`
}

// TemplateInfo is a lightweight item in a list response (aliased from the domain layer).
type TemplateInfo = workspace.TemplateInfo

// TemplateDetail is the full template response type (aliased from the domain layer).
type TemplateDetail = workspace.TemplateDetail

// StatusResponse is the pipeline status (aliased from the domain layer).
type StatusResponse = workspace.StatusInfo

// TemplateListResponse wraps template listings.
type TemplateListResponse struct {
	Templates []TemplateInfo `json:"templates" validate:"required"`
	Total     int            `json:"total" example:"4" validate:"required"`
}

// BlocksResponse wraps the foldable regions of a template.
type BlocksResponse struct {
	ID     string         `json:"id" example:"dto.tpl" validate:"required"`
	Blocks []outline.Span `json:"blocks" validate:"required"`
}

// OutputsResponse wraps recorded outputs.
type OutputsResponse struct {
	Outputs []ledger.Row `json:"outputs" validate:"required"`
}
