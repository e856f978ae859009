package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/promptsentry/promptsentry/internal/patterns"
)

// handleListRules implements GET /api/projects/{project_id}/rules.
func (d *Dependencies) handleListRules(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	rules, err := d.Store.ListCustomRules(r.Context(), projectID)
	if err != nil {
		d.Logger.Error("failed to list rules", zapError(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list rules"})
		return
	}

	resp := make([]RuleResp, 0, len(rules))
	for _, rule := range rules {
		resp = append(resp, RuleResp{
			ID:          rule.ID,
			Name:        rule.Name,
			Pattern:     rule.Expr,
			Category:    rule.Category,
			Severity:    rule.Severity,
			Description: rule.Description,
			CreatedAt:   rule.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCreateRule implements POST /api/projects/{project_id}/rules.
// The rule is installed into the live pattern library first (which validates
// the expression and name) and persisted only if that succeeds.
func (d *Dependencies) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	var req CreateRuleReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	cat, err := patterns.ParseCategory(req.Category)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	p := patterns.Pattern{
		Name:        req.Name,
		Expr:        req.Pattern,
		Category:    cat,
		Severity:    req.Severity,
		Description: req.Description,
	}

	if err := d.Detector.AddPattern(p); err != nil {
		var verr *patterns.ValidationError
		if errors.As(err, &verr) {
			status := http.StatusBadRequest
			if strings.Contains(verr.Reason, "already exists") {
				status = http.StatusConflict
			}
			writeJSON(w, status, ErrorResp{Detail: verr.Error()})
			return
		}
		d.Logger.Error("failed to install rule", zapError(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create rule"})
		return
	}

	rule, err := d.Store.InsertCustomRule(r.Context(), projectID, p)
	if err != nil {
		// Roll the live library back so it stays in sync with Postgres.
		_ = d.Detector.RemovePattern(p.Name)
		d.Logger.Error("failed to persist rule", zapError(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create rule"})
		return
	}

	writeJSON(w, http.StatusCreated, RuleResp{
		ID:          rule.ID,
		Name:        rule.Name,
		Pattern:     rule.Expr,
		Category:    rule.Category,
		Severity:    rule.Severity,
		Description: rule.Description,
		CreatedAt:   rule.CreatedAt,
	})
}

// handleDeleteRule implements DELETE /api/projects/{project_id}/rules/{name}.
// Only custom rules can be deleted here; built-in patterns are not in the
// custom_rules table and 404.
func (d *Dependencies) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	name := r.PathValue("name")

	err := d.Store.DeleteCustomRule(r.Context(), projectID, name)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Rule not found."})
		return
	}
	if err != nil {
		d.Logger.Error("failed to delete rule", zapError(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete rule"})
		return
	}

	var nf *patterns.NotFoundError
	if err := d.Detector.RemovePattern(name); err != nil && !errors.As(err, &nf) {
		d.Logger.Warn("rule removed from store but not from live library", zapError(err))
	}

	w.WriteHeader(http.StatusNoContent)
}
