package api

import (
	"net/http"
	"strings"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/catalog"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/codemod"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/auth"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/httpserver"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/repo"
)

type createRunRequest struct {
	CodemodRef string         `json:"codemodRef"`
	Values     map[string]any `json:"values"`
	Targets    catalog.Filter `json:"targets"`
}

func (api *API) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.CodemodRef) == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "codemodRef_required")
		return
	}
	if len(req.Targets) == 0 {
		httpserver.WriteError(w, r, http.StatusBadRequest, "targets_required")
		return
	}
	if req.Values == nil {
		req.Values = map[string]any{}
	}

	ctx := r.Context()
	def, err := codemod.Find(ctx, api.catalog, req.CodemodRef)
	if err != nil {
		api.writeDomainError(w, r, "find codemod", err)
		return
	}

	violations, err := def.ValidateValues(req.Values)
	if err != nil {
		api.writeDomainError(w, r, "validate values", err)
		return
	}
	if len(violations) > 0 {
		httpserver.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"errors":     violations,
			"request_id": r.Header.Get(httpserver.RequestIDHeader),
		})
		return
	}

	var createdBy string
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		createdBy = identity.UserRef
	}
	spec := def.ToRunSpec(req.Values, req.Targets, api.userInfo(r, createdBy))
	entities, err := api.catalog.Query(ctx, spec.Targets)
	if err != nil {
		api.writeDomainError(w, r, "query targets", domain.Inputf("invalid targets: %v", err))
		return
	}
	if len(entities) == 0 {
		httpserver.WriteError(w, r, http.StatusBadRequest, "no_matching_targets")
		return
	}
	targets := make([]string, 0, len(entities))
	for _, entity := range entities {
		targets = append(targets, entity.Ref().String())
	}

	runID, err := api.broker.Dispatch(ctx, spec, targets, createdBy)
	if err != nil {
		api.writeDomainError(w, r, "dispatch run", err)
		return
	}
	api.logger.Info("run dispatched",
		"request_id", r.Header.Get(httpserver.RequestIDHeader),
		"run_id", runID,
		"codemod", def.Ref(),
		"targets", len(targets),
		"created_by", createdBy,
	)
	httpserver.WriteJSON(w, http.StatusCreated, map[string]any{"id": runID})
}

// userInfo attaches the caller's catalog entity when there is one.
func (api *API) userInfo(r *http.Request, userRef string) *domain.UserInfo {
	if userRef == "" {
		return nil
	}
	info := &domain.UserInfo{Ref: userRef}
	entity, found, err := api.catalog.EntityByRef(r.Context(), userRef)
	if err != nil {
		api.logger.Warn("invalid user ref", "user_ref", userRef, "error", err)
		return info
	}
	if found {
		info.Entity = &entity
	}
	return info
}

func (api *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := api.broker.ListRuns(r.Context(), repo.RunFilter{
		CreatedBy: strings.TrimSpace(r.URL.Query().Get("createdBy")),
		Limit:     clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	})
	if err != nil {
		api.writeDomainError(w, r, "list runs", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (api *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := api.broker.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		api.writeDomainError(w, r, "get run", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, run)
}

func (api *API) handleListJobs(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if _, err := api.broker.GetRun(r.Context(), runID); err != nil {
		api.writeDomainError(w, r, "get run", err)
		return
	}

	filter := repo.JobFilter{
		RunID: runID,
		Limit: clampInt(parseIntQuery(r, "limit", 500), 1, 5000),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := domain.ParseJobStatus(raw)
		if err != nil {
			api.writeDomainError(w, r, "list jobs", err)
			return
		}
		filter.Status = status
	}

	jobs, err := api.broker.ListJobs(r.Context(), filter)
	if err != nil {
		api.writeDomainError(w, r, "list jobs", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (api *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := api.jobOfRun(r)
	if err != nil {
		api.writeDomainError(w, r, "get job", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, job)
}

// jobOfRun loads the job named in the path, rejecting jobs of other runs.
func (api *API) jobOfRun(r *http.Request) (domain.Job, error) {
	runID := r.PathValue("run_id")
	jobID := r.PathValue("job_id")
	job, err := api.broker.GetJob(r.Context(), jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if job.RunID != runID {
		return domain.Job{}, domain.NotFoundf("No job with id %s found in run %s", jobID, runID)
	}
	return job, nil
}
