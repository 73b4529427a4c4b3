package api

import (
	"net/http"
	"strings"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/catalog"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/codemod"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/httpserver"
)

type codemodSummary struct {
	Ref         string   `json:"ref"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func (api *API) handleListCodemods(w http.ResponseWriter, r *http.Request) {
	entities, err := api.catalog.Query(r.Context(), catalog.Filter{"kind": {codemod.Kind}})
	if err != nil {
		api.writeDomainError(w, r, "list codemods", err)
		return
	}
	out := make([]codemodSummary, 0, len(entities))
	for _, entity := range entities {
		out = append(out, codemodSummary{
			Ref:         entity.Ref().String(),
			Title:       entity.Metadata.Title,
			Description: entity.Metadata.Description,
			Tags:        entity.Metadata.Tags,
		})
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"codemods": out})
}

func (api *API) handleParameterSchema(w http.ResponseWriter, r *http.Request) {
	namespace := strings.TrimSpace(r.PathValue("namespace"))
	name := strings.TrimSpace(r.PathValue("name"))
	if namespace == "" || name == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "codemod_ref_required")
		return
	}

	def, err := codemod.Find(r.Context(), api.catalog, codemod.Kind+":"+namespace+"/"+name)
	if err != nil {
		api.writeDomainError(w, r, "get parameter schema", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, def.ParameterSchema())
}
