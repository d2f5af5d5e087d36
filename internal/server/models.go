package server

import (
	"net/http"
	"sort"

	gateway "github.com/mattdarbro/studio-api/internal"
)

type modelInfo struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type modelList struct {
	Object  string      `json:"object"`
	Channel string      `json:"channel"`
	Data    []modelInfo `json:"data"`
}

// handleListModels returns the kinds visible on the caller's channel.
// Concrete model names are included so clients can display them, but
// requests always address kinds.
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	principal := gateway.PrincipalFromContext(r.Context())
	kinds := s.deps.Catalog.Kinds(principal.Channel)

	list := modelList{Object: "list", Channel: principal.Channel, Data: make([]modelInfo, 0, len(kinds))}
	for kind, mc := range kinds {
		list.Data = append(list.Data, modelInfo{
			ID:       kind,
			Object:   "model",
			Provider: mc.Provider,
			Model:    mc.Model,
		})
	}
	sort.Slice(list.Data, func(i, j int) bool { return list.Data[i].ID < list.Data[j].ID })

	writeJSON(w, http.StatusOK, list)
}
