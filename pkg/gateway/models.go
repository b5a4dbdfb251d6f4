package gateway

import (
	"context"
	"net/http"

	log "github.com/charmbracelet/log"
	"github.com/lkarlslund/vertexgate/pkg/catalog"
	"github.com/lkarlslund/vertexgate/pkg/metrics"
)

type modelList struct {
	Object string          `json:"object"`
	Data   []catalog.Model `json:"data"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.ListModels(r.Context())
	if err != nil {
		log.Error("models: listing failed", "err", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, modelList{Object: "list", Data: models})
}

// ListModels serves the catalog from cache while fresh. On a miss it fetches,
// filters and translates the upstream catalog, then replaces the whole cache
// with the result. A failed fetch leaves the cache as it was.
func (s *Server) ListModels(ctx context.Context) ([]catalog.Model, error) {
	if models, ok := s.state.Models.GetFresh(ModelsCacheKey, s.state.Now()); ok {
		metrics.ModelCacheLookups.WithLabelValues("hit").Inc()
		return models, nil
	}
	metrics.ModelCacheLookups.WithLabelValues("miss").Inc()
	if !s.state.Config.Models.CoalesceFetches {
		return s.refreshModels(ctx)
	}
	// A shared fetch must not fail for every waiter because the first caller
	// went away.
	v, err, _ := s.fetches.Do(ModelsCacheKey, func() (any, error) {
		return s.refreshModels(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.([]catalog.Model), nil
}

func (s *Server) refreshModels(ctx context.Context) ([]catalog.Model, error) {
	auth, err := s.state.Tokens.Authorization(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.state.Catalog.Fetch(ctx, auth)
	if err != nil {
		return nil, err
	}
	now := s.state.Now()
	models := catalog.Translate(records, now)
	s.state.Models.ReplaceAll(ModelsCacheKey, models, now, s.state.Config.Models.CacheTTL())
	log.Debug("models: catalog refreshed", "upstream", len(records), "listed", len(models))
	return models, nil
}
