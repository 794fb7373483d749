package gateway

import (
	"net/http"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/logging"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/DeBrosOfficial/hyperdrive/pkg/registry"
	"github.com/DeBrosOfficial/hyperdrive/pkg/routing"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// providerView is a descriptor plus its observed latency.
type providerView struct {
	provider.Descriptor
	Performance *routing.Stats `json:"performance,omitempty"`
}

func (g *Gateway) listProvidersHandler(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]routing.Stats)
	for _, s := range g.mgr.Performance() {
		stats[s.Provider] = s
	}

	descs := g.mgr.Providers()
	out := make([]providerView, 0, len(descs))
	for _, d := range descs {
		v := providerView{Descriptor: d}
		if s, ok := stats[d.ID]; ok {
			v.Performance = &s
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

type providerHealthResponse struct {
	ID                  string                 `json:"id"`
	Health              provider.HealthState   `json:"health"`
	Active              bool                   `json:"active"`
	ConsecutiveFailures int                    `json:"consecutive_failures"`
	LastProbeAt         *time.Time             `json:"last_probe_at,omitempty"`
	Circuit             registry.CircuitStatus `json:"circuit"`
}

func (g *Gateway) providerHealthHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := g.mgr.Registry().Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	circuit, err := g.mgr.HealthMonitor().Circuit(id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := providerHealthResponse{
		ID:                  d.ID,
		Health:              d.Health,
		Active:              d.Active,
		ConsecutiveFailures: d.ConsecutiveFailures,
		Circuit:             circuit,
	}
	if !d.LastProbeAt.IsZero() {
		resp.LastProbeAt = &d.LastProbeAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) activateHandler(w http.ResponseWriter, r *http.Request) {
	g.setActive(w, r, true)
}

func (g *Gateway) deactivateHandler(w http.ResponseWriter, r *http.Request) {
	g.setActive(w, r, false)
}

func (g *Gateway) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := chi.URLParam(r, "id")
	var err error
	if active {
		err = g.mgr.ActivateProvider(r.Context(), id)
	} else {
		err = g.mgr.DeactivateProvider(r.Context(), id)
	}
	if err != nil {
		g.logger.ComponentWarn(logging.ComponentGateway, "Provider state change failed",
			zap.String("provider", id), zap.Bool("active", active), zap.Error(err))
		writeError(w, r, err)
		return
	}

	d, err := g.mgr.Registry().Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (g *Gateway) healthHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if g.audit == nil {
		writeError(w, r, errors.NewServiceError("audit", "audit log is not configured", 0, nil))
		return
	}
	limit, err := queryLimit(r, 100)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := g.mgr.Registry().Get(id); err != nil {
		writeError(w, r, err)
		return
	}

	evs, err := g.audit.HealthEvents(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, errors.Wrap(err, "read health history"))
		return
	}
	if evs == nil {
		evs = []provider.HealthEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider": id, "events": evs})
}
