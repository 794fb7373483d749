package gateway

import (
	"net/http"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/logging"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/mackerelio/go-osstat/memory"
	"go.uber.org/zap"
)

// healthResponse is the JSON structure used by healthHandler
type healthResponse struct {
	Status    string    `json:"status"`
	Node      string    `json:"node,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
}

func (g *Gateway) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Node:      g.cfg.NodeID,
		StartedAt: g.startedAt,
		Uptime:    time.Since(g.startedAt).Round(time.Second).String(),
	})
}

type systemStats struct {
	MemoryTotal uint64  `json:"memory_total"`
	MemoryUsed  uint64  `json:"memory_used"`
	MemoryUsage float64 `json:"memory_usage_percent"`
}

type statusResponse struct {
	Node      string         `json:"node,omitempty"`
	Uptime    string         `json:"uptime"`
	Providers int            `json:"providers"`
	Active    int            `json:"active"`
	ByHealth  map[string]int `json:"by_health"`
	Events    struct {
		Subscribers int    `json:"subscribers"`
		Dropped     uint64 `json:"dropped"`
	} `json:"events"`
	Peers  *int         `json:"peers,omitempty"`
	System *systemStats `json:"system,omitempty"`
}

// statusHandler summarises the provider table, the event bus and the host.
func (g *Gateway) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Node:     g.cfg.NodeID,
		Uptime:   time.Since(g.startedAt).Round(time.Second).String(),
		ByHealth: make(map[string]int),
	}
	for _, d := range g.mgr.Providers() {
		resp.Providers++
		if d.Active {
			resp.Active++
		}
		resp.ByHealth[d.Health.String()]++
	}
	for _, s := range []provider.HealthState{provider.HealthHealthy, provider.HealthUnknown, provider.HealthDegraded, provider.HealthUnavailable} {
		if _, ok := resp.ByHealth[s.String()]; !ok {
			resp.ByHealth[s.String()] = 0
		}
	}

	bus := g.mgr.Events()
	resp.Events.Subscribers = bus.Subscribers()
	resp.Events.Dropped = bus.Dropped()

	if g.peers != nil {
		n := g.peers()
		resp.Peers = &n
	}

	if mem, err := memory.Get(); err == nil && mem.Total > 0 {
		resp.System = &systemStats{
			MemoryTotal: mem.Total,
			MemoryUsed:  mem.Used,
			MemoryUsage: float64(mem.Used) / float64(mem.Total) * 100,
		}
	} else if err != nil {
		g.logger.ComponentDebug(logging.ComponentGateway, "Memory stats unavailable", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, resp)
}
