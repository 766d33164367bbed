package api

import (
	"net/http"

	"github.com/penguinwhisk/controller/internal/broker"
)

type invokerDoc struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	LastSeen int64           `json:"lastSeen"` // epoch ms
	Capacity broker.Capacity `json:"capacity"`
}

type clusterDoc struct {
	Invokers []invokerDoc    `json:"invokers"`
	Capacity broker.Capacity `json:"capacity"`
}

// handleInvokers reports the registered invokers and the aggregate
// healthy capacity.
func (s *Server) handleInvokers(w http.ResponseWriter, r *http.Request) {
	snapshot := s.sched.Snapshot()
	healthy := 0
	docs := make([]invokerDoc, 0, len(snapshot))
	for _, inv := range snapshot {
		if inv.Status == "healthy" {
			healthy++
		}
		docs = append(docs, invokerDoc{
			ID:       inv.ID,
			Status:   inv.Status,
			LastSeen: inv.LastSeen.UnixMilli(),
			Capacity: inv.Capacity,
		})
	}
	s.metrics.InvokersHealthy.Set(float64(healthy))
	s.writeJSON(w, http.StatusOK, clusterDoc{
		Invokers: docs,
		Capacity: s.sched.ClusterCapacity(),
	})
}
