package handlers

import (
	"net/http"
	"sort"

	"server/internal/resilience"
)

type engineStatusJSON struct {
	Name    string                   `json:"name"`
	Circuit resilience.BreakerStatus `json:"circuit"`
}

// EnginesStatus reports each configured engine and its circuit breaker
// snapshot, so operators can see which backends are shedding load.
func (a *App) EnginesStatus(w http.ResponseWriter, r *http.Request) {
	items := make([]engineStatusJSON, 0, len(a.Breakers))
	for name, b := range a.Breakers {
		items = append(items, engineStatusJSON{Name: name, Circuit: b.GetStatus()})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	a.json(w, http.StatusOK, map[string]any{"engines": items})
}
