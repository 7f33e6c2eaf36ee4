package server

import (
	"net/http"
	"sort"

	"github.com/onnwee/dropwatch/catalog"
)

// HandleStatus returns the operator report: liveness per platform, active
// chat sessions, tracked pages, product count and scrape state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Monitor.Status())
}

// HandleLinks lists today's campaign pages in discovery order.
func (h *Handlers) HandleLinks(w http.ResponseWriter, r *http.Request) {
	pages := h.Catalog.Pages()
	writeJSON(w, http.StatusOK, map[string]any{
		"date":  h.Catalog.CurrentDate(),
		"count": len(pages),
		"pages": pages,
	})
}

// HandleProducts lists today's tracked products ordered by id.
func (h *Handlers) HandleProducts(w http.ResponseWriter, r *http.Request) {
	all := h.Catalog.All()
	items := make([]catalog.Product, 0, len(all))
	for _, p := range all {
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{
		"date":     h.Catalog.CurrentDate(),
		"count":    len(items),
		"products": items,
	})
}
