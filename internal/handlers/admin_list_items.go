package handlers

import (
	"net/http"

	"github.com/gorilla/csrf"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/store"
)

func (h *AdminHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Store.ListItems(r.Context(), store.CatalogFilter{})
	if err != nil {
		http.Error(w, "Error fetching items", http.StatusInternalServerError)
		return
	}

	stats, err := h.Store.GetDashboardStats(r.Context())
	if err != nil {
		http.Error(w, "Error fetching stock", http.StatusInternalServerError)
		return
	}
	stock := make(map[int64]store.ItemStock, len(stats.ItemStock))
	for _, s := range stats.ItemStock {
		stock[s.ItemID] = s
	}

	session, _ := h.SessionStore.Get(r, adminSessionName)
	data := map[string]interface{}{
		"Title":     "Catalog",
		"Items":     items,
		"Stock":     stock,
		"Flashes":   GetFlash(session),
		"CsrfField": csrf.TemplateField(r),
		"IsAdmin":   true,
	}
	session.Save(r, w)
	h.Templates.Render(w, http.StatusOK, "admin_items.html", data)
}
