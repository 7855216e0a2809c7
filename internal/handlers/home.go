package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/csrf"
	"github.com/gorilla/sessions"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/cart"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/store"
)

const (
	publicSessionName = "shop-session"
	adminSessionName  = "admin-session"
)

type HomeHandler struct {
	Store        *store.Store
	Templates    *TemplateCache
	SessionStore *sessions.CookieStore
	Cart         *cart.Cart
}

func (h *HomeHandler) Index(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.CatalogFilter{
		Category: models.Category(q.Get("category")),
		Query:    strings.TrimSpace(q.Get("q")),
		Sort:     q.Get("sort"),
	}
	if !filter.Category.Valid() {
		filter.Category = ""
	}
	if filter.Sort != "price-asc" && filter.Sort != "price-desc" {
		filter.Sort = ""
	}

	items, err := h.Store.ListItems(r.Context(), filter)
	if err != nil {
		http.Error(w, "Error fetching items", http.StatusInternalServerError)
		return
	}

	if isHTMX(r) {
		h.Templates.RenderPartial(w, http.StatusOK, "home.html", "grid", map[string]interface{}{
			"Items":     items,
			"CsrfField": csrf.TemplateField(r),
		})
		return
	}

	publicSession, _ := h.SessionStore.Get(r, publicSessionName)
	adminSession, _ := h.SessionStore.Get(r, adminSessionName)

	isAdmin := false
	if auth, ok := adminSession.Values["authenticated"].(bool); ok && auth {
		isAdmin = true
	}

	data := map[string]interface{}{
		"Title":      "Games",
		"Items":      items,
		"Categories": models.Categories,
		"Category":   string(filter.Category),
		"Q":          filter.Query,
		"Sort":       filter.Sort,
		"CartCount":  h.Cart.Count(r),
		"CsrfField":  csrf.TemplateField(r),
		"Flashes":    GetFlash(publicSession),
		"IsAdmin":    isAdmin,
	}
	publicSession.Save(r, w)
	h.Templates.Render(w, http.StatusOK, "home.html", data)
}
