package handlers

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutFile = "layout.html"

// TemplateCache holds parsed templates
type TemplateCache struct {
	cache map[string]*template.Template
	mu    sync.RWMutex
	funcs template.FuncMap
}

func NewTemplateCache() *TemplateCache {
	return &TemplateCache{
		cache: make(map[string]*template.Template),
		funcs: make(template.FuncMap),
	}
}

func (tc *TemplateCache) AddFunc(name string, fn interface{}) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.funcs[name] = fn
}

// Load parses the templates embedded in the binary.
func (tc *TemplateCache) Load() error {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return err
	}
	return tc.LoadFS(sub)
}

// LoadFS parses every page in fsys together with the shared layout.
func (tc *TemplateCache) LoadFS(fsys fs.FS) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	// Add global template functions
	tc.funcs["prevPage"] = func(currentPage int) int {
		return currentPage - 1
	}
	tc.funcs["nextPage"] = func(currentPage int) int {
		return currentPage + 1
	}
	tc.funcs["money"] = func(d decimal.Decimal) string {
		return "Rs " + d.StringFixed(2)
	}
	tc.funcs["date"] = func(t time.Time) string {
		return t.UTC().Format("02 Jan 2006 15:04")
	}
	tc.funcs["categoryLabel"] = func(c models.Category) string {
		return c.Label()
	}
	tc.funcs["mediaURL"] = func(p string) string {
		return "/media/" + strings.TrimPrefix(p, "/")
	}

	files, err := fs.Glob(fsys, "*.html")
	if err != nil {
		return err
	}
	for _, file := range files {
		name := path.Base(file)
		if name == layoutFile {
			continue
		}
		tmpl, err := template.New(name).Funcs(tc.funcs).ParseFS(fsys, layoutFile, file)
		if err != nil {
			slog.Error("Failed to parse template", "file", file, "error", err)
			return err
		}
		tc.cache[name] = tmpl
		slog.Debug("Cached template", "name", name)
	}
	return nil
}

func (tc *TemplateCache) Get(name string) *template.Template {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.cache[name]
}

// Render executes the named page into a buffer first so a template error
// still produces a clean 500 instead of half a page.
func (tc *TemplateCache) Render(w http.ResponseWriter, status int, name string, data map[string]interface{}) {
	tmpl := tc.Get(name)
	if tmpl == nil {
		slog.Error("Template not found", "name", name)
		http.Error(w, "Template not found", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		slog.Error("Failed to render template", "name", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// RenderPartial executes one named block of a page, for HTMX requests that
// swap a fragment in place.
func (tc *TemplateCache) RenderPartial(w http.ResponseWriter, status int, page, block string, data map[string]interface{}) {
	tmpl := tc.Get(page)
	if tmpl == nil || tmpl.Lookup(block) == nil {
		slog.Error("Template not found", "name", page, "block", block)
		http.Error(w, "Template not found", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, block, data); err != nil {
		slog.Error("Failed to render template", "name", page, "block", block, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
