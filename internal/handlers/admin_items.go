package handlers

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/csrf"
	"github.com/nfnt/resize"
	"github.com/shopspring/decimal"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/store"
)

// itemForm is the admin create/edit form as submitted.
type itemForm struct {
	Title         string `validate:"required,max=200"`
	Slug          string `validate:"omitempty,max=200"`
	Description   string
	Instructions  string
	Price         string `validate:"required,numeric"`
	OriginalPrice string `validate:"omitempty,numeric"`
	Category      string `validate:"required,oneof=offline-account online-account account-rent"`
}

func readItemForm(r *http.Request) itemForm {
	return itemForm{
		Title:         strings.TrimSpace(r.FormValue("title")),
		Slug:          strings.TrimSpace(r.FormValue("slug")),
		Description:   strings.TrimSpace(r.FormValue("description")),
		Instructions:  strings.TrimSpace(r.FormValue("instructions")),
		Price:         strings.TrimSpace(r.FormValue("price")),
		OriginalPrice: strings.TrimSpace(r.FormValue("original_price")),
		Category:      r.FormValue("category"),
	}
}

// toItem validates the form and fills item from it. The returned map holds
// one message per rejected field.
func (h *AdminHandler) toItem(f itemForm, item *models.CatalogItem) map[string]string {
	errs := make(map[string]string)
	if err := h.formValidator().Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				switch fe.Field() {
				case "Title":
					errs["title"] = "Title is required (max 200 characters)."
				case "Slug":
					errs["slug"] = "Slug must be at most 200 characters."
				case "Price":
					errs["price"] = "Price must be a number."
				case "OriginalPrice":
					errs["original_price"] = "Original price must be a number."
				case "Category":
					errs["category"] = "Invalid category selected."
				}
			}
		} else {
			errs["form"] = err.Error()
		}
	}
	if len(errs) > 0 {
		return errs
	}

	price, err := decimal.NewFromString(f.Price)
	if err != nil || !price.IsPositive() {
		errs["price"] = "Price must be positive."
		return errs
	}
	var originalPrice *decimal.Decimal
	if f.OriginalPrice != "" {
		op, err := decimal.NewFromString(f.OriginalPrice)
		if err != nil {
			errs["original_price"] = "Original price must be a number."
			return errs
		}
		originalPrice = &op
	}
	item.Title = f.Title
	item.Slug = f.Slug
	item.Description = f.Description
	item.Instructions = f.Instructions
	item.Price = price
	item.Category = models.Category(f.Category)
	item.OriginalPrice = originalPrice
	return nil
}

func (h *AdminHandler) renderItemForm(w http.ResponseWriter, r *http.Request, status int, item *models.CatalogItem, errs map[string]string) {
	data := map[string]interface{}{
		"Title":      "New Item",
		"Item":       item,
		"IsNew":      item.ID == 0,
		"Categories": models.Categories,
		"Errors":     errs,
		"CsrfField":  csrf.TemplateField(r),
		"IsAdmin":    true,
	}
	if item.ID != 0 {
		data["Title"] = "Edit " + item.Title
		keys, err := h.Store.GetKeysForItem(r.Context(), item.ID)
		if err != nil {
			http.Error(w, "Error fetching keys", http.StatusInternalServerError)
			return
		}
		creds, err := h.Store.GetCredentials(r.Context(), item.ID)
		if err != nil {
			http.Error(w, "Error fetching credentials", http.StatusInternalServerError)
			return
		}
		free := 0
		for _, k := range keys {
			if !k.Used {
				free++
			}
		}
		data["Keys"] = keys
		data["FreeKeys"] = free
		data["Credentials"] = creds
	}
	session, _ := h.SessionStore.Get(r, adminSessionName)
	data["Flashes"] = GetFlash(session)
	session.Save(r, w)
	h.Templates.Render(w, status, "admin_item_form.html", data)
}

func (h *AdminHandler) AddItemForm(w http.ResponseWriter, r *http.Request) {
	h.renderItemForm(w, r, http.StatusOK, &models.CatalogItem{Category: models.CategoryOfflineAccount}, nil)
}

func (h *AdminHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		h.flash(w, r, "error", "File too large. Max 10MB.")
		http.Redirect(w, r, "/admin/items/new", http.StatusSeeOther)
		return
	}

	item := &models.CatalogItem{}
	if errs := h.toItem(readItemForm(r), item); errs != nil {
		item.Title = r.FormValue("title")
		item.Category = models.Category(r.FormValue("category"))
		h.renderItemForm(w, r, http.StatusUnprocessableEntity, item, errs)
		return
	}

	if err := h.Store.CreateItem(r.Context(), item); err != nil {
		slog.Error("Failed to create item", "error", err)
		h.flash(w, r, "error", "Error saving item to database.")
		http.Redirect(w, r, "/admin/items/new", http.StatusSeeOther)
		return
	}

	if msg := h.attachImage(r, item.ID); msg != "" {
		h.flash(w, r, "error", msg)
	}
	slog.Info("Catalog item created", "item_id", item.ID, "category", item.Category)
	h.flash(w, r, "success", "Item added successfully!")
	http.Redirect(w, r, fmt.Sprintf("/admin/items/%d/edit", item.ID), http.StatusSeeOther)
}

func (h *AdminHandler) EditItemForm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}

	item, err := h.Store.GetItemByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Item not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Error fetching item", http.StatusInternalServerError)
		return
	}
	h.renderItemForm(w, r, http.StatusOK, item, nil)
}

func (h *AdminHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}
	if err := r.ParseMultipartForm(10 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		h.flash(w, r, "error", "File too large.")
		http.Redirect(w, r, fmt.Sprintf("/admin/items/%d/edit", id), http.StatusSeeOther)
		return
	}

	item, err := h.Store.GetItemByID(r.Context(), id)
	if err != nil {
		http.Error(w, "Item not found", http.StatusNotFound)
		return
	}
	if errs := h.toItem(readItemForm(r), item); errs != nil {
		h.renderItemForm(w, r, http.StatusUnprocessableEntity, item, errs)
		return
	}

	if err := h.Store.UpdateItem(r.Context(), item); err != nil {
		slog.Error("Failed to update item", "item_id", id, "error", err)
		h.flash(w, r, "error", "Error updating item.")
		http.Redirect(w, r, fmt.Sprintf("/admin/items/%d/edit", id), http.StatusSeeOther)
		return
	}

	if msg := h.attachImage(r, id); msg != "" {
		h.flash(w, r, "error", msg)
	}
	h.flash(w, r, "success", "Item updated successfully!")
	http.Redirect(w, r, fmt.Sprintf("/admin/items/%d/edit", id), http.StatusSeeOther)
}

func (h *AdminHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.flash(w, r, "error", "Invalid ID.")
		http.Redirect(w, r, "/admin/items", http.StatusSeeOther)
		return
	}

	if err := h.Store.DeleteItem(r.Context(), id); err != nil {
		slog.Warn("Failed to delete item", "item_id", id, "error", err)
		h.flash(w, r, "error", "Item could not be deleted. Items that were already ordered must be kept.")
		http.Redirect(w, r, "/admin/items", http.StatusSeeOther)
		return
	}

	h.flash(w, r, "success", "Item deleted successfully!")
	http.Redirect(w, r, "/admin/items", http.StatusSeeOther)
}

// ImportKeys adds one scarce key per non-empty line of the "keys" field.
func (h *AdminHandler) ImportKeys(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}
	back := fmt.Sprintf("/admin/items/%d/edit", id)

	secrets := strings.Split(strings.ReplaceAll(r.FormValue("keys"), "\r\n", "\n"), "\n")
	added, err := h.Store.ImportKeys(r.Context(), id, secrets)
	if err != nil {
		slog.Error("Failed to import keys", "item_id", id, "error", err)
		h.flash(w, r, "error", "Error importing keys.")
		http.Redirect(w, r, back, http.StatusSeeOther)
		return
	}

	slog.Info("Keys imported", "item_id", id, "added", added)
	h.flash(w, r, "success", fmt.Sprintf("%d new key(s) added.", added))
	http.Redirect(w, r, back, http.StatusSeeOther)
}

func (h *AdminHandler) AddCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}
	back := fmt.Sprintf("/admin/items/%d/edit", id)

	c := &models.Credential{
		CatalogItemID: id,
		Username:      r.FormValue("username"),
		Password:      r.FormValue("password"),
		Notes:         r.FormValue("notes"),
	}
	if err := h.Store.AddCredential(r.Context(), c); err != nil {
		h.flash(w, r, "error", "Username and password are required.")
		http.Redirect(w, r, back, http.StatusSeeOther)
		return
	}

	h.flash(w, r, "success", "Account added to the pool.")
	http.Redirect(w, r, back, http.StatusSeeOther)
}

func (h *AdminHandler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}
	credID, err := strconv.ParseInt(r.PathValue("cid"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid credential ID", http.StatusBadRequest)
		return
	}

	if err := h.Store.DeleteCredential(r.Context(), id, credID); err != nil {
		h.flash(w, r, "error", "Error removing account.")
	} else {
		h.flash(w, r, "success", "Account removed from the pool.")
	}
	http.Redirect(w, r, fmt.Sprintf("/admin/items/%d/edit", id), http.StatusSeeOther)
}

// attachImage stores the optional "image" upload for an item. It returns a
// message for the admin when the upload was present but unusable.
func (h *AdminHandler) attachImage(r *http.Request, itemID int64) string {
	if r.MultipartForm == nil {
		return ""
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return ""
	}
	defer file.Close()

	url, err := h.saveItemImage(file, header.Filename)
	if err != nil {
		slog.Warn("Item image rejected", "item_id", itemID, "error", err)
		return "Image not saved: " + err.Error()
	}
	if err := h.Store.UpdateItemImage(r.Context(), itemID, url); err != nil {
		slog.Error("Failed to store image url", "item_id", itemID, "error", err)
		return "Image not saved."
	}
	return ""
}

// saveItemImage decodes a PNG or JPEG, scales it to 800px wide and writes it
// as JPEG under MediaDir/items. It returns the public URL.
func (h *AdminHandler) saveItemImage(file io.Reader, filename string) (string, error) {
	var (
		img image.Image
		err error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		img, err = png.Decode(file)
	case ".jpg", ".jpeg":
		img, err = jpeg.Decode(file)
	default:
		return "", errors.New("unsupported image format, only PNG, JPG and JPEG are allowed")
	}
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	newImage := resize.Resize(800, 0, img, resize.Lanczos3)

	dir := filepath.Join(h.MediaDir, "items")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := uuid.New().String() + ".jpg"
	out, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	defer out.Close()

	if err := jpeg.Encode(out, newImage, &jpeg.Options{Quality: 80}); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}
	return "/media/items/" + name, nil
}
