package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/john25coder/pizzaria-app/internal/domain/catalog"
	"github.com/john25coder/pizzaria-app/internal/domain/paging"
)

// ListProducts serves GET /api/products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	h.listProducts(w, r, false)
}

// AdminListProducts serves GET /api/admin/products, including inactive ones.
func (h *Handler) AdminListProducts(w http.ResponseWriter, r *http.Request) {
	h.listProducts(w, r, true)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request, includeInactive bool) {
	p, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	page, err := h.catalog.ListProducts(r.Context(), catalog.ProductFilter{
		Search:          q.Get("search"),
		Category:        q.Get("category"),
		IncludeInactive: includeInactive,
		Params:          p,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := productPageResponse{
		Products:   make([]productResponse, len(page.Products)),
		Pagination: toPageInfo(page.Info),
	}
	for i := range page.Products {
		resp.Products[i] = toProduct(&page.Products[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetProduct serves GET /api/products/{id}. Inactive products are hidden.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !p.Active {
		writeError(w, r, catalog.ErrProductNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toProduct(p))
}

// ListSizes serves GET /api/sizes.
func (h *Handler) ListSizes(w http.ResponseWriter, r *http.Request) {
	h.listSizes(w, r, false)
}

// AdminListSizes serves GET /api/admin/sizes, including inactive ones.
func (h *Handler) AdminListSizes(w http.ResponseWriter, r *http.Request) {
	h.listSizes(w, r, true)
}

func (h *Handler) listSizes(w http.ResponseWriter, r *http.Request, includeInactive bool) {
	sizes, err := h.catalog.ListSizes(r.Context(), includeInactive)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]sizeResponse, len(sizes))
	for i := range sizes {
		resp[i] = toSize(&sizes[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSize serves GET /api/sizes/{id}.
func (h *Handler) GetSize(w http.ResponseWriter, r *http.Request) {
	s, err := h.catalog.GetSize(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSize(s))
}

// AdminCreateProduct serves POST /api/admin/products.
func (h *Handler) AdminCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.catalog.CreateProduct(r.Context(), catalog.ProductInput{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProduct(p))
}

// AdminUpdateProduct serves PATCH /api/admin/products/{id}.
func (h *Handler) AdminUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req productPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.catalog.UpdateProduct(r.Context(), chi.URLParam(r, "id"), catalog.ProductPatch{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		ImageURL:    req.ImageURL,
		Active:      req.Active,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProduct(p))
}

// AdminCreateSize serves POST /api/admin/sizes.
func (h *Handler) AdminCreateSize(w http.ResponseWriter, r *http.Request) {
	var req sizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.catalog.CreateSize(r.Context(), catalog.SizeInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSize(s))
}

// AdminUpdateSize serves PATCH /api/admin/sizes/{id}.
func (h *Handler) AdminUpdateSize(w http.ResponseWriter, r *http.Request) {
	var req sizePatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.catalog.UpdateSize(r.Context(), chi.URLParam(r, "id"), catalog.SizePatch{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Active:      req.Active,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSize(s))
}

func pageParams(r *http.Request) (paging.Params, error) {
	page, err := queryInt(r, "page")
	if err != nil {
		return paging.Params{}, err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return paging.Params{}, err
	}
	return paging.Params{Page: page, Limit: limit}, nil
}
