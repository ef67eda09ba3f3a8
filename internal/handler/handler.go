// Package handler exposes the domain services as a JSON HTTP API. The
// requester identity comes from the X-User-Email header and the admin flag
// from X-User-Role; real authentication is expected to happen upstream.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/jimmyweng/ecommerce-go/internal/domain/favorite"
	"github.com/jimmyweng/ecommerce-go/internal/domain/order"
	"github.com/jimmyweng/ecommerce-go/internal/domain/product"
)

const (
	userEmailHeader      = "X-User-Email"
	userRoleHeader       = "X-User-Role"
	idempotencyKeyHeader = "Idempotency-Key"

	roleAdmin = "admin"
)

// Handler wires the HTTP surface to the domain services.
type Handler struct {
	products  *product.QueryService
	admin     *product.AdminService
	checkout  *order.CheckoutService
	orders    *order.QueryService
	favorites *favorite.Service
}

// NewHandler creates a Handler over the given services.
func NewHandler(
	products *product.QueryService,
	admin *product.AdminService,
	checkout *order.CheckoutService,
	orders *order.QueryService,
	favorites *favorite.Service,
) *Handler {
	return &Handler{
		products:  products,
		admin:     admin,
		checkout:  checkout,
		orders:    orders,
		favorites: favorites,
	}
}

// Routes returns the API route table.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{id}", h.getProduct)

	mux.HandleFunc("POST /api/admin/products", h.createProduct)
	mux.HandleFunc("PUT /api/admin/products/{id}", h.updateProduct)
	mux.HandleFunc("DELETE /api/admin/products/{id}", h.deleteProduct)

	mux.HandleFunc("POST /api/orders", h.createOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.getOrder)

	mux.HandleFunc("GET /api/favorites", h.listFavorites)
	mux.HandleFunc("POST /api/favorites/{productID}", h.addFavorite)
	mux.HandleFunc("DELETE /api/favorites/{productID}", h.removeFavorite)

	return mux
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := product.Filter{
		Category: q.Get("category"),
		Keyword:  q.Get("q"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeMessage(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeMessage(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	products, err := h.products.ListProducts(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, productListResponse(products))
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	p, err := h.products.Product(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

// productFieldsRequest is the admin create/update payload. Update additionally
// carries the version the edit was based on.
type productFieldsRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Version     int64           `json:"version"`
}

func (req *productFieldsRequest) fields() product.Fields {
	return product.Fields{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Stock:       req.Stock,
	}
}

func (req *productFieldsRequest) validate() string {
	switch {
	case req.Title == "":
		return "title is required"
	case req.Price.IsNegative():
		return "price must not be negative"
	case req.Stock < 0:
		return "stock must not be negative"
	}
	return ""
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var req productFieldsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeMessage(w, http.StatusBadRequest, msg)
		return
	}

	p, err := h.admin.CreateProduct(r.Context(), req.fields())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(p))
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req productFieldsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeMessage(w, http.StatusBadRequest, msg)
		return
	}
	if req.Version <= 0 {
		writeMessage(w, http.StatusBadRequest, "version is required")
		return
	}

	p, err := h.admin.UpdateProduct(r.Context(), id, req.Version, req.fields())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	version, err := strconv.ParseInt(r.URL.Query().Get("version"), 10, 64)
	if err != nil || version <= 0 {
		writeMessage(w, http.StatusBadRequest, "version query parameter is required")
		return
	}

	if err := h.admin.DeleteProduct(r.Context(), id, version); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createOrderRequest struct {
	IdempotencyKey string             `json:"idempotencyKey"`
	Items          []orderItemRequest `json:"items"`
}

type orderItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	email, ok := requesterEmail(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// The header wins over the body so clients retrying through proxies keep a
	// stable key.
	if key := r.Header.Get(idempotencyKeyHeader); key != "" {
		req.IdempotencyKey = key
	}

	items := make([]order.ItemRequest, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	result, err := h.checkout.Checkout(r.Context(), email, order.CheckoutRequest{
		IdempotencyKey: req.IdempotencyKey,
		Items:          items,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, toOrderResponse(result.Order, result.Duplicate))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	email, ok := requesterEmail(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	o, err := h.orders.OrderForRequester(r.Context(), id, email, isAdmin(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o, false))
}

func (h *Handler) listFavorites(w http.ResponseWriter, r *http.Request) {
	email, ok := requesterEmail(w, r)
	if !ok {
		return
	}

	products, err := h.favorites.List(r.Context(), email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, productListResponse(products))
}

func (h *Handler) addFavorite(w http.ResponseWriter, r *http.Request) {
	email, ok := requesterEmail(w, r)
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}

	p, created, err := h.favorites.Add(r.Context(), email, productID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, toProductResponse(p))
}

func (h *Handler) removeFavorite(w http.ResponseWriter, r *http.Request) {
	email, ok := requesterEmail(w, r)
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}

	if err := h.favorites.Remove(r.Context(), email, productID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requesterEmail resolves the caller identity header, responding 401 when it
// is missing.
func requesterEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	email := r.Header.Get(userEmailHeader)
	if email == "" {
		writeMessage(w, http.StatusUnauthorized, "missing "+userEmailHeader+" header")
		return "", false
	}
	return email, true
}

func isAdmin(r *http.Request) bool {
	return r.Header.Get(userRoleHeader) == roleAdmin
}

// requireAdmin responds 403 unless the caller carries the admin role.
func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !isAdmin(r) {
		writeMessage(w, http.StatusForbidden, "admin role required")
		return false
	}
	return true
}

// pathID parses the named path segment as a positive integer id.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeMessage(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}
