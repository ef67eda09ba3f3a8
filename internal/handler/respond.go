package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/jimmyweng/ecommerce-go/internal/domain/order"
	"github.com/jimmyweng/ecommerce-go/internal/domain/product"
	"github.com/jimmyweng/ecommerce-go/internal/domain/user"
)

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

// writeError maps domain errors to HTTP statuses. The mapping is intentionally
// small: not-found and visibility failures are 404, concurrency losses are
// 409, validation failures are 400, unknown requesters are 401, everything
// else is a logged 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		productNotFound *product.NotFoundError
		orderNotFound   *order.NotFoundError
		userNotFound    *user.NotFoundError
		outOfStock      *product.OutOfStockError
		invalidQty      *order.InvalidQuantityError
		duplicateItem   *order.DuplicateItemError
	)

	switch {
	case errors.As(err, &productNotFound), errors.As(err, &orderNotFound):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.As(err, &userNotFound):
		writeMessage(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &outOfStock), errors.Is(err, product.ErrVersionConflict):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.As(err, &invalidQty),
		errors.As(err, &duplicateItem),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrEmptyIdempotencyKey):
		writeMessage(w, http.StatusBadRequest, err.Error())
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "internal server error")
	}
}
