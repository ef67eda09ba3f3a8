package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jimmyweng/ecommerce-go/internal/domain/order"
	"github.com/jimmyweng/ecommerce-go/internal/domain/product"
)

type productResponse struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func toProductResponse(p *product.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Category:    p.Category,
		Price:       p.Price,
		Stock:       p.Stock,
		Version:     p.Version,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func productListResponse(products []product.Product) []productResponse {
	out := make([]productResponse, len(products))
	for i := range products {
		out[i] = toProductResponse(&products[i])
	}
	return out
}

type orderResponse struct {
	ID          int64               `json:"id"`
	Status      order.Status        `json:"status"`
	TotalAmount decimal.Decimal     `json:"totalAmount"`
	Duplicate   bool                `json:"duplicate"`
	CreatedAt   time.Time           `json:"createdAt"`
	Items       []orderItemResponse `json:"items"`
}

type orderItemResponse struct {
	ProductID int64           `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

func toOrderResponse(o *order.Order, duplicate bool) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}
	return orderResponse{
		ID:          o.ID,
		Status:      o.Status,
		TotalAmount: o.TotalAmount,
		Duplicate:   duplicate,
		CreatedAt:   o.CreatedAt,
		Items:       items,
	}
}
