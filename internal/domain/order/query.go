package order

import (
	"context"

	"github.com/jimmyweng/ecommerce-go/internal/domain/user"
	"github.com/jimmyweng/ecommerce-go/internal/storage"
)

// QueryService serves order reads for a requester. Reads are forced to the
// primary store: the common caller just created the order and must see it
// even when replicas lag behind.
type QueryService struct {
	tx     storage.TxRunner
	users  user.Directory
	orders Store
}

// NewQueryService creates a QueryService over the given stores.
func NewQueryService(tx storage.TxRunner, users user.Directory, orders Store) *QueryService {
	return &QueryService{tx: tx, users: users, orders: orders}
}

// OrderForRequester returns the order with its items. Non-admin requesters
// only see their own orders; anything else reports NotFoundError rather than
// revealing that the order exists.
func (s *QueryService) OrderForRequester(ctx context.Context, orderID int64, email string, isAdmin bool) (*Order, error) {
	ctx = storage.WithPrimaryReads(ctx)

	var found *Order
	err := s.tx.InReadTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.ByIDWithItems(ctx, orderID)
		if err != nil {
			return err
		}

		if !isAdmin {
			requester, err := s.users.ByEmail(ctx, email)
			if err != nil {
				return err
			}
			if requester.ID != o.OwnerID {
				return &NotFoundError{ID: orderID}
			}
		}

		found = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
