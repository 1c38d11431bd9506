package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/address"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Service exposes orders to buyers and the seller back office.
type Service interface {
	ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params, state *enums.PaymentState) (*OrderList, error)
	GetForBuyer(ctx context.Context, buyerID, orderID uuid.UUID) (*OrderDTO, error)
	ListAll(ctx context.Context, params pagination.Params, state *enums.PaymentState) (*OrderList, error)
	GetForSeller(ctx context.Context, orderID uuid.UUID) (*SellerOrderDTO, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID, actor outbox.ActorRef) (*OrderDTO, error)
}

type addressFinder interface {
	FindByID(ctx context.Context, addressID uuid.UUID) (*models.Address, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	Repo      Repository
	Addresses addressFinder
	Tx        txRunner
	Outbox    outboxEmitter
	Logger    *logger.Logger
	Clock     func() time.Time
}

type service struct {
	repo      Repository
	addresses addressFinder
	tx        txRunner
	outbox    outboxEmitter
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds the orders service.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "orders repository required")
	case params.Addresses == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "address repository required")
	case params.Tx == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	case params.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox emitter required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:      params.Repo,
		addresses: params.Addresses,
		tx:        params.Tx,
		outbox:    params.Outbox,
		logg:      params.Logger,
		now:       clock,
	}, nil
}

func (s *service) ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params, state *enums.PaymentState) (*OrderList, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	return s.list(ctx, params, ListFilters{BuyerID: &buyerID, PaymentState: state})
}

func (s *service) ListAll(ctx context.Context, params pagination.Params, state *enums.PaymentState) (*OrderList, error) {
	return s.list(ctx, params, ListFilters{PaymentState: state})
}

func (s *service) list(ctx context.Context, params pagination.Params, filters ListFilters) (*OrderList, error) {
	if params.Cursor != "" {
		if _, err := pagination.ParseCursor(params.Cursor); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
	}

	rows, next, err := s.repo.List(ctx, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	out := &OrderList{Orders: make([]OrderDTO, 0, len(rows))}
	for _, row := range rows {
		out.Orders = append(out.Orders, FromModel(row))
	}
	if next != nil {
		out.NextCursor = pagination.EncodeCursor(*next)
	}
	return out, nil
}

func (s *service) GetForBuyer(ctx context.Context, buyerID, orderID uuid.UUID) (*OrderDTO, error) {
	if buyerID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id and order id required")
	}
	order, err := s.repo.FindForBuyer(ctx, buyerID, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	dto := FromModel(*order)
	return &dto, nil
}

// GetForSeller returns any order with its shipping address for fulfillment.
func (s *service) GetForSeller(ctx context.Context, orderID uuid.UUID) (*SellerOrderDTO, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	out := &SellerOrderDTO{OrderDTO: FromModel(*order)}

	shipTo, err := s.addresses.FindByID(ctx, order.ShippingAddressID)
	switch {
	case err == nil:
		dto := AddressFromModel(*shipTo)
		out.ShippingAddress = &dto
	case errors.Is(err, address.ErrNotFound):
		s.logg.Warn(s.logg.WithOrderID(ctx, order.ID.String()), "order shipping address missing")
	default:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipping address")
	}
	return out, nil
}

// MarkPaid records cash collected on delivery. Marking an order that is
// already paid returns it unchanged.
func (s *service) MarkPaid(ctx context.Context, orderID uuid.UUID, actor outbox.ActorRef) (*OrderDTO, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	if order.PaymentMethod != enums.PaymentMethodCashOnDelivery {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "only cash on delivery orders can be marked paid")
	}
	if order.PaymentState == enums.PaymentStatePaid {
		dto := FromModel(*order)
		return &dto, nil
	}
	if !CanTransition(order.PaymentMethod, order.PaymentState, enums.PaymentStatePaid) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not payable on delivery").
			WithDetails(map[string]any{"payment_state": order.PaymentState})
	}

	now := s.now().UTC()
	won := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		won, err = s.repo.WithTx(tx).TransitionPaymentState(ctx, order.ID, enums.PaymentStatePayableOnDelivery, enums.PaymentStatePaid, now)
		if err != nil || !won {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &actor,
			Data:          paymentEvent(order, enums.PaymentStatePaid, "cash_collected"),
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
	}
	if !won {
		// a concurrent request got there first
		current, err := s.load(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if current.PaymentState != enums.PaymentStatePaid {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not payable on delivery")
		}
		dto := FromModel(*current)
		return &dto, nil
	}

	order.PaymentState = enums.PaymentStatePaid
	order.PaidAt = &now
	s.logg.Info(s.logg.WithField(ctx, "actor_id", actor.UserID.String()), "cash on delivery order marked paid")
	dto := FromModel(*order)
	return &dto, nil
}

func (s *service) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func paymentEvent(order *models.Order, state enums.PaymentState, reason string) payloads.OrderPaymentEvent {
	return payloads.OrderPaymentEvent{
		OrderID:       order.ID,
		BuyerID:       order.BuyerID,
		PaymentMethod: order.PaymentMethod,
		PaymentState:  state,
		TotalAmount:   order.TotalAmount,
		Currency:      order.Currency,
		Reason:        reason,
	}
}
