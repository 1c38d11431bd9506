package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type receiptSender interface {
	SendReceipt(ctx context.Context, order *models.Order) bool
}

type outcomeRecorder interface {
	Observe(kind, outcome string)
}

type HandlerParams struct {
	Tx       txRunner
	Ledger   *inventory.Ledger
	Orders   orders.Repository
	Carts    *cart.Repository
	Outbox   outboxEmitter
	Receipts receiptSender
	Metrics  outcomeRecorder
	Logger   *logger.Logger
	// ClearCartOnPaid empties the buyer's cart when payment succeeds. Off when
	// checkout already cleared it at session creation.
	ClearCartOnPaid bool
	Clock           func() time.Time
}

// Handler settles hosted orders. The conditional pending transition decides
// which of several concurrent or repeated notifications wins; losers are
// no-ops, so stock moves and the receipt go out once per order.
type Handler struct {
	tx              txRunner
	ledger          *inventory.Ledger
	orders          orders.Repository
	carts           *cart.Repository
	outbox          outboxEmitter
	receipts        receiptSender
	metrics         outcomeRecorder
	logg            *logger.Logger
	clearCartOnPaid bool
	now             func() time.Time
}

func NewHandler(params HandlerParams) (*Handler, error) {
	switch {
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("inventory ledger required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Carts == nil:
		return nil, fmt.Errorf("cart repository required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Receipts == nil:
		return nil, fmt.Errorf("receipt sender required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Handler{
		tx:              params.Tx,
		ledger:          params.Ledger,
		orders:          params.Orders,
		carts:           params.Carts,
		outbox:          params.Outbox,
		receipts:        params.Receipts,
		metrics:         params.Metrics,
		logg:            params.Logger,
		clearCartOnPaid: params.ClearCartOnPaid,
		now:             clock,
	}, nil
}

// Handle applies n to its order.
func (h *Handler) Handle(ctx context.Context, n Notification) (Outcome, error) {
	target, eventType, err := transitionFor(n.Kind)
	if err != nil {
		return "", err
	}
	ctx = h.logg.WithOrderID(ctx, n.OrderID.String())
	ctx = h.logg.WithFields(ctx, map[string]any{"event_id": n.EventID, "kind": string(n.Kind)})

	order, err := h.orders.FindByID(ctx, n.OrderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			h.logg.Warn(ctx, "payment notification for unknown order")
			h.observe(n.Kind, "unknown_order")
			return "", pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "order not found")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	// only hosted orders settle through the provider; cash is marked paid by the seller
	if order.PaymentMethod != enums.PaymentMethodHosted || !orders.CanTransition(order.PaymentMethod, order.PaymentState, target) {
		h.logg.Info(h.logg.WithField(ctx, "payment_state", string(order.PaymentState)), "payment notification ignored: order already settled")
		h.observe(n.Kind, string(OutcomeAlreadyTerminal))
		return OutcomeAlreadyTerminal, nil
	}

	won := false
	err = h.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		won, err = h.orders.WithTx(tx).TransitionPaymentState(ctx, order.ID, enums.PaymentStatePending, target, h.now().UTC())
		if err != nil || !won {
			return err
		}
		if err := h.moveStock(ctx, tx, order, target); err != nil {
			return err
		}
		if target == enums.PaymentStatePaid && h.clearCartOnPaid {
			if err := h.carts.WithTx(tx).Clear(ctx, order.BuyerID); err != nil {
				return err
			}
		}
		return h.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderPaymentEvent{
				OrderID:       order.ID,
				BuyerID:       order.BuyerID,
				PaymentMethod: order.PaymentMethod,
				PaymentState:  target,
				TotalAmount:   order.TotalAmount,
				Currency:      order.Currency,
				SessionID:     n.SessionID,
				Reason:        n.Reason,
			},
		})
	})
	if err != nil {
		h.observe(n.Kind, "failed")
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply payment notification")
	}
	if !won {
		h.logg.Info(ctx, "payment notification lost the transition race")
		h.observe(n.Kind, string(OutcomeAlreadyTerminal))
		return OutcomeAlreadyTerminal, nil
	}

	order.PaymentState = target
	h.logg.Info(h.logg.WithField(ctx, "payment_state", string(target)), "order payment settled")
	if target == enums.PaymentStatePaid {
		h.receipts.SendReceipt(ctx, order)
	}
	h.observe(n.Kind, string(OutcomeApplied))
	return OutcomeApplied, nil
}

func (h *Handler) moveStock(ctx context.Context, tx *gorm.DB, order *models.Order, target enums.PaymentState) error {
	ledger := h.ledger.WithTx(tx)
	for _, li := range order.LineItems {
		var err error
		if target == enums.PaymentStatePaid {
			err = ledger.Commit(ctx, li.ProductID, li.Quantity)
		} else {
			err = ledger.Release(ctx, li.ProductID, li.Quantity)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) observe(kind Kind, outcome string) {
	if h.metrics == nil {
		return
	}
	h.metrics.Observe(string(kind), outcome)
}

func transitionFor(kind Kind) (enums.PaymentState, enums.OutboxEventType, error) {
	switch kind {
	case KindSucceeded:
		return enums.PaymentStatePaid, enums.EventOrderPaid, nil
	case KindCancelled:
		return enums.PaymentStateCancelled, enums.EventOrderCancelled, nil
	case KindExpired:
		return enums.PaymentStateCancelled, enums.EventOrderExpired, nil
	default:
		return "", "", pkgerrors.Newf(pkgerrors.CodeValidation, "unsupported notification kind %q", kind)
	}
}
