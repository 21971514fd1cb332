package trading

import (
	"context"

	"trader-engine/internal/logger"
	"trader-engine/internal/store"
	"trader-engine/pkg/types"
)

// Reconciler folds the venue's order event stream back into the trade
// ledger. When a protective leg fills on the exchange, the matching
// open trade is settled here; replayed events land on already-closed
// rows and are ignored.
type Reconciler struct {
	st    *store.Store
	orch  *Orchestrator
	log   *logger.Logger
	users []int64
}

func NewReconciler(st *store.Store, orch *Orchestrator, users []int64, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Reconciler{st: st, orch: orch, log: log, users: users}
}

// Run consumes events until the channel closes or ctx is done.
func (r *Reconciler) Run(ctx context.Context, events <-chan types.AccountEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.handle(ctx, event)
		}
	}
}

// handle settles the one record whose own protective leg matches the
// fill's order reference. Fills on another user's OCO pair, entry
// echoes and partial fills never touch the ledger.
func (r *Reconciler) handle(ctx context.Context, event types.AccountEvent) {
	if event.Status != types.OrderStatusFilled || event.Side != types.OrderSideSell || event.OrderRef == "" {
		return
	}
	for _, userID := range r.users {
		rec, found, err := r.st.GetOpenTrade(ctx, userID, event.Symbol)
		if err != nil {
			r.log.Error("reconcile lookup %s: %v", event.Symbol, err)
			continue
		}
		if !found {
			continue
		}
		var reason string
		switch event.OrderRef {
		case rec.TpOrderRef:
			reason = "TAKE_PROFIT"
		case rec.SlOrderRef:
			reason = "STOP_LOSS"
		default:
			continue
		}
		if err := r.orch.SettleExternalFill(ctx, rec, event.OrderRef, event.FilledPrice, reason); err != nil {
			r.log.Error("reconcile settle %s: %v", event.Symbol, err)
			return
		}
		r.log.Info("reconciled %s fill for user %d at %.8f (%s)",
			event.Symbol, userID, event.FilledPrice, reason)
		// An order reference identifies exactly one OCO pair.
		return
	}
}
