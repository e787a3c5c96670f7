package orders

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/petrijr/orderflow/pkg/api"
)

// Customer-facing messages.
const (
	msgInsufficient   = "Insufficient inventory for %s"
	msgReserveFailed  = "Order %s Failed! Inventory could not be reserved"
	msgRefund         = "Order %s Failed! You are now getting a refund"
	msgOrderCompleted = "Order %s has completed!"
)

// Fulfillment is the order-fulfillment saga. Every side effect goes through
// an activity so the function can be replayed from history.
func Fulfillment(wctx api.WorkflowContext, order OrderPayload) (OrderResult, error) {
	id := wctx.InstanceID()

	wctx.Logger().Info("reserving inventory",
		zap.String("item", order.Name),
		zap.Int("quantity", order.Quantity),
	)
	reservation, err := api.ExecuteActivity[InventoryResult](wctx, ActivityReserveInventory, InventoryRequest{
		RequestID: id,
		Name:      order.Name,
		Quantity:  order.Quantity,
	})
	if err != nil {
		if !isActivityFailure(err) {
			return OrderResult{}, err
		}
		return reject(wctx, "inventory reservation failed", fmt.Sprintf(msgReserveFailed, id))
	}
	if !reservation.Success {
		return reject(wctx, "insufficient inventory for "+order.Name, fmt.Sprintf(msgInsufficient, order.Name))
	}

	payment := PaymentRequest{
		RequestID: id,
		Name:      order.Name,
		Quantity:  order.Quantity,
		TotalCost: order.TotalCost,
	}

	// Payment and inventory update share one compensation: no reversal
	// activity exists, the customer is told a refund follows.
	if err := wctx.ScheduleActivity(ActivityProcessPayment, payment).Get(nil); err != nil {
		if !isActivityFailure(err) {
			return OrderResult{}, err
		}
		wctx.Logger().Warn("payment failed", zap.Error(err))
		return reject(wctx, "payment failed", fmt.Sprintf(msgRefund, id))
	}

	if err := wctx.ScheduleActivity(ActivityUpdateInventory, payment).Get(nil); err != nil {
		if !isActivityFailure(err) {
			return OrderResult{}, err
		}
		wctx.Logger().Warn("inventory update failed", zap.Error(err))
		return reject(wctx, "inventory update failed", fmt.Sprintf(msgRefund, id))
	}

	if err := notify(wctx, fmt.Sprintf(msgOrderCompleted, id)); err != nil {
		return OrderResult{}, err
	}
	return OrderResult{Processed: true}, nil
}

// reject notifies the customer and ends the order as Failed with
// processed=false.
func reject(wctx api.WorkflowContext, reason, message string) (OrderResult, error) {
	rejected := OrderResult{Processed: false}
	if err := notify(wctx, message); err != nil {
		return rejected, err
	}
	return rejected, api.FailWithResult(rejected, "%s", reason)
}

// notify sends a customer notification. A recorded failure is logged and
// swallowed; anything else stops the workflow.
func notify(wctx api.WorkflowContext, message string) error {
	err := wctx.ScheduleActivity(ActivityNotifyCustomer, Notification{
		RequestID: wctx.InstanceID(),
		Message:   message,
	}).Get(nil)
	if err == nil {
		return nil
	}
	if isActivityFailure(err) {
		wctx.Logger().Error("customer notification failed",
			zap.String("message", message),
			zap.Error(err),
		)
		return nil
	}
	return err
}

func isActivityFailure(err error) bool {
	var af *api.ActivityFailure
	return errors.As(err, &af)
}
