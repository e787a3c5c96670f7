package orders

import (
	"context"
	"errors"

	"github.com/petrijr/orderflow/pkg/api"
)

// Activities returns the four saga activities bound to svc. A nil retry
// leaves each activity on the engine default policy.
func Activities(svc Services, retry *api.RetryPolicy) []api.ActivityDefinition {
	defs := []api.ActivityDefinition{
		api.NewActivity(ActivityReserveInventory, func(ctx context.Context, req InventoryRequest) (InventoryResult, error) {
			return svc.Inventory.Reserve(ctx, req)
		}),
		api.NewActivity(ActivityProcessPayment, func(ctx context.Context, req PaymentRequest) (struct{}, error) {
			return struct{}{}, svc.Payments.Process(ctx, req)
		}),
		api.NewActivity(ActivityUpdateInventory, func(ctx context.Context, req PaymentRequest) (struct{}, error) {
			return struct{}{}, svc.Inventory.Update(ctx, req)
		}),
		api.NewActivity(ActivityNotifyCustomer, func(ctx context.Context, n Notification) (struct{}, error) {
			return struct{}{}, svc.Notifier.Notify(ctx, n)
		}),
	}
	if retry != nil {
		for i := range defs {
			defs[i] = defs[i].WithRetry(*retry)
		}
	}
	return defs
}

// Workflow returns the order-fulfillment workflow definition.
func Workflow() api.WorkflowDefinition {
	return api.NewWorkflow(WorkflowName, Fulfillment)
}

// Register registers the saga workflow and its activities on eng.
func Register(eng api.Engine, svc Services, retry *api.RetryPolicy) error {
	if svc.Inventory == nil || svc.Payments == nil || svc.Notifier == nil {
		return errors.New("orders: inventory, payment and notification services are required")
	}
	if err := eng.RegisterWorkflow(Workflow()); err != nil {
		return err
	}
	for _, def := range Activities(svc, retry) {
		if err := eng.RegisterActivity(def); err != nil {
			return err
		}
	}
	return nil
}
