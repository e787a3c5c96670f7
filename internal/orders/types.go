package orders

import (
	"context"
	"math"
	"strings"

	"github.com/petrijr/orderflow/pkg/api"
)

// Workflow and activity names as recorded in history.
const (
	WorkflowName = "OrderFulfillment"

	ActivityReserveInventory = "ReserveInventory"
	ActivityProcessPayment   = "ProcessPayment"
	ActivityUpdateInventory  = "UpdateInventory"
	ActivityNotifyCustomer   = "NotifyCustomer"
)

// OrderPayload is the order submitted to the gateway.
type OrderPayload struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	TotalCost float64 `json:"totalCost"`
}

// Validate reports the first invalid field as an *api.ValidationError.
func (p OrderPayload) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return &api.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if p.Quantity <= 0 {
		return &api.ValidationError{Field: "quantity", Reason: "must be greater than 0"}
	}
	if !(p.TotalCost > 0) || math.IsInf(p.TotalCost, 1) {
		return &api.ValidationError{Field: "totalCost", Reason: "must be greater than 0"}
	}
	return nil
}

// InventoryRequest asks the inventory service to hold stock for an order.
// RequestID is the owning instance ID and makes the call idempotent.
type InventoryRequest struct {
	RequestID string `json:"requestId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}

// InventoryResult reports whether the reservation succeeded.
type InventoryResult struct {
	Success bool `json:"success"`
}

// PaymentRequest is used both to charge the customer and to commit the
// inventory reservation once paid.
type PaymentRequest struct {
	RequestID string  `json:"requestId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	TotalCost float64 `json:"totalCost"`
}

// Notification is a customer-facing message about an order.
type Notification struct {
	RequestID string `json:"requestId"`
	Message   string `json:"message"`
}

// OrderResult is the workflow result.
type OrderResult struct {
	Processed bool `json:"processed"`
}

// InventoryService reserves and commits stock.
type InventoryService interface {
	Reserve(ctx context.Context, req InventoryRequest) (InventoryResult, error)
	Update(ctx context.Context, req PaymentRequest) error
}

// PaymentService charges customers.
type PaymentService interface {
	Process(ctx context.Context, req PaymentRequest) error
}

// Notifier delivers customer notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Services bundles the collaborators the saga calls through activities.
type Services struct {
	Inventory InventoryService
	Payments  PaymentService
	Notifier  Notifier
}
