package orders

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/petrijr/orderflow/pkg/api"
)

// faults makes the next n calls fail with err.
type faults struct {
	mu        sync.Mutex
	remaining int
	err       error
}

// FailNext makes the next n calls fail with err. A plain error is a fault
// the engine retries; an *api.ActivityFailure is recorded as is.
func (f *faults) FailNext(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remaining = n
	f.err = err
}

func (f *faults) take() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining <= 0 {
		return nil
	}
	f.remaining--
	return f.err
}

// InMemoryInventory is a stock table with per-request reservations.
type InMemoryInventory struct {
	faults

	mu           sync.Mutex
	stock        map[string]int
	reservations map[string]InventoryRequest
	committed    map[string]bool
	rejectUpdate bool
	reserveCalls int
	updateCalls  int
}

// NewInMemoryInventory constructs an inventory holding the given stock.
func NewInMemoryInventory(stock map[string]int) *InMemoryInventory {
	s := make(map[string]int, len(stock))
	for k, v := range stock {
		s[k] = v
	}
	return &InMemoryInventory{
		stock:        s,
		reservations: make(map[string]InventoryRequest),
		committed:    make(map[string]bool),
	}
}

var _ InventoryService = (*InMemoryInventory)(nil)

// Reserve holds stock for the request. Repeating a request ID returns the
// original outcome.
func (i *InMemoryInventory) Reserve(ctx context.Context, req InventoryRequest) (InventoryResult, error) {
	if err := ctx.Err(); err != nil {
		return InventoryResult{}, err
	}
	if err := i.take(); err != nil {
		return InventoryResult{}, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.reserveCalls++

	if _, ok := i.reservations[req.RequestID]; ok {
		return InventoryResult{Success: true}, nil
	}
	if i.available(req.Name) < req.Quantity {
		return InventoryResult{Success: false}, nil
	}
	i.reservations[req.RequestID] = req
	return InventoryResult{Success: true}, nil
}

// available is stock minus uncommitted reservations. Callers hold mu.
func (i *InMemoryInventory) available(name string) int {
	n := i.stock[name]
	for id, r := range i.reservations {
		if r.Name == name && !i.committed[id] {
			n -= r.Quantity
		}
	}
	return n
}

// Update commits the reservation made under the same request ID.
func (i *InMemoryInventory) Update(ctx context.Context, req PaymentRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := i.take(); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.updateCalls++

	if i.committed[req.RequestID] {
		return nil
	}
	if i.rejectUpdate {
		return api.NewActivityFailure("inventory update for %s rejected", req.Name)
	}
	r, ok := i.reservations[req.RequestID]
	if !ok {
		return api.NewActivityFailure("no reservation for request %s", req.RequestID)
	}
	i.stock[r.Name] -= r.Quantity
	i.committed[req.RequestID] = true
	return nil
}

// RejectUpdates makes Update report a business failure.
func (i *InMemoryInventory) RejectUpdates(reject bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rejectUpdate = reject
}

// Stock returns the committed stock level of an item.
func (i *InMemoryInventory) Stock(name string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stock[name]
}

// Calls returns how many Reserve and Update calls got past fault injection.
func (i *InMemoryInventory) Calls() (reserve, update int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.reserveCalls, i.updateCalls
}

// InMemoryPayments is a payment ledger keyed by request ID.
type InMemoryPayments struct {
	faults

	mu      sync.Mutex
	charges map[string]float64
	decline bool
	calls   int
}

// NewInMemoryPayments constructs an empty ledger.
func NewInMemoryPayments() *InMemoryPayments {
	return &InMemoryPayments{charges: make(map[string]float64)}
}

var _ PaymentService = (*InMemoryPayments)(nil)

// Process charges the order once per request ID.
func (p *InMemoryPayments) Process(ctx context.Context, req PaymentRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.take(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++

	if _, ok := p.charges[req.RequestID]; ok {
		return nil
	}
	if p.decline {
		return api.NewActivityFailure("payment of %.2f declined", req.TotalCost)
	}
	p.charges[req.RequestID] = req.TotalCost
	return nil
}

// Decline makes Process report a business failure.
func (p *InMemoryPayments) Decline(decline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decline = decline
}

// Charged reports the amount charged for a request.
func (p *InMemoryPayments) Charged(requestID string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	amount, ok := p.charges[requestID]
	return amount, ok
}

// Calls returns how many Process calls got past fault injection.
func (p *InMemoryPayments) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// InMemoryNotifier is an outbox that drops repeated messages per request.
type InMemoryNotifier struct {
	faults

	mu     sync.Mutex
	outbox map[string][]string
	seen   map[Notification]bool
}

// NewInMemoryNotifier constructs an empty outbox.
func NewInMemoryNotifier() *InMemoryNotifier {
	return &InMemoryNotifier{
		outbox: make(map[string][]string),
		seen:   make(map[Notification]bool),
	}
}

var _ Notifier = (*InMemoryNotifier)(nil)

var errEmptyNotification = errors.New("notification message is empty")

func (n *InMemoryNotifier) Notify(ctx context.Context, msg Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.take(); err != nil {
		return err
	}
	if msg.Message == "" {
		return &api.ActivityFailure{Kind: api.KindBusiness, Message: errEmptyNotification.Error()}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.seen[msg] {
		return nil
	}
	n.seen[msg] = true
	n.outbox[msg.RequestID] = append(n.outbox[msg.RequestID], msg.Message)
	return nil
}

// Messages returns the notifications delivered for a request, in order.
func (n *InMemoryNotifier) Messages(requestID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.outbox[requestID]...)
}

// Recipients returns the request IDs that received notifications.
func (n *InMemoryNotifier) Recipients() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, 0, len(n.outbox))
	for id := range n.outbox {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NewInMemoryServices returns in-memory collaborators seeded with stock.
func NewInMemoryServices(stock map[string]int) (Services, *InMemoryInventory, *InMemoryPayments, *InMemoryNotifier) {
	inv := NewInMemoryInventory(stock)
	pay := NewInMemoryPayments()
	note := NewInMemoryNotifier()
	return Services{Inventory: inv, Payments: pay, Notifier: note}, inv, pay, note
}
