package notify

import (
	"encoding/json"
	"log"

	"beacon/internal/websocket"
	"beacon/pkg/types"
)

// Predicate selects target connections during fan-out. The four named
// helpers below are the only public targeting surface; ad hoc predicates
// are not part of the external contract.
type Predicate func(*websocket.Connection) bool

// Notifier is the delivery boundary external collaborators call. It holds
// no state of its own beyond the registry reference: every helper shapes an
// event, binds a predicate, and delegates to Deliver.
type Notifier struct {
	registry *websocket.Registry
}

// NewNotifier creates a notifier over the given registry.
func NewNotifier(registry *websocket.Registry) *Notifier {
	return &Notifier{registry: registry}
}

// Deliver serializes event once and writes it to every registered
// connection matching predicate (nil matches everyone). Delivery is
// best-effort and fire-and-forget: an individual send failure is skipped
// without retry and never aborts delivery to the remaining connections;
// the failed connection is reaped by its own transport-error transition.
// The returned count says how many connections the event was handed to;
// callers are free to ignore it.
func (n *Notifier) Deliver(event *types.Event, predicate Predicate) int {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to serialize %s event: %v", event.Type, err)
		return 0
	}

	delivered := 0
	n.registry.ForEach(func(conn *websocket.Connection) {
		if predicate != nil && !predicate(conn) {
			return
		}
		if err := conn.WriteText(data); err != nil {
			// Send raced a close; the connection reaps itself.
			return
		}
		delivered++
	})

	return delivered
}

// SendToUser delivers event to every connection authenticated as userID.
// A principal connected from several devices receives it on each.
func (n *Notifier) SendToUser(userID string, event *types.Event) int {
	return n.Deliver(event, func(conn *websocket.Connection) bool {
		p := conn.Principal()
		return p != nil && p.ID == userID
	})
}

// SendToRole delivers event to every connection whose principal holds role.
func (n *Notifier) SendToRole(role string, event *types.Event) int {
	return n.Deliver(event, func(conn *websocket.Connection) bool {
		p := conn.Principal()
		return p != nil && p.Role == role
	})
}

// SendToChannel delivers event to every connection subscribed to topic.
func (n *Notifier) SendToChannel(topic string, event *types.Event) int {
	return n.Deliver(event, func(conn *websocket.Connection) bool {
		return conn.IsSubscribed(topic)
	})
}

// BroadcastAll delivers event to every registered connection.
func (n *Notifier) BroadcastAll(event *types.Event) int {
	return n.Deliver(event, nil)
}

// OrderCreated notifies all admins that a new order was placed.
func (n *Notifier) OrderCreated(order interface{}) int {
	event := types.NewNotificationEvent(types.CategoryOrder, "New order received", order)
	return n.SendToRole(types.RoleAdmin, event)
}

// UserRegistered notifies all admins that a new account was created.
func (n *Notifier) UserRegistered(user interface{}) int {
	event := types.NewNotificationEvent(types.CategoryUser, "New user registered", user)
	return n.SendToRole(types.RoleAdmin, event)
}

// LowStock notifies all admins that a product is running low.
func (n *Notifier) LowStock(product interface{}) int {
	event := types.NewNotificationEvent(types.CategoryInventory, "Product low on stock", product)
	return n.SendToRole(types.RoleAdmin, event)
}

// PaymentStatus notifies one user about the state of their payment.
func (n *Notifier) PaymentStatus(userID string, payment interface{}) int {
	event := types.NewNotificationEvent(types.CategoryPayment, "Payment status updated", payment)
	return n.SendToUser(userID, event)
}

// ConnectionCount reports how many connections are currently registered.
func (n *Notifier) ConnectionCount() int {
	return n.registry.Count()
}

// ConnectionCountByRole reports how many registered connections hold role.
func (n *Notifier) ConnectionCountByRole(role string) int {
	return n.registry.CountByRole(role)
}
