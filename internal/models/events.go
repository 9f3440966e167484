package models

import "time"

// Notification types
const (
	NotificationOrderNew            = "order_new"
	NotificationOrderAccepted       = "order_accepted"
	NotificationOrderPlaced         = "order_placed"
	NotificationOrderOutForDelivery = "order_out_for_delivery"
	NotificationOrderDelivered      = "order_delivered"
	NotificationLinkRequested       = "link_requested"
	NotificationLinkApproved        = "link_approved"
	NotificationLinkUnlinked        = "link_unlinked"
)

// Entity kinds carried by notification events
const (
	EntityOrder = "order"
	EntityLink  = "link"
)

// NotificationEvent is emitted once per state transition. (EntityID, Status,
// RecipientUserID) is the stable identity of the event.
type NotificationEvent struct {
	EventID         string                 `json:"event_id"`
	EntityKind      string                 `json:"entity_kind"`
	EntityID        string                 `json:"entity_id"`
	Status          string                 `json:"status"`
	RecipientUserID string                 `json:"recipient_user_id"`
	Type            string                 `json:"type"`
	Title           string                 `json:"title"`
	Message         string                 `json:"message"`
	Data            map[string]interface{} `json:"data,omitempty"`
	ShopName        string                 `json:"shop_name,omitempty"`
	ActorName       string                 `json:"actor_name,omitempty"`
	Items           []OrderItemData        `json:"items,omitempty"`
	Total           string                 `json:"total,omitempty"`
	OccurredAt      time.Time              `json:"occurred_at"`
}

// OrderItemData represents item data carried in order events
type OrderItemData struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Qty       int    `json:"qty"`
	Price     string `json:"price"`
}

// ItemData flattens order lines for event payloads
func ItemData(items []OrderItem) []OrderItemData {
	out := make([]OrderItemData, 0, len(items))
	for _, item := range items {
		out = append(out, OrderItemData{
			ProductID: item.ProductID,
			Name:      item.Name,
			Qty:       item.Qty,
			Price:     item.Price.String(),
		})
	}
	return out
}
