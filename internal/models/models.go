package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role of an authenticated principal
type Role string

const (
	RoleDistributor Role = "distributor"
	RoleShopkeeper  Role = "shopkeeper"
	RoleSalesperson Role = "salesperson"
)

// Principal is the authenticated actor attached to every command
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// CanPlaceOrders reports whether the principal may own cart-stage orders
func (p Principal) CanPlaceOrders() bool {
	return p.Role == RoleShopkeeper || p.Role == RoleSalesperson
}

// Product represents a distributor-owned catalog entry
type Product struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"ownerId"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Description string          `json:"description"`
	Image       string          `json:"image,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// User represents a distributor, shopkeeper or salesperson account
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Role             Role      `json:"role"`
	Name             string    `json:"name,omitempty"`
	OrganizationName string    `json:"organizationName,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	Address          string    `json:"address,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// DisplayName is the organization name, falling back to the person name and email
func (u *User) DisplayName() string {
	switch {
	case u.OrganizationName != "":
		return u.OrganizationName
	case u.Name != "":
		return u.Name
	default:
		return u.Email
	}
}

// OrderStatus is a step of the order lifecycle
type OrderStatus string

// Order statuses
const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusAccepted       OrderStatus = "accepted"
	OrderStatusPlaced         OrderStatus = "placed"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
)

var nextOrderStatus = map[OrderStatus]OrderStatus{
	OrderStatusPending:        OrderStatusConfirmed,
	OrderStatusConfirmed:      OrderStatusAccepted,
	OrderStatusAccepted:       OrderStatusPlaced,
	OrderStatusPlaced:         OrderStatusOutForDelivery,
	OrderStatusOutForDelivery: OrderStatusDelivered,
}

// CanTransition reports whether to directly follows from. The lifecycle is linear.
func (from OrderStatus) CanTransition(to OrderStatus) bool {
	next, ok := nextOrderStatus[from]
	return ok && next == to
}

// Previous returns the status an order must be in to move to s
func (s OrderStatus) Previous() (OrderStatus, bool) {
	for from, to := range nextOrderStatus {
		if to == s {
			return from, true
		}
	}
	return "", false
}

// OrderItem is a line of an order. Name and price are snapshots taken when
// the line was priced.
type OrderItem struct {
	ProductID   string          `json:"productId"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Qty         int             `json:"qty"`
	Description string          `json:"description,omitempty"`
	Image       string          `json:"image,omitempty"`
}

// LineTotal is price * qty
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Qty)))
}

// Order represents a shopkeeper order against one distributor
type Order struct {
	ID               string      `json:"id"`
	UserID           string      `json:"userId"`
	DistributorID    string      `json:"distributorId,omitempty"`
	DistributorName  string      `json:"distributorName,omitempty"`
	ShopName         string      `json:"shopName"`
	Items            []OrderItem `json:"items"`
	Status           OrderStatus `json:"status"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
	ConfirmedAt      *time.Time  `json:"confirmedAt,omitempty"`
	AcceptedAt       *time.Time  `json:"acceptedAt,omitempty"`
	PlacedAt         *time.Time  `json:"placedAt,omitempty"`
	OutForDeliveryAt *time.Time  `json:"outForDeliveryAt,omitempty"`
	DeliveredAt      *time.Time  `json:"deliveredAt,omitempty"`
}

// Total sums every line
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// ItemCount sums every line quantity
func (o *Order) ItemCount() int {
	n := 0
	for _, item := range o.Items {
		n += item.Qty
	}
	return n
}

// SetStatus moves the order to status and stamps the matching transition time
func (o *Order) SetStatus(status OrderStatus, at time.Time) {
	o.Status = status
	o.UpdatedAt = at
	switch status {
	case OrderStatusConfirmed:
		o.ConfirmedAt = &at
	case OrderStatusAccepted:
		o.AcceptedAt = &at
	case OrderStatusPlaced:
		o.PlacedAt = &at
	case OrderStatusOutForDelivery:
		o.OutForDeliveryAt = &at
	case OrderStatusDelivered:
		o.DeliveredAt = &at
	}
}

// LinkStatus is the state of one salesperson link record
type LinkStatus string

// Link statuses
const (
	LinkStatusPending  LinkStatus = "pending"
	LinkStatusApproved LinkStatus = "approved"
	LinkStatusRejected LinkStatus = "rejected"
	LinkStatusUnlinked LinkStatus = "unlinked"
)

// SalespersonLink is one record of a salesperson's link history
type SalespersonLink struct {
	ID            string     `json:"id"`
	SalespersonID string     `json:"salespersonId"`
	DistributorID string     `json:"distributorId"`
	Status        LinkStatus `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Notification is an inbox entry
type Notification struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"userId"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Read      bool                   `json:"read"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Follow records a shopkeeper or salesperson following a distributor
type Follow struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	DistributorID string    `json:"distributorId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// FollowID is the key of the follow between userID and distributorID
func FollowID(userID, distributorID string) string {
	return userID + ":" + distributorID
}
