package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"orderly-service/internal/models"
)

type emailKind struct {
	subject string
	heading string
}

var kinds = map[string]emailKind{
	models.NotificationOrderNew:            {subject: "New Order Received - %s", heading: "You have a new order"},
	models.NotificationOrderAccepted:       {subject: "Order Accepted - %s", heading: "Your order was accepted"},
	models.NotificationOrderPlaced:         {subject: "Order Confirmed & Placed - %s", heading: "Your order has been placed"},
	models.NotificationOrderOutForDelivery: {subject: "Order Out for Delivery - %s", heading: "Your order is on its way"},
	models.NotificationOrderDelivered:      {subject: "Order Delivered - %s", heading: "Your order was delivered"},
	models.NotificationLinkRequested:       {subject: "New Salesperson Link Request", heading: "A salesperson wants to join you"},
	models.NotificationLinkApproved:        {subject: "Link Request Approved", heading: "You are now linked"},
	models.NotificationLinkUnlinked:        {subject: "Distributor Link Removed", heading: "You have been unlinked"},
}

var bodyTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>{{.Heading}}</h2>
  <p>{{.Message}}</p>
  {{- if .ShopName}}
  <p><strong>Shop:</strong> {{.ShopName}}</p>
  {{- end}}
  {{- if .ActorName}}
  <p><strong>From:</strong> {{.ActorName}}</p>
  {{- end}}
  {{- if .Items}}
  <table cellpadding="6" style="border-collapse: collapse;">
    <tr><th align="left">Item</th><th align="right">Qty</th><th align="right">Price</th></tr>
    {{- range .Items}}
    <tr><td>{{.Name}}</td><td align="right">{{.Qty}}</td><td align="right">{{.Price}}</td></tr>
    {{- end}}
  </table>
  <p><strong>Total:</strong> {{.Total}}</p>
  {{- end}}
  {{- if .Link}}
  <p><a href="{{.Link}}">Open Orderly</a></p>
  {{- end}}
</body>
</html>`))

type bodyData struct {
	Heading   string
	Message   string
	ShopName  string
	ActorName string
	Items     []models.OrderItemData
	Total     string
	Link      string
}

// Render builds the email for one notification event. The recipient address
// is left for the caller to fill.
func Render(ev models.NotificationEvent, frontendURL string) (Message, error) {
	kind, ok := kinds[ev.Type]
	if !ok {
		kind = emailKind{subject: "Orderly Update", heading: ev.Title}
	}

	subject := kind.subject
	if strings.Contains(subject, "%s") {
		subject = fmt.Sprintf(subject, ev.EntityID)
	}

	data := bodyData{
		Heading:   kind.heading,
		Message:   ev.Message,
		ShopName:  ev.ShopName,
		ActorName: ev.ActorName,
		Items:     ev.Items,
		Total:     ev.Total,
		Link:      strings.TrimRight(frontendURL, "/"),
	}

	var html bytes.Buffer
	if err := bodyTemplate.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("failed to render email: %w", err)
	}

	return Message{
		Subject: subject,
		Text:    renderText(data),
		HTML:    html.String(),
	}, nil
}

func renderText(d bodyData) string {
	var b strings.Builder
	b.WriteString(d.Heading + "\n\n")
	b.WriteString(d.Message + "\n")
	if d.ShopName != "" {
		fmt.Fprintf(&b, "Shop: %s\n", d.ShopName)
	}
	if d.ActorName != "" {
		fmt.Fprintf(&b, "From: %s\n", d.ActorName)
	}
	if len(d.Items) > 0 {
		b.WriteString("\nItems:\n")
		for _, item := range d.Items {
			fmt.Fprintf(&b, "- %s x%d @ %s\n", item.Name, item.Qty, item.Price)
		}
		fmt.Fprintf(&b, "Total: %s\n", d.Total)
	}
	if d.Link != "" {
		fmt.Fprintf(&b, "\n%s\n", d.Link)
	}
	return b.String()
}
