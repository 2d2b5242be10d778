package notification

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/events"
)

// Template шаблон уведомления с подстановками вида {{variable}}
type Template struct {
	Name            string `json:"name"`
	SubjectTemplate string `json:"subject_template"`
	BodyTemplate    string `json:"body_template"`
	Channel         string `json:"channel"`
}

// Render подставляет значения в шаблоны темы и тела.
// Неизвестные подстановки остаются как есть
func (t *Template) Render(data map[string]string) (subject, body string) {
	subject = t.SubjectTemplate
	body = t.BodyTemplate
	for key, value := range data {
		placeholder := fmt.Sprintf("{{%s}}", key)
		subject = strings.ReplaceAll(subject, placeholder, value)
		body = strings.ReplaceAll(body, placeholder, value)
	}
	return subject, body
}

// templateByRoutingKey сопоставление ключей маршрутизации именам шаблонов
var templateByRoutingKey = map[string]string{
	events.RoutingKeyOrderCreated:       "order_confirmation",
	events.RoutingKeyOrderStatusChanged: "order_status_update",
	events.RoutingKeyShipmentCreated:    "shipment_created",
	events.RoutingKeyTrackingEventAdded: "shipment_tracking_update",
	events.RoutingKeyInventoryLowStock:  "inventory_low_stock_alert",
}

// Registry потокобезопасный реестр шаблонов уведомлений
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewRegistry создает реестр, заполненный шаблонами по умолчанию
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]*Template)}
	for _, t := range defaultTemplates() {
		r.templates[t.Name] = t
	}
	return r
}

// Put регистрирует или заменяет шаблон
func (r *Registry) Put(t *Template) error {
	if t == nil || t.Name == "" {
		return core.NewError(core.ErrInvalidConfig, "template name is required")
	}
	if t.Channel == "" {
		t.Channel = ChannelEmail
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Name] = t
	return nil
}

// Get возвращает шаблон по имени
func (r *Registry) Get(name string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("template %s not found", name))
	}
	return t, nil
}

// ForRoutingKey возвращает шаблон для ключа маршрутизации
func (r *Registry) ForRoutingKey(routingKey string) (*Template, error) {
	name, ok := templateByRoutingKey[routingKey]
	if !ok {
		return nil, core.NewError(core.ErrNotFound,
			fmt.Sprintf("no template mapped to routing key %s", routingKey))
	}
	return r.Get(name)
}

// List возвращает все шаблоны, отсортированные по имени
func (r *Registry) List() []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func defaultTemplates() []*Template {
	return []*Template{
		{
			Name:            "order_confirmation",
			SubjectTemplate: "Order Confirmation - {{order_number}}",
			BodyTemplate: `Dear {{customer_name}},

Thank you for your order! Your order {{order_number}} has been received and is being processed.

Order Details:
- From: {{origin_address}}
- To: {{destination_address}}

We will notify you once your order is shipped.

Best regards,
Logistics Team`,
			Channel: ChannelEmail,
		},
		{
			Name:            "order_status_update",
			SubjectTemplate: "Order Status Update - {{order_number}}",
			BodyTemplate: `Dear {{customer_name}},

Your order {{order_number}} status has been updated.

Previous Status: {{old_status}}
New Status: {{new_status}}

You can track your order using the order number above.

Best regards,
Logistics Team`,
			Channel: ChannelEmail,
		},
		{
			Name:            "shipment_created",
			SubjectTemplate: "Shipment Created - {{tracking_number}}",
			BodyTemplate: `Dear {{customer_name}},

Your order {{order_number}} has been shipped!

Tracking Number: {{tracking_number}}
Carrier: {{carrier}}
Current Location: {{current_location}}

You can track your shipment using the tracking number.

Best regards,
Logistics Team`,
			Channel: ChannelEmail,
		},
		{
			Name:            "shipment_tracking_update",
			SubjectTemplate: "Shipment Update - {{tracking_number}}",
			BodyTemplate: `Dear {{customer_name}},

Your shipment {{tracking_number}} has been updated.

Event: {{event_type}}
Current Location: {{location}}

Best regards,
Logistics Team`,
			Channel: ChannelEmail,
		},
		{
			Name:            "inventory_low_stock_alert",
			SubjectTemplate: "Low Stock Alert - {{sku}}",
			BodyTemplate: `Alert: Low Stock

SKU: {{sku}}
Remaining Quantity: {{remaining_qty}}
Reorder Level: {{reorder_level}}

Please reorder inventory as soon as possible.

Logistics System`,
			Channel: ChannelEmail,
		},
	}
}
