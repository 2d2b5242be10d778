// Package events предоставляет контракт доменных событий: конверт,
// каталог типов, публикатор и реестр обработчиков.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cargoflow/cargoflow/core"
)

// Метаполя конверта на проводе. Полезная нагрузка события лежит в том же
// JSON-объекте рядом с ними; потребители обязаны игнорировать
// незнакомые поля (forward compatibility)
const (
	fieldRoutingKey = "_routing_key"
	fieldTimestamp  = "_timestamp"
	fieldEventID    = "_event_id"
)

// Envelope конверт доменного события
type Envelope struct {
	RoutingKey string
	EventID    string
	Timestamp  time.Time
	Payload    map[string]interface{}
}

// NewEnvelope создает конверт для публикации
func NewEnvelope(routingKey string, payload map[string]interface{}) *Envelope {
	return &Envelope{
		RoutingKey: routingKey,
		EventID:    uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
}

// Encode сериализует конверт в JSON: метаполя и полезная нагрузка
// в одном плоском объекте
func (e *Envelope) Encode() ([]byte, error) {
	body := make(map[string]interface{}, len(e.Payload)+3)
	for k, v := range e.Payload {
		body[k] = v
	}
	body[fieldRoutingKey] = e.RoutingKey
	body[fieldTimestamp] = e.Timestamp.Format(time.RFC3339Nano)
	if e.EventID != "" {
		body[fieldEventID] = e.EventID
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, core.Wrap(err, core.ErrMalformedEvent, "failed to encode envelope")
	}
	return data, nil
}

// Decode разбирает конверт из JSON. Отсутствующий или пустой
// _routing_key делает событие malformed: такое сообщение не
// диспетчеризуется, а уходит в dead-letter
func Decode(data []byte) (*Envelope, error) {
	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, core.Wrap(err, core.ErrMalformedEvent, "event body is not valid JSON")
	}

	routingKey, _ := body[fieldRoutingKey].(string)
	if routingKey == "" {
		return nil, core.NewError(core.ErrMalformedEvent, "event is missing routing key")
	}

	env := &Envelope{RoutingKey: routingKey}

	if id, ok := body[fieldEventID].(string); ok {
		env.EventID = id
	}
	if ts, ok := body[fieldTimestamp].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			env.Timestamp = parsed
		}
	}

	delete(body, fieldRoutingKey)
	delete(body, fieldTimestamp)
	delete(body, fieldEventID)
	env.Payload = body

	return env, nil
}

// DecodeAs распаковывает полезную нагрузку конверта в типизированную
// структуру. Незнакомые поля полезной нагрузки игнорируются
func (e *Envelope) DecodeAs(v interface{}) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return core.Wrap(err, core.ErrMalformedEvent, "failed to re-encode payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return core.Wrap(err, core.ErrMalformedEvent, "payload does not match event schema")
	}
	return nil
}

// String возвращает строковое поле полезной нагрузки (пустая строка, если отсутствует)
func (e *Envelope) String(field string) string {
	v, _ := e.Payload[field].(string)
	return v
}
