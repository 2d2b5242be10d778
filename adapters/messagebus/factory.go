package messagebus

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cargoflow/cargoflow/config"
	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/transport"
)

// BusAdapter полный контракт адаптера message bus
type BusAdapter interface {
	transport.MessageBus
	core.Lifecycle
	core.Component
	core.HealthCheckable
}

// Factory фабрика для создания messagebus адаптеров
type Factory struct {
	creators map[string]func(config interface{}) (BusAdapter, error)
	mu       sync.RWMutex
}

// NewFactory создает фабрику с зарегистрированными built-in адаптерами
func NewFactory() *Factory {
	factory := &Factory{
		creators: make(map[string]func(config interface{}) (BusAdapter, error)),
	}

	_ = factory.Register("inmemory", func(cfg interface{}) (BusAdapter, error) {
		c, ok := cfg.(InMemoryConfig)
		if !ok {
			return nil, core.NewError(core.ErrInvalidConfig,
				fmt.Sprintf("invalid inmemory config type: %T", cfg))
		}
		return NewInMemoryAdapter(c), nil
	})

	_ = factory.Register("nats", func(cfg interface{}) (BusAdapter, error) {
		c, ok := cfg.(NATSConfig)
		if !ok {
			return nil, core.NewError(core.ErrInvalidConfig,
				fmt.Sprintf("invalid NATS config type: %T", cfg))
		}
		return NewNATSAdapter(c)
	})

	_ = factory.Register("kafka", func(cfg interface{}) (BusAdapter, error) {
		c, ok := cfg.(KafkaConfig)
		if !ok {
			return nil, core.NewError(core.ErrInvalidConfig,
				fmt.Sprintf("invalid Kafka config type: %T", cfg))
		}
		return NewKafkaAdapter(c)
	})

	_ = factory.Register("redis", func(cfg interface{}) (BusAdapter, error) {
		c, ok := cfg.(RedisConfig)
		if !ok {
			return nil, core.NewError(core.ErrInvalidConfig,
				fmt.Sprintf("invalid Redis config type: %T", cfg))
		}
		return NewRedisAdapter(c)
	})

	return factory
}

// Register регистрирует создателя адаптера
func (f *Factory) Register(name string, creator func(config interface{}) (BusAdapter, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.creators[name]; exists {
		return core.NewError(core.ErrAlreadyExists, fmt.Sprintf("adapter already registered: %s", name))
	}
	f.creators[name] = creator
	return nil
}

// Create создает адаптер по имени типа
func (f *Factory) Create(adapterType string, config interface{}) (BusAdapter, error) {
	f.mu.RLock()
	creator, exists := f.creators[adapterType]
	f.mu.RUnlock()

	if !exists {
		return nil, core.NewError(core.ErrInvalidConfig,
			fmt.Sprintf("unknown messagebus adapter: %s", adapterType))
	}
	return creator(config)
}

// FromConfig создает адаптер по конфигурации сервиса
func FromConfig(cfg config.Config) (BusAdapter, error) {
	factory := NewFactory()

	switch cfg.Broker {
	case "inmemory":
		return factory.Create("inmemory", DefaultInMemoryConfig())
	case "nats":
		c := DefaultNATSConfig()
		c.URL = cfg.NATSURL
		c.Name = cfg.ServiceName
		c.MaxRedeliveries = cfg.MaxRedeliveries
		return factory.Create("nats", c)
	case "kafka":
		c := DefaultKafkaConfig()
		c.Brokers = strings.Split(cfg.KafkaBrokers, ",")
		c.ClientID = cfg.ServiceName
		c.MaxRedeliveries = cfg.MaxRedeliveries
		return factory.Create("kafka", c)
	case "redis":
		c := DefaultRedisConfig()
		c.Addr = cfg.RedisAddr
		c.ConsumerName = cfg.ServiceName
		c.MaxRedeliveries = cfg.MaxRedeliveries
		return factory.Create("redis", c)
	default:
		return nil, core.NewError(core.ErrInvalidConfig,
			fmt.Sprintf("unknown broker type: %s", cfg.Broker))
	}
}
