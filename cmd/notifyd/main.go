// Сервис уведомлений: слушает все доменные события платформы и
// рассылает уведомления по шаблонам.
package main

import (
	"context"
	"log"

	"github.com/cargoflow/cargoflow/internal/bootstrap"
	"github.com/cargoflow/cargoflow/services/notification"
)

func main() {
	rt, err := bootstrap.New("notification-service")
	if err != nil {
		log.Fatalf("failed to bootstrap notification service: %v", err)
	}

	var store notification.Store
	if rt.Config.Store == "postgres" {
		store, err = notification.NewPostgresStore(rt.Pool)
		if err != nil {
			log.Fatalf("failed to create notification store: %v", err)
		}
	} else {
		store = notification.NewInMemoryStore()
	}

	service, err := notification.NewService(store, notification.NewRegistry(), notification.DefaultServiceConfig())
	if err != nil {
		log.Fatalf("failed to create notification service: %v", err)
	}

	handlers, err := notification.NewHandlers(service, rt.Guard)
	if err != nil {
		log.Fatalf("failed to create notification handlers: %v", err)
	}

	consumer, err := rt.NewConsumer(notification.QueueName)
	if err != nil {
		log.Fatalf("failed to create notification consumer: %v", err)
	}
	if err := handlers.Register(consumer); err != nil {
		log.Fatalf("failed to register notification handlers: %v", err)
	}

	notification.NewAPI(service).RegisterRoutes(rt.Server.Group())

	if err := rt.Run(context.Background(), consumer); err != nil {
		log.Fatalf("notification service exited: %v", err)
	}
}
