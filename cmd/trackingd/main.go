// Сервис отслеживания: создает отправления по событиям заказов и
// ведет журнал перемещений.
package main

import (
	"context"
	"log"

	"github.com/cargoflow/cargoflow/internal/bootstrap"
	"github.com/cargoflow/cargoflow/services/tracking"
)

func main() {
	rt, err := bootstrap.New("tracking-service")
	if err != nil {
		log.Fatalf("failed to bootstrap tracking service: %v", err)
	}

	var store tracking.Store
	if rt.Config.Store == "postgres" {
		store, err = tracking.NewPostgresStore(rt.Pool)
		if err != nil {
			log.Fatalf("failed to create tracking store: %v", err)
		}
	} else {
		store = tracking.NewInMemoryStore()
	}

	service, err := tracking.NewService(store, rt.Publisher)
	if err != nil {
		log.Fatalf("failed to create tracking service: %v", err)
	}

	handlers, err := tracking.NewHandlers(service, rt.Guard)
	if err != nil {
		log.Fatalf("failed to create tracking handlers: %v", err)
	}

	consumer, err := rt.NewConsumer(tracking.QueueName)
	if err != nil {
		log.Fatalf("failed to create tracking consumer: %v", err)
	}
	if err := handlers.Register(consumer); err != nil {
		log.Fatalf("failed to register tracking handlers: %v", err)
	}

	tracking.NewAPI(service).RegisterRoutes(rt.Server.Group())

	if err := rt.Run(context.Background(), consumer); err != nil {
		log.Fatalf("tracking service exited: %v", err)
	}
}
