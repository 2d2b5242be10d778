// Складской сервис: резервирует позиции по событиям заказов и
// публикует оповещения о низких остатках.
package main

import (
	"context"
	"log"

	"github.com/cargoflow/cargoflow/internal/bootstrap"
	"github.com/cargoflow/cargoflow/services/inventory"
)

func main() {
	rt, err := bootstrap.New("inventory-service")
	if err != nil {
		log.Fatalf("failed to bootstrap inventory service: %v", err)
	}

	var store inventory.Store
	if rt.Config.Store == "postgres" {
		store, err = inventory.NewPostgresStore(rt.Pool)
		if err != nil {
			log.Fatalf("failed to create inventory store: %v", err)
		}
	} else {
		store = inventory.NewInMemoryStore()
	}

	service, err := inventory.NewService(store, rt.Publisher)
	if err != nil {
		log.Fatalf("failed to create inventory service: %v", err)
	}

	handlers, err := inventory.NewHandlers(service, rt.Guard)
	if err != nil {
		log.Fatalf("failed to create inventory handlers: %v", err)
	}

	consumer, err := rt.NewConsumer(inventory.QueueName)
	if err != nil {
		log.Fatalf("failed to create inventory consumer: %v", err)
	}
	if err := handlers.Register(consumer); err != nil {
		log.Fatalf("failed to register inventory handlers: %v", err)
	}

	inventory.NewAPI(service).RegisterRoutes(rt.Server.Group())

	if err := rt.Run(context.Background(), consumer); err != nil {
		log.Fatalf("inventory service exited: %v", err)
	}
}
