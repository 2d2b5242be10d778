// Сервис заказов: принимает заказы по HTTP и публикует события
// жизненного цикла заказа.
package main

import (
	"context"
	"log"

	"github.com/cargoflow/cargoflow/internal/bootstrap"
	"github.com/cargoflow/cargoflow/services/order"
)

func main() {
	rt, err := bootstrap.New("order-service")
	if err != nil {
		log.Fatalf("failed to bootstrap order service: %v", err)
	}

	var store order.Store
	if rt.Config.Store == "postgres" {
		store, err = order.NewPostgresStore(rt.Pool)
		if err != nil {
			log.Fatalf("failed to create order store: %v", err)
		}
	} else {
		store = order.NewInMemoryStore()
	}

	service, err := order.NewService(store, rt.Publisher, order.DefaultServiceConfig())
	if err != nil {
		log.Fatalf("failed to create order service: %v", err)
	}

	order.NewAPI(service).RegisterRoutes(rt.Server.Group())

	if err := rt.Run(context.Background()); err != nil {
		log.Fatalf("order service exited: %v", err)
	}
}
