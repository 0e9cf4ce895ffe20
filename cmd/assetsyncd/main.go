package main

import (
	"context"
	"log"

	"github.com/voyagehub/assetsync/internal/app"
	"github.com/voyagehub/assetsync/internal/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	a, err := app.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		log.Printf("%v", err)
	}

}
