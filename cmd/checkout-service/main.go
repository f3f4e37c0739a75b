package main

import (
	"log"

	"mercadito/internal/app"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	if err := app.Run(); err != nil {
		log.Fatalf("checkout service failed: %v", err)
	}
}
