package main

import (
	"log"

	"github.com/clipsync/clipsync/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		log.Fatalf("❌ clipsync failed to start: %v", err)
	}
	if err := a.Run(); err != nil {
		log.Fatalf("❌ clipsync stopped with error: %v", err)
	}
}
