package main

import (
	"log"

	"patternstore/app"
	"patternstore/config"
)

func main() {
	// Load config from .env file
	cfg := config.LoadFromEnv()

	// Bootstrap the persistence stack: database, schema, settings seed
	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal(err)
	}
	defer application.Close()
}
