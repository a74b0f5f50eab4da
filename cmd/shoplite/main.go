package main

import (
	"log"

	"github.com/patric-chuzhbe/shoplite/internal/app"
)

func main() {
	application, err := app.New()
	if err != nil {
		log.Panicf("Unable to initialize the application: %v", err)
	}
	defer application.Close()

	if err := application.Run(); err != nil {
		log.Panicf("The application finished with error: %v", err)
	}
}
