package main

import (
	"log"

	"github.com/relabs-tech/servo_arm/internal/app"
	"github.com/relabs-tech/servo_arm/internal/config"
)

func main() {
	log.Println("starting servo-arm teach pendant (MQTT)")

	if err := config.InitGlobal("arm_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunTeach(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
