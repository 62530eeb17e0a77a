// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"

	"github.com/relabs-tech/servo_arm/internal/app"
	"github.com/relabs-tech/servo_arm/internal/config"
)

func main() {
	log.Println("starting servo-arm daemon (MQTT)")

	// Load configuration
	if err := config.InitGlobal("arm_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunArm(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
