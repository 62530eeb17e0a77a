// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/demo/main.go
//
// Drives the arm directly, without the MQTT daemon, through one of the
// built-in routines. Stop armd first: both want the servo bus.
//
// Run:
//
//	go run ./cmd/demo -routine wave
//	go run ./cmd/demo -config arm_config.txt -routine rom
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/relabs-tech/servo_arm/internal/app"
	"github.com/relabs-tech/servo_arm/internal/config"
)

func main() {
	cfgPath := flag.String("config", "arm_config.txt", "configuration file")
	routine := flag.String("routine", "wave", fmt.Sprintf("routine to run (%s)", strings.Join(app.RoutineNames(), ", ")))
	flag.Parse()

	log.Printf("starting servo-arm demo (%s)", *routine)

	if err := config.InitGlobal(*cfgPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunDemo(*routine); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
