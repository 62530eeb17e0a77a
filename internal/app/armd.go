// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/multierr"

	"github.com/relabs-tech/servo_arm/internal/actuator"
	"github.com/relabs-tech/servo_arm/internal/arm"
	"github.com/relabs-tech/servo_arm/internal/armstate"
	"github.com/relabs-tech/servo_arm/internal/command"
	"github.com/relabs-tech/servo_arm/internal/config"
	"github.com/relabs-tech/servo_arm/internal/motion"
	"github.com/relabs-tech/servo_arm/internal/plan"
	"github.com/relabs-tech/servo_arm/internal/servo"
)

// Arm bundles everything that moves: driver, bank, controller and plan file.
type Arm struct {
	Driver     actuator.Driver
	Bank       *servo.Bank
	Controller *motion.Controller
	Store      *plan.FileStore
	Dispatcher *Dispatcher
}

// NewArm builds the motion stack from cfg around drv.
func NewArm(cfg *config.Config, drv actuator.Driver) (*Arm, error) {
	bank := servo.NewBank(drv, cfg.InitAngles)
	for ch, dir := range cfg.ChannelDirs {
		if err := bank.SetDirection(ch, dir); err != nil {
			return nil, err
		}
	}

	store := plan.NewFileStore(cfg.PlanFile)
	seq, err := store.Load()
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Printf("armd: no plan at %s, starting with an empty plan", cfg.PlanFile)
	case err != nil:
		log.Printf("armd: %v; starting with an empty plan, the file moves to .bak on the next save", err)
	default:
		log.Printf("armd: loaded %d plan entries from %s", len(seq), cfg.PlanFile)
	}

	engine := motion.NewEngine(bank, motion.EngineOptions{
		Steps:     cfg.InterpSteps,
		StepDelay: millis(cfg.StepDelayMS),
	})
	ctrl := motion.NewController(engine, motion.NewPlan(seq), motion.ControllerOptions{
		ArmChannels: motion.DefaultArmChannels,
		PlanPause:   millis(cfg.PlanPauseMS),
		OnEntry:     func(i int) { log.Printf("armd: plan entry %d reached", i) },
	})

	return &Arm{
		Driver:     drv,
		Bank:       bank,
		Controller: ctrl,
		Store:      store,
		Dispatcher: NewDispatcher(ctrl, store, arm.Options{
			GripperOpen:   cfg.GripperOpen,
			GripperClosed: cfg.GripperClosed,
		}),
	}, nil
}

// millis converts a config value to a duration; 0 means none at all.
func millis(ms int) time.Duration {
	if ms <= 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}

// State snapshots the controller for publishing.
func (a *Arm) State(t time.Time) armstate.State {
	return armstate.State{
		Arm:      a.Controller.ArmPosition(),
		Channels: a.Controller.Positions(),
		Mode:     a.Controller.Mode().String(),
		Running:  a.Controller.Running(),
		PlanLen:  a.Controller.Plan().Len(),
		Time:     t.Format(time.RFC3339),
	}
}

// RunArm is the arm daemon: it owns the servos, executes commands from
// MQTT and publishes the arm state on a ticker.
func RunArm() (err error) {
	cfg := config.Get()

	drv, err := actuator.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, drv.Close())
	}()
	log.Printf("armd: %s actuator ready", cfg.ActuatorDriver)

	a, err := NewArm(cfg, drv)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerDone := make(chan error, 1)
	go func() { workerDone <- a.Controller.Run(ctx) }()

	if err := a.Controller.MoveInit(ctx); err != nil {
		return err
	}

	// --- connect to MQTT ---
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDArm).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("armd: connected to MQTT broker at %s", cfg.MQTTBroker)

	// Commands run one at a time off the MQTT callback goroutine.
	// Stop skips the queue so it is never stuck behind a long move.
	queue := make(chan command.Command, 32)
	token := client.Subscribe(cfg.TopicCommand, 0, func(_ mqtt.Client, msg mqtt.Message) {
		c, err := command.Decode(msg.Payload())
		if err != nil {
			log.Printf("armd: %v", err)
			publishReply(client, cfg.TopicReply, command.Reply{Action: "invalid", Error: err.Error()})
			return
		}
		if c.Action == command.Stop {
			go execute(ctx, client, cfg.TopicReply, a.Dispatcher, c)
			return
		}
		select {
		case queue <- c:
		default:
			log.Printf("armd: command queue full, dropping %s", c.Action)
			publishReply(client, cfg.TopicReply, command.Reply{ID: c.ID, Action: c.Action, Error: "queue full"})
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("armd: subscribed to %s", cfg.TopicCommand)

	go func() {
		for {
			select {
			case c := <-queue:
				execute(ctx, client, cfg.TopicReply, a.Dispatcher, c)
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Duration(cfg.StatePublishMS) * time.Millisecond)
	defer ticker.Stop()

	log.Println("armd: publishing state")
	for {
		select {
		case t := <-ticker.C:
			payload, err := json.Marshal(a.State(t))
			if err != nil {
				log.Printf("armd: state marshal error: %v", err)
				continue
			}
			if token := client.Publish(cfg.TopicState, 0, true, payload); token.Wait() && token.Error() != nil {
				log.Printf("armd: MQTT publish error (state): %v", token.Error())
			}
		case <-ctx.Done():
			log.Println("armd: shutting down")
			if err := <-workerDone; !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}
	}
}

func execute(ctx context.Context, client mqtt.Client, topic string, d *Dispatcher, c command.Command) {
	reply := command.Reply{ID: c.ID, Action: c.Action, OK: true}
	if err := d.Execute(ctx, c); err != nil {
		log.Printf("armd: %s failed: %v", c.Action, err)
		reply.OK = false
		reply.Error = err.Error()
	}
	publishReply(client, topic, reply)
}

func publishReply(client mqtt.Client, topic string, reply command.Reply) {
	reply.Time = time.Now().Format(time.RFC3339)
	payload, err := json.Marshal(reply)
	if err != nil {
		log.Printf("armd: reply marshal error: %v", err)
		return
	}
	client.Publish(topic, 0, false, payload)
}
