package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/servo_arm/internal/armstate"
	"github.com/relabs-tech/servo_arm/internal/command"
	"github.com/relabs-tech/servo_arm/internal/config"
)

// RunConsoleMQTT prints arm state and command replies as they arrive.
func RunConsoleMQTT() error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	every := int64(cfg.ConsoleLogEvery)
	if every < 1 {
		every = 1
	}
	var seen atomic.Int64

	stateToken := client.Subscribe(cfg.TopicState, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if (seen.Add(1)-1)%every != 0 {
			return
		}
		var st armstate.State
		if err := json.Unmarshal(msg.Payload(), &st); err != nil {
			log.Printf("console: state unmarshal error: %v", err)
			return
		}
		fmt.Println(formatState(st))
	})
	stateToken.Wait()
	if stateToken.Error() != nil {
		return stateToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicState)

	replyToken := client.Subscribe(cfg.TopicReply, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var r command.Reply
		if err := json.Unmarshal(msg.Payload(), &r); err != nil {
			log.Printf("console: reply unmarshal error: %v", err)
			return
		}
		fmt.Println(formatReply(r))
	})
	replyToken.Wait()
	if replyToken.Error() != nil {
		return replyToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicReply)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

func formatState(st armstate.State) string {
	gate := "closed"
	if st.Running {
		gate = "open"
	}
	return fmt.Sprintf("[ARM ]  %-12s gate=%-6s arm=%v plan=%d", st.Mode, gate, st.Arm, st.PlanLen)
}

func formatReply(r command.Reply) string {
	if r.OK {
		return fmt.Sprintf("[OK  ]  %s id=%s", r.Action, r.ID)
	}
	return fmt.Sprintf("[FAIL]  %s id=%s: %s", r.Action, r.ID, r.Error)
}
