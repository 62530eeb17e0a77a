package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/servo_arm/internal/arm"
	"github.com/relabs-tech/servo_arm/internal/armstate"
	"github.com/relabs-tech/servo_arm/internal/config"
)

const (
	oledWidth  = 128
	oledHeight = 64
	lineHeight = 13
)

// displayData holds the latest arm state for the OLED.
type displayData struct {
	mu    sync.RWMutex
	state armstate.State
	have  bool
}

func (d *displayData) set(st armstate.State) {
	d.mu.Lock()
	d.state = st
	d.have = true
	d.mu.Unlock()
}

func (d *displayData) get() (armstate.State, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state, d.have
}

// RunDisplay mirrors the arm state on an SSD1306 panel.
func RunDisplay() error {
	cfg := config.Get()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(cfg.DisplayI2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, cfg.DisplayI2CAddr, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized at 0x%02X", cfg.DisplayI2CAddr)

	if err := dev.Draw(dev.Bounds(), renderLines(splashLines()), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &displayData{}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDDisplay).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicState, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var st armstate.State
		if err := json.Unmarshal(msg.Payload(), &st); err != nil {
			log.Printf("display: state unmarshal error: %v", err)
			return
		}
		data.set(st)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicState)

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for range ticker.C {
		st, have := data.get()
		if err := dev.Draw(dev.Bounds(), renderLines(stateLines(st, have)), image.Point{}); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}

	return nil
}

func splashLines() []string {
	return []string{"", "  Servo Arm", "  waiting for", "  armd..."}
}

// stateLines lays the joints out two per row, with the plan size beside the
// gripper and the mode last.
func stateLines(st armstate.State, have bool) []string {
	if !have {
		return []string{"", "Servo Arm", "Waiting..."}
	}
	j := make([]int, arm.NumJoints)
	copy(j, st.Arm)

	return []string{
		fmt.Sprintf("B:%3d S:%3d", j[arm.Base], j[arm.Shoulder]),
		fmt.Sprintf("E:%3d W:%3d", j[arm.Elbow], j[arm.Wrist]),
		fmt.Sprintf("G:%3d P:%d", j[arm.Gripper], st.PlanLen),
		st.Mode,
	}
}

// renderLines draws up to four text rows into a panel-sized frame.
func renderLines(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, oledWidth, oledHeight))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	for i, line := range lines {
		if (i+1)*lineHeight > oledHeight {
			break
		}
		drawer.Dot = fixed.P(0, (i+1)*lineHeight)
		drawer.DrawBytes([]byte(line))
	}
	return img
}
