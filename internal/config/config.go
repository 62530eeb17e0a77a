package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

const numChannels = 16

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDArm     string
	MQTTClientIDConsole string
	MQTTClientIDWeb     string
	MQTTClientIDDisplay string
	MQTTClientIDTeach   string

	// Topics
	TopicCommand string
	TopicState   string
	TopicReply   string

	// Actuator: "pca9685", "maestro", "feetech" or "mock"
	ActuatorDriver string

	// PCA9685
	PCA9685I2CBus  string
	PCA9685I2CAddr uint16
	PWMFrequencyHz int

	// Pulse window mapped onto 0-180 degrees
	ServoMinPulseUS int
	ServoMaxPulseUS int

	// Maestro
	MaestroSerialPort string
	MaestroBaudRate   int

	// Feetech
	FeetechSerialPort string
	FeetechBaudRate   int

	// Motion
	InterpSteps     int // steps per interpolated move
	StepDelayMS     int // delay after every channel write, milliseconds
	PlanPauseMS     int // pause between sequence positions, milliseconds
	InitAngles      []int
	ChannelDirs     []int
	GripperOpen     int // 1-180, 0 would fall back to the arm default
	GripperClosed   int // 1-180
	PlanFile        string
	StatePublishMS  int
	ConsoleLogEvery int // print every Nth state message

	// Web Server
	WebServerPort int

	// Display
	DisplayI2CBus         string
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds
}

// Package-level singleton: InitGlobal sets it once, Get reads it under RLock.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Defaults returns a configuration with every optional key filled in.
func Defaults() *Config {
	init := make([]int, numChannels)
	dirs := make([]int, numChannels)
	for i := range init {
		init[i] = 90
		dirs[i] = 1
	}
	return &Config{
		MQTTClientIDArm:       "servo-arm",
		MQTTClientIDConsole:   "servo-arm-console",
		MQTTClientIDWeb:       "servo-arm-web",
		MQTTClientIDDisplay:   "servo-arm-display",
		MQTTClientIDTeach:     "servo-arm-teach",
		TopicCommand:          "arm/command",
		TopicState:            "arm/state",
		TopicReply:            "arm/reply",
		ActuatorDriver:        "pca9685",
		PCA9685I2CBus:         "1",
		PCA9685I2CAddr:        0x40,
		PWMFrequencyHz:        50,
		ServoMinPulseUS:       500,
		ServoMaxPulseUS:       2400,
		MaestroBaudRate:       9600,
		FeetechBaudRate:       1_000_000,
		InterpSteps:           30,
		StepDelayMS:           10,
		PlanPauseMS:           1000,
		InitAngles:            init,
		ChannelDirs:           dirs,
		GripperOpen:           120,
		GripperClosed:         60,
		PlanFile:              "plan.json",
		StatePublishMS:        200,
		ConsoleLogEvery:       1,
		WebServerPort:         8080,
		DisplayI2CBus:         "1",
		DisplayI2CAddr:        0x3C,
		DisplayUpdateInterval: 250,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_ARM":
		c.MQTTClientIDArm = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value
	case "MQTT_CLIENT_ID_TEACH":
		c.MQTTClientIDTeach = value

	// Topics
	case "TOPIC_COMMAND":
		c.TopicCommand = value
	case "TOPIC_STATE":
		c.TopicState = value
	case "TOPIC_REPLY":
		c.TopicReply = value

	// Actuator
	case "ACTUATOR_DRIVER":
		switch value {
		case "pca9685", "maestro", "feetech", "mock":
			c.ActuatorDriver = value
		default:
			return fmt.Errorf("ACTUATOR_DRIVER must be pca9685, maestro, feetech or mock, got %q", value)
		}
	case "PCA9685_I2C_BUS":
		c.PCA9685I2CBus = value
	case "PCA9685_I2C_ADDR":
		c.PCA9685I2CAddr, err = parseAddr(key, value)
	case "PWM_FREQUENCY_HZ":
		c.PWMFrequencyHz, err = parseRange(key, value, 24, 1526)
	case "SERVO_MIN_PULSE_US":
		c.ServoMinPulseUS, err = parseRange(key, value, 100, 3000)
	case "SERVO_MAX_PULSE_US":
		c.ServoMaxPulseUS, err = parseRange(key, value, 100, 3000)
	case "MAESTRO_SERIAL_PORT":
		c.MaestroSerialPort = value
	case "MAESTRO_BAUD_RATE":
		c.MaestroBaudRate, err = parseRange(key, value, 1, 1_000_000)
	case "FEETECH_SERIAL_PORT":
		c.FeetechSerialPort = value
	case "FEETECH_BAUD_RATE":
		c.FeetechBaudRate, err = parseRange(key, value, 1, 1_000_000)

	// Motion
	case "INTERP_STEPS":
		c.InterpSteps, err = parseRange(key, value, 1, 1000)
	case "STEP_DELAY_MS":
		c.StepDelayMS, err = parseRange(key, value, 0, 1000)
	case "PLAN_PAUSE_MS":
		c.PlanPauseMS, err = parseRange(key, value, 0, 60_000)
	case "INIT_ANGLES":
		c.InitAngles, err = parseList(key, value, func(v int) bool { return v >= 0 && v <= 180 }, "0-180")
	case "CHANNEL_DIRECTIONS":
		c.ChannelDirs, err = parseList(key, value, func(v int) bool { return v == 1 || v == -1 }, "1 or -1")
	case "GRIPPER_OPEN":
		c.GripperOpen, err = parseRange(key, value, 1, 180)
	case "GRIPPER_CLOSED":
		c.GripperClosed, err = parseRange(key, value, 1, 180)
	case "PLAN_FILE":
		c.PlanFile = value
	case "STATE_PUBLISH_INTERVAL":
		c.StatePublishMS, err = parseRange(key, value, 10, 60_000)
	case "CONSOLE_LOG_EVERY":
		c.ConsoleLogEvery, err = parseRange(key, value, 1, 10_000)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseRange(key, value, 1, 65535)

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_I2C_ADDR":
		c.DisplayI2CAddr, err = parseAddr(key, value)
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseRange(key, value, 10, 60_000)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

func parseRange(key, value string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, v)
	}
	return v, nil
}

func parseAddr(key, value string) (uint16, error) {
	addr, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return uint16(addr), nil
}

// parseList reads a comma separated list of up to 16 integers.
func parseList(key, value string, ok func(int) bool, want string) ([]int, error) {
	fields := strings.Split(value, ",")
	if len(fields) > numChannels {
		return nil, fmt.Errorf("%s has %d entries, at most %d allowed", key, len(fields), numChannels)
	}
	out := make([]int, 0, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %d %q: %w", key, i, f, err)
		}
		if !ok(v) {
			return nil, fmt.Errorf("%s entry %d must be %s, got %d", key, i, want, v)
		}
		out = append(out, v)
	}
	return out, nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.ServoMinPulseUS >= c.ServoMaxPulseUS {
		return fmt.Errorf("SERVO_MIN_PULSE_US (%d) must be below SERVO_MAX_PULSE_US (%d)", c.ServoMinPulseUS, c.ServoMaxPulseUS)
	}
	if c.ActuatorDriver == "maestro" && c.MaestroSerialPort == "" {
		return fmt.Errorf("MAESTRO_SERIAL_PORT is required for the maestro driver")
	}
	if c.ActuatorDriver == "feetech" && c.FeetechSerialPort == "" {
		return fmt.Errorf("FEETECH_SERIAL_PORT is required for the feetech driver")
	}
	if c.PlanFile == "" {
		return fmt.Errorf("PLAN_FILE is required")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Only the first call loads; later calls return nil.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
