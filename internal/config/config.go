package config

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Relay failure policies.
const (
	RelayIsolate = "isolate"
	RelayCascade = "cascade"
)

// Device kinds.
const (
	DeviceSerial = "serial"
	DeviceSim    = "sim"
)

// Config holds all application configuration values.
type Config struct {
	// Receiver
	Device        string
	GPSSerialPort string
	GPSBaudRate   int

	// NTRIP
	NTRIPEnable         bool
	NTRIPHost           string
	NTRIPPort           int
	NTRIPMountpoint     string
	NTRIPVersion        int
	NTRIPUsername       string
	NTRIPPassword       string
	NTRIPHz             float64
	NTRIPConnectTimeout time.Duration
	NTRIPReconnectMax   int
	NTRIPReconnectWait  time.Duration
	RelayFailurePolicy  string

	// Corrections go to the receiver port unless a separate port is given.
	CorrectionSerialPort string
	CorrectionBaudRate   int

	// Extrapolation
	ExtrapolateInterval time.Duration
	ExtrapolateBuffer   int
	GeoidUndulation     *float64

	// Publishing
	PublishAddr      string
	PublishInterval  time.Duration
	WebAddr          string
	RawQueueSize     int
	PublishQueueSize int

	// Mirrors
	MQTTBroker   string
	MQTTClientID string
	TopicGNSS    string
	KafkaBrokers []string
	KafkaTopic   string

	// Console ground truth
	RefLat *float64
	RefLon *float64

	Debug bool
}

// Default returns a Config with every optional value filled in.
func Default() *Config {
	return &Config{
		Device:              DeviceSerial,
		GPSBaudRate:         115200,
		NTRIPPort:           2101,
		NTRIPVersion:        2,
		NTRIPHz:             1,
		NTRIPConnectTimeout: 5 * time.Second,
		NTRIPReconnectMax:   5,
		NTRIPReconnectWait:  2 * time.Second,
		RelayFailurePolicy:  RelayIsolate,
		CorrectionBaudRate:  115200,
		ExtrapolateInterval: 10 * time.Millisecond,
		ExtrapolateBuffer:   2,
		PublishAddr:         ":9000",
		PublishInterval:     10 * time.Millisecond,
		RawQueueSize:        64,
		PublishQueueSize:    256,
		MQTTClientID:        "gnss_streamer",
		TopicGNSS:           "gnss/fix",
	}
}

// Load reads the configuration file and returns a Config struct. Files
// ending in .yaml or .yml are read as a YAML mapping of the same keys;
// anything else uses KEY=VALUE lines.
func Load(configPath string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		return loadYAML(configPath)
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
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

func loadYAML(configPath string) (*Config, error) {
	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	// sorted so errors are reported deterministically
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cfg := Default()
	for _, k := range keys {
		if err := cfg.setValue(strings.ToUpper(k), yamlScalar(raw[k])); err != nil {
			return nil, fmt.Errorf("config key %s: %w", k, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// yamlScalar turns a decoded YAML value back into the text form setValue
// expects. Sequences become comma-separated lists.
func yamlScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, yamlScalar(e))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Receiver
	case "DEVICE":
		c.Device = strings.ToLower(value)
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		c.GPSBaudRate, err = parseInt(key, value)

	// NTRIP
	case "NTRIP_ENABLE":
		c.NTRIPEnable, err = parseBool(key, value)
	case "NTRIP_HOST":
		c.NTRIPHost = value
	case "NTRIP_PORT":
		c.NTRIPPort, err = parseInt(key, value)
	case "NTRIP_MOUNTPOINT":
		c.NTRIPMountpoint = value
	case "NTRIP_VERSION":
		c.NTRIPVersion, err = parseInt(key, value)
	case "NTRIP_USERNAME":
		c.NTRIPUsername = value
	case "NTRIP_PASSWORD":
		c.NTRIPPassword = value
	case "NTRIP_HZ":
		c.NTRIPHz, err = parseFloat(key, value)
	case "NTRIP_CONNECT_TIMEOUT_MS":
		c.NTRIPConnectTimeout, err = parseMillis(key, value)
	case "NTRIP_RECONNECT_MAX":
		c.NTRIPReconnectMax, err = parseInt(key, value)
	case "NTRIP_RECONNECT_WAIT_MS":
		c.NTRIPReconnectWait, err = parseMillis(key, value)
	case "RELAY_FAILURE_POLICY":
		c.RelayFailurePolicy = strings.ToLower(value)
	case "CORRECTION_SERIAL_PORT":
		c.CorrectionSerialPort = value
	case "CORRECTION_BAUD_RATE":
		c.CorrectionBaudRate, err = parseInt(key, value)

	// Extrapolation
	case "EXTRAPOLATE_INTERVAL_MS":
		c.ExtrapolateInterval, err = parseMillis(key, value)
	case "EXTRAPOLATE_BUFFER":
		c.ExtrapolateBuffer, err = parseInt(key, value)
	case "GEOID_UNDULATION":
		c.GeoidUndulation, err = parseOptionalFloat(key, value)

	// Publishing
	case "PUBLISH_ADDR":
		c.PublishAddr = value
	case "PUBLISH_INTERVAL_MS":
		c.PublishInterval, err = parseMillis(key, value)
	case "WEB_ADDR":
		c.WebAddr = value
	case "RAW_QUEUE_SIZE":
		c.RawQueueSize, err = parseInt(key, value)
	case "PUBLISH_QUEUE_SIZE":
		c.PublishQueueSize, err = parseInt(key, value)

	// Mirrors
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_GNSS":
		c.TopicGNSS = value
	case "KAFKA_BROKERS":
		c.KafkaBrokers = splitList(value)
	case "KAFKA_TOPIC":
		c.KafkaTopic = value

	case "REF_LAT":
		c.RefLat, err = parseOptionalFloat(key, value)
	case "REF_LON":
		c.RefLon, err = parseOptionalFloat(key, value)
	case "DEBUG":
		c.Debug, err = parseBool(key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

func parseInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid %s %q", key, value)
	}
	return v, nil
}

func parseOptionalFloat(key, value string) (*float64, error) {
	if value == "" {
		return nil, nil
	}
	v, err := parseFloat(key, value)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseBool(key, value string) (bool, error) {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s %q: want true or false", key, value)
}

func parseMillis(key, value string) (time.Duration, error) {
	ms, err := parseInt(key, value)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func splitList(value string) []string {
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	switch c.Device {
	case DeviceSerial:
		if c.GPSSerialPort == "" {
			return fmt.Errorf("GPS_SERIAL_PORT is required")
		}
		if c.GPSBaudRate <= 0 {
			return fmt.Errorf("GPS_BAUD_RATE must be positive, got %d", c.GPSBaudRate)
		}
	case DeviceSim:
	default:
		return fmt.Errorf("DEVICE must be %q or %q, got %q", DeviceSerial, DeviceSim, c.Device)
	}

	if c.NTRIPEnable {
		if c.NTRIPHost == "" {
			return fmt.Errorf("NTRIP_HOST is required when NTRIP_ENABLE is set")
		}
		if c.NTRIPMountpoint == "" {
			return fmt.Errorf("NTRIP_MOUNTPOINT is required when NTRIP_ENABLE is set")
		}
		if c.NTRIPPort <= 0 || c.NTRIPPort > 65535 {
			return fmt.Errorf("NTRIP_PORT must be 1-65535, got %d", c.NTRIPPort)
		}
		if c.NTRIPVersion != 1 && c.NTRIPVersion != 2 {
			return fmt.Errorf("NTRIP_VERSION must be 1 or 2, got %d", c.NTRIPVersion)
		}
		if c.NTRIPHz <= 0 {
			return fmt.Errorf("NTRIP_HZ must be positive, got %v", c.NTRIPHz)
		}
		if c.NTRIPReconnectMax < 1 {
			return fmt.Errorf("NTRIP_RECONNECT_MAX must be at least 1, got %d", c.NTRIPReconnectMax)
		}
	}
	switch c.RelayFailurePolicy {
	case RelayIsolate, RelayCascade:
	default:
		return fmt.Errorf("RELAY_FAILURE_POLICY must be %q or %q, got %q", RelayIsolate, RelayCascade, c.RelayFailurePolicy)
	}

	if c.ExtrapolateInterval <= 0 {
		return fmt.Errorf("EXTRAPOLATE_INTERVAL_MS must be positive")
	}
	if c.ExtrapolateBuffer < 2 {
		return fmt.Errorf("EXTRAPOLATE_BUFFER must be at least 2, got %d", c.ExtrapolateBuffer)
	}
	if c.PublishAddr == "" {
		return fmt.Errorf("PUBLISH_ADDR is required")
	}
	if c.PublishInterval <= 0 {
		return fmt.Errorf("PUBLISH_INTERVAL_MS must be positive")
	}
	if c.RawQueueSize < 1 || c.PublishQueueSize < 1 {
		return fmt.Errorf("queue sizes must be at least 1")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	if (c.RefLat == nil) != (c.RefLon == nil) {
		return fmt.Errorf("REF_LAT and REF_LON must be set together")
	}
	return nil
}
