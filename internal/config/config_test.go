package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoad_KeyValue(t *testing.T) {
	path := writeFile(t, "gnss.txt", `
# comment
DEVICE=serial
GPS_SERIAL_PORT=/dev/ttyACM0
GPS_BAUD_RATE=9600
NTRIP_ENABLE=true
NTRIP_HOST=caster.example
NTRIP_MOUNTPOINT=RTCM32
NTRIP_HZ=0.5
NTRIP_RECONNECT_WAIT_MS=250
RELAY_FAILURE_POLICY=cascade
GEOID_UNDULATION=31.5
KAFKA_BROKERS=a:9092, b:9092
KAFKA_TOPIC=gnss
DEBUG=1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.GPSSerialPort != "/dev/ttyACM0" || cfg.GPSBaudRate != 9600 {
		t.Fatalf("serial=%q baud=%d", cfg.GPSSerialPort, cfg.GPSBaudRate)
	}
	if !cfg.NTRIPEnable || cfg.NTRIPHz != 0.5 || cfg.NTRIPReconnectWait != 250*time.Millisecond {
		t.Fatalf("ntrip=%v hz=%v wait=%v", cfg.NTRIPEnable, cfg.NTRIPHz, cfg.NTRIPReconnectWait)
	}
	if cfg.RelayFailurePolicy != RelayCascade {
		t.Fatalf("policy=%q want cascade", cfg.RelayFailurePolicy)
	}
	if cfg.GeoidUndulation == nil || *cfg.GeoidUndulation != 31.5 {
		t.Fatalf("geoid=%v want 31.5", cfg.GeoidUndulation)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("brokers=%v", cfg.KafkaBrokers)
	}
	if !cfg.Debug {
		t.Fatalf("debug not set")
	}
	// untouched keys keep their defaults
	if cfg.NTRIPPort != 2101 || cfg.ExtrapolateInterval != 10*time.Millisecond || cfg.PublishAddr != ":9000" {
		t.Fatalf("defaults lost: port=%d interval=%v addr=%q", cfg.NTRIPPort, cfg.ExtrapolateInterval, cfg.PublishAddr)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "gnss.yaml", `
device: sim
ntrip_enable: false
extrapolate_interval_ms: 20
publish_queue_size: 32
kafka_brokers: [k1:9092, k2:9092]
kafka_topic: fixes
ref_lat: 37.5
ref_lon: 127.0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Device != DeviceSim {
		t.Fatalf("device=%q want sim", cfg.Device)
	}
	if cfg.ExtrapolateInterval != 20*time.Millisecond || cfg.PublishQueueSize != 32 {
		t.Fatalf("interval=%v queue=%d", cfg.ExtrapolateInterval, cfg.PublishQueueSize)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "k1:9092" {
		t.Fatalf("brokers=%v", cfg.KafkaBrokers)
	}
	if cfg.RefLat == nil || *cfg.RefLat != 37.5 || cfg.RefLon == nil || *cfg.RefLon != 127.0 {
		t.Fatalf("ref=%v,%v", cfg.RefLat, cfg.RefLon)
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown key", "DEVICE=sim\nFOO=1\n", "unknown config key"},
		{"no equals", "DEVICE=sim\nnonsense\n", "invalid config line 2"},
		{"bad int", "DEVICE=sim\nRAW_QUEUE_SIZE=many\n", "RAW_QUEUE_SIZE"},
		{"missing port", "DEVICE=serial\n", "GPS_SERIAL_PORT is required"},
		{"bad device", "DEVICE=usb\n", "DEVICE must be"},
		{"bad policy", "DEVICE=sim\nRELAY_FAILURE_POLICY=panic\n", "RELAY_FAILURE_POLICY"},
		{"ntrip without host", "DEVICE=sim\nNTRIP_ENABLE=true\nNTRIP_MOUNTPOINT=M\n", "NTRIP_HOST"},
		{"short buffer", "DEVICE=sim\nEXTRAPOLATE_BUFFER=1\n", "EXTRAPOLATE_BUFFER"},
		{"half reference", "DEVICE=sim\nREF_LAT=1\n", "REF_LAT and REF_LON"},
		{"kafka without topic", "DEVICE=sim\nKAFKA_BROKERS=a:1\nKAFKA_TOPIC=\n", "KAFKA_TOPIC"},
		{"bad bool", "DEVICE=sim\nDEBUG=maybe\n", "DEBUG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.txt", tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want containing %q", err, tc.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Fatalf("Load() of missing file succeeded")
	}
}
