package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config структура конфигурации.
type Config struct {
	Logger   LogConf      `toml:"logger"`   // Logger - конфигурация регистратора.
	Device   DeviceConf   `toml:"device"`   // Device - USB DMX interface.
	Control  ControlConf  `toml:"control"`  // Control - remote configuration protocol.
	Program  ProgramConf  `toml:"program"`  // Program - autonomous step program.
	MQTT     MQTTConf     `toml:"mqtt"`     // MQTT - конфигурация MQTT клиента.
	HTTP     HTTPConf     `toml:"http"`     // HTTP - live view and health endpoints.
	Watchdog WatchdogConf `toml:"watchdog"` // Watchdog - liveness supervision.
}

// LogConf структура конфигурации.
type LogConf struct {
	Level  string `toml:"log-level"` // Level - уровень логирования.
	Format string `toml:"format"`    // Format - text or json.
}

// DeviceConf describes how to find and configure the Enttec DMX USB Pro Mk2.
type DeviceConf struct {
	Port        string `toml:"port"`        // Port - explicit serial device, skips discovery when set.
	VendorID    string `toml:"vendor-id"`   // VendorID - USB vendor id, hex.
	ProductID   string `toml:"product-id"`  // ProductID - USB product id, hex.
	Description string `toml:"description"` // Description - USB product string.
	BaudRate    int    `toml:"baud-rate"`
	APIKey      string `toml:"api-key"` // APIKey - 4 bytes, hex encoded.

	ReadTimeout          Duration `toml:"read-timeout"`
	ReceiveOnChange      bool     `toml:"receive-on-change"`
	ReconnectInterval    Duration `toml:"reconnect-interval"`
	MaxReconnectAttempts int      `toml:"max-reconnect-attempts"` // 0 - unlimited.

	Labels LabelConf `toml:"labels"`
}

// LabelConf holds the widget message labels. The second-port labels depend on the API key.
type LabelConf struct {
	ReceivedDMX       byte `toml:"received-dmx"`
	SendDMX           byte `toml:"send-dmx"`
	ReceiveOnChange   byte `toml:"receive-on-change"`
	SetAPIKey         byte `toml:"set-api-key"`
	SetPortAssignment byte `toml:"set-port-assignment"`
}

// ControlConf структура конфигурации.
type ControlConf struct {
	Listen       string `toml:"listen"`        // Listen - TCP address of the control protocol, empty disables it.
	HandlersFile string `toml:"handlers-file"` // HandlersFile - control protocol bytes applied at startup.
}

// ProgramConf структура конфигурации.
type ProgramConf struct {
	DefaultInterval Duration `toml:"default-interval"` // DefaultInterval - step interval while no tempo is set.
	Base            int      `toml:"base"`             // Base - first output channel written by the program.
	Steps           [][]int  `toml:"steps"`            // Steps - explicit step table, colour chase when empty.
}

// MQTTConf структура конфигурации.
type MQTTConf struct {
	Enabled     bool   `toml:"enabled"`
	ClientID    string `toml:"clientID"`     // ClientID - имя клиента.
	Host        string `toml:"server"`       // Host - адрес MQTT сервера.
	Port        string `toml:"port"`         // Port - порт MQTT сервера.
	User        string `toml:"user"`         // User - логин для подключения к MQTT серверу.
	Password    string `toml:"password"`     // Password - пароль для подключения к MQTT серверу.
	Qos         byte   `toml:"qos"`          // Qos - качество обслуживания.
	TopicPrefix string `toml:"topic-prefix"` // TopicPrefix - root of the published topics.
}

// HTTPConf структура конфигурации.
type HTTPConf struct {
	Listen string `toml:"listen"` // Listen - empty disables the HTTP surface.
}

// WatchdogConf структура конфигурации.
type WatchdogConf struct {
	Interval Duration `toml:"interval"`
	MaxAge   Duration `toml:"max-age"` // MaxAge - heartbeat age after which a component is stale.
}

// Duration decodes TOML strings like "250ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Default returns the configuration used for every key missing from the file.
func Default() Config {
	return Config{
		Logger: LogConf{Level: "info", Format: "text"},
		Device: DeviceConf{
			VendorID:             "0403",
			ProductID:            "6001",
			Description:          "DMX USB PRO Mk2",
			BaudRate:             57600,
			APIKey:               "00000000",
			ReadTimeout:          Duration{100 * time.Millisecond},
			ReconnectInterval:    Duration{2 * time.Second},
			MaxReconnectAttempts: 0,
			Labels: LabelConf{
				ReceivedDMX:       5,
				SendDMX:           6,
				ReceiveOnChange:   8,
				SetAPIKey:         13,
				SetPortAssignment: 203,
			},
		},
		Control: ControlConf{
			Listen:       ":3333",
			HandlersFile: "config.dat",
		},
		Program: ProgramConf{
			DefaultInterval: Duration{time.Second},
			Base:            1,
		},
		MQTT: MQTTConf{
			ClientID:    "dmxd",
			Host:        "localhost",
			Port:        "1883",
			TopicPrefix: "dmxd",
		},
		HTTP: HTTPConf{Listen: ":8080"},
		Watchdog: WatchdogConf{
			Interval: Duration{5 * time.Second},
			MaxAge:   Duration{5 * time.Second},
		},
	}
}

// NewConfig конструктор.
func NewConfig(path string) (*Config, error) {
	// default values
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return &cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

// Validate checks values the decoder cannot.
func (c *Config) Validate() error {
	if c.Program.Base < 0 || c.Program.Base >= 512 {
		return fmt.Errorf("program.base %d out of range 0-511", c.Program.Base)
	}
	for i, step := range c.Program.Steps {
		if c.Program.Base+len(step) > 512 {
			return fmt.Errorf("program.steps[%d] runs past channel 511", i)
		}
		for ch, v := range step {
			if v < 0 || v > 255 {
				return fmt.Errorf("program.steps[%d][%d] = %d, want 0-255", i, ch, v)
			}
		}
	}
	if c.Program.DefaultInterval.Duration <= 0 {
		return fmt.Errorf("program.default-interval must be positive")
	}
	if c.Device.ReadTimeout.Duration <= 0 {
		return fmt.Errorf("device.read-timeout must be positive")
	}
	return nil
}
