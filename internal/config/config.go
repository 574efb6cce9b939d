// Package config loads the bridge's configuration file (plus
// environment overrides) into a typed Config, following the
// viper-defaults-then-unmarshal shape used elsewhere in the ecosystem
// for comparable device/worker configuration trees.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// ReadSettings controls PlcWatcher's poll cadence.
type ReadSettings struct {
	StartAddress uint16 `mapstructure:"start_address"`
	NumRegisters uint16 `mapstructure:"num_registers"`
	IntervalMs   int    `mapstructure:"interval_ms"`
}

// DryRunState seeds the relay board's simulated register snapshot
// when BoardRelay.DryRun is set.
type DryRunState struct {
	Ready          bool     `mapstructure:"ready"`
	Home           bool     `mapstructure:"home"`
	Reset          bool     `mapstructure:"reset"`
	OtherRegisters []uint16 `mapstructure:"other_registers"`
}

// BoardRelay configures the Modbus-RTU relay/PLC link.
type BoardRelay struct {
	ComPort      string       `mapstructure:"com_port"`
	BaudRate     uint32       `mapstructure:"baud_rate"`
	SlaveID      int          `mapstructure:"slave_id"`
	ReadSettings ReadSettings `mapstructure:"read_settings"`
	DryRun       bool         `mapstructure:"dry_run"`
	DryRunState  DryRunState  `mapstructure:"dry_run_state"`
}

// EmitOptions controls PlcWatcher's Marker-triggering edge behavior.
type EmitOptions struct {
	DebounceMs     int  `mapstructure:"debounce_ms"`
	EdgeOnly       bool `mapstructure:"edge_only"`
	MinIntervalMs  int  `mapstructure:"min_interval_ms"`
}

// SoftwareCommand configures the Marker (ASCII/binary) serial link.
type SoftwareCommand struct {
	ComPort           string            `mapstructure:"com_port"`
	BaudRate          uint32            `mapstructure:"baud_rate"`
	XonXoff           bool              `mapstructure:"xonxoff"`
	DryRun            bool              `mapstructure:"dry_run"`
	DryRunCompleteMs  int               `mapstructure:"dry_run_complete_ms"`
	EmitOptions       EmitOptions       `mapstructure:"emit_options"`
	PrintMode         string            `mapstructure:"print_mode"`
	Templates         map[string]string `mapstructure:"templates"`
}

// Devices groups the two serial device configurations.
type Devices struct {
	BoardRelay      BoardRelay      `mapstructure:"BOARD_RELAY"`
	SoftwareCommand SoftwareCommand `mapstructure:"SOFTWARE_COMMAND"`
}

// Timeouts mirrors spec.md §6's timeouts.* option group.
type Timeouts struct {
	UiOpTimeoutMs int `mapstructure:"ui_op_timeout_ms"`
	ScCompleteMs  int `mapstructure:"sc_complete_ms"`
	GetJobMs      int `mapstructure:"get_job_ms"`
}

// Logging mirrors spec.md §6's logging.* option group.
type Logging struct {
	Level      string `mapstructure:"level"`
	Timestamps bool   `mapstructure:"timestamps"`
	Console    bool   `mapstructure:"console"`
}

// Config is the fully-resolved, defaulted configuration tree.
type Config struct {
	Devices  Devices  `mapstructure:"devices"`
	Timeouts Timeouts `mapstructure:"timeouts"`
	Logging  Logging  `mapstructure:"logging"`
	ListenAddr string `mapstructure:"listen_addr"`
}

func defaultConfig() *Config {
	return &Config{
		Devices: Devices{
			BoardRelay: BoardRelay{
				ComPort:  "/dev/ttyUSB0",
				BaudRate: 9600,
				SlaveID:  1,
				ReadSettings: ReadSettings{
					StartAddress: 0,
					NumRegisters: 8,
					IntervalMs:   500,
				},
			},
			SoftwareCommand: SoftwareCommand{
				ComPort:          "/dev/ttyUSB1",
				BaudRate:         9600,
				DryRunCompleteMs: 1000,
				EmitOptions: EmitOptions{
					DebounceMs:    100,
					MinIntervalMs: 0,
				},
				PrintMode: "normal",
			},
		},
		Timeouts: Timeouts{
			UiOpTimeoutMs: 20000,
			ScCompleteMs:  20000,
			GetJobMs:      10000,
		},
		Logging: Logging{
			Level:      "info",
			Timestamps: true,
			Console:    true,
		},
		ListenAddr: ":5555",
	}
}

// Load reads path (if it exists) over the built-in defaults, with
// environment variables (dots replaced by underscores) taking the
// highest precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	setDefaults(v, def)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("devices.BOARD_RELAY.com_port", def.Devices.BoardRelay.ComPort)
	v.SetDefault("devices.BOARD_RELAY.baud_rate", def.Devices.BoardRelay.BaudRate)
	v.SetDefault("devices.BOARD_RELAY.slave_id", def.Devices.BoardRelay.SlaveID)
	v.SetDefault("devices.BOARD_RELAY.read_settings.start_address", def.Devices.BoardRelay.ReadSettings.StartAddress)
	v.SetDefault("devices.BOARD_RELAY.read_settings.num_registers", def.Devices.BoardRelay.ReadSettings.NumRegisters)
	v.SetDefault("devices.BOARD_RELAY.read_settings.interval_ms", def.Devices.BoardRelay.ReadSettings.IntervalMs)
	v.SetDefault("devices.BOARD_RELAY.dry_run", def.Devices.BoardRelay.DryRun)
	v.SetDefault("devices.BOARD_RELAY.dry_run_state.ready", def.Devices.BoardRelay.DryRunState.Ready)
	v.SetDefault("devices.BOARD_RELAY.dry_run_state.home", def.Devices.BoardRelay.DryRunState.Home)
	v.SetDefault("devices.BOARD_RELAY.dry_run_state.reset", def.Devices.BoardRelay.DryRunState.Reset)
	v.SetDefault("devices.BOARD_RELAY.dry_run_state.other_registers", def.Devices.BoardRelay.DryRunState.OtherRegisters)

	v.SetDefault("devices.SOFTWARE_COMMAND.com_port", def.Devices.SoftwareCommand.ComPort)
	v.SetDefault("devices.SOFTWARE_COMMAND.baud_rate", def.Devices.SoftwareCommand.BaudRate)
	v.SetDefault("devices.SOFTWARE_COMMAND.xonxoff", def.Devices.SoftwareCommand.XonXoff)
	v.SetDefault("devices.SOFTWARE_COMMAND.dry_run", def.Devices.SoftwareCommand.DryRun)
	v.SetDefault("devices.SOFTWARE_COMMAND.dry_run_complete_ms", def.Devices.SoftwareCommand.DryRunCompleteMs)
	v.SetDefault("devices.SOFTWARE_COMMAND.emit_options.debounce_ms", def.Devices.SoftwareCommand.EmitOptions.DebounceMs)
	v.SetDefault("devices.SOFTWARE_COMMAND.emit_options.edge_only", def.Devices.SoftwareCommand.EmitOptions.EdgeOnly)
	v.SetDefault("devices.SOFTWARE_COMMAND.emit_options.min_interval_ms", def.Devices.SoftwareCommand.EmitOptions.MinIntervalMs)
	v.SetDefault("devices.SOFTWARE_COMMAND.print_mode", def.Devices.SoftwareCommand.PrintMode)
	v.SetDefault("devices.SOFTWARE_COMMAND.templates", def.Devices.SoftwareCommand.Templates)

	v.SetDefault("timeouts.ui_op_timeout_ms", def.Timeouts.UiOpTimeoutMs)
	v.SetDefault("timeouts.sc_complete_ms", def.Timeouts.ScCompleteMs)
	v.SetDefault("timeouts.get_job_ms", def.Timeouts.GetJobMs)

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.timestamps", def.Logging.Timestamps)
	v.SetDefault("logging.console", def.Logging.Console)

	v.SetDefault("listen_addr", def.ListenAddr)
}

var validLogLevels = map[string]bool{
	"off": true, "error": true, "warn": true, "info": true, "debug": true,
}

// Validate checks the constraints spec.md §6's recognized options
// imply: a slave ID must fit a Modbus-RTU unit identifier byte, poll
// intervals must be positive, and the log level must be recognized.
func Validate(cfg *Config) error {
	if cfg.Devices.BoardRelay.SlaveID < 0 || cfg.Devices.BoardRelay.SlaveID > 247 {
		return fmt.Errorf("devices.BOARD_RELAY.slave_id must be in [0, 247]")
	}
	if cfg.Devices.BoardRelay.ReadSettings.IntervalMs <= 0 {
		return fmt.Errorf("devices.BOARD_RELAY.read_settings.interval_ms must be > 0")
	}
	if !validLogLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of off|error|warn|info|debug, got %q", cfg.Logging.Level)
	}
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	return nil
}
