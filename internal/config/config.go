package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lowaak/bike-computer/internal/bt"
	"github.com/lowaak/bike-computer/internal/location"
	"github.com/lowaak/bike-computer/internal/speed"
	"github.com/lowaak/bike-computer/internal/trail"
)

const (
	EnvPrefix      = "BIKECOMPUTER"
	configDirName  = ".bike-computer"
	configFileName = "config"
)

// Location sources
const (
	SourceNMEA = "nmea"
	SourceSim  = "sim"
	SourceNone = "none"
)

type BLEConfig struct {
	DeviceID           string   `mapstructure:"device_id"`
	ServiceUUID        string   `mapstructure:"service_uuid"`
	WriteUUIDs         []string `mapstructure:"write_uuids"`
	NotifyUUIDs        []string `mapstructure:"notify_uuids"`
	Greeting           string   `mapstructure:"greeting"`
	Mock               bool     `mapstructure:"mock"`
	MockPort           int      `mapstructure:"mock_port"`
	MockTicksPerSecond float64  `mapstructure:"mock_ticks_per_second"`
}

type SpeedConfig struct {
	RetentionWindow time.Duration `mapstructure:"retention_window"`
	Period          time.Duration `mapstructure:"period"`
	Circumference   float64       `mapstructure:"circumference"`
	Conversion      float64       `mapstructure:"conversion"`
}

type LocationConfig struct {
	Source      string        `mapstructure:"source"`
	SerialPort  string        `mapstructure:"serial_port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	PollPeriod  time.Duration `mapstructure:"poll_period"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SimStartLat float64       `mapstructure:"sim_start_lat"`
	SimStartLon float64       `mapstructure:"sim_start_lon"`
}

type TrailConfig struct {
	Dir           string        `mapstructure:"dir"`
	SamplePeriod  time.Duration `mapstructure:"sample_period"`
	SyncEachPoint bool          `mapstructure:"sync_each_point"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Stderr     bool   `mapstructure:"stderr"`
}

// Config is the whole application configuration.
type Config struct {
	BLE      BLEConfig      `mapstructure:"ble"`
	Speed    SpeedConfig    `mapstructure:"speed"`
	Location LocationConfig `mapstructure:"location"`
	Trail    TrailConfig    `mapstructure:"trail"`
	Log      LogConfig      `mapstructure:"log"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// Dir is ~/.bike-computer, where the config file, log and UI state live.
func Dir() string {
	return filepath.Join(homeDir(), configDirName)
}

// SetDefaults registers the value of every key.
func SetDefaults(v *viper.Viper) {
	caps := bt.DefaultCapabilityTable()
	v.SetDefault("ble.device_id", bt.DefaultDeviceID)
	v.SetDefault("ble.service_uuid", bt.ServiceUUIDNordicUART)
	v.SetDefault("ble.write_uuids", caps.WriteUUIDs)
	v.SetDefault("ble.notify_uuids", caps.NotifyUUIDs)
	v.SetDefault("ble.greeting", bt.DefaultGreeting)
	v.SetDefault("ble.mock", false)
	v.SetDefault("ble.mock_port", 0)
	v.SetDefault("ble.mock_ticks_per_second", 3.0)

	v.SetDefault("speed.retention_window", speed.DefaultRetentionWindow)
	v.SetDefault("speed.period", speed.DefaultPeriod)
	v.SetDefault("speed.circumference", speed.DefaultCircumference)
	v.SetDefault("speed.conversion", speed.DefaultConversion)

	sim := location.DefaultSimConfig()
	v.SetDefault("location.source", SourceNMEA)
	v.SetDefault("location.serial_port", "/dev/ttyACM0")
	v.SetDefault("location.baud_rate", 9600)
	v.SetDefault("location.poll_period", location.DefaultPollPeriod)
	v.SetDefault("location.timeout", location.DefaultTimeout)
	v.SetDefault("location.sim_start_lat", sim.StartLatitude)
	v.SetDefault("location.sim_start_lon", sim.StartLongitude)

	v.SetDefault("trail.dir", filepath.Join(homeDir(), "Documents"))
	v.SetDefault("trail.sample_period", trail.DefaultSamplePeriod)
	v.SetDefault("trail.sync_each_point", false)

	v.SetDefault("log.file", filepath.Join(Dir(), "bike-computer.log"))
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.stderr", false)
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"device-id":       "ble.device_id",
	"mock":            "ble.mock",
	"mock-port":       "ble.mock_port",
	"mock-rate":       "ble.mock_ticks_per_second",
	"location-source": "location.source",
	"serial-port":     "location.serial_port",
	"baud-rate":       "location.baud_rate",
	"trail-dir":       "trail.dir",
	"sync-each-point": "trail.sync_each_point",
	"log-file":        "log.file",
	"log-stderr":      "log.stderr",
}

// RegisterFlags defines the command line flags Load understands.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default ~/.bike-computer/config.yaml)")
	fs.String("device-id", bt.DefaultDeviceID, "platform identity of the wheel sensor")
	fs.Bool("mock", false, "use a simulated wheel sensor instead of Bluetooth")
	fs.Int("mock-port", 0, "port of the simulated sensor's control page (0 disables it)")
	fs.Float64("mock-rate", 3, "notifications per second sent by the simulated sensor")
	fs.String("location-source", SourceNMEA, "position source: nmea, sim or none")
	fs.String("serial-port", "/dev/ttyACM0", "serial port of the NMEA GPS receiver")
	fs.Int("baud-rate", 9600, "baud rate of the NMEA GPS receiver")
	fs.String("trail-dir", "", "directory trails are written to (default ~/Documents)")
	fs.Bool("sync-each-point", false, "flush the trail file after every point")
	fs.String("log-file", "", "log file (default ~/.bike-computer/bike-computer.log)")
	fs.Bool("log-stderr", false, "also write the log to stderr")
}

// Load reads the configuration from, in order of precedence, flags set on
// fs, BIKECOMPUTER_* environment variables, the config file and defaults.
// fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicitFile := ""
	if fs != nil {
		for name, key := range flagKeys {
			if flag := fs.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
		if flag := fs.Lookup("config"); flag != nil {
			explicitFile = flag.Value.String()
		}
	}

	if explicitFile != "" {
		v.SetConfigFile(explicitFile)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicitFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.Trail.Dir = expandHome(cfg.Trail.Dir)
	cfg.Log.File = expandHome(cfg.Log.File)
	cfg.Location.Source = strings.ToLower(cfg.Location.Source)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func expandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

// Validate rejects values the components cannot run with.
func (c *Config) Validate() error {
	var errs []error
	positiveDuration := func(key string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %s", key, d))
		}
	}
	positive := func(key string, f float64) {
		if f <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %v", key, f))
		}
	}

	if strings.TrimSpace(c.BLE.DeviceID) == "" {
		errs = append(errs, errors.New("ble.device_id is required"))
	}
	if strings.TrimSpace(c.BLE.ServiceUUID) == "" {
		errs = append(errs, errors.New("ble.service_uuid is required"))
	}
	if c.BLE.MockPort < 0 || c.BLE.MockPort > 65535 {
		errs = append(errs, fmt.Errorf("ble.mock_port out of range: %d", c.BLE.MockPort))
	}
	if c.BLE.MockTicksPerSecond < 0 {
		errs = append(errs, fmt.Errorf("ble.mock_ticks_per_second must be >= 0, got %v", c.BLE.MockTicksPerSecond))
	}

	positiveDuration("speed.retention_window", c.Speed.RetentionWindow)
	positiveDuration("speed.period", c.Speed.Period)
	positive("speed.circumference", c.Speed.Circumference)
	positive("speed.conversion", c.Speed.Conversion)

	switch c.Location.Source {
	case SourceNMEA:
		if c.Location.SerialPort == "" {
			errs = append(errs, errors.New("location.serial_port is required for the nmea source"))
		}
		positive("location.baud_rate", float64(c.Location.BaudRate))
	case SourceSim, SourceNone:
	default:
		errs = append(errs, fmt.Errorf("location.source must be nmea, sim or none, got %q", c.Location.Source))
	}
	positiveDuration("location.poll_period", c.Location.PollPeriod)
	positiveDuration("location.timeout", c.Location.Timeout)

	if c.Trail.Dir == "" {
		errs = append(errs, errors.New("trail.dir is required"))
	}
	positiveDuration("trail.sample_period", c.Trail.SamplePeriod)

	positive("log.max_size_mb", float64(c.Log.MaxSizeMB))

	return errors.Join(errs...)
}

func (c *Config) LinkConfig() bt.LinkConfig {
	return bt.LinkConfig{
		DeviceID:    c.BLE.DeviceID,
		ServiceUUID: c.BLE.ServiceUUID,
		Greeting:    []byte(c.BLE.Greeting),
	}
}

func (c *Config) CapabilityTable() bt.CapabilityTable {
	return bt.CapabilityTable{
		WriteUUIDs:  c.BLE.WriteUUIDs,
		NotifyUUIDs: c.BLE.NotifyUUIDs,
	}
}

func (c *Config) MockAdapterConfig() bt.MockAdapterConfig {
	return bt.MockAdapterConfig{
		DeviceID:       c.BLE.DeviceID,
		ServerPort:     c.BLE.MockPort,
		TicksPerSecond: c.BLE.MockTicksPerSecond,
	}
}

func (c *Config) EstimatorConfig() speed.EstimatorConfig {
	return speed.EstimatorConfig{
		Period:        c.Speed.Period,
		Circumference: c.Speed.Circumference,
		Conversion:    c.Speed.Conversion,
	}
}

func (c *Config) PollerConfig() location.PollerConfig {
	return location.PollerConfig{
		Period:  c.Location.PollPeriod,
		Timeout: c.Location.Timeout,
	}
}

func (c *Config) SimConfig() location.SimConfig {
	sim := location.DefaultSimConfig()
	sim.StartLatitude = c.Location.SimStartLat
	sim.StartLongitude = c.Location.SimStartLon
	return sim
}

func (c *Config) RecorderConfig() trail.Config {
	return trail.Config{
		Dir:           c.Trail.Dir,
		SamplePeriod:  c.Trail.SamplePeriod,
		SyncEachPoint: c.Trail.SyncEachPoint,
	}
}
