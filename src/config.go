package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	Read configuration information from a file.
 *
 * Description:	One YAML file, see ecubridge.yaml for a commented example.
 *		Anything left out gets a default.  The per-channel filter
 *		and patch settings are checked by the ChannelTable when it
 *		is configured, everything else is checked here.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
	"gopkg.in/yaml.v3"
)

const (
	DEFAULT_COMMAND_PORT      = 5999
	DEFAULT_TAP_GROUP         = "239.255.0.1"
	DEFAULT_TAP_RAW_PORT      = 6001
	DEFAULT_TAP_NORMAL_PORT   = 6002
	DEFAULT_TAP_OUTPUT_PORT   = 6003
	DEFAULT_TAP_INTERFACE     = "lo"
	DEFAULT_READ_TIMEOUT      = 10 * time.Second
	DEFAULT_COMMAND_TIMEOUT   = 50 * time.Millisecond
	DEFAULT_BAUD              = 19200
	DEFAULT_STATUS_TIME_FMT   = "%Y-%m-%d %H:%M:%S"
	DEFAULT_DNS_SD_NAME       = "ECU Bridge"
	DEFAULT_CONFIG_FILE       = "/etc/ecubridge/ecubridge.yaml"
	DEFAULT_CABLE             = "ft4232h"
	DEFAULT_DL32_USB_SLOT     = 1
	DEFAULT_SOLODL_USB_SLOT   = 2
	DEFAULT_UNPOWERED_WARNING = 600
)

type BridgeConfig struct {
	CommandPort    int           `yaml:"command_port"`
	CommandTimeout time.Duration `yaml:"command_timeout"`

	TapGroup     string `yaml:"data_tap_group"`
	TapInterface string `yaml:"data_tap_interface"`
	TapRaw       int    `yaml:"data_tap_raw"`
	TapNormal    int    `yaml:"data_tap_normal"`
	TapOutput    int    `yaml:"data_tap_output"`

	ReadTimeout time.Duration `yaml:"read_timeout"`
	MaxRetries  int           `yaml:"max_retries"`

	StatusTimeFormat string `yaml:"status_time_format"`

	DNSSD     bool   `yaml:"dns_sd"`
	DNSSDName string `yaml:"dns_sd_name"`
}

type PortConfig struct {
	USBSlot int    `yaml:"usb_slot"`
	Device  string `yaml:"device"`
	Baud    int    `yaml:"baud"`
}

type PortsConfig struct {
	Cable  string     `yaml:"cable"`
	DL32   PortConfig `yaml:"dl32"`
	SoloDL PortConfig `yaml:"solodl"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type Config struct {
	Bridge        BridgeConfig `yaml:"bridge"`
	Ports         PortsConfig  `yaml:"ports"`
	InputFilters  []string     `yaml:"input_filters"`
	OutputFilters []string     `yaml:"output_filters"`
	Patch         []int        `yaml:"patch"`
	Log           LogConfig    `yaml:"log"`

	path string
}

// DefaultConfig is the configuration with nothing in the file: passthrough
// on the five DL-32 channels, null everywhere else, straight patching.
func DefaultConfig() *Config {
	var cfg = &Config{ //nolint:exhaustruct
		Bridge: BridgeConfig{
			CommandPort:      DEFAULT_COMMAND_PORT,
			CommandTimeout:   DEFAULT_COMMAND_TIMEOUT,
			TapGroup:         DEFAULT_TAP_GROUP,
			TapInterface:     DEFAULT_TAP_INTERFACE,
			TapRaw:           DEFAULT_TAP_RAW_PORT,
			TapNormal:        DEFAULT_TAP_NORMAL_PORT,
			TapOutput:        DEFAULT_TAP_OUTPUT_PORT,
			ReadTimeout:      DEFAULT_READ_TIMEOUT,
			MaxRetries:       0,
			StatusTimeFormat: DEFAULT_STATUS_TIME_FMT,
			DNSSD:            false,
			DNSSDName:        DEFAULT_DNS_SD_NAME,
		},
		Ports: PortsConfig{
			Cable:  DEFAULT_CABLE,
			DL32:   PortConfig{USBSlot: DEFAULT_DL32_USB_SLOT, Device: "", Baud: DEFAULT_BAUD},
			SoloDL: PortConfig{USBSlot: DEFAULT_SOLODL_USB_SLOT, Device: "", Baud: DEFAULT_BAUD},
		},
		Log: LogConfig{Level: "info", File: ""},
	}

	for c := 1; c <= NUM_CHANNELS; c++ {
		if c <= 5 {
			cfg.InputFilters = append(cfg.InputFilters, "passthrough")
		} else {
			cfg.InputFilters = append(cfg.InputFilters, "null")
		}

		cfg.OutputFilters = append(cfg.OutputFilters, "passthrough")
		cfg.Patch = append(cfg.Patch, c)
	}

	return cfg
}

/*-------------------------------------------------------------------
 *
 * Name:	LoadConfig
 *
 * Purpose:	Read and check the configuration file.
 *
 * Returns:	Config, or an error wrapping ErrConfig.
 *
 *--------------------------------------------------------------------*/

func LoadConfig(path string) (*Config, error) {
	var data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	return ParseConfig(path, data)
}

// ParseConfig is LoadConfig for a file already read.
func ParseConfig(path string, data []byte) (*Config, error) {
	var cfg = DefaultConfig()
	cfg.path = path

	// A list in the file replaces the default list as a whole.
	cfg.InputFilters = nil
	cfg.OutputFilters = nil
	cfg.Patch = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrConfig, path, err)
	}

	var defaults = DefaultConfig()

	if cfg.InputFilters == nil {
		cfg.InputFilters = defaults.InputFilters
	}

	if cfg.OutputFilters == nil {
		cfg.OutputFilters = defaults.OutputFilters
	}

	if cfg.Patch == nil {
		cfg.Patch = defaults.Patch
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Path is where the configuration came from, empty for DefaultConfig.
func (cfg *Config) Path() string {
	return cfg.path
}

func (cfg *Config) ChannelConfig() ChannelConfig {
	return ChannelConfig{
		InputFilters:  cfg.InputFilters,
		OutputFilters: cfg.OutputFilters,
		Patch:         cfg.Patch,
	}
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}

// Validate checks everything except the channel settings.
func (cfg *Config) Validate() error {
	var b = &cfg.Bridge

	if !validPort(b.CommandPort) {
		return fmt.Errorf("%w: bad command_port %d", ErrConfig, b.CommandPort)
	}

	for _, p := range []int{b.TapRaw, b.TapNormal, b.TapOutput} {
		if !validPort(p) {
			return fmt.Errorf("%w: bad data tap port %d", ErrConfig, p)
		}
	}

	if b.TapRaw == b.TapNormal || b.TapRaw == b.TapOutput || b.TapNormal == b.TapOutput {
		return fmt.Errorf("%w: the data tap ports raw, normal and output must all be different", ErrConfig)
	}

	var group = net.ParseIP(b.TapGroup)
	if group == nil || group.To4() == nil || !group.IsMulticast() {
		return fmt.Errorf("%w: data_tap_group %q is not an IPv4 multicast address", ErrConfig, b.TapGroup)
	}

	if b.ReadTimeout <= 0 {
		return fmt.Errorf("%w: read_timeout must be positive", ErrConfig)
	}

	if b.CommandTimeout <= 0 {
		return fmt.Errorf("%w: command_timeout must be positive", ErrConfig)
	}

	if b.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries can't be negative", ErrConfig)
	}

	if _, err := strftime.New(b.StatusTimeFormat); err != nil {
		return fmt.Errorf("%w: status_time_format: %w", ErrConfig, err)
	}

	if cfg.Ports.Cable != DEFAULT_CABLE {
		return fmt.Errorf("%w: unsupported cable %q", ErrConfig, cfg.Ports.Cable)
	}

	if cfg.Ports.DL32.Device != "" && cfg.Ports.DL32.Device == cfg.Ports.SoloDL.Device {
		return fmt.Errorf("%w: dl32 and solodl both on %s", ErrConfig, cfg.Ports.DL32.Device)
	}

	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("%w: log level: %w", ErrConfig, err)
	}

	return nil
}
