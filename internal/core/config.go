package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Backend and handler names accepted in the config.
const (
	BackendSelect = "select"
	BackendPoll   = "poll"

	HandlerEcho = "echo"
	HandlerChat = "chat"
)

// Config contains all of the configuration options available to the server
// and the handlers it hosts.
type Config struct {
	// Port on which the server will listen for connections. 0 lets the OS choose.
	Port int `mapstructure:"port"`
	// Multiplexing backend. Options: select, poll
	Backend string `mapstructure:"backend"`
	// Connection handler. Options: echo, chat
	Handler string `mapstructure:"handler"`
	// Size of the buffer used for each read from a client.
	ReadBufferSize int `mapstructure:"read_buffer_size"`
	// Maximum number of concurrent connections the server will allow. 0 is unlimited.
	MaxConnections int `mapstructure:"max_connections"`

	Logging struct {
		// Minimum level of a log required to be written. Options: trace, debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
	} `mapstructure:"logging"`

	ChatServer struct {
		// Prompt sent to every client when it connects.
		Prompt string `mapstructure:"prompt"`
	} `mapstructure:"chat_server"`

	Debugging struct {
		// Enable extra info-providing mechanisms for the server.
		Enabled bool `mapstructure:"enabled"`
		// Port on which a pprof server will be started if debug mode is enabled.
		PprofPort int `mapstructure:"pprof_port"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "MUXSERVER"

var defaults = map[string]interface{}{
	"port":                  9000,
	"backend":               BackendPoll,
	"handler":               HandlerChat,
	"read_buffer_size":      1024,
	"max_connections":       0,
	"logging.log_level":     "info",
	"logging.log_file_path": "",
	"chat_server.prompt":    "Enter your nickname: ",
	"debugging.enabled":     false,
	"debugging.pprof_port":  6060,
}

// NewViper returns a Viper instance populated with the default config values
// and bound to the MUXSERVER_ environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()
	return v
}

// LoadConfig reads config.yaml from configPath (if there is one) into v and
// returns the resulting Config. A missing config file is not an error since
// every option has a default.
func LoadConfig(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.AddConfigPath(configPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, logging.log_level can be set using: <envVarPrefix>_LOGGING_LOG_LEVEL
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks for option values the server can't start with.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 0xFFFF {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch strings.ToLower(c.Backend) {
	case BackendSelect, BackendPoll:
	default:
		return fmt.Errorf("invalid backend %q (expected %s or %s)", c.Backend, BackendSelect, BackendPoll)
	}

	switch strings.ToLower(c.Handler) {
	case HandlerEcho, HandlerChat:
	default:
		return fmt.Errorf("invalid handler %q (expected %s or %s)", c.Handler, HandlerEcho, HandlerChat)
	}

	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("read_buffer_size must be positive, got %d", c.ReadBufferSize)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections can not be negative, got %d", c.MaxConnections)
	}
	return nil
}

// ListenAddress returns the wildcard address the server binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("0.0.0.0:%d", c.Port)
}
