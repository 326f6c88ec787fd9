package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0o600); err != nil {
		t.Fatalf("error writing test config: %v", err)
	}
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(NewViper(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig() returned an unexpected error: %v", err)
	}

	expected := &Config{
		Port:           9000,
		Backend:        BackendPoll,
		Handler:        HandlerChat,
		ReadBufferSize: 1024,
	}
	expected.Logging.LogLevel = "info"
	expected.ChatServer.Prompt = "Enter your nickname: "
	expected.Debugging.PprofPort = 6060

	if diff := cmp.Diff(expected, cfg); diff != "" {
		t.Errorf("LoadConfig() did not return the defaults; diff:\n%s", diff)
	}
}

func TestLoadConfig_File(t *testing.T) {
	dir := writeConfigFile(t, `
port: 8080
backend: select
handler: echo
max_connections: 32
logging:
  log_level: debug
chat_server:
  prompt: "name? "
`)

	cfg, err := LoadConfig(NewViper(), dir)
	if err != nil {
		t.Fatalf("LoadConfig() returned an unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port = 8080, got = %d", cfg.Port)
	}
	if cfg.Backend != BackendSelect || cfg.Handler != HandlerEcho {
		t.Errorf("expected select/echo, got = %s/%s", cfg.Backend, cfg.Handler)
	}
	if cfg.MaxConnections != 32 {
		t.Errorf("expected max_connections = 32, got = %d", cfg.MaxConnections)
	}
	if cfg.Logging.LogLevel != "debug" {
		t.Errorf("expected log level = debug, got = %s", cfg.Logging.LogLevel)
	}
	if cfg.ChatServer.Prompt != "name? " {
		t.Errorf("expected prompt = %q, got = %q", "name? ", cfg.ChatServer.Prompt)
	}
	// Options missing from the file keep their defaults.
	if cfg.ReadBufferSize != 1024 {
		t.Errorf("expected read_buffer_size = 1024, got = %d", cfg.ReadBufferSize)
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	dir := writeConfigFile(t, "port: 8080\n")
	t.Setenv("MUXSERVER_PORT", "7000")
	t.Setenv("MUXSERVER_LOGGING_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(NewViper(), dir)
	if err != nil {
		t.Fatalf("LoadConfig() returned an unexpected error: %v", err)
	}

	if cfg.Port != 7000 {
		t.Errorf("expected port = 7000, got = %d", cfg.Port)
	}
	if cfg.Logging.LogLevel != "warn" {
		t.Errorf("expected log level = warn, got = %s", cfg.Logging.LogLevel)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"malformed_yaml":  "port: [1, 2\n",
		"unknown_backend": "backend: epoll\n",
	}

	for name, contents := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(NewViper(), writeConfigFile(t, contents)); err == nil {
				t.Error("expected LoadConfig() to return an error")
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{Port: 9000, Backend: BackendPoll, Handler: HandlerChat, ReadBufferSize: 1024}
	}

	tests := map[string]struct {
		modify  func(c *Config)
		wantErr bool
	}{
		"valid":                {modify: func(c *Config) {}},
		"os_chosen_port":       {modify: func(c *Config) { c.Port = 0 }},
		"uppercase_backend":    {modify: func(c *Config) { c.Backend = "SELECT" }},
		"negative_port":        {modify: func(c *Config) { c.Port = -1 }, wantErr: true},
		"port_too_large":       {modify: func(c *Config) { c.Port = 65536 }, wantErr: true},
		"unknown_backend":      {modify: func(c *Config) { c.Backend = "kqueue" }, wantErr: true},
		"unknown_handler":      {modify: func(c *Config) { c.Handler = "http" }, wantErr: true},
		"zero_read_buffer":     {modify: func(c *Config) { c.ReadBufferSize = 0 }, wantErr: true},
		"negative_connections": {modify: func(c *Config) { c.MaxConnections = -5 }, wantErr: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() wantErr = %v, got = %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_ListenAddress(t *testing.T) {
	cfg := &Config{Port: 9000}

	addr := cfg.ListenAddress()
	expected := "0.0.0.0:9000"
	if addr != expected {
		t.Errorf("ListenAddress() want = %s, got = %s", expected, addr)
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.LogLevel = "debug"
	cfg.Logging.LogFilePath = filepath.Join(t.TempDir(), "server.log")

	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() returned an unexpected error: %v", err)
	}
	logger.Info("hello")

	contents, err := os.ReadFile(cfg.Logging.LogFilePath)
	if err != nil {
		t.Fatalf("error reading log file: %v", err)
	}
	if len(contents) == 0 {
		t.Error("expected the log line to be written to the log file")
	}

	if err := CloseLogger(logger); err != nil {
		t.Fatalf("CloseLogger() returned an unexpected error: %v", err)
	}
	if _, err := logger.Out.(*os.File).Write([]byte("late")); !errors.Is(err, os.ErrClosed) {
		t.Errorf("expected the log file to be closed, got err = %v", err)
	}

	cfg.Logging.LogLevel = "loud"
	if _, err := NewLogger(cfg); err == nil {
		t.Error("expected an invalid log level to be rejected")
	}
}

func TestCloseLogger_Stdout(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.LogLevel = "info"

	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() returned an unexpected error: %v", err)
	}
	if err := CloseLogger(logger); err != nil {
		t.Fatalf("CloseLogger() returned an unexpected error: %v", err)
	}
	// stdout must survive.
	if _, err := os.Stdout.Stat(); err != nil {
		t.Errorf("expected stdout to stay open, got err = %v", err)
	}
}
