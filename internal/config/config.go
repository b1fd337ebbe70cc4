package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env    string       `yaml:"env" env-default:"local"`
	API    APIConfig    `yaml:"api"`
	Socket SocketConfig `yaml:"socket"`
	Debug  DebugConfig  `yaml:"debug"`
	WebRTC WebRTCConfig `yaml:"webrtc"`
	Sync   SyncConfig   `yaml:"sync"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url" env:"API_BASE_URL" env-default:""`
	Timeout time.Duration `yaml:"timeout" env-default:"30s"`
}

type SocketConfig struct {
	URL               string        `yaml:"url" env:"SOCKET_URL" env-default:""`
	ReconnectBase     time.Duration `yaml:"reconnect_base" env-default:"1s"`
	ReconnectMax      time.Duration `yaml:"reconnect_max" env-default:"30s"`
	ReconnectAttempts int           `yaml:"reconnect_attempts" env-default:"0"`
}

type DebugConfig struct {
	Address string `yaml:"address" env-default:""`
}

type WebRTCConfig struct {
	STUNServers []string `yaml:"stun_servers" env-default:""`
}

type SyncConfig struct {
	TypingDebounce time.Duration `yaml:"typing_debounce" env-default:"1500ms"`
	TypingExpiry   time.Duration `yaml:"typing_expiry" env-default:"6s"`
	EndedLinger    time.Duration `yaml:"ended_linger" env-default:"1500ms"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults()

	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:5000"
	}
	if c.Socket.URL == "" {
		c.Socket.URL = "ws://localhost:5000/socket"
	}
	if len(c.WebRTC.STUNServers) == 0 {
		c.WebRTC.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
}
