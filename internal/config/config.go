package config

import (
	"encoding/json"
	"errors"
	"os"
)

// Config is read once from config.json and cached. Duration fields are
// strings in the "10s" / "5m" format parsed by utils.ParseStringTime.
type Config struct {
	Database struct {
		Enabled            bool   `json:"enabled"`
		Host               string `json:"host"`
		Port               uint64 `json:"port"`
		Username           string `json:"username"`
		Password           string `json:"password"`
		Database           string `json:"database"`
		UseTLS             bool   `json:"use_tls"`
		ConnectTimeout     string `json:"connect_timeout"`
		SocketTimeout      string `json:"socket_timeout"`
		ConnectIdleTimeout string `json:"connect_idle_timeout"`
		OperationTimeout   string `json:"operation_timeout"`
		Heartbeat          string `json:"heartbeat"`
		MinPoolSize        uint64 `json:"min_pool_size"`
		MaxPoolSize        uint64 `json:"max_pool_size"`
	} `json:"database"`
	Realtime struct {
		AuthSecret         string `json:"auth_secret"`
		HeartbeatInterval  string `json:"heartbeat_interval"`
		HeartbeatTimeout   string `json:"heartbeat_timeout"`
		LatencyThresholdMs int64  `json:"latency_threshold_ms"`
		TypingTTL          string `json:"typing_ttl"`
		TypingRateLimit    string `json:"typing_rate_limit"`
		SendTimeout        string `json:"send_timeout"`
		StaleSendThreshold string `json:"stale_send_threshold"`
		ReconnectBaseDelay string `json:"reconnect_base_delay"`
		ReconnectMaxDelay  string `json:"reconnect_max_delay"`
		ReconnectAttempts  int    `json:"reconnect_attempts"`
		MaxConnections     int    `json:"max_connections"`
	} `json:"realtime"`
	DebugMode bool   `json:"debug_mode"`
	AppName   string `json:"app_name"`
	AppPort   int    `json:"app_port"`
}

var config Config
var initialized = false

func defaults() Config {
	var c Config
	c.AppName = "startupmatch-realtime"
	c.AppPort = 4001
	c.Database.ConnectTimeout = "10s"
	c.Database.SocketTimeout = "10s"
	c.Database.ConnectIdleTimeout = "5m"
	c.Database.OperationTimeout = "5s"
	c.Database.Heartbeat = "10s"
	c.Database.MinPoolSize = 2
	c.Database.MaxPoolSize = 16
	c.Realtime.HeartbeatInterval = "30s"
	c.Realtime.HeartbeatTimeout = "10s"
	c.Realtime.LatencyThresholdMs = 1000
	c.Realtime.TypingTTL = "3s"
	c.Realtime.TypingRateLimit = "1s"
	c.Realtime.SendTimeout = "15s"
	c.Realtime.StaleSendThreshold = "30s"
	c.Realtime.ReconnectBaseDelay = "1s"
	c.Realtime.ReconnectMaxDelay = "30s"
	c.Realtime.ReconnectAttempts = 5
	c.Realtime.MaxConnections = 10000
	return c
}

func ReadConfig() (Config, error) {
	bytes, err := os.ReadFile("config.json")

	if err != nil {
		config = defaults()
		writer, _ := os.OpenFile("config.json", os.O_WRONLY|os.O_CREATE, 0644)
		data, _ := json.MarshalIndent(config, "", "\t")
		_, _ = writer.Write(data)
		_ = writer.Close()
		return config, errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
	}

	config = defaults()
	err = json.Unmarshal(bytes, &config)

	if err != nil {
		return config, errors.New("the configuration file does not contain valid JSON")
	}

	initialized = true
	return config, nil
}

func GetConfig() (Config, error) {
	if initialized {
		return config, nil
	}
	return ReadConfig()
}
