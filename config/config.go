package config

import (
	"encoding/json"
	"os"

	"github.com/saeki-dev/anifight/db"
)

const (
	RoomComponentName = "room"

	// RoomGroupPrefix prefixes pitaya group names so room codes never
	// collide with other group namespaces.
	RoomGroupPrefix = "room_"
)

type Config struct {
	Database     db.Config `json:"database"`
	Redis        Redis     `json:"redis"`
	FrontendType string    `json:"frontend_type"`

	WSAddr   string `json:"ws_addr"`
	HTTPAddr string `json:"http_addr"`
	JoinURL  string `json:"join_url"`

	HeartbeatSeconds     int `json:"heartbeat_seconds"`
	DisconnectGraceSecs  int `json:"disconnect_grace_seconds"`
	StateTTLSeconds      int `json:"state_ttl_seconds"`
	RoomRetentionMinutes int `json:"room_retention_minutes"`
}

type Redis struct {
	// Addr empty means the in-memory state store is used instead.
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func Read(configPath string) *Config {
	b, err := os.ReadFile(configPath)
	if err != nil {
		panic(err)
	}
	var config Config
	if err := json.Unmarshal(b, &config); err != nil {
		panic(err)
	}
	config.applyDefaults()
	return &config
}

func (c *Config) applyDefaults() {
	if c.WSAddr == "" {
		c.WSAddr = ":3250"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":3251"
	}
	if c.FrontendType == "" {
		c.FrontendType = "anifight"
	}
	if c.HeartbeatSeconds <= 0 {
		c.HeartbeatSeconds = 5
	}
	if c.DisconnectGraceSecs <= 0 {
		c.DisconnectGraceSecs = 10
	}
	if c.StateTTLSeconds <= 0 {
		c.StateTTLSeconds = 900
	}
	if c.RoomRetentionMinutes <= 0 {
		c.RoomRetentionMinutes = 30
	}
}
