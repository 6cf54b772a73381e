package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

type Config struct {
	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`
	LogFormat      string `env:"LOG_FORMAT"       envDefault:"console" validate:"oneof=console json"`

	RedisEnabled  bool   `env:"REDIS_ENABLED"  envDefault:"true"`
	RedisHost     string `env:"REDIS_HOST"     envDefault:"localhost"`
	RedisPort     uint16 `env:"REDIS_PORT"     envDefault:"6379" validate:"min=1000,max=65535"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"       envDefault:"0" validate:"min=0,max=15"`

	RoomDirectoryEnabled bool   `env:"ROOM_DIRECTORY_ENABLED" envDefault:"false"`
	PostgresHost         string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort         string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser         string `env:"POSTGRES_USER"     envDefault:"studysync"`
	PostgresPassword     string `env:"POSTGRES_PASSWORD" envDefault:"studysync"`
	PostgresDb           string `env:"POSTGRES_DB"       envDefault:"studysync"`

	// Empty disables token checks; identities then come from query params.
	AuthJWTSecret string `env:"AUTH_JWT_SECRET"`

	IceServerURLs []string `env:"RTC_ICE_SERVERS" envDefault:"stun:stun.l.google.com:19302" envSeparator:","`
	IceUsername   string   `env:"RTC_ICE_USERNAME"`
	IceCredential string   `env:"RTC_ICE_CREDENTIAL"`

	WsReadLimitBytes int64         `env:"WS_READ_LIMIT_BYTES" envDefault:"1048576" validate:"min=4096"`
	WsWriteWait      time.Duration `env:"WS_WRITE_WAIT"       envDefault:"10s"`
	WsPongWait       time.Duration `env:"WS_PONG_WAIT"        envDefault:"60s"`
	WsPingPeriod     time.Duration `env:"WS_PING_PERIOD"      envDefault:"54s" validate:"ltfield=WsPongWait"`
	WsSendBuffer     int           `env:"WS_SEND_BUFFER"      envDefault:"256" validate:"min=1"`
	RoomQueueSize    int           `env:"ROOM_QUEUE_SIZE"     envDefault:"512" validate:"min=1"`

	CallMaxMembers int    `env:"CALL_MAX_MEMBERS" envDefault:"8"   validate:"min=2,max=32"`
	CallEndPolicy  string `env:"CALL_END_POLICY"  envDefault:"any" validate:"oneof=any originator"`

	WhiteboardMaxStrokes    int  `env:"WHITEBOARD_MAX_STROKES"    envDefault:"2000" validate:"min=1"`
	WhiteboardReplayStrokes bool `env:"WHITEBOARD_REPLAY_STROKES" envDefault:"false"`
	WhiteboardMaxImages     int  `env:"WHITEBOARD_MAX_IMAGES"     envDefault:"32" validate:"min=1"`

	TimerResyncEvery int `env:"TIMER_RESYNC_EVERY" envDefault:"5" validate:"min=1,max=60"`

	OccupancySyncInterval time.Duration `env:"OCCUPANCY_SYNC_INTERVAL" envDefault:"10s"`
	OccupancyTTL          time.Duration `env:"OCCUPANCY_TTL"           envDefault:"30s" validate:"gtfield=OccupancySyncInterval"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}

// ICEServers turns the RTC_ICE_* settings into the shape browsers and pion
// both accept.
func (c *Config) ICEServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(c.IceServerURLs))
	for _, raw := range c.IceServerURLs {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}
		server := webrtc.ICEServer{URLs: []string{url}}
		// STUN never takes credentials.
		if !strings.HasPrefix(url, "stun:") {
			server.Username = c.IceUsername
			server.Credential = c.IceCredential
		}
		servers = append(servers, server)
	}
	return servers
}

// Logger builds the process logger for LogFormat: JSON lines for "json",
// the human-readable development encoder otherwise.
func (c *Config) Logger() (*zap.Logger, error) {
	if c.LogFormat == "json" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
