package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	SendBuffer int           `mapstructure:"send_buffer"`
	LogLevel   string        `mapstructure:"log_level"`

	Client ClientConfig `mapstructure:"client"`
}

// ClientConfig configures the mesh CLI.
type ClientConfig struct {
	ServerURL          string        `mapstructure:"server_url"`
	ICEServers         []string      `mapstructure:"ice_servers"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	DisplayName        string        `mapstructure:"display_name"`
	Avatar             string        `mapstructure:"avatar"`
	ChatCodec          string        `mapstructure:"chat_codec"`
	VideoCodec         string        `mapstructure:"video_codec"`
	AudioCodec         string        `mapstructure:"audio_codec"`
	Capture            string        `mapstructure:"capture"`
	InboxSize          int           `mapstructure:"inbox_size"`
}

// Load reads config/config.<CONFIG_ENV>.yaml over the defaults. Every key
// can be overridden by a MESH_ environment variable, e.g.
// MESH_CLIENT_SERVER_URL. A .env file is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix("MESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 262144)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "mesh-dev-secret")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("log_level", "info")

	v.SetDefault("client.server_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("client.ice_servers", []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
	})
	v.SetDefault("client.negotiation_timeout", "30s")
	v.SetDefault("client.display_name", "guest")
	v.SetDefault("client.avatar", "")
	v.SetDefault("client.chat_codec", "json")
	v.SetDefault("client.video_codec", "vp8")
	v.SetDefault("client.audio_codec", "opus")
	v.SetDefault("client.capture", "synthetic")
	v.SetDefault("client.inbox_size", 256)
}
