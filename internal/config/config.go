package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Upstream    UpstreamConfig
	Render      RenderConfig
	Mail        MailConfig
	Notify      NotifyConfig
	RequestLog  RequestLogConfig
}

type ServerConfig struct {
	Port           int
	RateLimitRPS   float64
	RateLimitBurst int
}

type UpstreamConfig struct {
	BaseURL  string
	Email    string
	Password string
}

type RenderConfig struct {
	BlenderPath string
	ScenePath   string
	ScriptPath  string
	OutputRoot  string
	QuotaLimit  int
	Slots       int
	TimeoutSec  int
	Preview     bool
}

type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type NotifyConfig struct {
	WebhookURL string
}

type RequestLogConfig struct {
	Path string
}

func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("avatar_env", "")
	v.SetDefault("app_env", "")
	v.SetDefault("go_env", "")
	v.SetDefault("avatar_port", 8080)
	v.SetDefault("avatar_rate_limit_rps", 1.0)
	v.SetDefault("avatar_rate_limit_burst", 3)
	v.SetDefault("altspace_base_url", "")
	v.SetDefault("altspace_email", "")
	v.SetDefault("altspace_password", "")
	v.SetDefault("blender_path", "blender")
	v.SetDefault("blender_scene", "assemble.blend")
	v.SetDefault("blender_script", "avatar.py")
	v.SetDefault("avatar_output_root", "output")
	v.SetDefault("avatar_quota_limit", 6)
	v.SetDefault("avatar_render_slots", 2)
	v.SetDefault("avatar_render_timeout_sec", 120)
	v.SetDefault("avatar_render_preview", true)
	v.SetDefault("smtp_host", "")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("smtp_username", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("smtp_from", "")
	v.SetDefault("notify_webhook_url", "")
	v.SetDefault("avatar_request_log", "requests.log")

	port := v.GetInt("avatar_port")
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid AVATAR_PORT: %d", port)
	}

	quota := v.GetInt("avatar_quota_limit")
	if quota <= 0 {
		quota = 6
	}

	slots := v.GetInt("avatar_render_slots")
	if slots <= 0 {
		slots = 1
	}
	if slots > 16 {
		slots = 16
	}

	timeoutSec := v.GetInt("avatar_render_timeout_sec")
	if timeoutSec <= 0 {
		timeoutSec = 120
	}

	rps := v.GetFloat64("avatar_rate_limit_rps")
	if rps <= 0 {
		rps = 1.0
	}

	burst := v.GetInt("avatar_rate_limit_burst")
	if burst <= 0 {
		burst = 3
	}

	cfg := Config{
		Environment: resolveEnvironment(v),
		Server: ServerConfig{
			Port:           port,
			RateLimitRPS:   rps,
			RateLimitBurst: burst,
		},
		Upstream: UpstreamConfig{
			BaseURL:  strings.TrimRight(strings.TrimSpace(v.GetString("altspace_base_url")), "/"),
			Email:    strings.TrimSpace(v.GetString("altspace_email")),
			Password: v.GetString("altspace_password"),
		},
		Render: RenderConfig{
			BlenderPath: strings.TrimSpace(v.GetString("blender_path")),
			ScenePath:   strings.TrimSpace(v.GetString("blender_scene")),
			ScriptPath:  strings.TrimSpace(v.GetString("blender_script")),
			OutputRoot:  strings.TrimSpace(v.GetString("avatar_output_root")),
			QuotaLimit:  quota,
			Slots:       slots,
			TimeoutSec:  timeoutSec,
			Preview:     v.GetBool("avatar_render_preview"),
		},
		Mail: MailConfig{
			Host:     strings.TrimSpace(v.GetString("smtp_host")),
			Port:     v.GetInt("smtp_port"),
			Username: strings.TrimSpace(v.GetString("smtp_username")),
			Password: v.GetString("smtp_password"),
			From:     strings.TrimSpace(v.GetString("smtp_from")),
		},
		Notify: NotifyConfig{
			WebhookURL: strings.TrimSpace(v.GetString("notify_webhook_url")),
		},
		RequestLog: RequestLogConfig{
			Path: strings.TrimSpace(v.GetString("avatar_request_log")),
		},
	}

	if cfg.Render.OutputRoot == "" {
		cfg.Render.OutputRoot = "output"
	}
	if !cfg.IsLocalDevelopment() {
		if cfg.Upstream.BaseURL == "" {
			return Config{}, fmt.Errorf("ALTSPACE_BASE_URL is required outside local/dev environments")
		}
		if cfg.Upstream.Email == "" || cfg.Upstream.Password == "" {
			return Config{}, fmt.Errorf("ALTSPACE_EMAIL and ALTSPACE_PASSWORD are required outside local/dev environments")
		}
	}

	return cfg, nil
}

func (c Config) IsLocalDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "", "local", "dev", "development", "test":
		return true
	default:
		return false
	}
}

func (c Config) RenderTimeout() time.Duration {
	return time.Duration(c.Render.TimeoutSec) * time.Second
}

func resolveEnvironment(v *viper.Viper) string {
	for _, key := range []string{"avatar_env", "app_env", "go_env"} {
		value := strings.TrimSpace(v.GetString(key))
		if value != "" {
			return strings.ToLower(value)
		}
	}
	return ""
}
