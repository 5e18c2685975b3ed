package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/walkie/pkg/model"
	"github.com/NicolasHaas/walkie/pkg/store"
)

// EnvPrefix prefixes environment overrides, e.g. WALKIE_STORE_DRIVER.
const EnvPrefix = "WALKIE"

// LoadConfig builds a Config from defaults, an optional YAML file at path,
// and WALKIE_* environment variables, in increasing precedence.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	def := DefaultConfig()
	v.SetDefault("listen", def.Listen)
	v.SetDefault("ws_path", def.WSPath)
	v.SetDefault("static_dir", def.StaticDir)
	v.SetDefault("recording_timeout", def.RecordingTimeout)
	v.SetDefault("join_timeout", def.JoinTimeout)
	v.SetDefault("send_buffer", def.SendBuffer)
	v.SetDefault("max_message_bytes", def.MaxMessageBytes)
	v.SetDefault("rate_limit", def.RateLimit)
	v.SetDefault("rate_burst", def.RateBurst)
	v.SetDefault("metrics_log_interval", def.MetricsLogInterval)
	v.SetDefault("store.driver", def.Store.Driver)
	v.SetDefault("store.path", def.Store.Path)
	v.SetDefault("store.dsn", def.Store.DSN)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)

	// Env overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// PORT is what hosting platforms set.
	if port := os.Getenv("PORT"); port != "" && os.Getenv(EnvPrefix+"_LISTEN") == "" {
		v.SetDefault("listen", ":"+port)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// UserYAML represents a user in YAML export.
type UserYAML struct {
	Username string `yaml:"username"`
	Online   bool   `yaml:"online,omitempty"`
}

// UsersExport is the top-level YAML for user export.
type UsersExport struct {
	Users []UserYAML `yaml:"users"`
}

// ExportUsersYAML exports the durable presence list as YAML. online may be
// nil when no hub is running.
func ExportUsersYAML(p *store.Presence, online func(string) bool) ([]byte, error) {
	export := UsersExport{Users: []UserYAML{}}
	for _, name := range p.List() {
		u := UserYAML{Username: name}
		if online != nil {
			u.Online = online(name)
		}
		export.Users = append(export.Users, u)
	}
	return yaml.Marshal(&export)
}

// ImportUsersYAML merges the users listed in data into the presence list and
// returns how many were added. Blank names are skipped.
func ImportUsersYAML(ctx context.Context, data []byte, p *store.Presence) (int, error) {
	var doc UsersExport
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parse users: %w", err)
	}

	names := make([]string, 0, len(doc.Users))
	for _, u := range doc.Users {
		name, err := model.NormalizeUsername(u.Username)
		if err != nil {
			slog.Warn("skipping user in import", "username", u.Username, "err", err)
			continue
		}
		names = append(names, name)
	}

	added, err := p.Merge(ctx, names)
	if err != nil {
		return added, fmt.Errorf("import users: %w", err)
	}
	slog.Info("imported users from YAML", "count", added)
	return added, nil
}
