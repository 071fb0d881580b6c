// Package config loads weecore's process-level settings: home directory,
// relay listener definitions, logging, and startup-only knobs that exist
// before any IRC server has been configured through internal/option's
// runtime option store.
//
// This is deliberately a different format and a different layer from
// internal/option: option.File parses weecore's own `[section]` /
// `key = value` config files (spec §6), the same line-oriented format the
// original program uses for every option. config.Settings is this
// module's own bootstrap file — which home directory to use, which relay
// ports to open, what token gates the relay-API face — read once at
// startup, before internal/option even has a file to parse. Grounded on
// irc/config/config.go's format-by-extension loading and env-tag
// override scheme, generalized from one fixed struct to any format
// (yaml/toml/json) the file extension names.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// RelayListener is one configured relay port (spec §4.9).
type RelayListener struct {
	Name     string `yaml:"name" toml:"name" json:"name"`
	Address  string `yaml:"address" toml:"address" json:"address" env:"WEECORE_RELAY_ADDRESS"`
	Face     string `yaml:"face" toml:"face" json:"face"` // "irc" or "api"
	Password string `yaml:"password" toml:"password" json:"password" env:"WEECORE_RELAY_PASSWORD"`
}

// Settings is the top-level process config.
type Settings struct {
	Home string `yaml:"home" toml:"home" json:"home" env:"WEECORE_HOME"`

	LogLevel string `yaml:"log_level" toml:"log_level" json:"log_level" env:"WEECORE_LOG_LEVEL"`

	Relay []RelayListener `yaml:"relay" toml:"relay" json:"relay"`

	Console struct {
		Enabled      bool   `yaml:"enabled" toml:"enabled" json:"enabled" env:"WEECORE_CONSOLE_ENABLED"`
		Address      string `yaml:"address" toml:"address" json:"address" env:"WEECORE_CONSOLE_ADDRESS"`
		OIDCIssuer   string `yaml:"oidc_issuer" toml:"oidc_issuer" json:"oidc_issuer" env:"WEECORE_OIDC_ISSUER"`
		OIDCClientID string `yaml:"oidc_client_id" toml:"oidc_client_id" json:"oidc_client_id" env:"WEECORE_OIDC_CLIENT_ID"`
		OIDCSecret   string `yaml:"oidc_client_secret" toml:"oidc_client_secret" json:"oidc_client_secret" env:"WEECORE_OIDC_CLIENT_SECRET"`
	} `yaml:"console" toml:"console" json:"console"`

	// DCC holds the inbound-transfer policy spec §4.8 describes: where
	// received files land and when an advertisement is accepted or
	// resumed without waiting on a user command.
	DCC struct {
		DownloadDir        string `yaml:"download_dir" toml:"download_dir" json:"download_dir" env:"WEECORE_DCC_DOWNLOAD_DIR"`
		AutoAcceptMaxBytes int64  `yaml:"auto_accept_max_bytes" toml:"auto_accept_max_bytes" json:"auto_accept_max_bytes" env:"WEECORE_DCC_AUTO_ACCEPT_MAX_BYTES"`
		AutoResume         bool   `yaml:"auto_resume" toml:"auto_resume" json:"auto_resume" env:"WEECORE_DCC_AUTO_RESUME"`
		AutoRename         bool   `yaml:"auto_rename" toml:"auto_rename" json:"auto_rename" env:"WEECORE_DCC_AUTO_RENAME"`
	} `yaml:"dcc" toml:"dcc" json:"dcc"`

	// Source is the path this was loaded from; empty for defaults-only.
	Source string `yaml:"-" toml:"-" json:"-"`
}

// Defaults returns the settings a fresh install starts from.
func Defaults() *Settings {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	s := &Settings{
		Home:     home + "/.weecore",
		LogLevel: "info",
	}
	s.DCC.DownloadDir = home + "/.weecore/dcc"
	s.DCC.AutoAcceptMaxBytes = 10 * 1024 * 1024
	s.DCC.AutoResume = true
	s.DCC.AutoRename = true
	return s
}

// Load reads path (format chosen by its extension: .yaml/.yml, .toml, or
// .json; anything else defaults to YAML, matching irc/config/config.go),
// then applies environment-variable overrides from each field's env tag.
func Load(path string) (*Settings, error) {
	s := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	switch {
	case strings.HasSuffix(path, ".toml"):
		err = toml.Unmarshal(data, s)
	case strings.HasSuffix(path, ".json"):
		err = json.Unmarshal(data, s)
	default:
		err = yaml.Unmarshal(data, s)
	}
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	s.Source = path
	applyEnvOverrides(s)
	return s, nil
}

// Reload re-reads Source in place, matching irc/config/config.go's
// Reload/rehash contract: on error the receiver is left untouched.
func (s *Settings) Reload() error {
	if s.Source == "" {
		return fmt.Errorf("config: no source to reload from")
	}
	fresh, err := Load(s.Source)
	if err != nil {
		return err
	}
	*s = *fresh
	return nil
}

func applyEnvOverrides(v interface{}) {
	applyEnvOverridesRecursive(reflect.ValueOf(v).Elem())
}

func applyEnvOverridesRecursive(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		if field.PkgPath != "" {
			continue
		}
		if envTag := field.Tag.Get("env"); envTag != "" {
			if raw, ok := os.LookupEnv(envTag); ok {
				setFromEnv(fv, raw)
			}
			continue
		}
		switch fv.Kind() {
		case reflect.Struct:
			applyEnvOverridesRecursive(fv)
		case reflect.Slice:
			for j := 0; j < fv.Len(); j++ {
				if fv.Index(j).Kind() == reflect.Struct {
					applyEnvOverridesRecursive(fv.Index(j))
				}
			}
		}
	}
}

func setFromEnv(field reflect.Value, raw string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			field.SetInt(n)
		}
	}
}
