// Package config loads player settings from defaults, an optional config
// file, PLAYER_* environment variables and command-line flags.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys.
const (
	KeyListenAddr     = "listen_addr"
	KeySpoolDir       = "spool_dir"
	KeyScreenWidth    = "screen_width"
	KeyScreenHeight   = "screen_height"
	KeyMPVPath        = "mpv_path"
	KeyNotifications  = "notifications"
	KeySeekIncrement  = "seek_increment"
	KeyArtworkTimeout = "artwork.timeout"
	KeyArtworkRate    = "artwork.rate"
	KeyArtworkBurst   = "artwork.burst"
	KeyArtworkDir     = "artwork.dir"
	KeyArtworkMaxAge  = "artwork.max_age"
	KeyLogLevel       = "log.level"
	KeyLogJSON        = "log.json"
)

const envPrefix = "PLAYER"

// EnvKeyReplacer maps nested keys to environment names: artwork.dir is
// PLAYER_ARTWORK_DIR.
var EnvKeyReplacer = strings.NewReplacer(".", "_")

// Defaults returns the value of every key when nothing overrides it.
func Defaults() map[string]any {
	return map[string]any{
		KeyListenAddr:     "127.0.0.1:7940",
		KeySpoolDir:       "",
		KeyScreenWidth:    1920,
		KeyScreenHeight:   1080,
		KeyMPVPath:        "",
		KeyNotifications:  true,
		KeySeekIncrement:  10 * time.Second,
		KeyArtworkTimeout: 10 * time.Second,
		KeyArtworkRate:    5.0,
		KeyArtworkBurst:   5,
		KeyArtworkDir:     filepath.Join(os.TempDir(), "player-art"),
		KeyArtworkMaxAge:  24 * time.Hour,
		KeyLogLevel:       "info",
		KeyLogJSON:        false,
	}
}

// Config is a resolved snapshot of the settings.
type Config struct {
	ListenAddr    string
	SpoolDir      string
	ScreenWidth   int
	ScreenHeight  int
	MPVPath       string
	Notifications bool
	SeekIncrement time.Duration
	Artwork       Artwork
	Log           Log
}

type Artwork struct {
	Timeout time.Duration
	Rate    float64
	Burst   int
	Dir     string
	MaxAge  time.Duration
}

type Log struct {
	Level string
	JSON  bool
}

// Setup installs defaults and environment bindings on v and reads file.
// With an empty file, player.{yaml,json,toml} is searched for in the user
// config dir and the working directory; not finding one is not an error.
func Setup(v *viper.Viper, file string) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(EnvKeyReplacer)
	v.AutomaticEnv()

	v.SetTypeByDefaultValue(true)
	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("player")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "player-session"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	log.Debugf("[config] using %s", v.ConfigFileUsed())
	return nil
}

// BindFlags binds the flags whose names match keys, with dashes for
// underscores and dots (--listen-addr, --log-level).
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if _, ok := Defaults()[key]; !ok {
			key = strings.Replace(key, "_", ".", 1)
		}
		if _, ok := Defaults()[key]; !ok {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// Load reads the current settings out of v.
func Load(v *viper.Viper) Config {
	return Config{
		ListenAddr:    v.GetString(KeyListenAddr),
		SpoolDir:      v.GetString(KeySpoolDir),
		ScreenWidth:   v.GetInt(KeyScreenWidth),
		ScreenHeight:  v.GetInt(KeyScreenHeight),
		MPVPath:       v.GetString(KeyMPVPath),
		Notifications: v.GetBool(KeyNotifications),
		SeekIncrement: v.GetDuration(KeySeekIncrement),
		Artwork: Artwork{
			Timeout: v.GetDuration(KeyArtworkTimeout),
			Rate:    v.GetFloat64(KeyArtworkRate),
			Burst:   v.GetInt(KeyArtworkBurst),
			Dir:     v.GetString(KeyArtworkDir),
			MaxAge:  v.GetDuration(KeyArtworkMaxAge),
		},
		Log: Log{
			Level: v.GetString(KeyLogLevel),
			JSON:  v.GetBool(KeyLogJSON),
		},
	}
}

// ApplyLogging configures the standard logrus logger. An unknown level
// falls back to info.
func ApplyLogging(c Log) {
	if c.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	lvl, err := log.ParseLevel(c.Level)
	if err != nil {
		log.Warnf("[config] unknown log level %q, using info", c.Level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

// Watch re-applies the log settings whenever the config file changes.
// Other settings take effect on restart.
func Watch(v *viper.Viper) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Infof("[config] %s changed (%s)", e.Name, e.Op)
		ApplyLogging(Load(v).Log)
	})
	v.WatchConfig()
}
