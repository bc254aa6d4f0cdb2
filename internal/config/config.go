// Package config resolves trisync settings from defaults, an optional YAML
// file, TRISYNC_* environment variables and command-line flags.
//
// Viper does the layering. The merged settings are then unified with the
// embedded CUE definition #Config, which supplies defaults and rejects values
// outside the allowed domain before they reach the engine.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"

	"github.com/roach88/trisync/internal/conflict"
)

//go:embed schema.cue
var schemaSource string

// Setting keys. Flags, file keys and env vars share these names; env vars
// use the TRISYNC_ prefix with dashes as underscores.
const (
	KeyConfigFile    = "config"
	KeyLedger        = "db"
	KeyStrategy      = "strategy"
	KeyOutput        = "out"
	KeyCheckpointDir = "checkpoint-dir"
	KeyWaitTimeout   = "wait-timeout"
)

// EnvPrefix is prepended to every environment variable lookup.
const EnvPrefix = "TRISYNC"

var settingKeys = []string{KeyLedger, KeyStrategy, KeyOutput, KeyCheckpointDir, KeyWaitTimeout}

// Config is the validated configuration for one invocation.
type Config struct {
	LedgerPath    string
	Strategy      conflict.Strategy
	OutputPath    string
	CheckpointDir string
	WaitTimeout   time.Duration
}

// Error reports a setting that failed schema validation.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return "invalid config: " + e.Message
}

// New returns a viper instance with the environment layer configured.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file named by KeyConfigFile (if any), collects every
// explicitly set key and validates the result against #Config.
func Load(v *viper.Viper) (Config, error) {
	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	settings := make(map[string]any, len(settingKeys))
	for _, key := range settingKeys {
		if !v.IsSet(key) {
			continue
		}
		settings[key] = v.GetString(key)
	}
	return FromSettings(settings)
}

// FromSettings validates a flat key/value map against #Config and converts it.
// Missing keys take their schema defaults.
func FromSettings(settings map[string]any) (Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	val := def.Unify(ctx.Encode(settings))
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return Config{}, &Error{Message: describe(err)}
	}

	var raw struct {
		DB            string `json:"db"`
		Strategy      string `json:"strategy"`
		Out           string `json:"out"`
		CheckpointDir string `json:"checkpoint-dir"`
		WaitTimeout   string `json:"wait-timeout"`
	}
	if err := val.Decode(&raw); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	strategy, err := conflict.ParseStrategy(raw.Strategy)
	if err != nil {
		return Config{}, &Error{Message: err.Error()}
	}
	wait, err := time.ParseDuration(raw.WaitTimeout)
	if err != nil {
		return Config{}, &Error{Message: fmt.Sprintf("%s: %v", KeyWaitTimeout, err)}
	}

	return Config{
		LedgerPath:    raw.DB,
		Strategy:      strategy,
		OutputPath:    raw.Out,
		CheckpointDir: raw.CheckpointDir,
		WaitTimeout:   wait,
	}, nil
}

// IsConfigError reports whether err came from schema validation.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// describe flattens a CUE error list into one line per failing path.
func describe(err error) string {
	var msgs []string
	for _, e := range cueerrors.Errors(err) {
		path := strings.Join(e.Path(), ".")
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path != "" {
			msg = path + ": " + msg
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return err.Error()
	}
	return strings.Join(msgs, "; ")
}
