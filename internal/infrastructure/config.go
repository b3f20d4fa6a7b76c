package infra

import (
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix env prefix for viper
const EnvPrefix = "GOAPP"

// runtime environments
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// AppConfig App option object
type AppConfig struct {
	AppID          string        `mapstructure:"app_id" json:"app_id" yaml:"app_id" validate:"required"`            // Application ID
	Host           string        `mapstructure:"host" json:"host" yaml:"host"`                                      // bind host address
	Port           int           `mapstructure:"port" json:"port" yaml:"port" validate:"min=1,max=65535"`           // bind listen port
	Env            string        `mapstructure:"env" json:"env" yaml:"env" validate:"oneof=development production"` // runtime environment
	SessionTimeout time.Duration `mapstructure:"session_timeout" json:"session_timeout" yaml:"session_timeout"`
	SessionRefresh time.Duration `mapstructure:"session_refresh" json:"session_refresh" yaml:"session_refresh"` // session refresh threshold
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout" yaml:"request_timeout"` // abort a REST request after
	Locale         string        `mapstructure:"locale" json:"locale" yaml:"locale" validate:"oneof=en zh"`     // validation message language
	Database       struct {
		Driver   string `mapstructure:"driver" json:"driver" yaml:"driver" validate:"required,oneof=mysql postgres"` // driver name
		Host     string `mapstructure:"host" json:"host" yaml:"host" validate:"required"`                            // server host
		MaxConn  int32  `mapstructure:"maxconn" json:"maxconn" yaml:"maxconn" validate:"min=1"`                      // maximum opening connections number
		Password string `mapstructure:"password" json:"password" yaml:"password" validate:"required"`                // db password
		Port     int    `mapstructure:"port" json:"port" yaml:"port"`                                                // server port
		Protocol string `mapstructure:"protocol" json:"protocol" yaml:"protocol" validate:"omitempty,oneof=tcp udp"` // connection protocol, eg.tcp
		Query    string `mapstructure:"query" json:"query" yaml:"query"`                                             // DSN query parameter
		Schema   string `mapstructure:"schema" json:"schema" yaml:"schema" validate:"required"`                      // use schema
		User     string `mapstructure:"username" json:"username" yaml:"username" validate:"required"`                // db username
	} `mapstructure:"database" json:"database" yaml:"database"`
	Logging struct {
		FilePath string `mapstructure:"file_path" json:"file_path" yaml:"file_path"`                            // log file path
		Level    string `mapstructure:"level" json:"level" yaml:"level" validate:"oneof=debug info warn error"` // global logging level
	} `mapstructure:"logging" json:"logging" yaml:"logging"`
	Security struct {
		IDLength  int    `mapstructure:"id_length" json:"id_length" yaml:"id_length" validate:"min=8"` // length of generated ID for entities
		JWTMethod string `mapstructure:"jwt_method" json:"jwt_method" yaml:"jwt_method" validate:"oneof=HS256 HS512"`
		JWTSecret string `mapstructure:"jwt_secret" json:"-" yaml:"jwt_secret" validate:"required"`
		TokenName string `mapstructure:"token_name" json:"token_name" yaml:"token_name" validate:"required"` // jwt token name set in cookie
	} `mapstructure:"security" json:"security" yaml:"security"`
	KVStore struct {
		Host     string `mapstructure:"host" json:"host" yaml:"host"`                                 // bind host address
		Port     int    `mapstructure:"port" json:"port" yaml:"port"`                                 // bind listen port
		Password string `mapstructure:"password" json:"-" yaml:"password" validate:"required"` // password for security reasons
	} `mapstructure:"kv" json:"kv" yaml:"kv"`
	Player struct {
		FlushInterval time.Duration `mapstructure:"flush_interval" json:"flush_interval" yaml:"flush_interval" validate:"min=1000000000"` // periodic progress flush
		FlushGrace    time.Duration `mapstructure:"flush_grace" json:"flush_grace" yaml:"flush_grace" validate:"min=0"`                  // final flush budget on teardown
		AutoplayDelay time.Duration `mapstructure:"autoplay_delay" json:"autoplay_delay" yaml:"autoplay_delay" validate:"min=0"`         // delay before moving to the next lesson
		BeaconTTL     time.Duration `mapstructure:"beacon_ttl" json:"beacon_ttl" yaml:"beacon_ttl" validate:"min=0"`                     // unsynced progress retention
	} `mapstructure:"player" json:"player" yaml:"player"`
	Retry struct {
		MaxAttempts     uint          `mapstructure:"max_attempts" json:"max_attempts" yaml:"max_attempts" validate:"min=1"`
		InitialInterval time.Duration `mapstructure:"initial_interval" json:"initial_interval" yaml:"initial_interval" validate:"min=0"`
		MaxInterval     time.Duration `mapstructure:"max_interval" json:"max_interval" yaml:"max_interval" validate:"min=0"`
	} `mapstructure:"retry" json:"retry" yaml:"retry"`
	DevOP struct {
		APM bool `mapstructure:"apm" json:"apm" yaml:"apm"`
	} `mapstructure:"devop" json:"devop" yaml:"devop"`
}

// RegisterFlags define every config flag on fs
func RegisterFlags(fs *pflag.FlagSet) {
	// app
	fs.String("host", "", "binding address")
	fs.String("app_id", "", "application identifier (required)")
	fs.String("env", EnvDevelopment, "runtime environment, can be 'development' or 'production'")
	fs.Int("port", 8081, "listening port")
	fs.Duration("session_timeout", 30*time.Minute, "JWT lifetime(m, s and h units are supported), eg.30m")
	fs.Duration("session_refresh", 5*time.Minute, "session refresh threshold(m, s and h units are supported), eg.5m")
	fs.Duration("request_timeout", 30*time.Second, "abort REST requests running longer than this")
	fs.String("locale", "en", "language of validation messages, en or zh")

	// database
	fs.String("database.driver", "mysql", "database driver to use, mysql or postgres")
	fs.String("database.host", "127.0.0.1", "database host")
	fs.Int("database.port", 3306, "database server port")
	fs.String("database.protocol", "", "connection protocol(if mysql is used, this flag must be set), eg.tcp")
	fs.String("database.username", "", "database username (required)")
	fs.String("database.password", "", "database password (required)")
	fs.String("database.schema", "", "database schema (required)")
	fs.String("database.query", "", `additional DSN query parameters('?' is auto prefixed)`)
	fs.Int32("database.maxconn", 200, `max connection count, if you encounter a "too many connections" error, please consider
increasing the max_connection value of your db server, or lower this value`)

	// logging
	fs.String("logging.level", "info", "logging level")
	fs.String("logging.file_path", "", "log to file")

	// security
	fs.Int("security.id_length", 24, "set length of generated ID for entities")
	fs.String("security.jwt_method", "HS256", "hash algorithm used for JWT auth")
	fs.String("security.jwt_secret", "", "JWT secret (required)")
	fs.String("security.token_name", "", "cookie name to store the token (required)")

	// kv storage
	fs.String("kv.host", "127.0.0.1", "kv host")
	fs.Int("kv.port", 6379, "kv server port")
	fs.String("kv.password", "", "kv server password (required)")

	// player
	fs.Duration("player.flush_interval", 10*time.Second, "periodic progress flush interval")
	fs.Duration("player.flush_grace", 3*time.Second, "final progress flush budget when a session closes")
	fs.Duration("player.autoplay_delay", 2*time.Second, "delay before advancing to the next lesson")
	fs.Duration("player.beacon_ttl", 7*24*time.Hour, "how long unsynced progress is kept in kv")

	// retry
	fs.Uint("retry.max_attempts", 5, "progress submit attempts before keeping it pending")
	fs.Duration("retry.initial_interval", 500*time.Millisecond, "first retry wait")
	fs.Duration("retry.max_interval", 10*time.Second, "retry wait cap")

	// DevOp
	fs.Bool("devop.apm", false, "enable apm metrics")
}

// InitConfig init app config using viper
func InitConfig() (*AppConfig, error) {
	RegisterFlags(pflag.CommandLine)
	pflag.Parse()
	return LoadConfig(viper.GetViper(), pflag.CommandLine)
}

// LoadConfig bind flags and GOAPP_ env vars into v and decode the result
func LoadConfig(v *viper.Viper, fs *pflag.FlagSet) (*AppConfig, error) {
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config = new(AppConfig)
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if config.Logging.Level == "debug" {
		if configJSON, err := json.MarshalIndent(config, "", "  "); err == nil {
			log.Printf("App config: %s\n", string(configJSON))
		}
	}
	return config, nil
}

func validateConfig(config *AppConfig) error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("mapstructure")
		if name == "-" || name == "" {
			return ""
		}
		return name
	})
	err := validate.Struct(config)
	if err == nil {
		return nil
	}
	if _, ok := err.(*validator.InvalidValidationError); ok {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	var msg []string
	for _, field := range err.(validator.ValidationErrors) {
		namespace := field.Namespace()
		fieldName := namespace[strings.IndexByte(namespace, '.')+1:] // trim top level namespace
		switch field.Tag() {
		case "required":
			msg = append(msg, fmt.Sprintf("%s is required", fieldName))
		case "oneof":
			msg = append(msg, fmt.Sprintf("%s must be one of (%s)", fieldName, field.Param()))
		default:
			msg = append(msg, fmt.Sprintf("%s must satisfy %s=%s", fieldName, field.Tag(), field.Param()))
		}
	}
	return fmt.Errorf("failed to validate config: \n%s", strings.Join(msg, "\n"))
}
