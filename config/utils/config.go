// Package config provides utilities to load environment variables & set config structs, it includes app, calculator, redis cache, db, message queue, metrics and logger environment variables.
package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// AppConfig contains environment variables for the application, calculator defaults, database, cache, message queue, metrics and logger
type (
	AppConfig struct {
		App        *App        `mapstructure:"app"`
		Calculator *Calculator `mapstructure:"calculator"`
		Redis      *Redis      `mapstructure:"redis"`
		Logger     *Logger     `mapstructure:"logger"`
		DB         *DB         `mapstructure:"db"`
		AMQP       *AMQP       `mapstructure:"amqp"`
		Metrics    *Metrics    `mapstructure:"metrics"`
	}

	// App contains all the environment variables for the application
	App struct {
		Name  string `mapstructure:"name"`
		Env   string `mapstructure:"env"`
		Owner string `mapstructure:"owner"`
	}

	// Calculator contains the default batch parameters for index calculation
	Calculator struct {
		OutputDir        string         `mapstructure:"outputDir"`
		MaxMemoryUsageMB float64        `mapstructure:"maxMemoryUsageMb"`
		MaxActiveTasks   int            `mapstructure:"maxActiveTasks"`
		BandMapping      map[string]int `mapstructure:"bandMapping"`
	}

	// Redis contains all the environment variables for the band statistics cache
	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	}

	// DB contains all the environment variables for the report database
	DB struct {
		Enabled    bool   `mapstructure:"enabled"`
		Connection string `mapstructure:"connection"`
		Host       string `mapstructure:"host"`
		Port       string `mapstructure:"port"`
		User       string `mapstructure:"user"`
		Password   string `mapstructure:"password"`
		Name       string `mapstructure:"name"`
	}

	// AMQP contains all the environment variables for the result event queue
	AMQP struct {
		Enabled  bool   `mapstructure:"enabled"`
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
	}

	// Metrics contains all the environment variables for the metrics endpoint
	Metrics struct {
		Enabled bool   `mapstructure:"enabled"`
		Addr    string `mapstructure:"addr"`
	}

	// Logger contains all the environment variables for the logger
	Logger struct {
		Level             string                `mapstructure:"level"`
		Development       bool                  `mapstructure:"development"`
		DisableStacktrace bool                  `mapstructure:"disableStacktrace"`
		Encoding          string                `mapstructure:"encoding"`
		EncoderConfig     zapcore.EncoderConfig `mapstructure:"encoderConfig"`
	}
)

// URL assembles the broker connection string for the result event queue
func (a *AMQP) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", a.User, a.Password, a.Host, a.Port)
}

// addZapEncoderConfig fills encoder config with zapcore types
func addZapEncoderConfig(cfg *zapcore.EncoderConfig) {
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.SecondsDurationEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.EncodeName = func(s string, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString("[" + s + "]")
	}
}

// New creates a new AppConfig instance
func New() *AppConfig {
	// Set up viper to read the config.yaml file
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/secrets/")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("env")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Fatalf("config file not found: %v", err)
		} else {
			log.Fatalf("error reading config file: %v", err)
		}
	}

	// Bind the app.name key to the APP_NAME environment variable
	if err := viper.BindEnv("app.name", "APP_NAME"); err != nil {
		log.Fatalf("error finding APP_NAME env variable")
	}

	// Bind DB variables
	viper.BindEnv("db.host", "PG_HOST")
	viper.BindEnv("db.port", "PG_PORT")
	viper.BindEnv("db.user", "PG_USER")
	viper.BindEnv("db.password", "PG_PASS")
	viper.BindEnv("db.name", "PG_DB")

	// Bind Redis variables
	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// Bind message queue variables
	viper.BindEnv("amqp.host", "MQ_HOST")
	viper.BindEnv("amqp.port", "MQ_PORT")
	viper.BindEnv("amqp.user", "MQ_USER")
	viper.BindEnv("amqp.password", "MQ_PASS")

	// Bind calculator variables
	viper.BindEnv("calculator.outputDir", "CALC_OUTPUT_DIR")
	viper.BindEnv("calculator.maxMemoryUsageMb", "CALC_MAX_MEMORY_MB")
	viper.BindEnv("calculator.maxActiveTasks", "CALC_MAX_ACTIVE_TASKS")

	// Bind metrics variables
	viper.BindEnv("metrics.addr", "METRICS_ADDR")

	// Create an instance of AppConfig
	var config *AppConfig
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("unable to decode into struct: %v", err)
	}
	addZapEncoderConfig(&config.Logger.EncoderConfig)

	return config
}
