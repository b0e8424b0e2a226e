package db

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "LOANS_"

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
	TTL    string `yaml:"ttl"` // time.ParseDuration 形式
}

// 貸出エンジンの調整値
type LoansConfig struct {
	MaxAttempts   int `yaml:"max_attempts"`
	RetentionDays int `yaml:"retention_days"`
}

type Config struct {
	Version     string         `yaml:"version"`
	Mode        string         `yaml:"mode"`
	Listen      string         `yaml:"listen"`
	AllowOrigin []string       `yaml:"allow_origins"`
	DB          DatabaseConfig `yaml:"database"`
	Certificate Certs          `yaml:"certificate"`
	JWT         JWTConfig      `yaml:"jwt"`
	Loans       LoansConfig    `yaml:"loans"`
}

// LoadConfig は YAML を読み、.env と LOANS_* 環境変数で上書きする
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// .env は任意。既に設定済みの環境変数は上書きされない
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"MODE":        &c.Mode,
		"LISTEN":      &c.Listen,
		"DB_HOST":     &c.DB.Host,
		"DB_USER":     &c.DB.Username,
		"DB_PASSWORD": &c.DB.Password,
		"DB_NAME":     &c.DB.DBName,
		"JWT_SECRET":  &c.JWT.Secret,
		"JWT_TTL":     &c.JWT.TTL,
	}
	for k, dst := range str {
		if v, ok := os.LookupEnv(envPrefix + k); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DB_PORT":        &c.DB.Port,
		"MAX_ATTEMPTS":   &c.Loans.MaxAttempts,
		"RETENTION_DAYS": &c.Loans.RetentionDays,
	}
	for k, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + k)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s must be an integer: %w", envPrefix, k, err)
		}
		*dst = n
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Mode == "" {
		c.Mode = "dev"
	}
	if c.Listen == "" {
		c.Listen = ":8443"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.Loans.MaxAttempts <= 0 {
		c.Loans.MaxAttempts = DefaultMaxAttempts
	}
	if c.Loans.RetentionDays <= 0 {
		c.Loans.RetentionDays = 365
	}
	if c.JWT.TTL == "" {
		c.JWT.TTL = "24h"
	}
}

// TokenTTL は不正な値なら 24h にフォールバックする
func (c JWTConfig) TokenTTL() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}
