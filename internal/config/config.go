// Package config предоставляет структуры и функцию для парсинга и загрузки конфига.
package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек движка подписок.
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
	HTTPServer              `yaml:"http_server"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitMQ                `yaml:"rabbitmq"`
	SMTP                    `yaml:"smtp"`
	YooKassa                `yaml:"yookassa"`
	Panel                   `yaml:"panel"`
	Plans                   `yaml:"plans"`
	Lifecycle               `yaml:"lifecycle"`
}

// HTTPServer структура для настройки сервера.
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// RabbitMQ структура для подключения к брокеру уведомлений.
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"10"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"3s"`
}

// SMTP структура для отправки почтовых уведомлений воркером.
type SMTP struct {
	SMTPHost     string `yaml:"host"`
	SMTPPort     string `yaml:"port" env-default:"587"`
	SMTPUser     string `yaml:"user"`
	SMTPPassword string `yaml:"password" env:"SMTP_PASSWORD"`
}

// YooKassa структура с реквизитами платёжного провайдера.
type YooKassa struct {
	ShopID        string `yaml:"shop_id" env:"YOOKASSA_SHOP_ID"`
	SecretKey     string `yaml:"secret_key" env:"YOOKASSA_SECRET_KEY"`
	WebhookSecret string `yaml:"webhook_secret" env:"YOOKASSA_WEBHOOK_SECRET"`
	ReturnURL     string `yaml:"return_url"`
}

// Panel структура с общими настройками клиентов 3x-ui панелей.
// Реквизиты конкретной панели хранятся в таблице servers.
type Panel struct {
	RequestTimeout time.Duration `yaml:"request_timeout" env-default:"30s"`
}

// Plans структура с тарифами: длительность триала и цены в рублях.
type Plans struct {
	TrialDays int `yaml:"trial_days" env-default:"7"`
	PriceM1   int `yaml:"price_m1" env-default:"130"`
	PriceM3   int `yaml:"price_m3" env-default:"350"`
	PriceM12  int `yaml:"price_m12" env-default:"800"`
}

// Lifecycle структура с настройками фонового обхода подписок.
type Lifecycle struct {
	SweepInterval time.Duration `yaml:"sweep_interval" env-default:"5m"`
}

// MustLoad функция для загрузки конфига, путь к файлу берётся из CONFIG_PATH.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &cfg
}
