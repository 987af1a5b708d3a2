package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config agrupa la configuración de la aplicación (lectura vía Viper desde env
// y opcionalmente archivo).
type Config struct {
	App      AppConfig
	DB       DBConfig
	JWT      JWTConfig
	HTTP     HTTPConfig
	Firmador FirmadorConfig
	Hacienda HaciendaConfig
	Worker   WorkerConfig
	Engine   EngineConfig
}

// AppConfig configuración general de la aplicación.
type AppConfig struct {
	Env  string // development, staging, production
	Name string
}

// DBConfig configuración de PostgreSQL.
// Si DatabaseURL no está vacío, se usa como connection string completo.
type DBConfig struct {
	DatabaseURL string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
}

// DSN devuelve el connection string para PostgreSQL con URL encoding para
// caracteres especiales en la contraseña.
func (c DBConfig) DSN() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.SSLMode),
	}
	return u.String()
}

// JWTConfig configuración de JWT.
type JWTConfig struct {
	Secret     string
	Expiration int // minutos
	Issuer     string
}

// HTTPConfig configuración del servidor HTTP.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr devuelve la dirección de escucha (host:port).
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FirmadorConfig configuración del servicio firmador.
type FirmadorConfig struct {
	BaseURL string
	Timeout time.Duration
}

// HaciendaConfig configuración de los servicios de Hacienda.
type HaciendaConfig struct {
	BaseURL string
	Timeout time.Duration
}

// WorkerConfig intervalos y tamaño de tanda de los lazos de fondo.
type WorkerConfig struct {
	SignatureInterval  time.Duration
	PeriodInterval     time.Duration
	LoteSubmitInterval time.Duration
	LotePollInterval   time.Duration
	BatchSize          int
}

// EngineConfig parámetros operativos del motor de transmisión.
type EngineConfig struct {
	MaxSignatureRetries int
	MaxDTEsPerLote      int
	MaxLoteAttempts     int
	LoteBackoffBase     time.Duration
}

// Load lee la configuración desde variables de entorno (y opcionalmente desde
// archivo). Las env vars tienen prioridad.
func Load() (*Config, error) {
	v := viper.New()

	// Opcional: archivo de configuración (.env o config.env)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // ignoramos error si no existe

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		App: AppConfig{
			Env:  getString(v, "APP_ENV", "development"),
			Name: getString(v, "APP_NAME", "dte-engine"),
		},
		DB: DBConfig{
			DatabaseURL: getString(v, "DATABASE_URL", ""),
			Host:        getString(v, "DB_HOST", "localhost"),
			Port:        getInt(v, "DB_PORT", 5432),
			User:        getString(v, "DB_USER", "postgres"),
			Password:    getString(v, "DB_PASSWORD", ""),
			DBName:      getString(v, "DB_NAME", "dte_engine"),
			SSLMode:     getString(v, "DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret:     getString(v, "JWT_SECRET", ""),
			Expiration: getInt(v, "JWT_EXPIRATION_MINUTES", 60),
			Issuer:     getString(v, "JWT_ISSUER", "dte-engine"),
		},
		HTTP: HTTPConfig{
			Host: getString(v, "HTTP_HOST", "0.0.0.0"),
			Port: getInt(v, "HTTP_PORT", 8080),
		},
		Firmador: FirmadorConfig{
			BaseURL: getString(v, "FIRMADOR_URL", "http://localhost:8113"),
			Timeout: getDuration(v, "FIRMADOR_TIMEOUT", 30*time.Second),
		},
		Hacienda: HaciendaConfig{
			BaseURL: getString(v, "HACIENDA_URL", "https://apitest.dtes.mh.gob.sv"),
			Timeout: getDuration(v, "HACIENDA_TIMEOUT", 60*time.Second),
		},
		Worker: WorkerConfig{
			SignatureInterval:  getDuration(v, "WORKER_SIGNATURE_INTERVAL", 30*time.Second),
			PeriodInterval:     getDuration(v, "WORKER_PERIOD_INTERVAL", time.Minute),
			LoteSubmitInterval: getDuration(v, "WORKER_LOTE_SUBMIT_INTERVAL", 30*time.Second),
			LotePollInterval:   getDuration(v, "WORKER_LOTE_POLL_INTERVAL", time.Minute),
			BatchSize:          getInt(v, "WORKER_BATCH_SIZE", 25),
		},
		Engine: EngineConfig{
			MaxSignatureRetries: getInt(v, "ENGINE_MAX_SIGNATURE_RETRIES", 5),
			MaxDTEsPerLote:      getInt(v, "ENGINE_MAX_DTES_PER_LOTE", 50),
			MaxLoteAttempts:     getInt(v, "ENGINE_MAX_LOTE_ATTEMPTS", 6),
			LoteBackoffBase:     getDuration(v, "ENGINE_LOTE_BACKOFF_BASE", 30*time.Second),
		},
	}

	return cfg, nil
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if v.IsSet(key) {
		switch v.Get(key).(type) {
		case string:
			n, _ := strconv.Atoi(v.GetString(key))
			return n
		default:
			return v.GetInt(key)
		}
	}
	return def
}

func getDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if v.IsSet(key) {
		if d := v.GetDuration(key); d > 0 {
			return d
		}
	}
	return def
}
