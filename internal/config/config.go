package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/subosito/gotenv"
	"golang.org/x/text/currency"

	"github.com/nikolayk812/gomarketplace-cart/internal/cart"
	"github.com/nikolayk812/gomarketplace-cart/internal/kv"
	"github.com/nikolayk812/gomarketplace-cart/internal/repository"
)

type Config struct {
	AppEnv   string
	LogLevel string
	HTTPPort int

	Storage    kv.Options
	StorageKey string
	AddPolicy  cart.AddPolicy
	LoadPolicy cart.LoadPolicy
	Currency   currency.Unit
}

// Load reads the environment, after applying envFile if it exists.
// Variables already set in the environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := gotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("gotenv.Load: %w", err)
		}
	}

	policy, err := cart.ParseAddPolicy(getEnv("CART_ADD_POLICY", "duplicate"))
	if err != nil {
		return Config{}, fmt.Errorf("cart.ParseAddPolicy: %w", err)
	}

	loadPolicy, err := cart.ParseLoadPolicy(getEnv("CART_LOAD_POLICY", "replace"))
	if err != nil {
		return Config{}, fmt.Errorf("cart.ParseLoadPolicy: %w", err)
	}

	httpPort, err := getEnvInt("HTTP_PORT", 8080)
	if err != nil {
		return Config{}, err
	}

	code := getEnv("CART_CURRENCY", "USD")
	unit, err := currency.ParseISO(code)
	if err != nil {
		return Config{}, fmt.Errorf("currency[%s] is not valid: %w", code, err)
	}

	cfg := Config{
		AppEnv:   getEnv("APP_ENV", "dev"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTPPort: httpPort,
		Storage: kv.Options{
			Driver:        getEnv("CART_STORAGE", kv.DriverMemory),
			DeviceDataDir: getEnv("DEVICE_DATA_DIR", "./data"),
			RedisURL:      getEnv("REDIS_URL", ""),
			PostgresURL:   getEnv("POSTGRES_URL", ""),
		},
		StorageKey: getEnv("CART_STORAGE_KEY", repository.DefaultKey),
		AddPolicy:  policy,
		LoadPolicy: loadPolicy,
		Currency:   unit,
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)

	if v == "" {
		return def, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s[%s] is not a number: %w", key, v, err)
	}

	return n, nil
}
