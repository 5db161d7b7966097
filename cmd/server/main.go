package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jvsync/server/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	host = configVar[string]{
		envKey:       "SERVER_HOST",
		flagKey:      "host",
		defaultValue: "127.0.0.1",
	}
	port = configVar[int]{
		envKey:       "SERVER_PORT",
		flagKey:      "port",
		defaultValue: 9001,
	}
	logLevel = configVar[string]{
		envKey:       "SERVER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
	providersUrl = configVar[string]{
		envKey:       "SERVER_PROVIDERS_URL",
		flagKey:      "providers-url",
		defaultValue: "https://api.invidious.io/instances.json",
	}
	resolveTimeout = configVar[time.Duration]{
		envKey:       "SERVER_RESOLVE_TIMEOUT",
		flagKey:      "resolve-timeout",
		defaultValue: 60 * time.Second,
	}
	refreshInterval = configVar[time.Duration]{
		envKey:       "SERVER_REFRESH_INTERVAL",
		flagKey:      "refresh-interval",
		defaultValue: 24 * time.Hour,
	}
	heartbeatInterval = configVar[time.Duration]{
		envKey:       "SERVER_HEARTBEAT_INTERVAL",
		flagKey:      "heartbeat-interval",
		defaultValue: 20 * time.Second,
	}
)

func loadAppConfig() *app.AppConfig {
	pflag.String(host.flagKey, host.defaultValue, "Server host")
	pflag.Int(port.flagKey, port.defaultValue, "Server port")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.String(providersUrl.flagKey, providersUrl.defaultValue, "Metadata provider directory URL")
	pflag.Duration(resolveTimeout.flagKey, resolveTimeout.defaultValue, "Per-resolution timeout")
	pflag.Duration(refreshInterval.flagKey, refreshInterval.defaultValue, "Provider directory refresh interval")
	pflag.Duration(heartbeatInterval.flagKey, heartbeatInterval.defaultValue, "Connection heartbeat interval")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(host.flagKey, host.envKey)
	viper.BindEnv(port.flagKey, port.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)
	viper.BindEnv(providersUrl.flagKey, providersUrl.envKey)
	viper.BindEnv(resolveTimeout.flagKey, resolveTimeout.envKey)
	viper.BindEnv(refreshInterval.flagKey, refreshInterval.envKey)
	viper.BindEnv(heartbeatInterval.flagKey, heartbeatInterval.envKey)

	viper.SetDefault(host.flagKey, host.defaultValue)
	viper.SetDefault(port.flagKey, port.defaultValue)
	viper.SetDefault(logLevel.flagKey, logLevel.defaultValue)
	viper.SetDefault(providersUrl.flagKey, providersUrl.defaultValue)
	viper.SetDefault(resolveTimeout.flagKey, resolveTimeout.defaultValue)
	viper.SetDefault(refreshInterval.flagKey, refreshInterval.defaultValue)
	viper.SetDefault(heartbeatInterval.flagKey, heartbeatInterval.defaultValue)

	config := &app.AppConfig{
		Host:              viper.GetString(host.flagKey),
		Port:              viper.GetInt(port.flagKey),
		LogLevel:          viper.GetString(logLevel.flagKey),
		ProvidersUrl:      viper.GetString(providersUrl.flagKey),
		ResolveTimeout:    viper.GetDuration(resolveTimeout.flagKey),
		RefreshInterval:   viper.GetDuration(refreshInterval.flagKey),
		HeartbeatInterval: viper.GetDuration(heartbeatInterval.flagKey),
	}

	return config
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	log.Fatal(app.Run(ctx, appConfig))
}
