package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/iamthebestcoderalive/coldfront-guardian/guardian"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = guardian.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "guardian [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes log level strings like "INFO" into
// *slog.LevelVar fields.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("config_dir", guardian.DefaultConfigDir)
	viper.SetDefault("database", guardian.DefaultDatabase)
	viper.SetDefault(
		"database_slow_threshold",
		guardian.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		guardian.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", guardian.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", guardian.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", guardian.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		guardian.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		guardian.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		guardian.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault("discord.custom_status", guardian.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.error_message", guardian.DefaultDiscordErrorMessage)
	viper.SetDefault(
		"discord.ticket_name_prefix",
		guardian.DefaultTicketNamePrefix,
	)
	viper.SetDefault(
		"discord.ticket_close_delay",
		guardian.DefaultTicketCloseDelay,
	)

	// AI config
	viper.SetDefault("ai.token", "")
	viper.SetDefault("ai.base_url", "")
	viper.SetDefault("ai.model", guardian.DefaultAIModel)
	viper.SetDefault("ai.seed", -1)
	viper.SetDefault("ai.request_timeout", guardian.DefaultAIRequestTimeout)
	viper.SetDefault("ai.retry_backoff", guardian.DefaultAIRetryBackoff)
	viper.SetDefault(
		"ai.max_requests_per_second",
		guardian.DefaultAIMaxRequestsPerSec,
	)
	viper.SetDefault("ai.log_level", guardian.DefaultAILogLevel.String())

	// Lookup config
	viper.SetDefault("lookup.wiki_url", guardian.DefaultWikiSearchURL)
	viper.SetDefault("lookup.web_url", guardian.DefaultWebSearchURL)
	viper.SetDefault("lookup.timeout", guardian.DefaultLookupTimeout)

	// News config
	viper.SetDefault(
		"news.per_channel_limit",
		guardian.DefaultNewsPerChannelLimit,
	)
	viper.SetDefault("news.max_entries", guardian.DefaultNewsMaxEntries)

	// Status server config
	viper.SetDefault("status.listen", guardian.DefaultStatusListen)
	viper.SetDefault("status.listen_network", "tcp")
	viper.SetDefault("status.log_level", guardian.DefaultStatusLogLevel.String())
	viper.SetDefault("status.read_timeout", guardian.DefaultReadTimeout)
	viper.SetDefault(
		"status.read_header_timeout",
		guardian.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("status.write_timeout", guardian.DefaultWriteTimeout)
	viper.SetDefault("status.idle_timeout", guardian.DefaultIdleTimeout)
	viper.SetDefault("status.cors.allow_origins", []string{"*"})
	viper.SetDefault(
		"status.cors.allow_methods",
		guardian.DefaultCORSAllowMethods,
	)
	viper.SetDefault("status.cors.max_age", guardian.DefaultCORSMaxAge)

	envPrefix := os.Getenv(guardian.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = guardian.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"status.cors.allow_origins",
		viper.GetStringSlice("status.cors.allow_origins"),
	)
	viper.Set(
		"status.cors.allow_methods",
		viper.GetStringSlice("status.cors.allow_methods"),
	)

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"ai.log_level",
		"status.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load before reading configuration",
	)
}
