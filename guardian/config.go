//nolint:lll // struct tags can't be split
package guardian

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
)

const (
	EnvvarSetEnvPrefix = "GUARDIAN_ENV_PREFIX"
	DefaultEnvPrefix   = "GUARDIAN"

	DefaultConfigDir             = "configs"
	DefaultDatabase              = "guardian.sqlite3"
	DefaultLogLevel              = slog.LevelInfo
	DefaultStartupTimeout        = 30 * time.Second
	DefaultShutdownTimeout       = 30 * time.Second
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo

	DefaultAIRequestTimeout      = 60 * time.Second
	DefaultAIRetryBackoff        = 3 * time.Second
	DefaultAIMaxRequestsPerSec   = 1
	DefaultAIModel               = "gpt-4o-mini"
	DefaultAILogLevel            = slog.LevelInfo
	DefaultLookupTimeout         = 5 * time.Second
	DefaultWikiSearchURL         = "https://minecraft.wiki/api.php"
	DefaultWebSearchURL          = "https://api.duckduckgo.com/"
	DefaultNewsPerChannelLimit   = 5
	DefaultNewsMaxEntries        = 15
	DefaultTicketNamePrefix      = "ticket"
	DefaultTicketCloseDelay      = 5 * time.Second
	DefaultDiscordGatewayIntent  = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultDiscordCustomStatus   = "@mention me for help!"
	DefaultDiscordErrorMessage   = "Sorry, I'm having trouble thinking right now. Please try again in a moment! ❄️"
	DefaultDiscordClosingMessage = "Closing ticket..."

	DiscordSlashCommandSetup = "setup"
	DiscordSlashCommandClose = "close"

	discordMaxMessageLength = 2000

	DefaultStatusListen      = "127.0.0.1:3000"
	DefaultStatusLogLevel    = slog.LevelInfo
	defaultListenNetwork     = "tcp"
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second
	DefaultCORSMaxAge        = 12 * time.Hour
)

var DefaultCORSAllowMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
}

// Config is the top-level startup configuration. Anything here requires a
// restart to change; per-guild behavior lives in [GuildConfig] instead.
type Config struct {
	// ConfigDir is the directory holding one JSON document per guild
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir" json:"config_dir" binding:"required"`

	// Database is the sqlite path for the interaction/chat audit log
	Database string `yaml:"database" mapstructure:"database" json:"database" binding:"required"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for flagging slow queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Discord configures the bot connection itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// AI configures the chat-completion backend and retry policy
	AI *AIConfig `yaml:"ai" mapstructure:"ai" json:"ai"`

	// Lookup configures the wiki/web knowledge lookups
	Lookup *LookupConfig `yaml:"lookup" mapstructure:"lookup" json:"lookup"`

	// News configures the news category scanner
	News *NewsConfig `yaml:"news" mapstructure:"news" json:"news"`

	// Status configures the HTTP uptime/health server
	Status *StatusConfig `yaml:"status" mapstructure:"status" json:"status"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout limits how long the bot has to initialize. If this
	// passes, startup is aborted.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After
	// this elapses, the bot force-closes all connections and exits.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

// DiscordConfig configures the discord connection.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// CustomStatus is set as the bot user's status on connect
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// ErrorMessage is the single user-facing apology sent when the AI
	// call fails after retrying
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message" binding:"required"`

	// TicketNamePrefix marks channels treated as support tickets by name
	TicketNamePrefix string `yaml:"ticket_name_prefix" mapstructure:"ticket_name_prefix" json:"ticket_name_prefix"`

	// TicketCloseDelay is how long to wait between the closing
	// announcement and the channel deletion
	TicketCloseDelay time.Duration `yaml:"ticket_close_delay" mapstructure:"ticket_close_delay" json:"ticket_close_delay"`

	httpClient *http.Client
}

// AIConfig configures the chat-completion backend and the retry wrapper
// around it.
//
//nolint:lll // can't break tags
type AIConfig struct {
	// API token for the chat-completion endpoint
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// BaseURL overrides the default API base URL (e.g. for a proxy or a
	// compatible non-OpenAI backend). Empty uses the library default.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url"`

	// Model is the chat-completion model name
	Model string `yaml:"model" mapstructure:"model" json:"model" binding:"required"`

	// Seed, if >= 0, is sent with each request for more deterministic output
	Seed int `yaml:"seed" mapstructure:"seed" json:"seed"`

	// RequestTimeout bounds a single attempt. The attempt races this
	// deadline; the loser is discarded.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" binding:"min=1s"`

	// RetryBackoff is the pause between the first failed attempt and the
	// single retry
	RetryBackoff time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff" json:"retry_backoff"`

	// MaxRequestsPerSecond limits outbound chat-completion calls
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second"`

	// AI client base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// LookupConfig configures the read-only wiki/web knowledge lookups.
type LookupConfig struct {
	// WikiURL is the MediaWiki opensearch endpoint
	WikiURL string `yaml:"wiki_url" mapstructure:"wiki_url" json:"wiki_url"`

	// WebURL is the DuckDuckGo Instant Answer endpoint
	WebURL string `yaml:"web_url" mapstructure:"web_url" json:"web_url"`

	// Timeout bounds each outbound lookup
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout"`
}

// NewsConfig configures the news category scanner.
type NewsConfig struct {
	// PerChannelLimit is the max messages fetched per channel
	PerChannelLimit int `yaml:"per_channel_limit" mapstructure:"per_channel_limit" json:"per_channel_limit"`

	// MaxEntries caps the merged news blob
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries" json:"max_entries"`
}

// StatusConfig configures the HTTP uptime/health server.
//
//nolint:lll // can't break tags
type StatusConfig struct {
	// The address and port on which the server should listen (e.g., "127.0.0.1:3000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the status server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"min=1s"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	MaxAge       time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins: c.AllowOrigins,
		AllowMethods: c.AllowMethods,
		MaxAge:       c.MaxAge,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: defaultMethods,
		MaxAge:       DefaultCORSMaxAge,
	}
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

func (c DiscordConfig) LogValue() slog.Value {
	return structToSlogValue(c)
}

func (c AIConfig) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	aiLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	statusLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	aiLogLevel.Set(DefaultAILogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	statusLogLevel.Set(DefaultStatusLogLevel)

	return &Config{
		ConfigDir:             DefaultConfigDir,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			CustomStatus:      DefaultDiscordCustomStatus,
			ErrorMessage:      DefaultDiscordErrorMessage,
			TicketNamePrefix:  DefaultTicketNamePrefix,
			TicketCloseDelay:  DefaultTicketCloseDelay,
		},
		AI: &AIConfig{
			Model:                DefaultAIModel,
			Seed:                 -1,
			RequestTimeout:       DefaultAIRequestTimeout,
			RetryBackoff:         DefaultAIRetryBackoff,
			MaxRequestsPerSecond: DefaultAIMaxRequestsPerSec,
			LogLevel:             aiLogLevel,
		},
		Lookup: &LookupConfig{
			WikiURL: DefaultWikiSearchURL,
			WebURL:  DefaultWebSearchURL,
			Timeout: DefaultLookupTimeout,
		},
		News: &NewsConfig{
			PerChannelLimit: DefaultNewsPerChannelLimit,
			MaxEntries:      DefaultNewsMaxEntries,
		},
		Status: &StatusConfig{
			Listen:            DefaultStatusListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          statusLogLevel,
			CORS:              DefaultCORSConfig(),
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}
