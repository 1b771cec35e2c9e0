// Package guardian implements a Discord community-support bot for
// Minecraft servers. It relays messages from support-ticket channels
// (and direct mentions) to an AI chat backend, grounding each request
// with a per-guild persona, recent server news, and optional wiki/web
// lookups. Per-guild settings are collected through a `/setup` wizard
// and stored as one JSON document per guild.
package guardian

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Build info, set via ldflags.
var (
	Version   = "dev"
	CommitSHA = ""
	BuildTime = ""
)

var structValidator = validator.New()

func init() {
	structValidator.SetTagName("binding")
}

// Guardian is the top-level bot: the gateway connection, the per-guild
// config store, the AI client, the news scanner, the setup wizard, the
// audit database and the status HTTP server.
type Guardian struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	discord   *Discord
	store     *GuildConfigStore
	ai        *AIClient
	knowledge *KnowledgeClient
	news      *NewsScanner
	wizard    *SetupWizard
	api       *StatusServer
	db        *gorm.DB

	// newsCache holds the formatted news digest per guild ID. Populated
	// at startup and refreshed whenever a guild's setup is saved.
	newsMu    sync.RWMutex
	newsCache map[string]string

	startedAt time.Time
	runMu     sync.Mutex

	discordgoRemoveHandlerFuncs []func()
}

// New creates a Guardian from the given config, validating it and wiring
// up every component except the gateway session and database, which are
// created in [Guardian.Run].
func New(config *Config) (*Guardian, error) {
	if err := structValidator.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	g := &Guardian{
		config:    config,
		newsCache: map[string]string{},
	}

	g.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	g.logger = slog.New(g.logHandler)
	slog.SetDefault(g.logger)

	componentHandler := func(level slog.Leveler) slog.Handler {
		return tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     level,
				AddSource: true,
			},
		)
	}

	store, err := NewGuildConfigStore(config.ConfigDir, g.logHandler)
	if err != nil {
		return nil, fmt.Errorf("error creating guild config store: %w", err)
	}
	g.store = store

	config.Discord.httpClient = config.HTTPClient
	g.discord = newDiscord(
		config.Discord,
		componentHandler(config.Discord.LogLevel),
	)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		componentHandler(config.Discord.DiscordGoLogLevel).WithAttrs(
			[]slog.Attr{slog.String(loggerNameKey, "discordgo")},
		),
	)

	g.ai = newAIClient(
		config.AI,
		config.HTTPClient,
		componentHandler(config.AI.LogLevel),
	)
	g.knowledge = newKnowledgeClient(
		config.Lookup,
		config.HTTPClient,
		g.logHandler,
	)
	g.api = newStatusServer(g, config.Status)

	return g, nil
}

// Run connects to discord, registers commands, starts the status server
// and the news warm-up, then blocks until ctx is canceled, at which point
// it shuts everything down gracefully.
func (g *Guardian) Run(ctx context.Context) error {
	g.runMu.Lock()
	defer g.runMu.Unlock()

	g.startedAt = time.Now()
	logger := g.logger
	ctx = WithLogger(ctx, logger)

	logger.LogAttrs(
		ctx, slog.LevelInfo, "starting",
		slog.String("version", Version),
		slog.Any("config", g.config),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, g.config.StartupTimeout)
	defer startCancel()

	db, err := CreateDB(
		startCtx,
		g.config.Database,
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     g.config.DatabaseLogLevel,
				AddSource: true,
			},
		),
	)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	g.db = db

	session, err := g.discord.newSession()
	if err != nil {
		return err
	}
	g.discord.session = session

	g.news = newNewsScanner(session, g.config.News, g.logHandler)
	g.wizard = newSetupWizard(session, g.store, g.logHandler)
	g.wizard.onSave = func(
		ctx context.Context, guildID string, cfg GuildConfig,
	) {
		go g.refreshNews(context.WithoutCancel(ctx), guildID, cfg)
	}

	g.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(g.discord.handlerConnect()),
		session.AddHandler(g.discord.handlerDisconnect()),
		session.AddHandler(g.handlerMessageCreate(ctx)),
		session.AddHandler(g.handlerInteractionCreate(ctx)),
	}

	logger.InfoContext(ctx, "connecting to discord")
	if err = session.Open(); err != nil {
		return fmt.Errorf("error connecting to discord: %w", err)
	}

	if _, err = g.discord.registerCommands(
		discordgo.WithContext(startCtx),
	); err != nil {
		_ = session.Close()
		return fmt.Errorf("error registering commands: %w", err)
	}

	go func() {
		httpErr := g.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "error serving status HTTP", tint.Err(httpErr))
		}
	}()

	go g.warmNewsCache(ctx)

	<-ctx.Done()
	return g.shutdown(context.WithoutCancel(ctx))
}

func (g *Guardian) shutdown(ctx context.Context) error {
	logger := g.logger
	logger.InfoContext(
		ctx, "shutting down",
		"shutdown_timeout", g.config.ShutdownTimeout,
	)
	ctx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	for _, removeFunc := range g.discordgoRemoveHandlerFuncs {
		removeFunc()
	}
	var errs []error

	if g.discord.session != nil {
		if err := g.discord.session.Close(); err != nil {
			logger.ErrorContext(ctx, "error closing discord session", tint.Err(err))
			errs = append(errs, err)
		}
	}
	g.ai.release()
	if err := g.api.Shutdown(ctx); err != nil {
		logger.ErrorContext(ctx, "error stopping status server", tint.Err(err))
		errs = append(errs, err)
	}
	if g.db != nil {
		if sqlDB, err := g.db.DB(); err == nil {
			if err = sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	logger.InfoContext(ctx, "shutdown complete")
	return errors.Join(errs...)
}

// guildNews returns the cached news digest for a guild, or the no-news
// sentinel if nothing has been scanned yet.
func (g *Guardian) guildNews(guildID string) string {
	g.newsMu.RLock()
	defer g.newsMu.RUnlock()
	news, ok := g.newsCache[guildID]
	if !ok || news == "" {
		return NoNewsSentinel
	}
	return news
}

func (g *Guardian) setGuildNews(guildID string, news string) {
	g.newsMu.Lock()
	defer g.newsMu.Unlock()
	g.newsCache[guildID] = news
}

func (g *Guardian) newsCacheSize() int {
	g.newsMu.RLock()
	defer g.newsMu.RUnlock()
	return len(g.newsCache)
}

// refreshNews rescans the guild's news category and replaces its cache
// entry.
func (g *Guardian) refreshNews(
	ctx context.Context,
	guildID string,
	cfg GuildConfig,
) {
	news := g.news.Scan(ctx, guildID, stringPointerValue(cfg.NewsCategoryID))
	g.setGuildNews(guildID, news)
	g.logger.DebugContext(
		ctx, "refreshed news",
		"guild_id", guildID,
		"news_bytes", len(news),
	)
}

// warmNewsCache scans every configured guild's news category once, so the
// first relayed message doesn't have to wait on a scan.
func (g *Guardian) warmNewsCache(ctx context.Context) {
	for _, guildID := range g.store.GuildIDs() {
		if ctx.Err() != nil {
			return
		}
		g.refreshNews(ctx, guildID, g.store.Load(guildID))
	}
}

func (g *Guardian) handlerMessageCreate(ctx context.Context) func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		g.handleMessage(ctx, s, m)
	}
}

// handleMessage relays an eligible guild message to the AI backend and
// replies in the channel. A message is eligible when it was written by a
// human, inside a support-ticket channel or mentioning the bot.
func (g *Guardian) handleMessage(
	ctx context.Context,
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	botUserID := g.config.Discord.ApplicationID
	if s != nil && s.State != nil && s.State.User != nil {
		botUserID = s.State.User.ID
	}
	if m.Author.ID == botUserID {
		return
	}

	cfg := g.store.Load(m.GuildID)
	ticketChannel := g.isTicketChannel(ctx, m.ChannelID, cfg)
	mentioned := messageMentionsUser(m.Message, botUserID)
	if !ticketChannel && !mentioned {
		return
	}

	content := strings.TrimSpace(stripMention(m.Content, botUserID))
	if content == "" {
		return
	}

	logger := g.logger.With(
		"guild_id", m.GuildID,
		"channel_id", m.ChannelID,
		"user_id", m.Author.ID,
	)
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(
		ctx, "relaying message",
		"content", truncate(content, 100),
		"ticket_channel", ticketChannel,
	)

	if err := g.discord.session.ChannelTyping(
		m.ChannelID, discordgo.WithContext(ctx),
	); err != nil {
		logger.WarnContext(ctx, "error sending typing indicator", tint.Err(err))
	}

	started := time.Now()
	prompt, stats := g.buildPromptContext(ctx, m.GuildID, cfg, content)

	reply, err := g.ai.Respond(ctx, content, prompt)
	record := &ChatLog{
		GuildID:       m.GuildID,
		ChannelID:     m.ChannelID,
		UserID:        m.Author.ID,
		Username:      m.Author.Username,
		Prompt:        content,
		Response:      reply,
		PersonaBytes:  stats.personaBytes,
		NewsBytes:     stats.newsBytes,
		LookupBytes:   stats.lookupBytes,
		DurationMS:    time.Since(started).Milliseconds(),
		UsedWikiHit:   stats.wikiHit,
		UsedWebHit:    stats.webHit,
		TicketChannel: ticketChannel,
	}
	if err != nil {
		var aiErr *AIError
		if errors.As(err, &aiErr) {
			record.Attempts = aiErr.Attempts
		}
		record.Error = err.Error()
		logger.ErrorContext(ctx, "AI request failed", tint.Err(err))
		reply = g.config.Discord.ErrorMessage
	}
	go g.writeChatLog(ctx, record)

	for _, chunk := range chunkMessage(reply, discordMaxMessageLength) {
		if _, sendErr := g.discord.session.ChannelMessageSendReply(
			m.ChannelID,
			chunk,
			m.Reference(),
			discordgo.WithContext(ctx),
		); sendErr != nil {
			logger.ErrorContext(ctx, "error sending reply", tint.Err(sendErr))
			return
		}
	}
}

// isTicketChannel reports whether the channel is a support ticket: either
// under the configured support category, or named with the ticket prefix.
func (g *Guardian) isTicketChannel(
	ctx context.Context,
	channelID string,
	cfg GuildConfig,
) bool {
	channel, err := g.discord.session.Channel(
		channelID, discordgo.WithContext(ctx),
	)
	if err != nil || channel == nil {
		return false
	}
	if cfg.SupportCategoryID != nil && channel.ParentID == *cfg.SupportCategoryID {
		return true
	}
	prefix := g.config.Discord.TicketNamePrefix
	return prefix != "" && strings.HasPrefix(channel.Name, prefix+"-")
}

// stripMention removes the bot's mention tokens from message content.
func stripMention(content string, botUserID string) string {
	if botUserID == "" {
		return content
	}
	content = strings.ReplaceAll(content, "<@"+botUserID+">", "")
	return strings.ReplaceAll(content, "<@!"+botUserID+">", "")
}

type promptStats struct {
	personaBytes int
	newsBytes    int
	lookupBytes  int
	wikiHit      bool
	webHit       bool
}

// buildPromptContext assembles the system context for one AI request: the
// guild persona, the cached news digest, and, for topical questions, the
// results of concurrent wiki and web lookups.
func (g *Guardian) buildPromptContext(
	ctx context.Context,
	guildID string,
	cfg GuildConfig,
	content string,
) (string, promptStats) {
	persona := GeneratePersona(cfg)
	news := g.guildNews(guildID)
	stats := promptStats{
		personaBytes: len(persona),
		newsBytes:    len(news),
	}

	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\nRECENT NEWS (LAST 15 UPDATES):\n")
	sb.WriteString(news)

	if IsTopicalQuestion(content) {
		var wikiResult, webResult string
		eg, lookupCtx := errgroup.WithContext(ctx)
		eg.Go(
			func() error {
				wikiResult = g.knowledge.LookupWiki(lookupCtx, content)
				return nil
			},
		)
		eg.Go(
			func() error {
				webResult = g.knowledge.LookupWeb(lookupCtx, content)
				return nil
			},
		)
		_ = eg.Wait()

		if wikiResult != "" {
			sb.WriteString("\n\n")
			sb.WriteString(wikiResult)
			stats.wikiHit = true
			stats.lookupBytes += len(wikiResult)
		}
		if webResult != "" {
			sb.WriteString("\n\n")
			sb.WriteString(webResult)
			stats.webHit = true
			stats.lookupBytes += len(webResult)
		}
	}

	return sb.String(), stats
}

func (g *Guardian) writeChatLog(ctx context.Context, record *ChatLog) {
	dbCtx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx), dbOperationTimeout,
	)
	defer cancel()
	if err := g.db.WithContext(dbCtx).Create(record).Error; err != nil {
		g.logger.ErrorContext(ctx, "error saving chat log", tint.Err(err))
	}
}

func (g *Guardian) handlerInteractionCreate(ctx context.Context) func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		g.handleInteraction(ctx, i)
	}
}

// handleInteraction dispatches slash commands and setup wizard components.
func (g *Guardian) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger := g.logger.With(interactionLogAttrs(*i)...)
	ctx = WithLogger(ctx, logger)

	var customID string
	switch i.Type {
	case discordgo.InteractionModalSubmit:
		customID = i.ModalSubmitData().CustomID
	case discordgo.InteractionMessageComponent:
		customID = i.MessageComponentData().CustomID
	}

	go g.writeInteractionLog(ctx, i, customID)

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		logger.InfoContext(ctx, "received command", "command_name", data.Name)
		switch data.Name {
		case DiscordSlashCommandSetup:
			if err := g.wizard.Start(ctx, i); err != nil {
				logger.ErrorContext(ctx, "error starting setup", tint.Err(err))
			}
		case DiscordSlashCommandClose:
			g.handleCloseCommand(ctx, i)
		default:
			logger.WarnContext(ctx, "unknown command", "command_name", data.Name)
		}
	case discordgo.InteractionModalSubmit, discordgo.InteractionMessageComponent:
		if !isSetupInteraction(customID) {
			logger.WarnContext(ctx, "unknown component", "custom_id", customID)
			return
		}
		err := g.wizard.HandleInteraction(ctx, i)
		switch {
		case err == nil:
			//
		case errors.Is(err, ErrSetupSessionMissing):
			g.respondEphemeral(
				ctx, i,
				"⏰ Your setup session expired. Please run `/setup` again.",
			)
		default:
			logger.ErrorContext(ctx, "error handling setup step", tint.Err(err))
		}
	}
}

func (g *Guardian) writeInteractionLog(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	customID string,
) {
	record, err := newInteractionLog(i, getDiscordUser(i), customID)
	if err != nil {
		g.logger.ErrorContext(ctx, "error serializing interaction", tint.Err(err))
		return
	}
	dbCtx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx), dbOperationTimeout,
	)
	defer cancel()
	if err = g.db.WithContext(dbCtx).Create(record).Error; err != nil {
		g.logger.ErrorContext(ctx, "error saving interaction log", tint.Err(err))
	}
}

// handleCloseCommand closes a support ticket: it announces the closure,
// waits briefly so the announcement is visible, then deletes the channel.
// Outside a ticket channel it refuses with an ephemeral reply.
func (g *Guardian) handleCloseCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = g.logger
	}

	cfg := g.store.Load(i.GuildID)
	if !g.isTicketChannel(ctx, i.ChannelID, cfg) {
		g.respondEphemeral(
			ctx, i,
			"❌ This command can only be used in a support ticket channel.",
		)
		return
	}

	err := g.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: DefaultDiscordClosingMessage,
			},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error announcing ticket close", tint.Err(err))
		return
	}

	channelID := i.ChannelID
	go func() {
		delayCtx := context.WithoutCancel(ctx)
		timer := time.NewTimer(g.config.Discord.TicketCloseDelay)
		defer timer.Stop()
		<-timer.C
		if _, deleteErr := g.discord.session.ChannelDelete(
			channelID, discordgo.WithContext(delayCtx),
		); deleteErr != nil {
			logger.Error("error deleting ticket channel", tint.Err(deleteErr))
			return
		}
		logger.Info("ticket closed", "channel_id", channelID)
	}()
}

func (g *Guardian) respondEphemeral(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = g.logger
	}
	if err := g.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
		discordgo.WithContext(ctx),
	); err != nil {
		logger.ErrorContext(ctx, "error sending ephemeral reply", tint.Err(err))
	}
}
