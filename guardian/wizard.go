package guardian

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// ErrSetupSessionMissing indicates a setup component interaction arrived
// with no matching in-memory session (typically after a restart, or after
// the interaction-response window lapsed). The user is told to restart
// setup.
var ErrSetupSessionMissing = errors.New("no setup session for user")

// SetupStep identifies the wizard's current state. Steps advance strictly
// in order; Saved and Cancelled are terminal and both delete the session.
type SetupStep int

const (
	SetupStepBasicInfo SetupStep = iota + 1
	SetupStepChannels
	SetupStepPersonality
	SetupStepReview
)

const (
	setupModalBasicInfo = "setup_step1_modal"

	setupInputServerName    = "server_name"
	setupInputServerType    = "server_type"
	setupInputServerIP      = "server_ip"
	setupInputServerVersion = "server_version"

	setupSelectNewsCategory    = "setup_news_category"
	setupSelectSupportCategory = "setup_support_category"
	setupSelectRulesChannel    = "setup_rules_channel"
	setupSelectPersonality     = "setup_personality_style"
	setupSelectEmojiLevel      = "setup_emoji_level"

	setupButtonSave   = "setup_save"
	setupButtonCancel = "setup_cancel"

	setupSkipValue = "SKIP"

	// Discord caps select menus at 25 options; one slot is reserved for
	// the skip option.
	setupMaxSelectOptions = 24
)

// SetupSession is the ephemeral per-user wizard state: a draft config plus
// a step counter. It lives only in process memory - an open session is
// silently lost on restart.
type SetupSession struct {
	UserID    string
	GuildID   string
	Step      SetupStep
	Draft     GuildConfig
	StartedAt time.Time
}

// SetupWizard drives the four-step `/setup` flow: a basic-info modal,
// channel selects, personality selects, then a review embed with
// save/cancel buttons. Sessions are keyed by user ID; two admins running
// setup concurrently on the same guild race on save, and the last writer
// wins.
type SetupWizard struct {
	session DiscordSessionHandler
	store   *GuildConfigStore
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*SetupSession

	// onSave is invoked after a config is persisted, e.g. to trigger a
	// news rescan for the guild.
	onSave func(ctx context.Context, guildID string, cfg GuildConfig)
}

func newSetupWizard(
	session DiscordSessionHandler,
	store *GuildConfigStore,
	handler slog.Handler,
) *SetupWizard {
	return &SetupWizard{
		session:  session,
		store:    store,
		logger:   slog.New(handler).With(loggerNameKey, "setup_wizard"),
		sessions: map[string]*SetupSession{},
	}
}

func (w *SetupWizard) getSession(userID string) (*SetupSession, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[userID]
	return s, ok
}

func (w *SetupWizard) deleteSession(userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.sessions, userID)
}

// SessionCount returns the number of setup sessions currently open.
func (w *SetupWizard) SessionCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

// Start begins a new setup session for the interaction's user, seeding the
// draft from the guild's current (or default) config, and shows the
// basic-info modal. Any previous session for the user is replaced.
func (w *SetupWizard) Start(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	user := getDiscordUser(i)
	if user == nil {
		return errors.New("no user found in interaction")
	}

	current := w.store.Load(i.GuildID)
	w.mu.Lock()
	w.sessions[user.ID] = &SetupSession{
		UserID:    user.ID,
		GuildID:   i.GuildID,
		Step:      SetupStepBasicInfo,
		Draft:     current,
		StartedAt: time.Now(),
	}
	w.mu.Unlock()

	w.logger.Info(
		"setup started",
		"user_id", user.ID,
		"guild_id", i.GuildID,
	)

	return w.session.InteractionRespond(
		i.Interaction,
		w.basicInfoModal(current),
		discordgo.WithContext(ctx),
	)
}

func (*SetupWizard) basicInfoModal(
	current GuildConfig,
) *discordgo.InteractionResponse {
	shortInput := func(
		customID string,
		label string,
		placeholder string,
		value string,
		required bool,
	) discordgo.ActionsRow {
		return discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.TextInput{
					CustomID:    customID,
					Label:       label,
					Style:       discordgo.TextInputShort,
					Placeholder: placeholder,
					Value:       value,
					Required:    required,
				},
			},
		}
	}

	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: setupModalBasicInfo,
			Title:    "Step 1/4: Basic Server Info",
			Components: []discordgo.MessageComponent{
				shortInput(
					setupInputServerName,
					"Server Name",
					"e.g. ColdFront, Skyblock Central",
					current.ServerName,
					true,
				),
				shortInput(
					setupInputServerType,
					"Server Type",
					"e.g. Vanilla, Paper, Modded, Bedrock",
					current.ServerType,
					true,
				),
				shortInput(
					setupInputServerIP,
					"Server IP (Optional)",
					"play.myserver.com",
					stringPointerValue(current.ServerIP),
					false,
				),
				shortInput(
					setupInputServerVersion,
					"Minecraft Version",
					"e.g. 1.21, 1.8-1.21",
					current.ServerVersion,
					true,
				),
			},
		},
	}
}

// isSetupInteraction reports whether the given modal/component custom ID
// belongs to the setup wizard.
func isSetupInteraction(customID string) bool {
	return strings.HasPrefix(customID, "setup_")
}

// HandleInteraction routes a wizard modal submission, select, or button
// press for an in-flight session. Returns [ErrSetupSessionMissing] if the
// user has no session.
func (w *SetupWizard) HandleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	user := getDiscordUser(i)
	if user == nil {
		return errors.New("no user found in interaction")
	}

	session, ok := w.getSession(user.ID)
	if !ok {
		return ErrSetupSessionMissing
	}

	switch i.Type {
	case discordgo.InteractionModalSubmit:
		return w.handleModalSubmit(ctx, i, session)
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		switch data.ComponentType {
		case discordgo.SelectMenuComponent:
			return w.handleSelect(ctx, i, session, data)
		case discordgo.ButtonComponent:
			return w.handleButton(ctx, i, session, data)
		default:
			return fmt.Errorf("unexpected component type: %v", data.ComponentType)
		}
	default:
		return fmt.Errorf("unexpected interaction type: %v", i.Type)
	}
}

func (w *SetupWizard) handleModalSubmit(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	session *SetupSession,
) error {
	data := i.ModalSubmitData()
	if data.CustomID != setupModalBasicInfo {
		return fmt.Errorf("unexpected modal: %s", data.CustomID)
	}

	session.Draft.ServerName = modalInputValue(data, setupInputServerName)
	session.Draft.ServerType = modalInputValue(data, setupInputServerType)
	session.Draft.ServerVersion = modalInputValue(data, setupInputServerVersion)
	if ip := modalInputValue(data, setupInputServerIP); ip != "" {
		session.Draft.ServerIP = &ip
	} else {
		session.Draft.ServerIP = nil
	}

	session.Step = SetupStepChannels
	return w.showChannelStep(ctx, i, session)
}

// modalInputValue extracts the value of the text input with the given
// custom ID from a modal submission.
func modalInputValue(
	data discordgo.ModalSubmitInteractionData,
	customID string,
) string {
	for _, row := range data.Components {
		actionsRow, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, component := range actionsRow.Components {
			input, inputOK := component.(*discordgo.TextInput)
			if inputOK && input.CustomID == customID {
				return strings.TrimSpace(input.Value)
			}
		}
	}
	return ""
}

// showChannelStep replies to the modal submission with the step 2 select
// menus (news category, support category, rules channel).
func (w *SetupWizard) showChannelStep(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	session *SetupSession,
) error {
	channels, err := w.session.GuildChannels(
		session.GuildID, discordgo.WithContext(ctx),
	)
	if err != nil {
		w.logger.Error("error listing guild channels", tint.Err(err))
		channels = nil
	}

	var categoryOptions []discordgo.SelectMenuOption
	var textChannelOptions []discordgo.SelectMenuOption
	for _, channel := range channels {
		switch channel.Type {
		case discordgo.ChannelTypeGuildCategory:
			if len(categoryOptions) < setupMaxSelectOptions {
				categoryOptions = append(
					categoryOptions, discordgo.SelectMenuOption{
						Label: channel.Name,
						Value: channel.ID,
					},
				)
			}
		case discordgo.ChannelTypeGuildText:
			if len(textChannelOptions) < setupMaxSelectOptions {
				textChannelOptions = append(
					textChannelOptions, discordgo.SelectMenuOption{
						Label: "#" + channel.Name,
						Value: channel.ID,
					},
				)
			}
		}
	}

	withSkip := func(
		label string,
		options []discordgo.SelectMenuOption,
	) []discordgo.SelectMenuOption {
		return append(
			[]discordgo.SelectMenuOption{{Label: label, Value: setupSkipValue}},
			options...,
		)
	}
	selectRow := func(
		customID string,
		placeholder string,
		options []discordgo.SelectMenuOption,
	) discordgo.ActionsRow {
		return discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    customID,
					Placeholder: placeholder,
					Options:     options,
				},
			},
		}
	}

	return w.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: "**Step 2/4: Channels & Categories**\n" +
					"Configure where the bot should look for news, create " +
					"tickets, and find rules.",
				Flags: discordgo.MessageFlagsEphemeral,
				Components: []discordgo.MessageComponent{
					selectRow(
						setupSelectNewsCategory,
						"📰 Select News Category",
						withSkip("❌ Skip / No News", categoryOptions),
					),
					selectRow(
						setupSelectSupportCategory,
						"🎫 Select Support Category",
						withSkip("❌ Skip / No Support Tickets", categoryOptions),
					),
					selectRow(
						setupSelectRulesChannel,
						"📜 Select Rules Channel (Last step for this page)",
						withSkip("❌ Skip / No Rules Channel", textChannelOptions),
					),
				},
			},
		},
		discordgo.WithContext(ctx),
	)
}

func (w *SetupWizard) handleSelect(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	session *SetupSession,
	data discordgo.MessageComponentInteractionData,
) error {
	if len(data.Values) == 0 {
		return fmt.Errorf("no value selected for %s", data.CustomID)
	}
	selected := data.Values[0]
	optionalID := func() *string {
		if selected == setupSkipValue {
			return nil
		}
		value := selected
		return &value
	}

	switch data.CustomID {
	case setupSelectNewsCategory:
		session.Draft.NewsCategoryID = optionalID()
		return w.deferUpdate(ctx, i)
	case setupSelectSupportCategory:
		session.Draft.SupportCategoryID = optionalID()
		return w.deferUpdate(ctx, i)
	case setupSelectRulesChannel:
		session.Draft.RulesChannelID = optionalID()
		session.Step = SetupStepPersonality
		return w.showPersonalityStep(ctx, i)
	case setupSelectPersonality:
		session.Draft.Personality = Personality(selected)
		return w.deferUpdate(ctx, i)
	case setupSelectEmojiLevel:
		session.Draft.EmojiLevel = EmojiLevel(selected)
		session.Step = SetupStepReview
		return w.showReviewStep(ctx, i, session)
	default:
		return fmt.Errorf("unexpected select: %s", data.CustomID)
	}
}

// deferUpdate acknowledges a component interaction without changing the
// message, so the user can keep working through the other selects on the
// same step.
func (w *SetupWizard) deferUpdate(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	return w.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		},
		discordgo.WithContext(ctx),
	)
}

func (w *SetupWizard) showPersonalityStep(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	personalityRow := discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				MenuType:    discordgo.StringSelectMenu,
				CustomID:    setupSelectPersonality,
				Placeholder: "🧠 Select Identity Style",
				Options: []discordgo.SelectMenuOption{
					{
						Label: "Professional (Formal, Efficient)",
						Value: string(PersonalityProfessional),
					},
					{
						Label: "Casual (Friendly, Welcoming)",
						Value: string(PersonalityCasual),
					},
					{
						Label: "Fun (Energetic, Expressive)",
						Value: string(PersonalityFun),
					},
					{
						Label: "Minimal (Direct, Brief)",
						Value: string(PersonalityMinimal),
					},
				},
			},
		},
	}
	emojiRow := discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				MenuType:    discordgo.StringSelectMenu,
				CustomID:    setupSelectEmojiLevel,
				Placeholder: "😊 Select Emoji Usage Level (Last step)",
				Options: []discordgo.SelectMenuOption{
					{Label: "None (No emojis)", Value: string(EmojiLevelNone)},
					{Label: "Light (Minimal)", Value: string(EmojiLevelLight)},
					{Label: "Moderate (Balanced)", Value: string(EmojiLevelModerate)},
					{Label: "Heavy (Expressive)", Value: string(EmojiLevelHeavy)},
				},
			},
		},
	}

	return w.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Content: "**Step 3/4: Personality Customization**\n" +
					"Choose how your bot should sound and behave.",
				Components: []discordgo.MessageComponent{personalityRow, emojiRow},
			},
		},
		discordgo.WithContext(ctx),
	)
}

func (w *SetupWizard) showReviewStep(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	session *SetupSession,
) error {
	cfg := session.Draft
	channelRef := func(id *string) string {
		if id == nil {
			return "None"
		}
		return fmt.Sprintf("<#%s>", *id)
	}
	orNone := func(s *string) string {
		if s == nil || *s == "" {
			return "None"
		}
		return *s
	}

	embed := &discordgo.MessageEmbed{
		Title: "Step 4/4: Review Configuration",
		Color: 0x0099FF,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "Server Details",
				Value: fmt.Sprintf(
					"Name: **%s**\nType: **%s**\nIP: %s\nVer: %s",
					cfg.ServerName,
					cfg.ServerType,
					orNone(cfg.ServerIP),
					cfg.ServerVersion,
				),
			},
			{
				Name: "Channels",
				Value: fmt.Sprintf(
					"News: %s\nSupport: %s\nRules: %s",
					channelRef(cfg.NewsCategoryID),
					channelRef(cfg.SupportCategoryID),
					channelRef(cfg.RulesChannelID),
				),
			},
			{
				Name: "Personality",
				Value: fmt.Sprintf(
					"Style: **%s**\nEmoji: **%s**",
					cfg.Personality,
					cfg.EmojiLevel,
				),
			},
		},
	}

	buttons := discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{
				CustomID: setupButtonSave,
				Label:    "✅ Save & Finish",
				Style:    discordgo.SuccessButton,
			},
			discordgo.Button{
				CustomID: setupButtonCancel,
				Label:    "❌ Cancel",
				Style:    discordgo.DangerButton,
			},
		},
	}

	return w.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Content:    "**Almost done!** Review your settings below.",
				Embeds:     []*discordgo.MessageEmbed{embed},
				Components: []discordgo.MessageComponent{buttons},
			},
		},
		discordgo.WithContext(ctx),
	)
}

func (w *SetupWizard) handleButton(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	session *SetupSession,
	data discordgo.MessageComponentInteractionData,
) error {
	switch data.CustomID {
	case setupButtonSave:
		if err := w.store.Save(session.GuildID, session.Draft); err != nil {
			w.logger.Error("error saving guild config", tint.Err(err))
			return w.session.InteractionRespond(
				i.Interaction,
				&discordgo.InteractionResponse{
					Type: discordgo.InteractionResponseUpdateMessage,
					Data: &discordgo.InteractionResponseData{
						Content:    "❌ Something went wrong saving your settings. Please try again.",
						Embeds:     []*discordgo.MessageEmbed{},
						Components: []discordgo.MessageComponent{},
					},
				},
				discordgo.WithContext(ctx),
			)
		}
		w.deleteSession(session.UserID)
		w.logger.Info(
			"setup complete",
			"user_id", session.UserID,
			"guild_id", session.GuildID,
		)

		if w.onSave != nil {
			w.onSave(ctx, session.GuildID, session.Draft)
		}

		embed := &discordgo.MessageEmbed{
			Title: "✅ Setup Complete!",
			Description: fmt.Sprintf(
				"**%s** is now configured for **%s**!",
				session.Draft.BotName,
				session.Draft.ServerName,
			),
			Color: 0x00FF00,
			Fields: []*discordgo.MessageEmbedField{
				{
					Name: "Server",
					Value: fmt.Sprintf(
						"%s (%s)",
						session.Draft.ServerName,
						session.Draft.ServerType,
					),
					Inline: true,
				},
				{
					Name:   "IP",
					Value:  orDefault(stringPointerValue(session.Draft.ServerIP), "None"),
					Inline: true,
				},
				{
					Name: "Personality",
					Value: fmt.Sprintf(
						"%s / %s emojis",
						session.Draft.Personality,
						session.Draft.EmojiLevel,
					),
					Inline: true,
				},
			},
		}
		return w.session.InteractionRespond(
			i.Interaction,
			&discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseUpdateMessage,
				Data: &discordgo.InteractionResponseData{
					Content:    "",
					Embeds:     []*discordgo.MessageEmbed{embed},
					Components: []discordgo.MessageComponent{},
				},
			},
			discordgo.WithContext(ctx),
		)
	case setupButtonCancel:
		w.deleteSession(session.UserID)
		w.logger.Info(
			"setup cancelled",
			"user_id", session.UserID,
			"guild_id", session.GuildID,
		)
		return w.session.InteractionRespond(
			i.Interaction,
			&discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseUpdateMessage,
				Data: &discordgo.InteractionResponseData{
					Content:    "❌ Setup cancelled.",
					Embeds:     []*discordgo.MessageEmbed{},
					Components: []discordgo.MessageComponent{},
				},
			},
			discordgo.WithContext(ctx),
		)
	default:
		return fmt.Errorf("unexpected button: %s", data.CustomID)
	}
}

func orDefault(s string, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
