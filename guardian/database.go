package guardian

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bwmarrin/discordgo"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// ModelUnixTime is an embeddable model with Unix millisecond timestamps
// for creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// InteractionLog records a slash command or setup component interaction as
// received from the gateway, with the raw payload for later inspection.
type InteractionLog struct {
	ModelUintID
	InteractionID string `json:"interaction_id" gorm:"not null"`
	Type          string `json:"type" gorm:"type:string"`
	UserID        string `json:"user_id" gorm:"not null"`
	Username      string `json:"username" gorm:"type:string"`
	GuildID       string `json:"guild_id" gorm:"type:string"`
	ChannelID     string `json:"channel_id" gorm:"type:string"`
	CustomID      string `json:"custom_id" gorm:"type:string"`
	Payload       string `json:"payload" gorm:"type:string"`
	CreatedAt     int64  `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

func newInteractionLog(
	i *discordgo.InteractionCreate,
	u *discordgo.User,
	customID string,
) (*InteractionLog, error) {
	payload, err := json.Marshal(i)
	if err != nil {
		return nil, err
	}
	rec := &InteractionLog{
		InteractionID: i.ID,
		Type:          i.Type.String(),
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
		CustomID:      customID,
		Payload:       string(payload),
	}
	if u != nil {
		rec.UserID = u.ID
		rec.Username = u.Username
	}
	return rec, nil
}

// ChatLog records a single relayed conversation turn: the user message,
// the assembled context sizes, and the outcome of the AI call.
type ChatLog struct {
	ModelUintID
	ModelUnixTime
	GuildID       string `json:"guild_id" gorm:"type:string"`
	ChannelID     string `json:"channel_id" gorm:"type:string"`
	UserID        string `json:"user_id" gorm:"not null"`
	Username      string `json:"username" gorm:"type:string"`
	Prompt        string `json:"prompt" gorm:"type:string"`
	Response      string `json:"response" gorm:"type:string"`
	PersonaBytes  int    `json:"persona_bytes"`
	NewsBytes     int    `json:"news_bytes"`
	LookupBytes   int    `json:"lookup_bytes"`
	Attempts      int    `json:"attempts"`
	DurationMS    int64  `json:"duration_ms"`
	Error         string `json:"error" gorm:"type:string"`
	UsedWikiHit   bool   `json:"used_wiki_hit"`
	UsedWebHit    bool   `json:"used_web_hit"`
	TicketChannel bool   `json:"ticket_channel"`
}

// CreateDB opens (creating if necessary) the SQLite database at the given
// path and runs migrations for the audit log models.
func CreateDB(
	ctx context.Context,
	database string,
	handler slog.Handler,
) (*gorm.DB, error) {
	gormLogger := newGORMLogger(handler, 500*time.Millisecond)
	dbLogger := slog.New(handler).With(loggerNameKey, "database")

	dbLogger.InfoContext(ctx, "Initializing database", "database", database)

	parentDir := filepath.Dir(database)
	if parentDir != "" {
		if err := os.MkdirAll(parentDir, 0755); err != nil {
			if !errors.Is(err, os.ErrExist) {
				return nil, err
			}
		}
	}

	db, err := gorm.Open(
		sqlite.Open(database),
		&gorm.Config{
			Logger: gormLogger,
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		},
	)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
	sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
	sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
	for _, pragma := range sqliteExecPragma {
		if err = db.Exec(pragma).Error; err != nil {
			return nil, err
		}
	}

	txn := db.WithContext(ctx).Begin()
	if err = txn.Migrator().AutoMigrate(
		&InteractionLog{},
		&ChatLog{},
	); err != nil {
		_ = txn.Rollback()
		return db, err
	}
	if commitErr := txn.Commit().Error; commitErr != nil {
		return db, commitErr
	}

	return db, nil
}
