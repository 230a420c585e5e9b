package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pquill/arena/internal/world"
	"github.com/pquill/arena/pkg/retry"
)

// playerRow is the players table. Column names are shared with the
// original deployment's schema.
type playerRow struct {
	ID           uint64 `gorm:"primaryKey;column:id"`
	Username     string `gorm:"column:username;uniqueIndex"`
	PasswordHash string `gorm:"column:password_hash"`
	X            float64
	Y            float64
	Z            float64
	Health       int
	Level        int
	UpdatedAt    time.Time
}

func (playerRow) TableName() string { return "players" }

// Store is the GORM-backed persistence adapter.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open connects to the sqlite database at dsn, retrying briefly, and
// migrates the players table.
func Open(ctx context.Context, dsn string, log *slog.Logger) (*Store, error) {
	log = log.With("component", "store")

	var db *gorm.DB
	err := retry.Do(ctx, func(ctx context.Context) error {
		var err error
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Discard,
		})
		return err
	},
		retry.WithMaxAttempts(3),
		retry.WithInitialDelay(250*time.Millisecond),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("database open failed, retrying",
				"attempt", attempt, "delay", delay, "error", err.Error())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&playerRow{}); err != nil {
		return nil, fmt.Errorf("migrate players table: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

func (s *Store) UpdatePosition(playerID uint64, x, y, z float64) error {
	return s.db.Model(&playerRow{}).
		Where("id = ?", playerID).
		Updates(map[string]any{"x": x, "y": y, "z": z}).Error
}

func (s *Store) UpdateStats(playerID uint64, level, health int) error {
	return s.db.Model(&playerRow{}).
		Where("id = ?", playerID).
		Updates(map[string]any{"level": level, "health": health}).Error
}

// PlayerByUsername returns the stored player, or nil when the username is
// unknown.
func (s *Store) PlayerByUsername(username string) (*world.Player, error) {
	var row playerRow
	err := s.db.Where("username = ?", username).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", username, err)
	}

	p := world.NewPlayer(0, row.ID, row.Username)
	p.Position = world.Position{X: row.X, Y: row.Y, Z: row.Z}
	p.Health = row.Health
	p.Level = row.Level
	return p, nil
}

// CreatePlayer inserts a new account row and returns its id.
func (s *Store) CreatePlayer(username, passwordHash string) (uint64, error) {
	row := playerRow{Username: username, PasswordHash: passwordHash, Health: 100, Level: 1}
	if err := s.db.Create(&row).Error; err != nil {
		return 0, fmt.Errorf("create player %q: %w", username, err)
	}
	return row.ID, nil
}

// PasswordHash returns the stored credential hash for username.
func (s *Store) PasswordHash(username string) (string, error) {
	var row playerRow
	err := s.db.Select("password_hash").Where("username = ?", username).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup credentials for %q: %w", username, err)
	}
	return row.PasswordHash, nil
}
