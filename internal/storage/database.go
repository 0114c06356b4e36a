package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"Story-Loom/server/internal/config"
	"Story-Loom/server/internal/events"
	"Story-Loom/server/internal/interfaces"
	"Story-Loom/server/internal/models"
)

// GormStore keeps sessions, units and event logs in MySQL or SQLite
type GormStore struct {
	db *gorm.DB
	mu sync.Mutex // Serializes log appends made by this process
}

// NewGormStore opens the configured driver and migrates the schema
func NewGormStore(cfg config.DatabaseConfig, logLevel string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dsn := cfg.MySQL.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
				cfg.MySQL.Username,
				cfg.MySQL.Password,
				cfg.MySQL.Host,
				cfg.MySQL.Port,
				cfg.MySQL.Database,
			)
		}
		dialector = mysql.Open(dsn)
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(parseLogLevel(logLevel)),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if cfg.Driver == "sqlite" {
		// SQLite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(
		&models.Session{},
		&models.Character{},
		&models.NarrativeUnit{},
		&models.SessionEvent{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &GormStore{db: db}, nil
}

func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction helper
func (s *GormStore) WithTx(ctx context.Context, fn func(*gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *GormStore) CreateSession(ctx context.Context, session *models.Session) error {
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *GormStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).
		Preload("Characters", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		}).
		First(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &session, nil
}

func (s *GormStore) Events(ctx context.Context, sessionID string) ([]events.Event, error) {
	return loadEvents(s.db.WithContext(ctx), sessionID)
}

func (s *GormStore) Append(ctx context.Context, sessionID string, evs ...events.Event) error {
	return s.AppendIf(ctx, sessionID, nil, evs...)
}

func (s *GormStore) AppendIf(ctx context.Context, sessionID string, check func(*models.Session, []events.Event) error, evs ...events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.WithTx(ctx, func(tx *gorm.DB) error {
		var session models.Session
		if err := tx.First(&session, "id = ?", sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return interfaces.ErrSessionNotFound
			}
			return err
		}

		if check != nil {
			log, err := loadEvents(tx, sessionID)
			if err != nil {
				return err
			}
			if err := check(&session, log); err != nil {
				return err
			}
		}
		if len(evs) == 0 {
			return nil
		}

		var lastSeq int
		if err := tx.Model(&models.SessionEvent{}).
			Where("session_id = ?", sessionID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&lastSeq).Error; err != nil {
			return err
		}

		rows := make([]models.SessionEvent, 0, len(evs))
		for i, ev := range evs {
			payload, err := events.Encode(ev)
			if err != nil {
				return err
			}
			rows = append(rows, models.SessionEvent{
				SessionID: sessionID,
				Seq:       lastSeq + i + 1,
				Type:      string(ev.Kind()),
				Payload:   string(payload),
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to append events: %w", err)
		}
		return nil
	})
}

func loadEvents(db *gorm.DB, sessionID string) ([]events.Event, error) {
	var rows []models.SessionEvent
	if err := db.Where("session_id = ?", sessionID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	log := make([]events.Event, 0, len(rows))
	for _, row := range rows {
		ev, err := events.Decode([]byte(row.Payload))
		if err != nil {
			return nil, fmt.Errorf("event %d of session %s: %w", row.Seq, sessionID, err)
		}
		log = append(log, ev)
	}
	return log, nil
}

func (s *GormStore) Units(ctx context.Context, sessionID string) ([]models.NarrativeUnit, error) {
	var units []models.NarrativeUnit
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("number ASC").Find(&units).Error; err != nil {
		return nil, fmt.Errorf("failed to load units: %w", err)
	}
	return units, nil
}

func (s *GormStore) CreateUnit(ctx context.Context, unit *models.NarrativeUnit) error {
	return s.WithTx(ctx, func(tx *gorm.DB) error {
		var session models.Session
		if err := tx.Select("generation").First(&session, "id = ?", unit.SessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return interfaces.ErrSessionNotFound
			}
			return err
		}
		if session.Generation != unit.Generation {
			return interfaces.ErrSessionReset
		}

		var prev models.NarrativeUnit
		if err := tx.Where("session_id = ?", unit.SessionID).Order("number DESC").Limit(1).Find(&prev).Error; err != nil {
			return err
		}

		unit.Number = prev.Number + 1
		if err := tx.Create(unit).Error; err != nil {
			return fmt.Errorf("failed to create unit: %w", err)
		}

		if prev.ID != 0 {
			if err := tx.Model(&models.NarrativeUnit{}).Where("id = ?", prev.ID).Update("next_unit_id", unit.ID).Error; err != nil {
				return fmt.Errorf("failed to link unit %d: %w", prev.ID, err)
			}
		}

		// A reset committed since the check leaves no matching row
		res := tx.Model(&models.Session{}).
			Where("id = ? AND generation = ?", unit.SessionID, unit.Generation).
			Update("actions_consumed", gorm.Expr("actions_consumed + ?", unit.ActionsConsumed))
		if res.Error != nil {
			return fmt.Errorf("failed to update action counter: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return interfaces.ErrSessionReset
		}
		return nil
	})
}

func (s *GormStore) SetUnitBackdrop(ctx context.Context, unitID uint, url string) error {
	return s.db.WithContext(ctx).Model(&models.NarrativeUnit{}).Where("id = ?", unitID).Update("backdrop_url", url).Error
}

func (s *GormStore) SetClosingSynopsis(ctx context.Context, sessionID, synopsis string) (string, error) {
	var stored string
	err := s.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&models.Session{}).
			Where("id = ? AND (closing_synopsis = '' OR closing_synopsis IS NULL)", sessionID).
			Update("closing_synopsis", synopsis).Error; err != nil {
			return err
		}
		var session models.Session
		if err := tx.Select("closing_synopsis").First(&session, "id = ?", sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return interfaces.ErrSessionNotFound
			}
			return err
		}
		stored = session.ClosingSynopsis
		return nil
	})
	return stored, err
}

func (s *GormStore) SetFinalVideo(ctx context.Context, sessionID, url string) error {
	return s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", sessionID).Update("final_video_url", url).Error
}

func (s *GormStore) Reset(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.WithTx(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Session{}).Where("id = ?", sessionID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return interfaces.ErrSessionNotFound
		}
		if err := tx.Model(&models.Session{}).Where("id = ?", sessionID).Updates(map[string]interface{}{
			"actions_consumed": 0,
			"closing_synopsis": "",
			"final_video_url":  "",
			"generation":       gorm.Expr("generation + 1"),
		}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.SessionEvent{}).Error; err != nil {
			return fmt.Errorf("failed to truncate log: %w", err)
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.NarrativeUnit{}).Error; err != nil {
			return fmt.Errorf("failed to delete units: %w", err)
		}
		return nil
	})
}
