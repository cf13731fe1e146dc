package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/nerrad567/overlay-core/internal/infrastructure/config"
	"github.com/nerrad567/overlay-core/internal/infrastructure/database"
	"github.com/nerrad567/overlay-core/internal/overlay"
)

const defaultConfigPath = "configs/config.yaml"

type commandContext struct {
	configFlag *string
	dbFlag     *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, dbFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		dbFlag:     dbFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := defaultConfigPath
		if env := os.Getenv("OVERLAY_CONFIG"); env != "" {
			path = env
		}
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			path = strings.TrimSpace(*c.configFlag)
		}

		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.dbFlag != nil && strings.TrimSpace(*c.dbFlag) != "" {
			cfg.Database.Path = strings.TrimSpace(*c.dbFlag)
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// store is an open database plus, for write commands, the writer lock.
type store struct {
	db   *database.DB
	lock *database.WriterLock
}

func (s *store) Close() error {
	err := s.db.Close()
	if releaseErr := s.lock.Release(); releaseErr != nil && err == nil {
		err = releaseErr
	}
	return err
}

// openStore opens the configured database. With write set it first takes the
// writer lock, so it fails while overlayd is running. The database must exist
// unless create is set.
func (c *commandContext) openStore(write, create bool) (*store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	path := cfg.Database.Path

	if !create {
		if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("database %s not found; run `overlayctl migrate` or start overlayd first", path)
		}
	}

	db, err := database.Open(database.Config{
		Path:        path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &store{db: db}
	if write {
		lock, lockErr := database.AcquireWriterLock(path)
		if lockErr != nil {
			db.Close() //nolint:errcheck // Best effort cleanup on error path
			if errors.Is(lockErr, database.ErrWriterLocked) {
				return nil, fmt.Errorf("%s is held by another writer; stop overlayd or publish through it: %w", path, lockErr)
			}
			return nil, lockErr
		}
		s.lock = lock
	}
	return s, nil
}

// loadRegistry opens the store and loads every scene into a registry.
func (c *commandContext) loadRegistry(ctx context.Context, write bool) (*overlay.Registry, *store, error) {
	s, err := c.openStore(write, false)
	if err != nil {
		return nil, nil, err
	}
	registry := overlay.NewRegistry(overlay.NewSQLiteRepository(s.db.DB))
	if err := registry.Load(ctx); err != nil {
		s.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, nil, fmt.Errorf("loading scenes: %w", err)
	}
	return registry, s, nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
