package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/service"
	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store"
	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store/memory"
	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store/postgres"
	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store/redis"
	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store/sqlite"
	"github.com/BrandonDHaskell/Bulletin/internal/config"
	dbpkg "github.com/BrandonDHaskell/Bulletin/internal/db"
)

type stores struct {
	codes         store.CodeStore
	revocations   store.RevocationStore
	announcements store.AnnouncementStore
	events        store.AccessEventStore

	pingers []store.Pinger
	closers []func() error
}

// ready pings every remote medium in turn.
func (s *stores) ready(ctx context.Context) error {
	for _, p := range s.pingers {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// close releases resources in reverse order of acquisition.
func (s *stores) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openStores(ctx context.Context, cfg config.Config, logger *log.Logger) (*stores, error) {
	s := &stores{}
	seed := service.DefaultAnnouncements(nowUTC())

	switch cfg.StoreDriver {
	case config.DriverMemory:
		var initial []store.AnnouncementRecord
		if cfg.SeedDefaults {
			initial = seed
		}
		s.codes = memory.NewCodeStore()
		s.revocations = memory.NewRevocationStore()
		s.announcements = memory.NewAnnouncementStore(initial)
		s.events = memory.NewAccessEventStore()
		return s, nil

	case config.DriverSQLite:
		if err := s.openSQLite(ctx, cfg, seed, true); err != nil {
			_ = s.close()
			return nil, err
		}
		return s, nil

	case config.DriverPostgres:
		if err := s.openPostgres(ctx, cfg, seed, true); err != nil {
			_ = s.close()
			return nil, err
		}
		return s, nil

	case config.DriverRedis:
		rs, err := redis.Open(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis: %w", err)
		}
		s.closers = append(s.closers, rs.Close)
		s.pingers = append(s.pingers, rs)

		// Announcements and the audit trail need ordered queries, so they
		// stay relational.
		if cfg.PostgresDSN != "" {
			err = s.openPostgres(ctx, cfg, seed, false)
		} else {
			err = s.openSQLite(ctx, cfg, seed, false)
		}
		if err != nil {
			_ = s.close()
			return nil, err
		}
		s.codes = rs
		s.revocations = rs
		logger.Printf("codes and revocations in redis at %s", cfg.RedisAddr)
		return s, nil
	}

	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func (s *stores) openSQLite(ctx context.Context, cfg config.Config, seed []store.AnnouncementRecord, codes bool) error {
	db, err := dbpkg.Open(ctx, dbpkg.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	writer := dbpkg.NewWorker(db)
	s.closers = append(s.closers, db.Close, func() error { writer.Close(); return nil })

	if cfg.SeedDefaults {
		if err := dbpkg.SeedAnnouncements(ctx, db, seed); err != nil {
			return err
		}
	}

	s.announcements = sqlite.NewAnnouncementStore(db, writer)
	s.events = sqlite.NewAccessEventStore(db, writer)
	if codes {
		cs := sqlite.NewCodeStore(db, writer)
		s.codes = cs
		s.revocations = sqlite.NewRevocationStore(db, writer)
		s.pingers = append(s.pingers, cs)
	}
	return nil
}

func (s *stores) openPostgres(ctx context.Context, cfg config.Config, seed []store.AnnouncementRecord, codes bool) error {
	pg, err := postgres.Open(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	s.closers = append(s.closers, pg.Close)
	s.pingers = append(s.pingers, pg)

	if err := pg.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	if cfg.SeedDefaults {
		if err := pg.SeedAnnouncements(ctx, seed); err != nil {
			return err
		}
	}

	s.announcements = pg
	s.events = pg
	if codes {
		s.codes = pg
		s.revocations = pg
	}
	return nil
}
