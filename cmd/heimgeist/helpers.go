package main

import (
	"fmt"
	"time"

	"heimgeist/internal/archive"
	"heimgeist/internal/chronik"
	"heimgeist/internal/config"
	"heimgeist/internal/engine"
	"heimgeist/internal/logging"
	"heimgeist/internal/persist"
	"heimgeist/internal/selfmodel"
	"heimgeist/internal/sidestore"
)

// buildEngine wires the full stack from config: persistence, side
// store, self-model, chronik client, archiver and the engine itself,
// then runs the startup recovery phase. The returned cleanup closes
// what needs closing.
func buildEngine(cfg config.Config) (*engine.Engine, func(), error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	logging.Init(level, cfg.Logging.Format)

	var store *persist.Store
	if cfg.PersistenceEnabled {
		store, err = persist.New(cfg.StateDir, persist.WithLogger(logging.New("persist")))
		if err != nil {
			return nil, nil, err
		}
	}

	modelOpts := []selfmodel.Option{selfmodel.WithLogger(logging.New("selfmodel"))}
	if store != nil {
		modelOpts = append(modelOpts, selfmodel.WithPersister(store))
	}
	model := selfmodel.New(selfmodel.DefaultThresholds(), modelOpts...)

	cleanup := func() {}
	opts := []engine.Option{engine.WithLogger(logging.New("engine"))}

	if cfg.SideDBPath != "" {
		side, err := sidestore.Open(cfg.SideDBPath)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { _ = side.Close() }
		opts = append(opts, engine.WithSideStore(side))
	}

	var log *chronik.Client
	if cfg.Chronik.BaseURL != "" {
		cursorPath := ""
		if store != nil {
			cursorPath = store.CursorPath()
		}
		log, err = chronik.New(cfg.Chronik.BaseURL, cfg.Chronik.Domain, cursorPath,
			chronik.WithLogger(logging.New("chronik")),
			chronik.WithTimeout(time.Duration(cfg.Chronik.TimeoutSeconds)*time.Second),
			chronik.WithMaxSkip(cfg.Chronik.MaxSkip))
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opts = append(opts, engine.WithEventLog(log))
	}

	if store != nil {
		var delivery archive.Log
		if log != nil && cfg.ChronikOutput() {
			delivery = log
		}
		opts = append(opts, engine.WithArchiver(
			archive.NewArchiver(store, delivery, logging.New("archive"))))
	}

	e := engine.New(cfg, model, store, opts...)
	if err := e.Load(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("startup recovery: %w", err)
	}
	return e, cleanup, nil
}

func loadConfigAndBuild() (*engine.Engine, func(), error) {
	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return nil, nil, err
	}
	return buildEngine(cfg)
}
