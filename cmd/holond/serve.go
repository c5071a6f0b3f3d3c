package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exzerolog"

	"github.com/NullCoward/HolonAI/pkg/aiclient"
	"github.com/NullCoward/HolonAI/pkg/heart"
	"github.com/NullCoward/HolonAI/pkg/holon"
	"github.com/NullCoward/HolonAI/pkg/holonconfig"
	"github.com/NullCoward/HolonAI/pkg/interfaceapi"
	"github.com/NullCoward/HolonAI/pkg/storage"
	"github.com/NullCoward/HolonAI/pkg/telemetry"
)

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parse log level %q: %w", level, err)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMilli}).
		With().Timestamp().Logger().Level(lvl)
	exzerolog.SetupDefaults(&log)
	return log, nil
}

// runServe wires the whole runtime: store, tree, heart, interface API and
// telemetry snapshots, then blocks until the context is cancelled.
func runServe(ctx context.Context, cfg *holonconfig.Config) error {
	log, err := newLogger(cfg.Logging.Level)
	if err != nil {
		return err
	}

	client, err := aiclient.ForProvider(cfg.AI.Provider, cfg.AI.Model, cfg.AI.APIKey, cfg.AI.BaseURL, log)
	if err != nil {
		return err
	}

	var store *storage.Store
	if cfg.Storage.Path != "" {
		if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("create storage directory: %w", err)
			}
		}
		store, err = storage.Open(ctx, cfg.Storage.Path, cfg.Storage.Passphrase, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Err(err).Msg("Failed to close store")
			}
		}()
	}

	root, err := bootstrapTree(ctx, store, log)
	if err != nil {
		return err
	}

	collector := telemetry.New()

	heartCfg := heart.Config{
		Root:              root,
		Client:            client,
		Model:             cfg.AI.Model,
		Interval:          cfg.Heart.Interval(),
		MaxResponseTokens: cfg.AI.MaxResponseTokens,
		StructuredOutput:  *cfg.AI.StructuredOutput,
		RequestTimeout:    cfg.AI.RequestTimeout(),
		Telemetry:         collector,
		Logger:            log,
	}
	if store != nil {
		heartCfg.Storage = store
	}
	hrt, err := heart.New(heartCfg)
	if err != nil {
		return err
	}

	if cfg.Heart.RootAllocation > 0 {
		hrt.AddTokenAllocation(root, cfg.Heart.RootAllocation)
	}
	for id, amount := range cfg.Heart.Allocations {
		target := root.FindInTree(id)
		if target == nil {
			log.Warn().Str("holon_id", id).Msg("Allocation target not in tree, skipping")
			continue
		}
		hrt.AddTokenAllocation(target, amount)
	}

	iface := interfaceapi.New()
	iface.ConnectTree(root)
	// Children spawned by heartbeat actions stay reachable through the
	// inspection surface.
	hrt.OnHeartbeat(func(*heart.Heartbeat) {
		iface.ConnectTree(root)
	})

	var srv *http.Server
	if cfg.API.Listen != "" {
		api := interfaceapi.NewAPI(iface, log)
		srv = &http.Server{Addr: cfg.API.Listen, Handler: api.Handler()}
		go func() {
			log.Info().Str("listen", cfg.API.Listen).Msg("Inspection API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Err(err).Msg("HTTP server failed")
			}
		}()
	}

	var snapshotter *telemetry.Snapshotter
	if cfg.Telemetry.SnapshotCron != "" && store != nil {
		snapshotter, err = telemetry.NewSnapshotter(collector, store, cfg.Telemetry.SnapshotCron, log)
		if err != nil {
			return err
		}
		snapshotter.Start()
	}

	hrt.Start()
	log.Info().Str("root_id", root.ID()).Msg("Holonic runtime started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	hrt.Stop()
	if snapshotter != nil {
		snapshotter.Stop()
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Err(err).Msg("HTTP shutdown failed")
		}
	}
	if store != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if count, err := store.SaveTree(saveCtx, root); err != nil {
			log.Err(err).Msg("Final tree save failed")
		} else {
			log.Info().Int("holons", count).Msg("Saved holon tree")
		}
	}
	return nil
}

// bootstrapTree restores the stored tree or creates a fresh root. With a
// store attached, the tree is bound for auto-save.
func bootstrapTree(ctx context.Context, store *storage.Store, log zerolog.Logger) (*holon.Agent, error) {
	if store != nil {
		roots, err := store.ListHobjs(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("list stored holons: %w", err)
		}
		for _, id := range roots {
			if id == holon.InterfaceAgentID {
				continue
			}
			root, err := store.RestoreTree(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("restore tree %s: %w", id, err)
			}
			if err := root.BindStorageTree(store); err != nil {
				return nil, err
			}
			log.Info().Str("root_id", id).Msg("Restored holon tree")
			return root, nil
		}
	}

	root := holon.New()
	if store != nil {
		if err := root.BindStorageTree(store); err != nil {
			return nil, err
		}
		if _, err := store.SaveTree(ctx, root); err != nil {
			return nil, fmt.Errorf("save new root: %w", err)
		}
	}
	log.Info().Str("root_id", root.ID()).Msg("Created new root holon")
	return root, nil
}
