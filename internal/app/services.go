package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightstage/internal/api"
	"github.com/dokzlo13/lightstage/internal/config"
	"github.com/dokzlo13/lightstage/internal/controller/hue"
	"github.com/dokzlo13/lightstage/internal/controller/mqtt"
	"github.com/dokzlo13/lightstage/internal/db"
	"github.com/dokzlo13/lightstage/internal/dispatch"
	"github.com/dokzlo13/lightstage/internal/effect"
	"github.com/dokzlo13/lightstage/internal/engine"
	"github.com/dokzlo13/lightstage/internal/eventbus"
	"github.com/dokzlo13/lightstage/internal/ledger"
	"github.com/dokzlo13/lightstage/internal/registry"
	"github.com/dokzlo13/lightstage/internal/scene"
	"github.com/dokzlo13/lightstage/internal/storage"
	"github.com/dokzlo13/lightstage/internal/target"
)

// Services is a container for all application services.
// Persistence and effects are built by NewServices; controllers and the engine
// need the bridge and broker and are built by Start.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Store  *storage.Store
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus

	// Definitions
	Scenes  *registry.Scenes
	Groups  *registry.Groups
	Effects *effect.Registry

	// Runtime
	Controllers []dispatch.Controller
	Queue       *dispatch.Queue
	Stager      *scene.Stager
	Engine      *engine.Engine
	API         *api.Server

	disconnect []func()
}

// NewServices opens the database, loads definitions and registers effects.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Store = storage.NewStore(database.DB)

	s.Scenes = registry.NewScenes(s.Store)
	s.Groups = registry.NewGroups(s.Store)
	if err := s.Scenes.Load(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.Groups.Load(); err != nil {
		s.Close()
		return nil, err
	}
	if cfg.Definitions != "" {
		if _, _, err := registry.ImportFile(cfg.Definitions, s.Scenes, s.Groups); err != nil {
			s.Close()
			return nil, err
		}
	}
	log.Info().Int("scenes", s.Scenes.Len()).Int("groups", s.Groups.Len()).Msg("Definitions loaded")

	s.Effects = effect.NewBuiltinRegistry()
	for _, sc := range cfg.Effects.Scripts {
		script, err := effect.LoadScript(sc.Name, sc.Path, sc.Interval.Duration())
		if err != nil {
			s.Close()
			return nil, err
		}
		script.SetTimeout(sc.Timeout.Duration())
		s.Effects.Register(script.Name(), script.Factory())
		log.Info().Str("effect", sc.Name).Str("path", sc.Path).Msg("Registered scripted effect")
	}

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	if cfg.Ledger.IsEnabled() {
		s.Ledger = ledger.New(database.DB)
		s.Ledger.Subscribe(s.Bus)
	}

	return s, nil
}

// Import reads a definitions file into the registries and persists them.
func (s *Services) Import(path string) error {
	if _, _, err := registry.ImportFile(path, s.Scenes, s.Groups); err != nil {
		return err
	}
	if err := s.Scenes.Save(); err != nil {
		return err
	}
	return s.Groups.Save()
}

// connectControllers dials every enabled backend. Hue is registered first so
// it wins targets both could claim.
func (s *Services) connectControllers(ctx context.Context) error {
	if s.cfg.Hue.Enabled {
		c, err := hue.Connect(ctx, s.cfg.Hue.Bridge, s.cfg.Hue.Token, s.cfg.Hue.RateLimitRPS)
		if err != nil {
			return err
		}
		s.Controllers = append(s.Controllers, c)
	}

	if s.cfg.MQTT.Enabled {
		c, disconnect, err := mqtt.Connect(mqtt.Config{
			Broker:      s.cfg.MQTT.Broker,
			Username:    s.cfg.MQTT.Username,
			Password:    s.cfg.MQTT.Password,
			ClientID:    s.cfg.MQTT.ClientID,
			TopicPrefix: s.cfg.MQTT.TopicPrefix,
			QoS:         byte(s.cfg.MQTT.QoS),
			Retain:      s.cfg.MQTT.Retain,
		})
		if err != nil {
			return err
		}
		s.Controllers = append(s.Controllers, c)
		s.disconnect = append(s.disconnect, disconnect)
	}

	if len(s.Controllers) == 0 {
		log.Warn().Msg("No controllers enabled, scene output will be dropped")
	}
	return nil
}

// Start connects the controllers and starts the engine and background loops.
// onFatalError is called when a background service fails.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if err := s.connectControllers(ctx); err != nil {
		return fmt.Errorf("failed to connect controllers: %w", err)
	}

	s.Queue = dispatch.NewQueue(s.Controllers...)
	s.Stager = scene.NewStager(s.Scenes, target.NewResolver(s.Groups), s.Effects)
	s.Engine = engine.New(s.Stager, s.Queue, s.Effects, engine.Options{
		TickInterval: s.cfg.Engine.TickInterval.Duration(),
		Events:       s.Bus,
	})

	go func() {
		if err := s.Engine.Run(ctx); err != nil {
			onFatalError(err)
		}
	}()

	if s.Ledger != nil {
		go s.Ledger.RunCleanup(ctx, s.cfg.Ledger.Retention(), s.cfg.Ledger.CleanupInterval.Duration())
	}

	if s.cfg.API.Enabled {
		s.API = api.NewServer(s.cfg.API.Host, s.cfg.API.Port, api.Deps{
			Engine:         s.Engine,
			Scenes:         s.Scenes,
			Groups:         s.Groups,
			Ledger:         s.Ledger,
			EffectNames:    s.Effects.Names,
			AllowedOrigins: s.cfg.API.AllowedOrigins,
		})
		go func() {
			if err := s.API.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
				onFatalError(fmt.Errorf("api server: %w", err))
			}
		}()
	}

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	if s.Engine != nil {
		s.Engine.Stop()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	for _, disconnect := range s.disconnect {
		disconnect()
	}
	s.disconnect = nil
	if s.DB != nil {
		s.DB.Close()
		s.DB = nil
	}
}
