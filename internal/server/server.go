package server

import (
	"context"
	"log"

	"github.com/evangomez/FairFuel/internal/auth"
	"github.com/evangomez/FairFuel/internal/config"
	"github.com/evangomez/FairFuel/internal/fuel"
	"github.com/evangomez/FairFuel/internal/identity"
	"github.com/evangomez/FairFuel/internal/orchestrator"
	"github.com/evangomez/FairFuel/internal/profile"
	"github.com/evangomez/FairFuel/internal/session"
	"github.com/evangomez/FairFuel/internal/stream"
	"github.com/evangomez/FairFuel/internal/vehicle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App          *fiber.App
	Cfg          config.Config
	DB           *pgxpool.Pool
	Redis        *redis.Client
	Stream       *stream.Hub
	Orchestrator *orchestrator.Orchestrator
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient),
	}

	profiles := profile.NewService(db)
	sessions := session.NewStore(db)
	resolver := identity.NewResolver(db, profiles)
	s.Orchestrator = orchestrator.New(orchestrator.OptionsFromConfig(cfg), sessions, resolver, s.Stream)

	registerRoutes(s, profiles, sessions)
	return s
}

func registerRoutes(s *Server, profiles *profile.Service, sessions *session.Store) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	vehicles := vehicle.NewService(s.DB)

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret, s.Cfg.PairingCode, s.DB))
	profile.RegisterRoutes(s.App.Group("/profile"), profiles, jwtMiddleware)
	vehicle.RegisterRoutes(s.App.Group("/vehicles"), vehicles, s.Orchestrator, jwtMiddleware)
	// lifecycle routes first: /sessions/state must not be swallowed by /sessions/:id
	orchestrator.RegisterSessionRoutes(s.App.Group("/sessions"), s.Orchestrator, jwtMiddleware)
	session.RegisterRoutes(s.App.Group("/sessions"), sessions, jwtMiddleware)
	orchestrator.RegisterIngestRoutes(s.App.Group("/ingest"), s.Orchestrator, jwtMiddleware)
	fuel.RegisterRoutes(s.App.Group("/fuel"), fuel.NewService(s.DB, sessions), jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)

	// region monitoring for every registered vehicle is live from boot
	if s.DB != nil {
		known, err := vehicles.List(context.Background())
		if err != nil {
			log.Printf("server: cannot load vehicles for monitoring: %v", err)
			return
		}
		s.Orchestrator.WatchAll(known)
	}
}
