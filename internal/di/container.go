package di

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/handler"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/ingest"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/repository"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/seatmap"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/service"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/database"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/logger"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/middleware"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/redis"
)

// Container holds all dependencies for the reservation API
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *redis.Client

	// Repositories
	Store repository.Store
	// Lookups serves the name and session lists, through Redis when available
	Lookups repository.Store

	// Services
	ImportService     service.ImportService
	LookupService     service.LookupService
	LifecycleService  service.LifecycleService
	SeatGuard         service.SeatGuard
	TokenIssuer       service.TokenIssuer
	RedemptionService service.RedemptionService

	// Handlers
	HealthHandler      *handler.HealthHandler
	ImportHandler      *handler.ImportHandler
	SessionHandler     *handler.SessionHandler
	ReservationHandler *handler.ReservationHandler
	RedemptionHandler  *handler.RedemptionHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	Store repository.Store
	// DB and Redis are optional
	DB    *database.PostgresDB
	Redis *redis.Client

	Layouts          *seatmap.Layouts
	Generator        service.TokenGenerator
	TokenMaxAttempts int
	TokenValidFor    time.Duration
	CacheTTL         time.Duration
	Logger           *logger.Logger
	Clock            service.Clock
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	c := &Container{
		DB:    cfg.DB,
		Redis: cfg.Redis,
		Store: cfg.Store,
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	layouts := cfg.Layouts
	if layouts == nil {
		layouts = seatmap.Empty()
	}

	// Wrap with cache if Redis is available
	var invalidator service.LookupInvalidator
	if c.Redis != nil {
		cached := repository.NewCachedLookupRepository(c.Store, c.Redis, cfg.CacheTTL, log)
		c.Lookups = cached
		invalidator = cached
	} else {
		c.Lookups = c.Store
	}

	// Initialize services
	c.ImportService = service.NewImportService(&service.ImportServiceConfig{
		Store:       c.Store,
		Normalizer:  ingest.NewNormalizer(log),
		Layouts:     layouts,
		Invalidator: invalidator,
		Logger:      log,
		Clock:       cfg.Clock,
	})
	c.LookupService = service.NewLookupService(c.Lookups)
	c.LifecycleService = service.NewLifecycleService(c.Store, layouts, invalidator, log, cfg.Clock)
	c.SeatGuard = service.NewSeatGuard(c.Store, layouts, log, cfg.Clock)
	c.TokenIssuer = service.NewTokenIssuer(&service.TokenIssuerConfig{
		Store:       c.Store,
		Generator:   cfg.Generator,
		MaxAttempts: cfg.TokenMaxAttempts,
		ValidFor:    cfg.TokenValidFor,
		Logger:      log,
		Clock:       cfg.Clock,
	})
	c.RedemptionService = service.NewRedemptionService(c.Store)

	// Initialize handlers
	components := map[string]handler.HealthChecker{"database": nil, "redis": nil}
	if c.DB != nil {
		components["database"] = c.DB
	}
	if c.Redis != nil {
		components["redis"] = c.Redis
	}
	c.HealthHandler = handler.NewHealthHandler(components)
	c.ImportHandler = handler.NewImportHandler(c.ImportService)
	c.SessionHandler = handler.NewSessionHandler(c.LookupService, c.SeatGuard)
	c.ReservationHandler = handler.NewReservationHandler(&handler.ReservationHandlerConfig{
		LookupService:    c.LookupService,
		LifecycleService: c.LifecycleService,
		SeatGuard:        c.SeatGuard,
		TokenIssuer:      c.TokenIssuer,
	})
	c.RedemptionHandler = handler.NewRedemptionHandler(c.RedemptionService, c.LifecycleService)

	return c
}

// RegisterRoutes mounts the health probes and the /api/v1 routes on router
func (c *Container) RegisterRoutes(router gin.IRouter) {
	// Health check endpoints
	router.GET("/health", c.HealthHandler.Health)
	router.GET("/ready", c.HealthHandler.Ready)

	v1 := router.Group("/api/v1")

	// Imports endpoints
	imports := v1.Group("/imports")
	{
		imports.POST("/normalize", c.ImportHandler.Normalize)
		imports.POST("/extract-metadata", c.ImportHandler.ExtractMetadata)

		upload := []gin.HandlerFunc{c.ImportHandler.Import}
		if c.Redis != nil {
			upload = append([]gin.HandlerFunc{middleware.Idempotency(&middleware.IdempotencyConfig{Redis: c.Redis})}, upload...)
		}
		imports.POST("", upload...)
	}

	// Performance and session endpoints
	v1.GET("/performances", c.SessionHandler.ListPerformances)
	v1.GET("/performances/:name/sessions", c.SessionHandler.ListSessions)
	sessions := v1.Group("/sessions")
	{
		sessions.GET("/:id", c.SessionHandler.GetSession)
		sessions.GET("/:id/reservations", c.SessionHandler.ListReservations)
		sessions.GET("/:id/seats", c.SessionHandler.SeatMap)
		sessions.GET("/:id/stats", c.SessionHandler.Stats)
	}

	// Reservation endpoints
	reservations := v1.Group("/reservations")
	{
		reservations.POST("", c.ReservationHandler.Create)
		reservations.GET("/:id", c.ReservationHandler.Get)
		reservations.GET("/:id/events", c.ReservationHandler.Events)
		reservations.PATCH("/:id/status", c.ReservationHandler.ChangeStatus)
		reservations.POST("/:id/seat", c.ReservationHandler.AssignSeat)
		reservations.POST("/:id/issue-qr", c.ReservationHandler.IssueToken)
		reservations.POST("/:id/check-in", c.ReservationHandler.CheckIn)
	}

	// Attendee and gate endpoints
	v1.POST("/redemptions/lookup", c.RedemptionHandler.Lookup)
	v1.POST("/check-in", c.RedemptionHandler.CheckInByToken)
}
