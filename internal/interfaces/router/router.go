package router

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ogcr-registry/internal/application/registry"
	"ogcr-registry/internal/auth"
	"ogcr-registry/internal/config"
	"ogcr-registry/internal/constants"
	"ogcr-registry/internal/health"
	"ogcr-registry/internal/infrastructure/database"
	"ogcr-registry/internal/infrastructure/ledger"
	"ogcr-registry/internal/infrastructure/locks"
	adminhandler "ogcr-registry/internal/interfaces/handlers/admin"
	dochandler "ogcr-registry/internal/interfaces/handlers/documents"
	healthhandler "ogcr-registry/internal/interfaces/handlers/health"
	holdhandler "ogcr-registry/internal/interfaces/handlers/holdings"
	methhandler "ogcr-registry/internal/interfaces/handlers/methodologies"
	mrvhandler "ogcr-registry/internal/interfaces/handlers/mrv"
	pddhandler "ogcr-registry/internal/interfaces/handlers/pdd"
	rethandler "ogcr-registry/internal/interfaces/handlers/retirements"
	tradehandler "ogcr-registry/internal/interfaces/handlers/trading"
	txhandler "ogcr-registry/internal/interfaces/handlers/transactions"
	"ogcr-registry/internal/metrics"
	"ogcr-registry/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Deps are the opened collaborators of one API instance. Tests build them with
// sqlite and the in-memory ledger; CreateApp builds them from config.
type Deps struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client
	Ledger ledger.Anchor
	Locks  locks.Locker
	Auth   auth.Authenticator

	// Registerer and Gatherer default to a private prometheus registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Server is the assembled API.
type Server struct {
	App      *fiber.App
	DB       *gorm.DB
	Redis    *redis.Client
	Registry *registry.Registry
}

// CreateApp opens the database, Redis (when REDIS_URL is set) and the ledger backend
// named in cfg, migrates the schema, loads the methodology catalog and mounts routes.
func CreateApp(cfg *config.Config) (*Server, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
	}

	var led ledger.Anchor = ledger.NewMemoryLedger(cfg.LedgerID)
	if cfg.LedgerBackend == config.LedgerRedis {
		led = ledger.NewRedisLedger(rdb, cfg.LedgerID)
	}
	var lk locks.Locker = locks.NewLocalLocker()
	if rdb != nil {
		lk = locks.NewRedisLocker(rdb, cfg.LockTTL)
	}

	srv := NewApp(Deps{
		Config:     cfg,
		DB:         db,
		Redis:      rdb,
		Ledger:     led,
		Locks:      lk,
		Auth:       &auth.Service{DB: db},
		Registerer: prometheus.DefaultRegisterer,
		Gatherer:   prometheus.DefaultGatherer,
	})
	if cfg.MethodologyCatalog != "" {
		n, err := srv.Registry.Methodologies.LoadCatalog(context.Background(), cfg.MethodologyCatalog)
		if err != nil {
			return nil, fmt.Errorf("methodology catalog: %w", err)
		}
		log.Info().Int("methodologies", n).Str("path", cfg.MethodologyCatalog).Msg("methodology catalog loaded")
	}
	return srv, nil
}

// NewApp wires the engine and mounts every route.
func NewApp(d Deps) *Server {
	if d.Registerer == nil || d.Gatherer == nil {
		promReg := prometheus.NewRegistry()
		d.Registerer, d.Gatherer = promReg, promReg
	}
	if d.Auth == nil {
		d.Auth = &auth.Service{DB: d.DB}
	}
	m := metrics.New(d.Registerer)
	opts := registry.OptionsFromConfig(d.Config)
	opts.DB = d.DB
	opts.Ledger = d.Ledger
	opts.Locks = d.Locks
	opts.Metrics = m
	reg := registry.New(opts)

	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.ErrorHandler,
		EnableTrustedProxyCheck: true,
		BodyLimit:               16 * 1024 * 1024,
	})
	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedSuffixes: d.Config.CORSAllowedSuffixes,
		AllowLocalhost:  !d.Config.IsProduction(),
	}))
	app.Use(middleware.Tracing())
	app.Use(middleware.RouteLogger())
	app.Use(middleware.RequestMetrics(m))

	hh := &healthhandler.Handlers{Service: &health.Service{
		DB:      d.DB,
		Redis:   d.Redis,
		Ledger:  d.Ledger,
		Started: time.Now(),
	}}
	app.Get("/health", hh.JSON)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))

	api := app.Group("/api/v1", middleware.RequireAuth(d.Auth))
	view := middleware.AuthorizePermission(constants.ViewData)

	// Documents
	dh := &dochandler.Handlers{Registry: reg}

	// Project design documents
	ph := &pddhandler.Handlers{Registry: reg}
	mh := &mrvhandler.Handlers{Registry: reg}
	pg := api.Group("/pdd")
	pg.Post("/", middleware.AuthorizePermission(constants.SubmitProject), ph.Submit)
	pg.Get("/", view, ph.List)
	pg.Get("/:id", view, ph.Get)
	pg.Put("/:id", middleware.AuthorizePermission(constants.SubmitProject), ph.Update)
	pg.Patch("/:id/metadata", middleware.AuthorizePermission(constants.SubmitProject), ph.UpdateMetadata)
	pg.Post("/:id/transition", ph.Transition)
	pg.Get("/:id/versions", view, dh.Versions)
	pg.Get("/:id/versions/:version", view, dh.Version)
	pg.Get("/:id/integrity", view, dh.Integrity)
	pg.Post("/:id/mrv", middleware.AuthorizePermission(constants.SubmitMRV), mh.Submit)

	// Monitoring reports
	mg := api.Group("/mrv")
	mg.Get("/", view, mh.List)
	mg.Get("/:id", view, mh.Get)
	mg.Post("/:id/transition", mh.Transition)
	mg.Post("/:id/verify", middleware.AuthorizePermission(constants.VerifyMRV), mh.Verify)
	mg.Post("/:id/resubmit", middleware.AuthorizePermission(constants.SubmitMRV), mh.Resubmit)
	mg.Post("/:id/issue", middleware.AuthorizePermission(constants.IssueCredits), mh.Issue)
	mg.Get("/:id/issuance", view, mh.Issuance)
	mg.Get("/:id/versions", view, dh.Versions)
	mg.Get("/:id/versions/:version", view, dh.Version)
	mg.Get("/:id/integrity", view, dh.Integrity)

	// Credits
	hold := &holdhandler.Handlers{Service: reg.Holdings}
	th := &tradehandler.Handlers{Service: reg.Trading}
	rh := &rethandler.Handlers{Service: reg.Retirements}
	cg := api.Group("/credits")
	cg.Get("/", view, hold.ListCredits)
	cg.Post("/transfer", middleware.AuthorizePermission(constants.TransferCredits), th.TransferCredits)
	cg.Get("/:id", view, hold.GetCredit)
	cg.Post("/:id/retire", middleware.AuthorizePermission(constants.RetireCredits), th.RetireCredit)
	cg.Get("/:id/certificate", view, rh.ForCredit)
	cg.Get("/:id/versions", view, dh.Versions)
	cg.Get("/:id/versions/:version", view, dh.Version)
	cg.Get("/:id/integrity", view, dh.Integrity)

	api.Get("/holdings", view, hold.ViewHoldings)
	api.Get("/retirements", view, rh.List)
	api.Get("/retirements/:id", view, rh.ViewOne)
	txh := &txhandler.Handlers{Service: reg.Transactions}
	api.Get("/transactions", view, txh.GetTransactions)

	meth := &methhandler.Handlers{Registry: reg.Methodologies}
	api.Get("/methodologies", view, meth.List)
	api.Get("/methodologies/:id/:version", view, meth.Resolve)

	ah := &adminhandler.Handlers{Registry: reg}
	adm := api.Group("/admin", middleware.AuthorizePermission(constants.Reconcile))
	adm.Post("/reconcile", ah.Reconcile)
	adm.Get("/pending", ah.Pending)

	return &Server{App: app, DB: d.DB, Redis: d.Redis, Registry: reg}
}

// Handler adapts app to net/http for serverless runtimes.
func Handler(app *fiber.App) http.Handler {
	return adaptor.FiberApp(app)
}
