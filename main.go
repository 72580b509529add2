package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apirest "github.com/emberworks/questengine/api/rest"
	"github.com/emberworks/questengine/api/sse"
	"github.com/emberworks/questengine/audit"
	"github.com/emberworks/questengine/cache"
	"github.com/emberworks/questengine/catalog"
	"github.com/emberworks/questengine/config"
	dbadapter "github.com/emberworks/questengine/db"
	"github.com/emberworks/questengine/engine/account"
	"github.com/emberworks/questengine/engine/challenge"
	"github.com/emberworks/questengine/engine/clock"
	"github.com/emberworks/questengine/engine/locks"
	"github.com/emberworks/questengine/engine/notify"
	"github.com/emberworks/questengine/engine/progress"
	"github.com/emberworks/questengine/engine/quest"
	"github.com/emberworks/questengine/engine/reward"
	mw "github.com/emberworks/questengine/middleware"
	"github.com/emberworks/questengine/model"
	"github.com/emberworks/questengine/scheduler"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Audit ----
	journal := audit.NewJournal(db, logger)
	defer journal.Stop()

	// ---- Cache / PubSub ----
	cacheConfig := cache.Config{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.New(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Content Catalog ----
	loader := catalog.NewLoader(cfg.Catalog.QuestDir, cfg.Catalog.ChallengeDir, logger)
	if err := loader.Load(); err != nil {
		log.Fatalf("catalog: %v", err)
	}
	logger.Info("Catalog loaded")

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Engine Services ----
	reg := locks.NewRegistry()
	clk := clock.System{}
	accountSvc := account.NewService(db, logger)
	notifier := notify.New(pubsub, logger)
	rewardSvc := reward.NewService(db, clk, accountSvc, notifier, logger)
	questSvc := quest.NewService(db, loader, reg, clk, accountSvc, rewardSvc, journal, notifier, logger)
	challengeSvc := challenge.NewService(db, loader, reg, clk, accountSvc, rewardSvc,
		journal, notifier, cfg.Engine.ChallengesPerPeriod, logger)
	tracker, err := progress.NewTracker(db, loader, reg, c, questSvc, challengeSvc, notifier,
		progress.Options{
			DedupTTL:     cfg.Engine.DedupTTL,
			DedupLRUSize: cfg.Engine.DedupLRUSize,
		}, logger)
	if err != nil {
		log.Fatalf("tracker: %v", err)
	}

	// ---- Periodic Scheduler Tasks ----
	sched.AddTicker("quest_expiry_sweep", cfg.Engine.ExpirySweepInterval, func() {
		if n, err := questSvc.ExpireSweep(context.Background()); err != nil {
			logger.Warn("expiry sweep", zap.Error(err))
		} else if n > 0 {
			logger.Info("expiry sweep", zap.Int("expired", n))
		}
	})
	sched.AddTicker("challenge_rollover", cfg.Engine.RolloverInterval, func() {
		retired, dealt, err := challengeSvc.Rollover(context.Background())
		if err != nil {
			logger.Warn("challenge rollover", zap.Error(err))
		}
		if retired > 0 || dealt > 0 {
			logger.Info("challenge rollover", zap.Int("retired", retired), zap.Int("dealt", dealt))
		}
	})
	sched.AddTicker("reward_redeliver", cfg.Engine.RedeliverInterval, func() {
		if n, err := rewardSvc.Redeliver(context.Background()); err != nil {
			logger.Warn("reward redeliver", zap.Error(err))
		} else if n > 0 {
			logger.Info("reward redeliver", zap.Int("redelivered", n))
		}
	})
	// One-shot recovery: settle instances that completed before a crash could
	// record their reward request.
	sched.AddDelay("settle_backlog", 0, func() {
		if err := questSvc.SettleBacklog(context.Background()); err != nil {
			logger.Warn("quest settle backlog", zap.Error(err))
		}
		if err := challengeSvc.SettleBacklog(context.Background()); err != nil {
			logger.Warn("challenge settle backlog", zap.Error(err))
		}
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	eventH := apirest.NewEventHandler(tracker, logger)
	questH := apirest.NewQuestHandler(questSvc)
	challengeH := apirest.NewChallengeHandler(challengeSvc)
	charH := apirest.NewCharacterHandler(db, questSvc, challengeSvc)
	rewardH := apirest.NewRewardHandler(rewardSvc)
	adminH := apirest.NewAdminHandler(db, loader, sched, reg, c, cfg.Security, logger)

	api := r.Group("/api")
	{
		auth := mw.Auth(cfg.Security, c)
		// Buckets key on the authenticated service, so the limiter sits
		// behind auth.
		limit := mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst)

		eventsG := api.Group("/events")
		eventsG.Use(auth, limit)
		eventsG.POST("", eventH.Apply)
		eventsG.POST("/batch", eventH.ApplyBatch)

		questsG := api.Group("/quests")
		questsG.Use(auth, limit)
		questsG.POST("", questH.Start)
		questsG.GET("/:id", questH.Get)
		questsG.POST("/:id/advance", questH.Advance)
		questsG.POST("/:id/complete", questH.Complete)
		questsG.POST("/:id/abandon", questH.Abandon)
		questsG.POST("/:id/fail", questH.Fail)
		questsG.PUT("/:id/flags/:key", questH.SetFlag)
		questsG.PUT("/:id/dialogue", questH.SetDialogue)

		challengesG := api.Group("/challenges")
		challengesG.Use(auth, limit)
		challengesG.GET("/:id", challengeH.Get)
		challengesG.POST("/:id/reroll", challengeH.Reroll)

		charsG := api.Group("/characters")
		charsG.Use(auth, limit)
		charsG.PUT("/:id", charH.Upsert)
		charsG.GET("/:id", charH.Get)
		charsG.GET("/:id/quests", charH.ListQuests)
		charsG.GET("/:id/challenges", charH.ListChallenges)
		charsG.GET("/:id/dashboard", charH.Dashboard)

		rewardsG := api.Group("/rewards")
		rewardsG.Use(auth, limit)
		rewardsG.GET("/:instance_id", rewardH.Get)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Server.AdminAllowIPs))
		adminG.Use(mw.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.POST("/scheduler/:name/run", adminH.RunSchedulerTask)
		adminG.POST("/catalog/reload", adminH.ReloadCatalog)
		adminG.POST("/tokens", adminH.MintToken)
		adminG.POST("/services/:name/revoke", adminH.RevokeService)
	}

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, cfg.Security, logger)
	r.GET("/sse/characters/:id", sseH.ServeCharacter)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
