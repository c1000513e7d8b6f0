package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/yourusername/prophecy-api/internal/config"
	"github.com/yourusername/prophecy-api/internal/handler"
	"github.com/yourusername/prophecy-api/internal/middleware"
	"github.com/yourusername/prophecy-api/internal/pkg/worker"
	pgRepo "github.com/yourusername/prophecy-api/internal/repository/postgres"
	redisRepo "github.com/yourusername/prophecy-api/internal/repository/redis"
	"github.com/yourusername/prophecy-api/internal/service"
	ws "github.com/yourusername/prophecy-api/internal/websocket"
	"github.com/yourusername/prophecy-api/pkg/auth"
	"github.com/yourusername/prophecy-api/pkg/database"
)

func main() {
	// Загружаем конфигурацию
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	log.Printf("Загрузка конфигурации из %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к PostgreSQL
	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString())
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		os.Exit(1)
	}

	// Применяем миграции
	if err := database.MigrateDB(db); err != nil {
		log.Printf("Failed to migrate database: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к Redis с использованием унифицированной конфигурации
	redisClient, err := database.NewUniversalRedisClient(cfg.Redis)
	if err != nil {
		log.Printf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	log.Println("Successfully connected to Redis")

	// Инициализируем репозитории
	userRepo := pgRepo.NewUserRepo(db)
	roundRepo := pgRepo.NewRoundRepo(db)
	prophecyRepo := pgRepo.NewProphecyRepo(db)
	ratingRepo := pgRepo.NewRatingRepo(db)
	badgeRepo := pgRepo.NewBadgeRepo(db)
	auditRepo := pgRepo.NewAuditRepo(db)

	cacheRepo, err := redisRepo.NewCacheRepo(redisClient)
	if err != nil {
		log.Printf("Failed to initialize CacheRepo: %v", err)
		os.Exit(1)
	}

	// Инициализируем JWT сервис (статический HMAC секрет из конфигурации)
	jwtService, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpirationHrs, cfg.JWT.WSTicketExpirySec)
	if err != nil {
		log.Printf("Failed to initialize JWTService: %v", err)
		os.Exit(1)
	}

	// --- Инициализация WebSocket (PubSubProvider создается здесь) ---
	var pubSubProvider ws.PubSubProvider = &ws.NoOpPubSub{} // Провайдер по умолчанию

	// Создаем PubSubProvider только если кластеризация включена
	if cfg.WebSocket.Cluster.Enabled {
		log.Println("Инициализация Redis PubSub для кластеризации WebSocket...")
		redisPubSubClient, errPubSub := database.NewUniversalRedisClient(cfg.Redis)
		if errPubSub != nil {
			log.Printf("Ошибка при инициализации Redis клиента для PubSub: %v. Кластеризация WS будет неактивна.", errPubSub)
		} else {
			redisProvider, errProv := ws.NewRedisPubSub(redisPubSubClient)
			if errProv != nil {
				log.Printf("Ошибка при создании Redis PubSub провайдера: %v. Кластеризация WS будет неактивна.", errProv)
				redisPubSubClient.Close()
			} else {
				log.Println("Redis PubSub провайдер успешно инициализирован")
				pubSubProvider = redisProvider
			}
		}
	}

	// Инициализация WebSocket Hub
	shardedHub := ws.NewShardedHub(cfg.WebSocket, pubSubProvider)
	go shardedHub.Run()
	var wsHub ws.HubInterface = shardedHub

	wsManager := ws.NewManager(wsHub)

	// Пул воркеров для фоновых side effects (уведомления о бейджах)
	workerPool := worker.NewPool(cfg.Badges.Workers)

	// Провайдер исходящих уведомлений
	var notifier service.NotificationService = &service.NoopNotificationService{}
	if cfg.Email.Provider == "resend" {
		from := cfg.Email.FromAddress
		if cfg.Email.FromName != "" {
			from = fmt.Sprintf("%s <%s>", cfg.Email.FromName, cfg.Email.FromAddress)
		}
		resendNotifier, errNotify := service.NewResendNotificationService(cfg.Email.APIKey, from)
		if errNotify != nil {
			log.Printf("Failed to initialize Resend notifications: %v. Уведомления отключены.", errNotify)
		} else {
			notifier = resendNotifier
			log.Println("Resend провайдер уведомлений инициализирован")
		}
	}

	// Инициализируем сервисы
	auditService := service.NewAuditService(auditRepo)
	badgeService, err := service.NewBadgeService(
		badgeRepo, prophecyRepo, ratingRepo, userRepo,
		wsManager, notifier, workerPool, cfg.Badges.Timezone,
	)
	if err != nil {
		log.Printf("Failed to initialize BadgeService: %v", err)
		os.Exit(1)
	}
	userService := service.NewUserService(userRepo, jwtService)
	ratingService := service.NewRatingService(ratingRepo, prophecyRepo, roundRepo, db, wsManager, auditService, badgeService)
	prophecyService := service.NewProphecyService(prophecyRepo, ratingRepo, roundRepo, cacheRepo, db, wsManager, auditService, badgeService)
	roundService := service.NewRoundService(roundRepo, prophecyRepo, cacheRepo)

	// Инициализируем обработчики
	authHandler := handler.NewAuthHandler(userService)
	userHandler := handler.NewUserHandler(userService, badgeService)
	badgeHandler := handler.NewBadgeHandler(badgeService)
	roundHandler := handler.NewRoundHandler(roundService)
	prophecyHandler := handler.NewProphecyHandler(prophecyService, ratingService)
	wsHandler := handler.NewWSHandler(wsHub, wsManager, jwtService)

	// Инициализируем middleware
	authMiddleware := middleware.NewAuthMiddleware(jwtService)
	rateLimiter := middleware.NewRateLimiter(redisClient)
	authLimit := middleware.AuthRateLimitConfig(cfg.RateLimit.AuthPerMinute)
	ratingsLimit := middleware.RatingsRateLimitConfig(cfg.RateLimit.RatingsPerMinute)

	// Инициализируем роутер Gin
	router := gin.Default()

	// Настройка доверенных прокси для корректной работы c.ClientIP()
	// В production (GIN_MODE=release): не доверяем прокси (защита от IP spoofing)
	// В development: доверяем localhost
	// При деплое на VM с load balancer: добавьте IP балансировщика в список
	isProduction := gin.Mode() == gin.ReleaseMode
	if isProduction {
		if err := router.SetTrustedProxies(nil); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	} else {
		if err := router.SetTrustedProxies([]string{"127.0.0.1", "::1"}); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	}

	// Настройка CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"https://prophecyfront.vercel.app", "https://prophecyadmin.vercel.app", "http://localhost:5173", "http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check для балансировщика
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Настраиваем маршруты API
	api := router.Group("/api")
	{
		// Аутентификация
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", rateLimiter.Limit(authLimit), authHandler.Register)
			authGroup.POST("/login", rateLimiter.Limit(authLimit), authHandler.Login)

			// Маршруты, требующие аутентификации
			authedAuth := authGroup.Group("/")
			authedAuth.Use(authMiddleware.RequireAuth())
			{
				authedAuth.GET("/ws-ticket", authHandler.WSTicket)
			}
		}

		// Пользователи
		users := api.Group("/users")
		users.Use(authMiddleware.RequireAuth())
		{
			users.GET("/me", userHandler.GetMe)
			users.GET("/:id/badges", middleware.ExtractUintParam("id", "userID"), userHandler.GetUserBadges)
		}

		// Каталог бейджей (публичный маршрут)
		api.GET("/badges", badgeHandler.ListBadges)

		// Раунды
		rounds := api.Group("/rounds")
		{
			rounds.GET("", roundHandler.ListRounds)

			// Группа маршрутов, требующих roundID
			roundWithID := rounds.Group("/:id")
			roundWithID.Use(middleware.ExtractUintParam("id", "roundID"))
			{
				roundWithID.GET("", roundHandler.GetRound)
				roundWithID.GET("/prophecies", prophecyHandler.ListRoundProphecies)
				roundWithID.GET("/leaderboard", roundHandler.GetLeaderboard)
				roundWithID.GET("/export", roundHandler.ExportLeaderboard)

				// Маршруты для администраторов
				adminRounds := roundWithID.Group("")
				adminRounds.Use(authMiddleware.RequireAuth(), authMiddleware.AdminOnly())
				{
					adminRounds.POST("/publish", roundHandler.PublishResults)
				}
			}

			// Маршрут создания раунда (не требует ID)
			adminCreateRound := rounds.Group("")
			adminCreateRound.Use(authMiddleware.RequireAuth(), authMiddleware.AdminOnly())
			{
				adminCreateRound.POST("", roundHandler.CreateRound)
			}
		}

		// Пророчества
		prophecies := api.Group("/prophecies")
		{
			// Группа маршрутов, требующих prophecyID
			prophecyWithID := prophecies.Group("/:id")
			prophecyWithID.Use(middleware.ExtractUintParam("id", "prophecyID"))
			{
				prophecyWithID.GET("", prophecyHandler.GetProphecy)

				// Маршруты для аутентифицированных пользователей
				authedProphecies := prophecyWithID.Group("")
				authedProphecies.Use(authMiddleware.RequireAuth())
				{
					authedProphecies.PUT("", prophecyHandler.UpdateProphecy)
					authedProphecies.DELETE("", prophecyHandler.DeleteProphecy)
					authedProphecies.GET("/ratings", prophecyHandler.ListRatings)
					authedProphecies.POST("/ratings", rateLimiter.LimitByUser(ratingsLimit), prophecyHandler.SubmitRating)
				}

				// Маршруты для администраторов
				adminProphecies := prophecyWithID.Group("")
				adminProphecies.Use(authMiddleware.RequireAuth(), authMiddleware.AdminOnly())
				{
					adminProphecies.POST("/resolve", prophecyHandler.ResolveProphecy)
				}
			}

			// Маршрут создания пророчества (не требует ID)
			authedCreate := prophecies.Group("")
			authedCreate.Use(authMiddleware.RequireAuth())
			{
				authedCreate.POST("", prophecyHandler.CreateProphecy)
			}
		}

		// Метрики WebSocket подсистемы (только для администраторов)
		wsMetrics := api.Group("/ws")
		wsMetrics.Use(authMiddleware.RequireAuth(), authMiddleware.AdminOnly())
		{
			wsMetrics.GET("/metrics", gin.WrapF(ws.WebSocketMetricsHandler(shardedHub)))
			wsMetrics.GET("/metrics/detailed", gin.WrapF(ws.DetailedWebSocketMetricsHandler(shardedHub)))
			wsMetrics.GET("/health", gin.WrapF(ws.WebSocketHealthCheckHandler(shardedHub)))
		}
	}

	// WebSocket маршрут
	router.GET("/ws", wsHandler.HandleConnection)

	// Настраиваем HTTP сервер с тайм-аутами для защиты от slow client attacks
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %s", cfg.Server.Port)

	// После получения сигнала SIGINT или SIGTERM завершаем фоновые компоненты
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Останавливаем hub и пул воркеров, дожидаясь уже принятых задач
	shardedHub.Close()
	workerPool.Stop()

	// Закрываем PubSubProvider, если он был создан
	if pubSubProvider != nil {
		if err := pubSubProvider.Close(); err != nil {
			log.Printf("Error closing PubSub provider: %v", err)
		}
	}

	// Создаем контекст с таймаутом для graceful shutdown сервера
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	log.Println("Server exited properly")
}
