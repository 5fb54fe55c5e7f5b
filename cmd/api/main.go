package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"telecare-chat/config"
	"telecare-chat/internal/cache"
	"telecare-chat/internal/domain/chat"
	"telecare-chat/internal/domain/consultation"
	"telecare-chat/internal/domain/user"
	"telecare-chat/internal/events"
	"telecare-chat/internal/notify"
	"telecare-chat/internal/repository"
	"telecare-chat/internal/scheduler"
	"telecare-chat/internal/service"
	"telecare-chat/internal/storage"
	"telecare-chat/internal/ws"
	"telecare-chat/pkg/database"
	telecare_errors "telecare-chat/pkg/errors"
	"telecare-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func httpStatus(err error) int {
	switch telecare_errors.Code(err) {
	case "INVALID_ARGUMENT":
		return http.StatusBadRequest
	case "NOT_FOUND":
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func main() {
	cfg := config.LoadConfig()

	mode := logger.DevelopmentMode
	if cfg.AppMode == "release" {
		mode = logger.ProductionMode
		gin.SetMode(gin.ReleaseMode)
	}
	appLog := logger.New(mode)
	defer appLog.Logger.Sync()

	database.Connect(cfg)
	if err := database.DB.AutoMigrate(
		&chat.Chat{},
		&chat.ChatDate{},
		&chat.ChatMessage{},
		&chat.ChatUnread{},
		&consultation.Consultation{},
		&user.PushToken{},
	); err != nil {
		log.Fatalf("Failed to apply GORM migrations: %v", err)
	}

	chats := repository.NewChatRepository(database.DB)
	unreads := repository.NewUnreadRepository(database.DB)
	consultations := repository.NewConsultationRepository(database.DB)
	pushTokens := repository.NewPushTokenRepository(database.DB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := ws.NewHub(appLog)

	var broadcaster events.Broadcaster = hub
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		bridge := events.NewRedisBridge(rdb, hub, appLog)
		go func() {
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				appLog.Error("redis bridge stopped", zap.Error(err))
			}
		}()
		broadcaster = &events.MirroredBroadcaster{Local: hub, Bridge: bridge}
	}

	availability := cache.NewAvailabilityCache(cfg.AvailabilityTTL, cfg.AvailabilitySweep)
	availability.Start(ctx)

	var push service.PushScheduler
	if cfg.FirebaseCredentialsFile != "" {
		provider, err := notify.NewFCMProvider(ctx, cfg.FirebaseCredentialsFile)
		if err != nil {
			log.Fatalf("Failed to initialize push provider: %v", err)
		}
		resolver := service.NewDoctorResolver(availability, chats)
		dispatcher := notify.NewDispatcher(provider, pushTokens, resolver, cfg.PushPreviewLength, appLog)
		dispatcher.Start(ctx)
		push = dispatcher
	} else {
		appLog.Info("push notifications disabled, no firebase credentials")
	}

	var blobs service.BlobResolver
	if cfg.S3Bucket != "" {
		resolver, err := storage.NewResolver(ctx, storage.S3Config{
			Region:     cfg.S3Region,
			Bucket:     cfg.S3Bucket,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Endpoint:   cfg.S3Endpoint,
			PublicBase: cfg.S3PublicBase,
		})
		if err != nil {
			log.Fatalf("Failed to initialize blob storage: %v", err)
		}
		blobs = resolver
	}

	chatService := service.NewChatService(chats, unreads, consultations, availability, broadcaster, push, blobs, appLog)

	jobs := scheduler.NewManager(
		scheduler.NewExpiryJob(consultations, broadcaster, appLog),
		scheduler.NewWarningJob(consultations, broadcaster, cfg.WarningWindow, appLog),
		scheduler.NewCleanupJob(consultations, cfg.CleanupRetention, appLog),
		cfg.ExpiryInterval,
		cfg.WarningInterval,
		appLog,
	)
	if err := jobs.RegisterJobs(); err != nil {
		log.Fatalf("Failed to register scheduler jobs: %v", err)
	}
	jobs.Start()
	defer jobs.Stop()

	handler := ws.NewHandler(hub, chatService, cfg.JWTSecret, appLog)

	r := gin.Default()
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/ws", handler.Connect)

	// Consultation lifecycle glue for the upstream payment flow. The
	// scheduler owns expiry; these cover the explicit edges.
	r.POST("/consultations", func(c *gin.Context) {
		var req struct {
			PatientID uuid.UUID  `json:"patientId" binding:"required"`
			DoctorID  uuid.UUID  `json:"doctorId" binding:"required"`
			PaymentID *uuid.UUID `json:"paymentId"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var paymentID uuid.NullUUID
		if req.PaymentID != nil {
			paymentID = uuid.NullUUID{UUID: *req.PaymentID, Valid: true}
		}
		created, err := chatService.StartConsultation(c.Request.Context(), req.PatientID, req.DoctorID, paymentID, cfg.ConsultationDuration)
		if err != nil {
			c.JSON(httpStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, created)
	})
	r.POST("/consultations/:id/terminate", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid consultation id"})
			return
		}
		if err := chatService.TerminateConsultation(c.Request.Context(), id); err != nil {
			c.JSON(httpStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "terminated"})
	})

	appLog.Infof("Starting server on port %s", cfg.AppPort)
	if err := r.Run(fmt.Sprintf(":%s", cfg.AppPort)); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
