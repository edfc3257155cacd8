package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"trial-registry/config"
	"trial-registry/models"
	"trial-registry/services"
	"trial-registry/storage"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	trialsUploadedCounter  prometheus.Counter
	schedulesRepairedGauge prometheus.Gauge
)

func init() {
	trialsUploadedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trials_uploaded_total",
			Help: "Total number of clinical trials accepted via file upload.",
		},
	)
	schedulesRepairedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trial_schedules_repaired",
			Help: "Number of trial rows repaired by the last reconciliation run.",
		},
	)
	prometheus.MustRegister(trialsUploadedCounter, schedulesRepairedGauge)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to clinical trials database.")

	logging.Info("Running database auto-migration...")
	db.AutoMigrate(&models.ClinicalTrial{})

	// Setup Services
	trialService := services.NewTrialService(db, logging)

	var s3Client *awss3.Client
	if cfg.ArchiveEnabled() {
		s3Client, err = storage.NewS3Client(cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		logging.Info("Upload archive enabled", zap.String("bucket", cfg.ArchiveS3Bucket))
	} else {
		logging.Info("Upload archive disabled (no bucket configured)")
	}

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	setupTrialRoutes(router, trialService, s3Client, cfg, logging)

	// Setup Cron
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled trial reconciliation...")
		repaired, err := trialService.ReconcileSchedules(context.Background())
		if err != nil {
			logging.Error("Reconciliation job failed", zap.Error(err))
			return
		}
		schedulesRepairedGauge.Set(float64(repaired))
		logging.Info("Reconciliation job completed", zap.Int("repaired", repaired))
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// setupTrialRoutes konfiguriert die Upload- und Abfrage-Endpoints für Trials.
func setupTrialRoutes(router *gin.Engine, svc *services.TrialService, s3Client *awss3.Client, cfg *config.Config, log *zap.Logger) {
	rg := router.Group("/api/fileupload")

	// POST - Upload eines JSON-Dokuments als Multipart-Datei
	rg.POST("/upload", func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File is required"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			log.Error("Failed to open uploaded file", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			log.Error("Failed to read uploaded file", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		if len(data) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File is required"})
			return
		}

		trial, err := services.ParseTrialDocument(data)
		if err != nil {
			var vErr *models.ValidationError
			if errors.As(err, &vErr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Message})
				return
			}
			log.Error("Unexpected error validating upload", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		if err := svc.Add(c.Request.Context(), trial); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		trialsUploadedCounter.Inc()

		// Roh-Dokument best-effort archivieren; der Upload ist bereits persistiert.
		if s3Client != nil && cfg.ArchiveEnabled() {
			key := fmt.Sprintf("uploads/%s.json", trial.ID)
			if _, err := storage.ArchiveDocument(c.Request.Context(), s3Client, cfg, key, data); err != nil {
				log.Warn("Failed to archive uploaded document", zap.String("id", trial.ID), zap.Error(err))
			}
		}

		c.JSON(http.StatusOK, trial)
	})

	// GET - Filterabfrage; leere Parameter werden ignoriert
	rg.GET("/filter", func(c *gin.Context) {
		trials, err := svc.GetFiltered(c.Request.Context(),
			c.Query("status"), c.Query("title"), c.Query("trialId"))
		if err != nil {
			log.Error("Database query for filtered trials failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, trials)
	})

	// GET - Alle Trials
	rg.GET("/all", func(c *gin.Context) {
		trials, err := svc.GetAll(c.Request.Context())
		if err != nil {
			log.Error("Database query for all trials failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, trials)
	})

	// GET - Einzelnes Trial per ID
	rg.GET("/:id", func(c *gin.Context) {
		trial, err := svc.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, models.ErrTrialNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "clinical trial not found"})
				return
			}
			log.Error("Database error while fetching trial", zap.String("id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, trial)
	})
}
