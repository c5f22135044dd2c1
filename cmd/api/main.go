package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/auth"
	"rollcall/internal/codes"
	"rollcall/internal/config"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/ledger"
	"rollcall/internal/queue"
	"rollcall/internal/reconcile"
	"rollcall/internal/roster"
	"rollcall/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var events queue.Queue
	if cfg.QueueBackend == "memory" {
		events = queue.NewInMemory(64)
	} else {
		events = queue.NewRedisQueue(redisClient.Client, "rollcall:events")
	}

	loc := cfg.Location()

	students := roster.NewRepository(db.Client)
	codeSvc := codes.NewService(codes.NewRepository(db.Client), codes.NewCache(redisClient.Client), cfg.CodeAttempts, cfg.CodeTTL)
	ledgerRepo := ledger.NewRepository(db.Client)
	writer, err := ledger.NewWriter(ledgerRepo, events, loc, cfg.LateCutoff)
	if err != nil {
		return err
	}
	sweep := reconcile.NewJob(students, writer, loc, cfg.WorkerCount)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Kiosk check-in: code in, ledger record out. Deliberately outside the
	// staff group; the code itself is the credential.
	r.POST("/v1/checkins", func(c *gin.Context) {
		var req struct {
			Code string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		studentID, err := codeSvc.ValidateCode(c.Request.Context(), req.Code)
		if err != nil {
			switch {
			case errors.Is(err, codes.ErrCodeNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown code"})
			case errors.Is(err, codes.ErrCodeExpired):
				c.JSON(http.StatusGone, gin.H{"error": "code expired"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}

		student, err := students.Get(c.Request.Context(), studentID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if student == nil || !student.IsActive {
			c.JSON(http.StatusForbidden, gin.H{"error": "student not active"})
			return
		}

		rec, err := writer.CheckIn(c.Request.Context(), student.ID, student.AcademyID, time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"record": rec})
	})

	// Staff token exchange; role assignment lives in the surrounding
	// system, the bootstrap secret stands in for its login flow.
	r.POST("/v1/staff/tokens", func(c *gin.Context) {
		var req struct {
			StaffID string `json:"staff_id" binding:"required"`
			Secret  string `json:"secret" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Secret != cfg.StaffBootstrap {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad secret"})
			return
		}
		token, err := auth.Issue(req.StaffID, auth.RoleStaff, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token": token.Value,
			"expires_at":   token.ExpiresAt.Unix(),
		})
	})

	staff := r.Group("/v1", auth.StaffAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	staff.POST("/students/:id/codes", func(c *gin.Context) {
		var req struct {
			ExpiresInHours int `json:"expires_in_hours"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		studentID := c.Param("id")
		student, err := students.Get(c.Request.Context(), studentID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if student == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown student"})
			return
		}

		var expiresIn *time.Duration
		if req.ExpiresInHours > 0 {
			d := time.Duration(req.ExpiresInHours) * time.Hour
			expiresIn = &d
		}
		code, err := codeSvc.IssueCode(c.Request.Context(), studentID, expiresIn)
		if err != nil {
			if errors.Is(err, codes.ErrCodeSpaceExhausted) {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"code": code.Code, "expires_at": code.ExpiresAt})
	})

	staff.GET("/students/:id/codes/active", func(c *gin.Context) {
		code, err := codeSvc.ActiveCode(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if code == nil {
			c.JSON(http.StatusOK, gin.H{"code": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": code.Code, "expires_at": code.ExpiresAt})
	})

	staff.DELETE("/students/:id/codes", func(c *gin.Context) {
		if err := codeSvc.Revoke(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"revoked": true})
	})

	staff.PUT("/attendance", func(c *gin.Context) {
		var req struct {
			StudentID string  `json:"student_id" binding:"required"`
			Date      string  `json:"date" binding:"required"`
			Status    string  `json:"status" binding:"required"`
			Reason    *string `json:"reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date, err := ledger.ParseDate(req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := writer.SetStatus(c.Request.Context(), req.StudentID, date, ledger.Status(req.Status), req.Reason, auth.StaffID(c))
		if err != nil {
			if errors.Is(err, ledger.ErrInvalidStatus) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"record": rec})
	})

	staff.POST("/reconcile/run", func(c *gin.Context) {
		var req struct {
			Date  string `json:"date"`
			Audit bool   `json:"audit"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var date ledger.Date
		if req.Date != "" {
			var err error
			if date, err = ledger.ParseDate(req.Date); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		summary, audit, err := sweep.Run(c.Request.Context(), date)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp := gin.H{"summary": summary}
		if req.Audit {
			resp["results"] = audit
		}
		c.JSON(http.StatusOK, resp)
	})

	staff.GET("/attendance", func(c *gin.Context) {
		date := ledger.DateOf(time.Now(), loc)
		if v := c.Query("date"); v != "" {
			var err error
			if date, err = ledger.ParseDate(v); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if academyID := c.Query("academy_id"); academyID != "" {
			recs, err := ledgerRepo.ListByAcademy(c.Request.Context(), academyID, date)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"records": recs})
			return
		}
		studentID := c.Query("student_id")
		if studentID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "student_id or academy_id required"})
			return
		}
		from, to, err := dateRange(c, date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		recs, err := ledgerRepo.ListByStudent(c.Request.Context(), studentID, from, to)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": recs})
	})

	staff.GET("/students/:id/attendance/summary", func(c *gin.Context) {
		today := ledger.DateOf(time.Now(), loc)
		from, to, err := dateRange(c, today)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sum, err := ledgerRepo.Summarize(c.Request.Context(), c.Param("id"), from, to)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"summary": sum, "from": from, "to": to})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// dateRange reads from/to query params, defaulting both to fallback.
func dateRange(c *gin.Context, fallback ledger.Date) (ledger.Date, ledger.Date, error) {
	from, to := fallback, fallback
	if v := c.Query("from"); v != "" {
		var err error
		if from, err = ledger.ParseDate(v); err != nil {
			return "", "", err
		}
	}
	if v := c.Query("to"); v != "" {
		var err error
		if to, err = ledger.ParseDate(v); err != nil {
			return "", "", err
		}
	}
	return from, to, nil
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
