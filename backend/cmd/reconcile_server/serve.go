package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"reconcileServer/backend/config"
	"reconcileServer/backend/internal/cache"
	"reconcileServer/backend/internal/collab"
	"reconcileServer/backend/internal/httpapi/handlers"
	"reconcileServer/backend/internal/httpapi/middleware"
	"reconcileServer/backend/internal/store"
	"reconcileServer/backend/internal/ws"
)

const (
	shutdownTimeout  = 10 * time.Second
	presenceInterval = 30 * time.Second
)

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP + WebSocket 服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log.Printf("config: port=%d kafka=%v topic=%s redis=%v window=%dms threshold=%.2f",
		cfg.Running.Port, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Redis.Addrs,
		cfg.Reconcile.WindowMs, cfg.Reconcile.ThresholdRatio)

	// 单地址走单机，多地址走集群
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	db, err := sql.Open("mysql", cfg.Mysql.DSN)
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect mysql: %w", err)
	}

	gdb, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		return fmt.Errorf("init gorm: %w", err)
	}

	// === 初始化 Kafka Producer ===
	kafkaCfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		return fmt.Errorf("connect kafka: %w", err)
	}
	defer producer.Close()

	dispatcher := collab.NewKafkaDispatcher(
		producer,
		cfg.Kafka.Topic,
		collab.NewSemaphoreControl(cfg.Dispatcher.InFlight),
		collab.KafkaDispatcherOptions{
			QueueSize:   cfg.Dispatcher.QueueSize,
			Workers:     cfg.Dispatcher.Workers,
			MaxRetry:    cfg.Dispatcher.MaxRetry,
			BaseBackoff: time.Duration(cfg.Dispatcher.BaseBackoffMs) * time.Millisecond,
			MaxBackoff:  time.Duration(cfg.Dispatcher.MaxBackoffMs) * time.Millisecond,
		},
	)
	// producer 之前关闭，保证队列里的事件发完
	defer dispatcher.Close()

	resolutions := store.NewResolutionStore(gdb)
	svc, err := collab.NewInMemoryService(
		store.NewSnapshotStore(db),
		resolutions,
		dispatcher,
		collab.Options{
			RingCapacity:      cfg.Collab.RingCapacity,
			WindowMs:          cfg.Reconcile.WindowMs,
			ThresholdRatio:    cfg.Reconcile.ThresholdRatio,
			KeepBothSeparator: cfg.Reconcile.KeepBothSeparator,
		},
	)
	if err != nil {
		return err
	}

	presence := cache.NewRedisPresence(rdb)
	hub := ws.NewHub(presence)
	svc.SetListener(hub)
	manager := ws.NewManager(hub, svc, collab.NewSemaphoreControl(cfg.Collab.SubmitConcurrency))

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	if cfg.Running.EnableCORS {
		r.Use(cors.New(cors.Config{
			AllowOriginFunc: func(origin string) bool { return true },
			AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:   []string{"Content-Length"},
			MaxAge:          12 * time.Hour,
		}))
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	group := r.Group("/collab")
	// 配了密钥就本地校验，否则调用认证服务 /v1/auth/verify
	var verifier middleware.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = middleware.NewJWTVerifier(cfg.Auth.JWTSecret)
	} else {
		verifier = middleware.NewRemoteVerifier(cfg.Auth.Path)
	}
	group.Use(middleware.AuthMiddleware(verifier))
	group.GET("/ws", manager.WebSocketConnect)
	handlers.NewReconcileHandler(svc, resolutions).Register(group)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Running.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("reconcile server listening addr=%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sweepPresence(gctx, presence, hub)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Printf("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// sweepPresence 定期清理过期成员并把在线列表推给各房间
func sweepPresence(ctx context.Context, presence cache.PresenceCache, hub *ws.Hub) {
	ticker := time.NewTicker(presenceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		docs, err := presence.GetDocuments(ctx)
		if err != nil {
			log.Printf("presence sweep list docs error: %v", err)
			continue
		}
		for _, docID := range docs {
			if hub.RoomSize(docID) == 0 {
				continue
			}
			members, err := presence.GetAliveMembersWithNames(ctx, docID)
			if err != nil {
				log.Printf("presence sweep doc=%s error: %v", docID, err)
				continue
			}
			hub.BroadcastPresence(docID, members)
		}
	}
}
