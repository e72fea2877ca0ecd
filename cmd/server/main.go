// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"tbkb-submission-go/internal/config"
	"tbkb-submission-go/internal/handler"
	"tbkb-submission-go/internal/lock"
	"tbkb-submission-go/internal/matching"
	"tbkb-submission-go/internal/middleware"
	"tbkb-submission-go/internal/model"
	"tbkb-submission-go/internal/pipeline"
	"tbkb-submission-go/internal/repository"
	"tbkb-submission-go/internal/service"
	"tbkb-submission-go/pkg/database"
	"tbkb-submission-go/pkg/es"
	"tbkb-submission-go/pkg/kafka"
	"tbkb-submission-go/pkg/log"
	"tbkb-submission-go/pkg/storage"
	"tbkb-submission-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储和检索
	database.InitDB(cfg.Database)
	database.InitRedis(cfg.Database.Redis)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	producer := kafka.NewProducer(cfg.Kafka)
	defer func() {
		if err := producer.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}()

	// 4. 初始化 Repository
	userRepository := repository.NewUserRepository(database.DB)
	ensureAdmin(userRepository, cfg.Bootstrap)

	// 5. 初始化匹配引擎和包锁
	var guard repository.LockRepository
	if cfg.Lock.RedisGuard {
		guard = repository.NewLockRepository(database.RDB)
	}
	locker := lock.NewPackageLocker(database.DB, guard, cfg.Lock.TTL)
	engine := matching.NewEngine(matching.NewSampleRegistry(cfg.Matching.DefaultTaxonID))

	// 6. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	sequencingStore := storage.NewSequencingStore(storage.MinioClient, cfg.MinIO.BucketName)
	packageService := service.NewPackageService(database.DB, locker, engine, producer)
	intakeService := service.NewIntakeService(database.DB, sequencingStore, producer, cfg.MinIO.PresignExpiry())

	// 7. 初始化事件处理管道 (Processor)
	processor := pipeline.NewProcessor(
		database.DB,
		pipeline.LogNotifier{},
		es.NewSampleIndex(es.ESClient, cfg.Elasticsearch.IndexName),
	)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), middleware.Metrics(), middleware.CORS(cfg.Server.AllowedOrigins), gin.Recovery())
	handler.RegisterRoutes(r,
		middleware.AuthMiddleware(jwtManager, userRepository),
		handler.NewPackageHandler(packageService, intakeService),
		handler.NewReviewHandler(packageService),
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP 服务监听失败: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// 后台 Kafka 消费者，ctx 取消后退出
		kafka.StartConsumer(gctx, cfg.Kafka, processor, database.RDB)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("接收到停机信号，正在关闭服务...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Errorf("服务异常退出: %v", err)
		return
	}
	log.Info("服务已优雅关闭")
}

// ensureAdmin 确保配置中的管理员账号存在（幂等）。
func ensureAdmin(userRepo repository.UserRepository, cfg config.BootstrapConfig) {
	if cfg.AdminUsername == "" {
		return
	}
	_, err := userRepo.FindByUsername(cfg.AdminUsername)
	if err == nil {
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("ensureAdmin: 查询管理员失败: %v", err)
		return
	}
	admin := &model.User{
		Username: cfg.AdminUsername,
		Email:    cfg.AdminEmail,
		Role:     model.RoleAdmin,
		OnDuty:   true,
	}
	if err := userRepo.Create(admin); err != nil {
		log.Warnf("ensureAdmin: 创建管理员失败: %v", err)
		return
	}
	log.Infof("ensureAdmin: 已创建管理员 %s", admin.Username)
}
