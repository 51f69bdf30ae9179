package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"msmeconnect/internal/config"
	"msmeconnect/internal/handler"
	"msmeconnect/internal/infrastructure/cache"
	"msmeconnect/internal/infrastructure/database"
	"msmeconnect/internal/infrastructure/lock"
	"msmeconnect/internal/infrastructure/logging"
	"msmeconnect/internal/infrastructure/mq"
	"msmeconnect/internal/job"
	"msmeconnect/internal/service"
	"msmeconnect/pkg/idgen"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	logCloser := logging.Setup(&cfg.Log)
	defer logCloser.Close()

	// 初始化 ID 生成器
	idgen.Init(cfg.Server.WorkerID)

	db := database.MustOpen(&cfg.Database)

	// Redis 可选，未启用时幂等只依赖数据库唯一约束
	redisClient := cache.InitRedis(&cfg.Redis)
	var locker service.Locker
	if redisClient != nil {
		locker = lock.NewRedisLocker(redisClient)
		defer redisClient.Close()
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 账本服务由 HTTP 接口和后台任务共用
	ledger := service.NewLedgerService(db, locker, cfg)

	// 启动后台任务

	if publisher := mq.InitKafka(&cfg.Kafka); publisher != nil {
		defer publisher.Close()
		outboxSender := job.NewOutboxSender(db, publisher, cfg)
		go outboxSender.Start(ctx)
	}

	reconcileJob := job.NewReconcileJob(db, ledger, cfg)
	go reconcileJob.Start(ctx)

	staleJob := job.NewStaleRedemptionJob(db, cfg)
	go staleJob.Start(ctx)

	// 设置路由
	router, err := handler.SetupRouter(db, ledger, locker, cfg)
	if err != nil {
		log.Fatalf("初始化路由失败: %v", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
