package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Akinlua/autods/internal/config"
	"github.com/Akinlua/autods/internal/controller"
	"github.com/Akinlua/autods/internal/middleware"
	"github.com/Akinlua/autods/internal/model"
	"github.com/Akinlua/autods/internal/repository"
	"github.com/Akinlua/autods/internal/router"
	"github.com/Akinlua/autods/internal/service"
	"github.com/Akinlua/autods/internal/task"
	"github.com/Akinlua/autods/pkg/database"
)

func main() {
	// 1. 加载配置
	cfg := config.Load()
	middleware.SetJWTConfig(&middleware.JWTConfig{
		SecretKey:      cfg.Server.JWTSecret,
		AccessTokenTTL: 12 * time.Hour,
		Issuer:         "autods-sync",
	})

	// 2. 初始化数据库
	db := initDatabase(cfg)

	// 3. 初始化依赖
	deps := initDependencies(cfg, db)

	// 4. 启动定时任务
	deps.Tasks.Start()
	defer deps.Tasks.Stop()

	// 5. 初始化路由并启动服务
	r := gin.Default()
	router.InitRoutes(r, deps.Controllers.Auth, deps.Controllers.Sync, deps.Controllers.Listing)
	startServer(r, cfg.Server.Port)
}

// ==================== 依赖容器 ====================

// Dependencies 依赖容器
type Dependencies struct {
	DB          *gorm.DB
	Repos       *Repositories
	Services    *Services
	Tasks       *task.TaskManager
	Controllers *Controllers
}

// Repositories 仓库集合
type Repositories struct {
	Token       repository.TokenRepository
	PendingAuth repository.PendingAuthRepository
	Listing     repository.ListingRepository
	Message     repository.MessageRepository
	JobRun      repository.JobRunRepository
}

// Services 服务集合
type Services struct {
	EbayTokens   *service.TokenManager
	AutoDSTokens *service.TokenManager
	Browser      *service.BrowserAutomation
	Supplier     *service.AutoDSClient
	Channel      *service.EbayClient
	Pipeline     *service.ListingPipeline
	Messages     *service.MessageHandler
}

// Controllers 控制器集合
type Controllers struct {
	Auth    *controller.AuthController
	Sync    *controller.SyncController
	Listing *controller.ListingController
}

// ==================== 初始化函数 ====================

// initDatabase 初始化数据库
func initDatabase(cfg *config.Config) *gorm.DB {
	return database.InitDB(cfg.DatabaseDSN,
		&model.Token{}, &model.PendingAuth{},
		&model.Listing{}, &model.Message{}, &model.JobRun{},
	)
}

// initDependencies 初始化所有依赖
func initDependencies(cfg *config.Config, db *gorm.DB) *Dependencies {
	// -------- Repo 层 --------
	repos := &Repositories{
		Token:       repository.NewTokenRepository(db),
		PendingAuth: repository.NewPendingAuthRepository(db),
		Listing:     repository.NewListingRepository(db),
		Message:     repository.NewMessageRepository(db),
		JobRun:      repository.NewJobRunRepository(db),
	}

	// -------- Token 管理 --------
	browser := service.NewBrowserAutomation(true)

	ebayTokens := service.NewTokenManager(model.ServiceEbay, repos.Token, repos.PendingAuth,
		service.EbayOAuthConfig{
			AuthURL:      cfg.Ebay.AuthURL,
			TokenURL:     cfg.Ebay.TokenURL,
			ClientID:     cfg.Ebay.ClientID,
			ClientSecret: cfg.Ebay.ClientSecret,
			RuName:       cfg.Ebay.RuName,
			Scopes:       cfg.Ebay.Scopes,
		}, nil)
	ebayTokens.SetAuthorizeFunc(service.NewEbayAuthorizeFunc(ebayTokens, browser, cfg.Ebay))

	autodsTokens := service.NewTokenManager(model.ServiceAutoDS, repos.Token, repos.PendingAuth,
		service.EbayOAuthConfig{}, service.NewAutoDSAuthorizeFunc(browser, cfg.AutoDS))

	// -------- 外部客户端 --------
	supplier := service.NewAutoDSClient(cfg.AutoDS.APIURL, cfg.AutoDS.MarketplaceURL, cfg.Sync.SupplierFilter, autodsTokens)
	channel := service.NewEbayClient(cfg.Ebay.APIURL, cfg.Ebay.TradingAPIURL, ebayTokens)

	// -------- 业务服务 --------
	pipeline := service.NewListingPipeline(supplier, channel, repos.Listing, service.PipelineConfig{
		StoreID:            cfg.AutoDS.FirstStoreID(),
		MaxListingQuantity: cfg.Sync.MaxListingQuantity,
		RemovalCount:       cfg.Sync.RemovalCount,
		MinimumStock:       cfg.Sync.MinimumStock,
		RemoveOrphans:      cfg.Sync.RemoveOrphans,
		RemovalBatchSize:   cfg.Sync.RemovalBatchSize,
		MaxAttempts:        cfg.Sync.MaxAttempts,
	})
	messages := service.NewMessageHandler(channel, repos.Message, cfg.Message.EscalationKeywords)

	services := &Services{
		EbayTokens:   ebayTokens,
		AutoDSTokens: autodsTokens,
		Browser:      browser,
		Supplier:     supplier,
		Channel:      channel,
		Pipeline:     pipeline,
		Messages:     messages,
	}

	// -------- 定时任务 --------
	tasks := task.NewTaskManager(task.TaskManagerDeps{
		Pipeline:       pipeline,
		MessageHandler: messages,
		JobRepo:        repos.JobRun,
		PendingRepo:    repos.PendingAuth,
	}, cfg.Schedules)

	// -------- Controller 层 --------
	controllers := &Controllers{
		Auth:    controller.NewAuthController(ebayTokens, repos.PendingAuth, cfg.Server),
		Sync:    controller.NewSyncController(tasks, repos.JobRun, repos.Token),
		Listing: controller.NewListingController(repos.Listing),
	}

	return &Dependencies{
		DB:          db,
		Repos:       repos,
		Services:    services,
		Tasks:       tasks,
		Controllers: controllers,
	}
}

// ==================== 服务启动 ====================

// startServer 启动服务并等待退出信号
func startServer(r *gin.Engine, port string) {
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("服务已启动，监听端口 %s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("收到退出信号，开始优雅关闭...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务关闭失败: %v", err)
	}
	log.Println("服务已退出")
}
