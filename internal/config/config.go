package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ==================== 配置结构 ====================

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port          string
	JWTSecret     string
	AdminUsername string
	AdminPassword string
}

// EbayConfig eBay OAuth 与 API 配置
type EbayConfig struct {
	APIURL        string // REST API 根地址
	TradingAPIURL string // Trading API (XML) 地址
	AuthURL       string // 授权同意页
	TokenURL      string // 换 Token 端点
	ClientID      string
	ClientSecret  string
	RuName        string // eBay 侧登记的 redirect_uri
	Username      string // 配置后走自动化授权，否则输出链接人工完成
	Password      string
	Scopes        []string
}

// AutoDSConfig AutoDS API 配置
// AutoDS 官方 Token 只能从其网页客户端的请求里截获，
// 因此这里需要登录页地址和账号凭证
type AutoDSConfig struct {
	APIURL         string // v2 API 根地址
	MarketplaceURL string // marketplace 网关根地址
	LoginURL       string
	Username       string
	Password       string
	StoreIDs       string // 逗号分隔，取第一个
	TokenTTL       time.Duration
}

// SyncConfig 同步管道配置
type SyncConfig struct {
	MaxListingQuantity int    // 每轮目标上架数量
	RemovalCount       int    // 定时批量下架的窗口大小
	MinimumStock       int    // 库存准入下限
	SupplierFilter     string // amazon / private_suppliers / 空
	RemoveOrphans      bool   // 货源目录中消失的刊登是否下架（默认关闭，模糊匹配误删风险高）
	RemovalBatchSize   int
	MaxAttempts        int // 补齐重试上限
}

// ScheduleConfig 定时任务 cron 表达式（带秒位）
type ScheduleConfig struct {
	Listing string
	Removal string
	Message string
}

// MessageConfig 买家消息处理配置
type MessageConfig struct {
	EscalationKeywords []string
}

// Config 应用配置总集
type Config struct {
	Server      ServerConfig
	DatabaseDSN string
	Ebay        EbayConfig
	AutoDS      AutoDSConfig
	Sync        SyncConfig
	Schedules   ScheduleConfig
	Message     MessageConfig
}

// eBay 授权所需的全部 scope
var defaultEbayScopes = []string{
	"https://api.ebay.com/oauth/api_scope",
	"https://api.ebay.com/oauth/api_scope/sell.inventory.readonly",
	"https://api.ebay.com/oauth/api_scope/sell.inventory",
	"https://api.ebay.com/oauth/api_scope/sell.account.readonly",
	"https://api.ebay.com/oauth/api_scope/sell.account",
	"https://api.ebay.com/oauth/api_scope/sell.fulfillment.readonly",
	"https://api.ebay.com/oauth/api_scope/sell.fulfillment",
	"https://api.ebay.com/oauth/api_scope/sell.marketing.readonly",
	"https://api.ebay.com/oauth/api_scope/sell.marketing",
}

// ==================== 加载 ====================

// Load 读取 .env（如果存在）并从环境变量装配配置
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[Config] 未找到 .env 文件，直接读取环境变量")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:          getEnv("PORT", "8080"),
			JWTSecret:     getEnv("JWT_SECRET", "autods-sync-secret-change-in-production"),
			AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
			AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		},
		DatabaseDSN: getEnv("DATABASE_DSN",
			"host=localhost user=autods password=autods dbname=autods_sync port=5432 sslmode=disable"),
		Ebay: EbayConfig{
			APIURL:        getEnv("EBAY_API_URL", "https://api.ebay.com"),
			TradingAPIURL: getEnv("EBAY_TRADING_API_URL", "https://api.ebay.com/ws/api.dll"),
			AuthURL:       getEnv("EBAY_AUTH_URL", "https://auth.ebay.com/oauth2/authorize"),
			TokenURL:      getEnv("EBAY_TOKEN_URL", "https://api.ebay.com/identity/v1/oauth2/token"),
			ClientID:      os.Getenv("EBAY_CLIENT_ID"),
			ClientSecret:  os.Getenv("EBAY_CLIENT_SECRET"),
			RuName:        os.Getenv("EBAY_RU_NAME"),
			Username:      os.Getenv("EBAY_USERNAME"),
			Password:      os.Getenv("EBAY_PASSWORD"),
			Scopes:        defaultEbayScopes,
		},
		AutoDS: AutoDSConfig{
			APIURL:         getEnv("AUTODS_API_URL", "https://v2-api.autods.com"),
			MarketplaceURL: getEnv("AUTODS_MARKETPLACE_URL", "https://gw.autods.com"),
			LoginURL:       getEnv("AUTODS_LOGIN_URL", "https://platform.autods.com/login"),
			Username:       os.Getenv("AUTODS_USERNAME"),
			Password:       os.Getenv("AUTODS_PASSWORD"),
			StoreIDs:       os.Getenv("AUTODS_STORE_IDS"),
			TokenTTL:       getEnvDuration("AUTODS_TOKEN_TTL", 12*time.Hour),
		},
		Sync: SyncConfig{
			MaxListingQuantity: getEnvInt("MAX_LISTING_QUANTITY", 10),
			RemovalCount:       getEnvInt("REMOVAL_COUNT", 5),
			MinimumStock:       getEnvInt("MINIMUM_STOCK", 1),
			SupplierFilter:     os.Getenv("SUPPLIER_FILTER"),
			RemoveOrphans:      getEnvBool("REMOVE_ORPHANS", false),
			RemovalBatchSize:   getEnvInt("REMOVAL_BATCH_SIZE", 50),
			MaxAttempts:        getEnvInt("LISTING_MAX_ATTEMPTS", 3),
		},
		Schedules: ScheduleConfig{
			Listing: getEnv("LISTING_CRON_SCHEDULE", "0 0 9 * * *"),  // 每天 9:00
			Removal: getEnv("REMOVAL_CRON_SCHEDULE", "0 0 18 * * *"), // 每天 18:00
			Message: getEnv("MESSAGE_CRON_SCHEDULE", "0 0 * * * *"),  // 每小时
		},
		Message: MessageConfig{
			EscalationKeywords: getEnvList("ESCALATION_KEYWORDS",
				[]string{"refund", "broken", "damaged", "complaint", "return"}),
		},
	}

	return cfg
}

// FirstStoreID 取配置中的第一个店铺 ID
func (c *AutoDSConfig) FirstStoreID() string {
	parts := strings.Split(c.StoreIDs, ",")
	return strings.TrimSpace(parts[0])
}

// ==================== 辅助函数 ====================

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[Config] %s=%q 不是合法整数，使用默认值 %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[Config] %s=%q 不是合法时长，使用默认值 %s", key, v, fallback)
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
