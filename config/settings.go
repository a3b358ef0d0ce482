package config

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// --- 全局变量和常量 ---
const (
	// 默认配置值
	DefaultRequestTimeoutSeconds = 30 // 对 grok.com 探测请求的超时（秒）
	DefaultRefreshWorkers        = 3  // 后台额度刷新 worker 数量
	DefaultRefreshQueueSize      = 64 // 后台额度刷新队列容量
	DefaultPort                  = "8000"
	DefaultLogLevel              = "info"
	DefaultGinMode               = "debug"
	DefaultGrokBaseURL           = "https://grok.com"
	DefaultAdminPassword         = "admin"
	DefaultSessionSecretKey      = "grok2api-insecure-default-session-key-change-me"
	DefaultStorageType           = "sqlite"
	DefaultSqlitePath            = "data/grok_tokens.db"
	DefaultMySQLHost             = "127.0.0.1"
	DefaultMySQLPort             = "3306"
	DefaultMySQLDBName           = "grok2api"
	DefaultMySQLUser             = "root"
	DefaultMySQLPassword         = ""
	DefaultRedisAddr             = "127.0.0.1:6379"
	DefaultRedisDB               = 0
)

// Settings 存储应用配置
type Settings struct {
	AppAPIKey        string        // /v1 接口的服务密钥（Bearer），为空时不启用认证
	SSOTokens        string        // 启动时注入池中的初始 SSO token，逗号分隔（可为空，池以持久化数据为准）
	GrokBaseURL      string        // grok.com 基础地址（探测端点在其 /rest 路径下）
	ProxyURL         string        // 访问 grok.com 的可选代理地址
	RequestTimeout   time.Duration // 探测请求超时
	RefreshWorkers   int           // 后台额度刷新 worker 数量
	RefreshQueueSize int           // 后台额度刷新队列容量
	Port             string
	LogLevel         string
	GinMode          string
	AdminPassword    string
	SessionSecretKey string
	StorageType      string // 持久化后端: sqlite / mysql / redis
	SqlitePath       string
	MySQLHost        string
	MySQLPort        string
	MySQLDBName      string
	MySQLUser        string
	MySQLPassword    string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
}

// --- 配置热加载支持 ---
var (
	AppSettings Settings
	configLock  = &sync.RWMutex{}
	Log         *logrus.Logger // 由 main.go 注入
)

// Init 初始化配置。先加载 .env（如果存在），再从环境变量读取。
func Init(logger *logrus.Logger) {
	Log = logger
	_ = godotenv.Load()
	configLock.Lock()
	AppSettings = loadConfig()
	configLock.Unlock()
}

// GetSettings 安全地获取当前配置的副本。
func GetSettings() Settings {
	configLock.RLock()
	defer configLock.RUnlock()
	return AppSettings
}

// UpdateSettingsRequest 定义了可以从 API 更新的配置字段。
// 使用指针类型可以区分 "未提供" 和 "设置为空值"。
type UpdateSettingsRequest struct {
	RequestTimeoutSeconds *int    `json:"request_timeout_seconds"`
	ProxyURL              *string `json:"proxy_url"`
	RefreshWorkers        *int    `json:"refresh_workers"`
	LogLevel              *string `json:"log_level"`
	AppAPIKey             *string `json:"app_api_key"`
	AdminPassword         *string `json:"admin_password"`
}

// UpdateSettings 安全地更新全局配置。
func UpdateSettings(req UpdateSettingsRequest) {
	configLock.Lock()
	defer configLock.Unlock()

	if req.RequestTimeoutSeconds != nil {
		AppSettings.RequestTimeout = time.Duration(*req.RequestTimeoutSeconds) * time.Second
		Log.Infof("配置热更新: RequestTimeout -> %v", AppSettings.RequestTimeout)
		Log.Warn("RequestTimeout 已更新，但对 grok.com 的探测客户端在启动时构建，需要重启服务才能生效。")
	}
	if req.ProxyURL != nil {
		AppSettings.ProxyURL = *req.ProxyURL
		Log.Infof("配置热更新: ProxyURL 已更新。")
		Log.Warn("ProxyURL 已更新，但探测客户端在启动时构建，需要重启服务才能生效。")
	}
	if req.RefreshWorkers != nil {
		AppSettings.RefreshWorkers = *req.RefreshWorkers
		Log.Infof("配置热更新: RefreshWorkers -> %d", AppSettings.RefreshWorkers)
		Log.Warn("RefreshWorkers 已更新，但 worker 池在启动时创建，需要重启服务才能使新数量生效。")
	}
	if req.LogLevel != nil {
		if level, err := logrus.ParseLevel(*req.LogLevel); err == nil {
			AppSettings.LogLevel = *req.LogLevel
			Log.SetLevel(level)
			Log.Infof("配置热更新: LogLevel -> %s", AppSettings.LogLevel)
		} else {
			Log.Warnf("尝试热更新为无效的日志级别 '%s'，忽略此项更改。", *req.LogLevel)
		}
	}
	if req.AppAPIKey != nil {
		AppSettings.AppAPIKey = *req.AppAPIKey
		Log.Infof("配置热更新: AppAPIKey 已更新。")
	}
	if req.AdminPassword != nil {
		AppSettings.AdminPassword = *req.AdminPassword
		Log.Infof("配置热更新: AdminPassword 已更新。")
	}
}

// Reload 重新从环境变量加载配置（由 .env 文件监听器触发）。
// 仅覆盖支持热更新的动态字段；端口、存储后端等结构性配置保持首次加载的值。
func Reload() {
	fresh := loadConfig()

	configLock.Lock()
	defer configLock.Unlock()

	if fresh.LogLevel != AppSettings.LogLevel {
		if level, err := logrus.ParseLevel(fresh.LogLevel); err == nil {
			AppSettings.LogLevel = fresh.LogLevel
			Log.SetLevel(level)
			Log.Infof("配置重载: LogLevel -> %s", fresh.LogLevel)
		}
	}
	if fresh.AppAPIKey != AppSettings.AppAPIKey {
		AppSettings.AppAPIKey = fresh.AppAPIKey
		Log.Info("配置重载: AppAPIKey 已更新。")
	}
	if fresh.AdminPassword != AppSettings.AdminPassword {
		AppSettings.AdminPassword = fresh.AdminPassword
		Log.Info("配置重载: AdminPassword 已更新。")
	}
	if fresh.ProxyURL != AppSettings.ProxyURL {
		AppSettings.ProxyURL = fresh.ProxyURL
		Log.Info("配置重载: ProxyURL 已更新（重启后对探测客户端生效）。")
	}
}

// loadConfig 从环境变量加载配置
func loadConfig() Settings {
	return Settings{
		AppAPIKey:        os.Getenv("APP_API_KEY"),
		SSOTokens:        os.Getenv("SSO_TOKENS"),
		GrokBaseURL:      getStringEnv("GROK_BASE_URL", DefaultGrokBaseURL),
		ProxyURL:         os.Getenv("PROXY_URL"), // 代理可以为空
		RequestTimeout:   getDurationEnv("REQUEST_TIMEOUT_SECONDS", DefaultRequestTimeoutSeconds),
		RefreshWorkers:   getIntEnv("REFRESH_WORKERS", DefaultRefreshWorkers),
		RefreshQueueSize: getIntEnv("REFRESH_QUEUE_SIZE", DefaultRefreshQueueSize),
		Port:             getStringEnv("PORT", DefaultPort),
		LogLevel:         getStringEnv("LOG_LEVEL", DefaultLogLevel),
		GinMode:          getStringEnv("GIN_MODE", DefaultGinMode),
		AdminPassword:    getStringEnv("ADMIN_PASSWORD", DefaultAdminPassword),
		SessionSecretKey: getStringEnv("SESSION_SECRET_KEY", DefaultSessionSecretKey),
		StorageType:      getStringEnv("STORAGE_TYPE", DefaultStorageType),
		SqlitePath:       getStringEnv("SQLITE_PATH", DefaultSqlitePath),
		MySQLHost:        getStringEnv("MYSQL_HOST", DefaultMySQLHost),
		MySQLPort:        getStringEnv("MYSQL_PORT", DefaultMySQLPort),
		MySQLDBName:      getStringEnv("MYSQL_DBNAME", DefaultMySQLDBName),
		MySQLUser:        getStringEnv("MYSQL_USER", DefaultMySQLUser),
		MySQLPassword:    os.Getenv("MYSQL_PASSWORD"), // 密码可以为空
		RedisAddr:        getStringEnv("REDIS_ADDR", DefaultRedisAddr),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          getIntEnv("REDIS_DB", DefaultRedisDB),
	}
}

func getStringEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getDurationEnv(key string, defaultValueInSeconds int) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return time.Duration(defaultValueInSeconds) * time.Second
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value < 0 {
		return time.Duration(defaultValueInSeconds) * time.Second
	}
	return time.Duration(value) * time.Second
}
