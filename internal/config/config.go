package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	CORSAllowOrigins []string `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"*"`

	DBType     string `env:"DBType" envDefault:"sqlite"`
	DSNURL     string `env:"DSN_URL" envDefault:""`
	DBUser     string `env:"DBUser" envDefault:""`
	DBPassword string `env:"DBPassword" envDefault:""`
	DBAddr     string `env:"DBAddr" envDefault:""`
	DBName     string `env:"DBName" envDefault:"imagegate"`
	DBPath     string `env:"DBPath" envDefault:"datas/imagegate.db"`
	DBPort     string `env:"DBPort" envDefault:"3306"`

	// 生成结果与临时文件目录
	StorageType          string        `env:"STORAGE_TYPE" envDefault:"local"`
	StorageLocalDir      string        `env:"STORAGE_LOCAL_DIR" envDefault:"uploads"`
	StoragePublicBaseURL string        `env:"STORAGE_PUBLIC_BASE_URL" envDefault:"/uploads"`
	ScratchDir           string        `env:"SCRATCH_DIR" envDefault:"temp"`
	ScratchMaxAge        time.Duration `env:"SCRATCH_MAX_AGE" envDefault:"1h"`
	JanitorSchedule      string        `env:"JANITOR_SCHEDULE" envDefault:"@every 30m"`

	// S3 兼容存储配置
	StorageS3Region          string `env:"STORAGE_S3_REGION"`
	StorageS3Bucket          string `env:"STORAGE_S3_BUCKET"`
	StorageS3Prefix          string `env:"STORAGE_S3_PREFIX"`
	StorageS3Endpoint        string `env:"STORAGE_S3_ENDPOINT"`
	StorageS3AccessKeyID     string `env:"STORAGE_S3_ACCESS_KEY_ID"`
	StorageS3SecretAccessKey string `env:"STORAGE_S3_SECRET_ACCESS_KEY"`
	StorageS3SessionToken    string `env:"STORAGE_S3_SESSION_TOKEN"`
	StorageS3ForcePathStyle  bool   `env:"STORAGE_S3_FORCE_PATH_STYLE" envDefault:"false"`

	// 阿里云 OSS 存储配置
	StorageOSSEndpoint        string `env:"STORAGE_OSS_ENDPOINT"`
	StorageOSSBucket          string `env:"STORAGE_OSS_BUCKET"`
	StorageOSSPrefix          string `env:"STORAGE_OSS_PREFIX"`
	StorageOSSAccessKeyID     string `env:"STORAGE_OSS_ACCESS_KEY_ID"`
	StorageOSSAccessKeySecret string `env:"STORAGE_OSS_ACCESS_KEY_SECRET"`

	// 腾讯云 COS 存储配置
	StorageCOSBucketURL string `env:"STORAGE_COS_BUCKET_URL"`
	StorageCOSPrefix    string `env:"STORAGE_COS_PREFIX"`
	StorageCOSSecretID  string `env:"STORAGE_COS_SECRET_ID"`
	StorageCOSSecretKey string `env:"STORAGE_COS_SECRET_KEY"`

	// Cloudflare R2 存储配置
	StorageR2AccountID       string `env:"STORAGE_R2_ACCOUNT_ID"`
	StorageR2Endpoint        string `env:"STORAGE_R2_ENDPOINT"`
	StorageR2Region          string `env:"STORAGE_R2_REGION" envDefault:"auto"`
	StorageR2Bucket          string `env:"STORAGE_R2_BUCKET"`
	StorageR2Prefix          string `env:"STORAGE_R2_PREFIX"`
	StorageR2AccessKeyID     string `env:"STORAGE_R2_ACCESS_KEY_ID"`
	StorageR2SecretAccessKey string `env:"STORAGE_R2_SECRET_ACCESS_KEY"`

	// 服务商默认配置，首次启动时写入 provider_config 表
	DreamAPIURL string `env:"DREAM_API_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	DreamAPIKey string `env:"DREAM_API_KEY" envDefault:""`
	DreamModel  string `env:"SEED_ARK_MODEL_ID" envDefault:"doubao-seedream-4-0-250828"`
	NanoAPIURL  string `env:"NANO_API_URL" envDefault:""`
	NanoAPIKey  string `env:"NANO_API_KEY" envDefault:""`
	NanoModel   string `env:"NANO_MODEL" envDefault:"gemini-2.5-flash-image-preview"`
	LayerAPIURL string `env:"LAYER_API_URL" envDefault:"https://api-inference.modelscope.cn/api/v1/models"`
	LayerAPIKey string `env:"LAYER_API_KEY" envDefault:""`
	LayerModel  string `env:"LAYER_MODEL" envDefault:"Qwen/Qwen-Image-Layered"`

	DefaultDailyLimit int    `env:"DEFAULT_DAILY_LIMIT" envDefault:"100"`
	OutboundProxyURL  string `env:"OUTBOUND_PROXY_URL" envDefault:""`

	WatermarkEnabled bool   `env:"WATERMARK_ENABLED" envDefault:"false"`
	WatermarkText    string `env:"WATERMARK_TEXT" envDefault:"AI Generated"`

	FallbackEnabled      bool          `env:"FALLBACK_ENABLED" envDefault:"true"`
	ProviderCacheTTL     time.Duration `env:"PROVIDER_CACHE_TTL" envDefault:"1m"`
	ProviderOrderGen     []string      `env:"PROVIDER_ORDER_GENERATE" envSeparator:"," envDefault:"dream,nano"`
	ProviderOrderUpscale []string      `env:"PROVIDER_ORDER_UPSCALE" envSeparator:"," envDefault:"dream,nano"`
	ProviderOrderExtend  []string      `env:"PROVIDER_ORDER_EXTEND" envSeparator:"," envDefault:"dream,nano"`
	ProviderOrderSplit   []string      `env:"PROVIDER_ORDER_SPLIT" envSeparator:"," envDefault:"dream,nano"`
	ProviderOrderLayer   []string      `env:"PROVIDER_ORDER_LAYER_SPLIT" envSeparator:"," envDefault:"dream"`

	GenerateTimeout   time.Duration `env:"GENERATE_TIMEOUT" envDefault:"120s"`
	UpscaleTimeout    time.Duration `env:"UPSCALE_TIMEOUT" envDefault:"90s"`
	ExtendTimeout     time.Duration `env:"EXTEND_TIMEOUT" envDefault:"90s"`
	SplitTimeout      time.Duration `env:"SPLIT_TIMEOUT" envDefault:"30s"`
	LayerSplitTimeout time.Duration `env:"LAYER_SPLIT_TIMEOUT" envDefault:"120s"`

	DailyQuotaEnabled  bool `env:"DAILY_QUOTA_ENABLED" envDefault:"true"`
	RateLimitPerMinute int  `env:"RATE_LIMIT_PER_MINUTE" envDefault:"10"`

	JWTSecret            string `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	JWTIssuer            string `env:"JWT_ISSUER" envDefault:"imagegate"`
	JWTExpirationMinutes int    `env:"JWT_EXPIRATION_MINUTES" envDefault:"1440"`
}

// ParseConfig 读取 .env（可选）后解析环境变量
func ParseConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.WithError(err).Warn("load .env failed")
	}

	var Conf Config
	err := env.Parse(&Conf)
	if err != nil {
		logrus.WithError(err).Error("env.Parse error")
		return Config{}, err
	}
	return Conf, nil
}

// ProviderOrder returns the configured preference list for an operation.
func (c Config) ProviderOrder(operation string) []string {
	var raw []string
	switch operation {
	case "generate":
		raw = c.ProviderOrderGen
	case "upscale":
		raw = c.ProviderOrderUpscale
	case "extend":
		raw = c.ProviderOrderExtend
	case "split":
		raw = c.ProviderOrderSplit
	case "layer_split":
		raw = c.ProviderOrderLayer
	}
	order := make([]string, 0, len(raw))
	for _, key := range raw {
		if trimmed := strings.ToLower(strings.TrimSpace(key)); trimmed != "" {
			order = append(order, trimmed)
		}
	}
	return order
}

// OperationTimeout returns the outbound call ceiling for an operation.
func (c Config) OperationTimeout(operation string) time.Duration {
	var d time.Duration
	switch operation {
	case "generate":
		d = c.GenerateTimeout
	case "upscale":
		d = c.UpscaleTimeout
	case "extend":
		d = c.ExtendTimeout
	case "split":
		d = c.SplitTimeout
	case "layer_split":
		d = c.LayerSplitTimeout
	}
	if d <= 0 {
		d = 2 * time.Minute
	}
	return d
}
