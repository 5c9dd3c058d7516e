package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	OSS          OSSConfig          `mapstructure:"oss"`
	OAuth        OAuthConfig        `mapstructure:"oauth"`
	Email        EmailConfig        `mapstructure:"email"`
	Queue        QueueConfig        `mapstructure:"queue"`
	CORS         CORSConfig         `mapstructure:"cors"`
	Creem        CreemConfig        `mapstructure:"creem"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Credits      CreditsConfig      `mapstructure:"credits"`
	Generation   GenerationConfig   `mapstructure:"generation"`
}

// GenerationConfig 生成后端配置
type GenerationConfig struct {
	APIBaseURL     string `mapstructure:"api_base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type OAuthConfig struct {
	Github GithubOAuthConfig `mapstructure:"github"`
}

type GithubOAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
}

type EmailConfig struct {
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type QueueConfig struct {
	GenerationQueue string `mapstructure:"generation_queue"`
	MaxWorkers      int    `mapstructure:"max_workers"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// CreemConfig Creem 支付平台配置
type CreemConfig struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
	APIKey        string `mapstructure:"api_key"`
}

type SubscriptionConfig struct {
	Plans map[string]PlanConfig `mapstructure:"plans"`
}

// PlanConfig 订阅套餐配置
type PlanConfig struct {
	MonthlyCredits  int     `mapstructure:"monthly_credits"`  // 每月积分额度
	ConcurrentLimit int     `mapstructure:"concurrent_limit"` // 生成任务并发上限
	PriceMonthly    float64 `mapstructure:"price_monthly"`
	PriceYearly     float64 `mapstructure:"price_yearly"`
}

// CreditsConfig 积分业务规则配置
type CreditsConfig struct {
	RegistrationBonus     int     `mapstructure:"registration_bonus"`      // 注册赠送积分
	RegistrationValidDays int     `mapstructure:"registration_valid_days"` // 注册积分有效天数
	TextToImageCost       int     `mapstructure:"text_to_image_cost"`      // 文生图: 积分/张
	ImageToImageCost      int     `mapstructure:"image_to_image_cost"`     // 图生图: 积分/张
	VideoPerSecondCost    int     `mapstructure:"video_per_second_cost"`   // 视频: 积分/秒
	Video1080pMultiplier  float64 `mapstructure:"video_1080p_multiplier"`  // 1080p 价格乘数
	YearlyBonusRate       float64 `mapstructure:"yearly_bonus_rate"`       // 年付赠送比例
	RefillDedupeMinutes   int     `mapstructure:"refill_dedupe_minutes"`   // 重复充值防护窗口（分钟）
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	// 检查 config.local.yaml 是否存在
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default 返回带默认业务规则的配置（测试使用）
func Default() *Config {
	return &Config{
		Subscription: SubscriptionConfig{
			Plans: map[string]PlanConfig{
				"basic": {MonthlyCredits: 150, ConcurrentLimit: 1, PriceMonthly: 9.99, PriceYearly: 99},
				"pro":   {MonthlyCredits: 800, ConcurrentLimit: 2, PriceMonthly: 24.99, PriceYearly: 249},
				"max":   {MonthlyCredits: 2000, ConcurrentLimit: 3, PriceMonthly: 99.99, PriceYearly: 999},
			},
		},
		Credits: CreditsConfig{
			RegistrationBonus:     50,
			RegistrationValidDays: 15,
			TextToImageCost:       1,
			ImageToImageCost:      2,
			VideoPerSecondCost:    10,
			Video1080pMultiplier:  1.5,
			YearlyBonusRate:       0.2,
			RefillDedupeMinutes:   5,
		},
	}
}
