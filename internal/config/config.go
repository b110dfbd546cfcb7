package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type RobotsConfig struct {
	Respect bool `yaml:"respect"`
}

type FetcherConfig struct {
	UserAgent    string       `yaml:"userAgent"`
	TimeoutMs    int          `yaml:"timeoutMs"`
	MaxBodyBytes int64        `yaml:"maxBodyBytes"`
	MaxRedirects int          `yaml:"maxRedirects"`
	Robots       RobotsConfig `yaml:"robots"`
}

type BrowserConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ControlURL   string `yaml:"controlURL"`
	MaxPages     int    `yaml:"maxPages"`
	NavTimeoutMs int    `yaml:"navTimeoutMs"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	LRUSize int  `yaml:"lruSize"`
}

type RateLimitConfig struct {
	Enabled       bool `yaml:"enabled"`
	MainPerMinute int  `yaml:"mainPerMinute"`
	ExtractPerMin int  `yaml:"extractPerMinute"`
	BatchPerMin   int  `yaml:"batchPerMinute"`
	AsyncPerMin   int  `yaml:"asyncPerMinute"`
}

type LLMConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type BaasProviderConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
}

type BaasConfig struct {
	ScrapingBee BaasProviderConfig `yaml:"scrapingbee"`
	Browserless BaasProviderConfig `yaml:"browserless"`
	ScraperAPI  BaasProviderConfig `yaml:"scraperapi"`
}

type JobsConfig struct {
	TTLMinutes       int `yaml:"ttlMinutes"`
	WebhookAttempts  int `yaml:"webhookAttempts"`
	WebhookTimeoutMs int `yaml:"webhookTimeoutMs"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Fetcher   FetcherConfig   `yaml:"fetcher"`
	Browser   BrowserConfig   `yaml:"browser"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	LLM       LLMConfig       `yaml:"llm"`
	Baas      BaasConfig      `yaml:"baas"`
	Jobs      JobsConfig      `yaml:"jobs"`
}

// Default returns the configuration used when a field is absent from
// the yaml file. Limits match the public deployment defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Fetcher: FetcherConfig{
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			TimeoutMs:    15000,
			MaxBodyBytes: 5 << 20,
			MaxRedirects: 5,
		},
		Browser: BrowserConfig{Enabled: true, MaxPages: 3, NavTimeoutMs: 15000},
		Cache:   CacheConfig{Enabled: true, LRUSize: 200},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			MainPerMinute: 60,
			ExtractPerMin: 10,
			BatchPerMin:   5,
			AsyncPerMin:   10,
		},
		Jobs: JobsConfig{TTLMinutes: 60, WebhookAttempts: 3, WebhookTimeoutMs: 10000},
	}
}

// Load reads the yaml config at path over the defaults.
func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}
	return cfg
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutMs) * time.Millisecond
}

func (c *Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutMs) * time.Millisecond
}

func (c *Config) JobTTL() time.Duration {
	return time.Duration(c.Jobs.TTLMinutes) * time.Minute
}
