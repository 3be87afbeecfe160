package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig — корневая структура конфигурации.
// Она зеркалит структуру config.yaml.
type AppConfig struct {
	Models    ModelsConfig    `yaml:"models"`
	Agent     AgentConfig     `yaml:"agent"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	App       AppSpecific     `yaml:"app"`
}

// ModelsConfig — настройки AI моделей.
type ModelsConfig struct {
	Default     string              `yaml:"default"`     // Имя или алиас модели по умолчанию
	Aliases     map[string]string   `yaml:"aliases"`     // Короткий алиас → имя определения ("gpt" → "gpt-5.1")
	Definitions map[string]ModelDef `yaml:"definitions"` // Словарь определений моделей
}

// ModelDef — параметры конкретной модели.
type ModelDef struct {
	Provider        string        `yaml:"provider"`         // "openai", "grok", "anthropic", "ollama", "openai-responses"
	ModelName       string        `yaml:"model_name"`       // Реальное имя в API
	APIKey          string        `yaml:"api_key"`          // Поддерживает ${VAR}
	BaseURL         string        `yaml:"base_url"`         // Custom endpoint (Grok, локальные бэкенды)
	MaxTokens       int           `yaml:"max_tokens"`
	Temperature     *float64      `yaml:"temperature"`      // nil = не задана; reasoning-модели её не получают
	ReasoningEffort string        `yaml:"reasoning_effort"` // "low"/"medium"/"high"; непустое = reasoning-класс
	Timeout         time.Duration `yaml:"timeout"`          // Go умеет парсить строки вида "60s", "2m"
	RateLimit       float64       `yaml:"rate_limit"`       // Запросов в секунду, 0 = без лимита
	Burst           int           `yaml:"burst"`            // Burst для rate limiter
}

// IsReasoning сообщает, является ли модель reasoning-класса.
//
// Детект конфигурационный, не по имени модели: reasoning_effort в
// определении помечает модель, и адаптеры перестают слать temperature.
func (d ModelDef) IsReasoning() bool {
	return d.ReasoningEffort != ""
}

// AgentConfig — настройки цикла агента.
type AgentConfig struct {
	MaxSteps    int           `yaml:"max_steps"`    // Лимит раундов request/tool-execution
	ToolTimeout time.Duration `yaml:"tool_timeout"` // Защитный timeout одного инструмента
	SessionDB   string        `yaml:"session_db"`   // Путь к SQLite базе сессий
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *AgentConfig) GetDefaults() AgentConfig {
	result := *c

	if result.MaxSteps == 0 {
		result.MaxSteps = 20
	}
	if result.ToolTimeout == 0 {
		result.ToolTimeout = 30 * time.Second
	}
	if result.SessionDB == "" {
		result.SessionDB = "deskpilot-sessions.db"
	}

	return result
}

// ArtifactsConfig — настройки S3 хранилища скриншотов сессий.
type ArtifactsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"` // Поддерживает ${VAR}
	SecretKey string `yaml:"secret_key"` // Поддерживает ${VAR}
	UseSSL    bool   `yaml:"use_ssl"`
}

// AppSpecific — общие настройки приложения.
type AppSpecific struct {
	Debug      bool   `yaml:"debug"`
	PromptsDir string `yaml:"prompts_dir"`

	// MaxImageWidth — скриншоты шире этого значения уменьшаются перед
	// отправкой vision модели. 0 = дефолт.
	MaxImageWidth int `yaml:"max_image_width"`
}

// Load читает YAML файл, подставляет ENV переменные и возвращает готовую структуру.
func Load(path string) (*AppConfig, error) {
	// 1. Проверяем существование файла
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found at: %s", path)
	}

	// 2. Читаем файл целиком
	rawBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// 3. Подставляем переменные окружения.
	// os.ExpandEnv заменяет ${VAR} или $VAR на значение из системы.
	contentWithEnv := os.ExpandEnv(string(rawBytes))

	// 4. Парсим YAML в структуру
	var cfg AppConfig
	if err := yaml.Unmarshal([]byte(contentWithEnv), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}

	// 5. Валидируем критические настройки
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate проверяет обязательные поля.
func (c *AppConfig) validate() error {
	if len(c.Models.Definitions) == 0 {
		return fmt.Errorf("models.definitions is required")
	}
	for name, def := range c.Models.Definitions {
		if def.Provider == "" {
			return fmt.Errorf("model '%s': provider is required", name)
		}
		if def.ModelName == "" {
			return fmt.Errorf("model '%s': model_name is required", name)
		}
	}
	for alias, target := range c.Models.Aliases {
		if _, ok := c.Models.Definitions[target]; !ok {
			return fmt.Errorf("alias '%s' points to undefined model '%s'", alias, target)
		}
	}
	if c.Models.Default != "" {
		if !c.resolvable(c.Models.Default) {
			return fmt.Errorf("default model '%s' is not defined in definitions or aliases", c.Models.Default)
		}
	}
	if c.Artifacts.Enabled {
		if c.Artifacts.Bucket == "" {
			return fmt.Errorf("artifacts.bucket is required when artifacts are enabled")
		}
		if c.Artifacts.Endpoint == "" {
			return fmt.Errorf("artifacts.endpoint is required when artifacts are enabled")
		}
	}
	return nil
}

// resolvable проверяет что имя указывает на определение напрямую или через алиас.
func (c *AppConfig) resolvable(name string) bool {
	if _, ok := c.Models.Definitions[name]; ok {
		return true
	}
	if target, ok := c.Models.Aliases[name]; ok {
		_, defined := c.Models.Definitions[target]
		return defined
	}
	return false
}
