package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

type Config struct {
	Addr       string
	DBPath     string
	WebDir     string
	UploadsDir string
	BaseURL    string
	APIKey     string
}

// secretsFile is the shape of the local secrets.json credential file.
type secretsFile struct {
	OpenRouterAPIKey string `json:"openrouter_api_key"`
}

func Load() (c Config, err error) {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	c = Config{
		Addr:       getenv("PARLEY_ADDR", ":8100"),
		DBPath:     getenv("PARLEY_DB_PATH", "parley.db"),
		WebDir:     getenv("PARLEY_WEB_DIR", "web"),
		UploadsDir: getenv("PARLEY_UPLOADS_DIR", "uploads"),
		BaseURL:    getenv("PARLEY_BASE_URL", defaultBaseURL),
		APIKey:     os.Getenv("OPENROUTER_API_KEY"),
	}

	if c.APIKey == "" {
		c.APIKey, err = readSecrets(getenv("PARLEY_SECRETS_FILE", "secrets.json"))
		if err != nil {
			return c, err
		}
	}
	if c.APIKey == "" {
		return c, fmt.Errorf("no API credential: set OPENROUTER_API_KEY or provide secrets.json")
	}

	return c, nil
}

func readSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read secrets file: %w", err)
	}

	var s secretsFile
	if err := json.Unmarshal(data, &s); err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return s.OpenRouterAPIKey, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
