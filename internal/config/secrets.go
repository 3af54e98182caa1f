package config

import (
	"fmt"
	"os"
	"strings"
)

const secretsDir = "/run/secrets"

// ReadSecret читает секрет из стандартного пути Docker Secrets.
// Для локальной разработки (без Docker) допускается переменная окружения
// с именем секрета в верхнем регистре, например AI_API_KEY.
func ReadSecret(secretName string) (string, error) {
	filePath := fmt.Sprintf("%s/%s", secretsDir, secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err == nil {
		secret := strings.TrimSpace(string(secretBytes))
		if secret == "" {
			return "", fmt.Errorf("secret file %s is empty", filePath)
		}
		return secret, nil
	}

	if envValue := strings.TrimSpace(os.Getenv(strings.ToUpper(secretName))); envValue != "" {
		return envValue, nil
	}

	return "", fmt.Errorf("failed to read secret %s: file %s unavailable and env fallback is not set: %w", secretName, filePath, err)
}
