package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"storybook-server/internal/config"
)

// ErrImageGenerationFailed - ошибка при генерации изображения сервером.
var ErrImageGenerationFailed = errors.New("image generation failed")

// ErrImageSaveFailed - ошибка при сохранении файла.
var ErrImageSaveFailed = errors.New("image save failed")

// ImageClient определяет интерфейс для генерации и сохранения изображений.
type ImageClient interface {
	// RenderImage генерирует изображение по промпту, сохраняет его под
	// именем reference и возвращает публичный URL.
	RenderImage(ctx context.Context, prompt string, ratio string, reference string) (string, error)
}

// Compile-time check
var _ ImageClient = (*imageClientImpl)(nil)

type imageClientImpl struct {
	logger            *zap.Logger
	baseURL           string
	httpClient        *http.Client
	imageSavePath     string // Путь для сохранения файлов
	imageBaseURL      string // Базовый URL для доступа к файлам
	promptStyleSuffix string // Суффикс стиля для промпта
}

// NewImageClient создает новый экземпляр imageClientImpl.
func NewImageClient(logger *zap.Logger, cfg *config.Config) (ImageClient, error) {
	if cfg.ImageSavePath == "" {
		return nil, errors.New("image save path (IMAGE_SAVE_PATH) is not configured")
	}
	if cfg.ImagePublicBaseURL == "" {
		return nil, errors.New("image public base URL (IMAGE_PUBLIC_BASE_URL) is not configured")
	}

	return &imageClientImpl{
		logger:  logger.Named("ImageClient"),
		baseURL: cfg.ImageServerURL,
		httpClient: &http.Client{
			Timeout: cfg.ImageServerTimeout,
		},
		imageSavePath:     cfg.ImageSavePath,
		imageBaseURL:      cfg.ImagePublicBaseURL,
		promptStyleSuffix: cfg.PromptStyleSuffix,
	}, nil
}

// imageAPIRequest - структура запроса к серверу генерации.
type imageAPIRequest struct {
	Prompt string `json:"prompt"`
	Ratio  string `json:"ratio"`
}

func (s *imageClientImpl) RenderImage(ctx context.Context, prompt string, ratio string, reference string) (string, error) {
	log := s.logger.With(
		zap.String("image_reference", reference),
		zap.String("ratio", ratio),
	)
	log.Info("Generating image...")

	if reference == "" {
		log.Error("Image reference is empty, cannot generate filename")
		return "", fmt.Errorf("%w: reference is required but empty", ErrImageSaveFailed)
	}

	// Конкатенация промпта со стилевым суффиксом
	fullPrompt := prompt + s.promptStyleSuffix
	log.Debug("Full prompt for image API", zap.String("prompt", fullPrompt))

	if ratio == "" {
		log.Warn("Ratio not provided, defaulting to 2:3")
		ratio = "2:3"
	}

	// 1. Вызов API генерации
	imageData, err := s.callImageAPI(ctx, fullPrompt, ratio)
	if err != nil {
		log.Error("Image API call failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrImageGenerationFailed, err)
	}
	if len(imageData) == 0 {
		log.Error("Image API returned empty image data")
		return "", fmt.Errorf("%w: API returned empty data", ErrImageGenerationFailed)
	}
	log.Info("Image data received", zap.Int("size_bytes", len(imageData)))

	// 2. Сохранение изображения в локальный файл
	fileName := fmt.Sprintf("%s.jpg", reference)
	filePath := filepath.Join(s.imageSavePath, fileName)

	if err := os.WriteFile(filePath, imageData, 0644); err != nil {
		log.Error("Failed to save image to file", zap.String("path", filePath), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrImageSaveFailed, err)
	}
	log.Info("Image saved to file", zap.String("path", filePath))

	// 3. Формируем публичный URL
	imageURL := s.imageBaseURL + "/" + fileName
	imageURL = strings.Replace(imageURL, "//", "/", -1)
	if !strings.HasPrefix(imageURL, "https://") && !strings.HasPrefix(imageURL, "http://") {
		imageURL = "https://" + imageURL
	}
	log.Info("Public image URL generated", zap.String("url", imageURL))

	return imageURL, nil
}

// callImageAPI - вызывает сервер генерации изображений.
func (s *imageClientImpl) callImageAPI(ctx context.Context, prompt string, ratio string) ([]byte, error) {
	log := s.logger.With(zap.String("api_url", s.baseURL))

	reqPayload := imageAPIRequest{
		Prompt: prompt,
		Ratio:  ratio,
	}
	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		log.Error("Failed to marshal image API request payload", zap.Error(err))
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	endpointURL := s.baseURL + "/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(reqBodyBytes))
	if err != nil {
		log.Error("Failed to create image API request", zap.String("url", endpointURL), zap.Error(err))
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/*")

	log.Debug("Sending request to image API", zap.String("url", endpointURL))
	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Error("Failed to execute image API request", zap.Error(err))
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Error("Image API returned non-OK status",
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response_body", bodyBytes),
		)
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if readErr != nil {
		log.Error("Failed to read image API response body", zap.Error(readErr))
		return nil, fmt.Errorf("failed to read response body: %w", readErr)
	}

	log.Debug("Image API call successful")
	return bodyBytes, nil
}
