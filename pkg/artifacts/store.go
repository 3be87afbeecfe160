// Package artifacts сохраняет скриншоты сессий в S3-совместимое хранилище.
//
// Скриншоты — тяжёлые и их много: в транскрипте остаётся только ключ
// артефакта, сами байты уезжают в bucket. Это держит сессию в SQLite
// компактной и позволяет отсматривать историю действий агента постфактум.
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ilkoid/deskpilot/pkg/config"
)

// StoreInterface определяет интерфейс хранилища артефактов.
// Используется для мокания в тестах и внедрения зависимостей.
type StoreInterface interface {
	SaveScreenshot(ctx context.Context, sessionID string, step int, jpeg []byte) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	ListSession(ctx context.Context, sessionID string) ([]Artifact, error)
}

// Store — клиент S3 хранилища артефактов.
type Store struct {
	api    *minio.Client
	bucket string
}

// Проверка что Store реализует StoreInterface
var _ StoreInterface = (*Store)(nil)

// Artifact — один сохранённый скриншот.
type Artifact struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// New создает хранилище, используя artifacts секцию конфига.
func New(cfg config.ArtifactsConfig) (*Store, error) {
	api, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	return &Store{
		api:    api,
		bucket: cfg.Bucket,
	}, nil
}

// SaveScreenshot загружает скриншот и возвращает его ключ.
//
// Ключ включает номер шага и момент снятия: несколько скриншотов
// одного шага не затирают друг друга.
func (s *Store) SaveScreenshot(ctx context.Context, sessionID string, step int, jpeg []byte) (string, error) {
	key := fmt.Sprintf("%s/step-%03d-%d.jpg", sessionID, step, time.Now().UTC().Unix())

	_, err := s.api.PutObject(ctx, s.bucket, key, bytes.NewReader(jpeg), int64(len(jpeg)),
		minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return "", fmt.Errorf("failed to upload screenshot %s: %w", key, err)
	}
	return key, nil
}

// Download скачивает артефакт целиком в память.
func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.api.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ListSession возвращает все артефакты сессии в порядке шагов.
func (s *Store) ListSession(ctx context.Context, sessionID string) ([]Artifact, error) {
	prefix := strings.TrimSuffix(sessionID, "/") + "/"

	var result []Artifact
	opts := minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}
	for obj := range s.api.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		result = append(result, Artifact{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

// DeleteSession удаляет все артефакты сессии.
//
// Вызывается вместе с session.Store.Delete, чтобы bucket не
// расходился с базой сессий.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	items, err := s.ListSession(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := s.api.RemoveObject(ctx, s.bucket, item.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to remove artifact %s: %w", item.Key, err)
		}
	}
	return nil
}
