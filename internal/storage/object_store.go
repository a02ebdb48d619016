package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ObjectStore 对象存储客户端：按键写入字节流，返回可取回的引用。
// 告警视频与图片都经此落盘
type ObjectStore struct {
	httpClient *resty.Client
	bucket     string
	logger     *zap.Logger
}

// NewObjectStore 创建对象存储客户端
func NewObjectStore(baseURL, bucket string, timeout time.Duration, logger *zap.Logger) *ObjectStore {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	return &ObjectStore{
		httpClient: client,
		bucket:     bucket,
		logger:     logger,
	}
}

// Put 写入对象，返回取回用的引用
func (s *ObjectStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(data).
		Put(s.objectPath(key))
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("object store rejected %s: status %d", key, resp.StatusCode())
	}

	s.logger.Debug("Object stored",
		zap.String("key", key),
		zap.Int("size", len(data)),
	)
	return s.Reference(key), nil
}

// Get 按键取回对象
func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.httpClient.R().
		SetContext(ctx).
		Get(s.objectPath(key))
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("object store returned status %d for %s", resp.StatusCode(), key)
	}
	return resp.Body(), nil
}

// Reference 对象的取回引用
func (s *ObjectStore) Reference(key string) string {
	return fmt.Sprintf("%s%s", s.httpClient.BaseURL, s.objectPath(key))
}

func (s *ObjectStore) objectPath(key string) string {
	return fmt.Sprintf("/%s/%s", s.bucket, url.PathEscape(key))
}
