package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/switchsuitepro/switchsuitepro/internal/config"
	"github.com/switchsuitepro/switchsuitepro/internal/util"
	"github.com/switchsuitepro/switchsuitepro/pkg/logger"
)

// TranscriptWriter 会话记录归档写入器
type TranscriptWriter interface {
	Write(ctx context.Context, meta TranscriptMeta, content string) (StoredObject, error)
}

// TranscriptMeta 归档元数据
type TranscriptMeta struct {
	TaskID   string
	TaskType string
	DeviceIP string
	Start    time.Time
}

// StoredObject 已写入对象的信息
type StoredObject struct {
	URI      string `json:"uri"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// NewTranscriptWriter 根据配置创建写入器（按后端委派到本地或 MinIO）
func NewTranscriptWriter(cfg *config.Config) TranscriptWriter {
	dw := &delegatingWriter{cfg: cfg, local: &localWriter{cfg: cfg}}
	if strings.EqualFold(cfg.Storage.Backend, "minio") {
		dw.minio = initMinioWriter(cfg)
	}
	return dw
}

// delegatingWriter 按后端路由写入；MinIO 不可用时回退本地
type delegatingWriter struct {
	cfg   *config.Config
	local *localWriter
	minio *minioWriter
}

func (w *delegatingWriter) Write(ctx context.Context, meta TranscriptMeta, content string) (StoredObject, error) {
	content = util.EnsureUTF8(content)
	if strings.EqualFold(w.cfg.Storage.Backend, "minio") {
		if w.minio == nil {
			logger.Warnf("minio backend selected but client not initialized; falling back to local")
			return w.local.Write(ctx, meta, content)
		}
		obj, err := w.minio.Write(ctx, meta, content)
		if err != nil {
			logger.Warnf("minio write failed, falling back to local: %v", err)
			return w.local.Write(ctx, meta, content)
		}
		return obj, nil
	}
	return w.local.Write(ctx, meta, content)
}

// objectName 归档对象相对路径：device / date_time / taskID.log
func objectName(meta TranscriptMeta) (dir, file string) {
	start := meta.Start
	if start.IsZero() {
		start = time.Now()
	}
	dir = path.Join(slug(meta.DeviceIP), start.Format("20060102_150405"))
	file = slug(meta.TaskType) + "_" + slug(meta.TaskID) + ".log"
	return dir, file
}

// localWriter 本地文件写入
type localWriter struct {
	cfg *config.Config
}

func (w *localWriter) Write(_ context.Context, meta TranscriptMeta, content string) (StoredObject, error) {
	baseDir := strings.TrimSpace(w.cfg.Storage.Local.BaseDir)
	if baseDir == "" {
		baseDir = "./data/transcripts"
	}
	dir, file := objectName(meta)
	dirPath := filepath.Join(baseDir, filepath.FromSlash(dir))

	if w.cfg.Storage.Local.MkdirIfMissing {
		if err := os.MkdirAll(dirPath, 0o755); err != nil {
			return StoredObject{}, fmt.Errorf("failed to create dir: %w", err)
		}
	}

	fullPath := filepath.Join(dirPath, file)
	data := []byte(content)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return StoredObject{}, fmt.Errorf("failed to write transcript: %w", err)
	}

	sum := sha256.Sum256(data)
	return StoredObject{
		URI:      "file://" + fullPath,
		Size:     int64(len(data)),
		Checksum: "sha256:" + hex.EncodeToString(sum[:]),
	}, nil
}

// minioWriter MinIO 对象存储写入
type minioWriter struct {
	cfg           *config.Config
	client        *minio.Client
	endpoint      string
	bucketEnsured bool
}

// initMinioWriter 初始化 MinIO 写入器，失败时返回 nil 由上层回退本地
func initMinioWriter(cfg *config.Config) *minioWriter {
	host := strings.TrimSpace(cfg.Storage.Minio.Host)
	port := cfg.Storage.Minio.Port
	if host == "" || port <= 0 {
		logger.Warnf("minio configuration incomplete; host/port missing")
		return nil
	}
	endpoint := fmt.Sprintf("%s:%d", host, port)

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          16,
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.Storage.Minio.AccessKey, cfg.Storage.Minio.SecretKey, ""),
		Secure:    cfg.Storage.Minio.Secure,
		Transport: transport,
	})
	if err != nil {
		logger.Errorf("minio client initialization failed: %v", err)
		return nil
	}

	w := &minioWriter{cfg: cfg, client: client, endpoint: endpoint}
	bucket := strings.TrimSpace(cfg.Storage.Minio.Bucket)
	if bucket == "" {
		logger.Warnf("minio bucket not configured")
		return w
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.ensureBucket(ctx, bucket); err != nil {
		logger.Warnf("minio bucket ensure at init failed: %v", err)
	} else {
		w.bucketEnsured = true
	}
	return w
}

func (w *minioWriter) Write(ctx context.Context, meta TranscriptMeta, content string) (StoredObject, error) {
	bucket := strings.TrimSpace(w.cfg.Storage.Minio.Bucket)
	if bucket == "" {
		return StoredObject{}, fmt.Errorf("minio bucket not configured")
	}
	if !w.bucketEnsured {
		if err := w.ensureBucket(ctx, bucket); err != nil {
			return StoredObject{}, fmt.Errorf("minio ensure bucket failed: %w", err)
		}
		w.bucketEnsured = true
	}

	dir, file := objectName(meta)
	object := path.Join(dir, file)
	data := []byte(content)

	// 指数退避的有限重试
	var lastErr error
	for _, backoff := range []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second} {
		attemptCtx, cancel := context.WithTimeout(ctx, backoff*4)
		_, err := w.client.PutObject(attemptCtx, bucket, object, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		time.Sleep(backoff)
	}
	if lastErr != nil {
		return StoredObject{}, fmt.Errorf("minio put object failed after retries: %w", lastErr)
	}

	sum := sha256.Sum256(data)
	return StoredObject{
		URI:      "minio://" + path.Join(bucket, object),
		Size:     int64(len(data)),
		Checksum: "sha256:" + hex.EncodeToString(sum[:]),
	}, nil
}

func (w *minioWriter) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := w.client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return w.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
}

var slugRe = regexp.MustCompile(`[^a-z0-9._-]+`)

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = slugRe.ReplaceAllString(s, "")
	if s == "" {
		s = "unknown"
	}
	return s
}
