// Package minio — зеркалирование изображений каталога в объектное
// хранилище, из которого витрина отдаёт ассеты выдачи.
package minio

import (
	"bytes"
	"context"

	"github.com/jimlawless/whereami"
	"github.com/kaatchi-tech/search-engine/internal/cfg"
	"github.com/kaatchi-tech/search-engine/pkg/e"
	"github.com/minio/minio-go/v7"
)

type AssetRepo struct {
	mc  *minio.Client
	cfg *cfg.MinIOCfg
}

func NewAssetRepo(mc *minio.Client, cfg *cfg.MinIOCfg) *AssetRepo {
	return &AssetRepo{
		mc:  mc,
		cfg: cfg,
	}
}

// Upload загружает ассет каталога и возвращает ключ объекта.
func (a *AssetRepo) Upload(ctx context.Context, objectKey string, data []byte, contentType string) (string, error) {
	reader := bytes.NewReader(data)

	info, err := a.mc.PutObject(ctx, a.cfg.BucketName, objectKey, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	return info.Key, nil
}
