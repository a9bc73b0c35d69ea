// Package repository 定义了与持久化存储进行数据交换的接口和实现。
package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vera-go/internal/model"
)

// indexedAtLayout 输出 UTC 时间并以 Z 结尾。
const indexedAtLayout = "2006-01-02T15:04:05.000000Z"

// MetadataRepository 定义了入库台账的读写操作。
type MetadataRepository interface {
	Load() ([]model.MetadataRecord, error)
	// Update 按集合名 upsert 一条记录，并刷新 indexed_at。
	Update(collection string, vectors int, embedModel, domain, source string) error
}

// fileMetadataRepository 把台账保存为一个 JSON 数组文件，每次更新整体重写。
type fileMetadataRepository struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewMetadataRepository 创建一个基于文件的 MetadataRepository。
func NewMetadataRepository(path string) MetadataRepository {
	return &fileMetadataRepository{path: path, now: time.Now}
}

// Load 返回台账中的全部记录，文件不存在时返回空列表。
func (r *fileMetadataRepository) Load() ([]model.MetadataRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

func (r *fileMetadataRepository) load() ([]model.MetadataRecord, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return []model.MetadataRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata file: %w", err)
	}
	records := []model.MetadataRecord{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode metadata file: %w", err)
	}
	return records, nil
}

func (r *fileMetadataRepository) Update(collection string, vectors int, embedModel, domain, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load()
	if err != nil {
		return err
	}

	entry := model.MetadataRecord{
		Collection: collection,
		Vectors:    vectors,
		EmbedModel: embedModel,
		Domain:     domain,
		Source:     source,
		IndexedAt:  r.now().UTC().Format(indexedAtLayout),
	}

	found := false
	for i := range records {
		if records[i].Collection == collection {
			records[i] = entry
			found = true
			break
		}
	}
	if !found {
		records = append(records, entry)
	}
	return r.save(records)
}

// save 先写临时文件再 rename，读者永远看不到写了一半的台账。
func (r *fileMetadataRepository) save(records []model.MetadataRecord) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".docs_metadata-*.json")
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write metadata file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, r.path)
}
