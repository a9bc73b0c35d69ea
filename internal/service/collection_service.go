package service

import (
	"context"
	"fmt"

	"vera-go/internal/model"
	"vera-go/pkg/log"
	"vera-go/pkg/vectorstore"
)

// CollectionService 定义了向量库集合的管理操作。
type CollectionService interface {
	List(ctx context.Context) ([]vectorstore.CollectionDescription, error)
	Get(ctx context.Context, name string) (vectorstore.CollectionInfo, error)
	// Delete 删除指定集合；name 为空时删除全部集合。
	Delete(ctx context.Context, name string) (*model.DeleteCollectionsResult, error)
}

type collectionService struct {
	store vectorstore.Store
}

// NewCollectionService 创建一个新的 CollectionService 实例。
func NewCollectionService(store vectorstore.Store) CollectionService {
	return &collectionService{store: store}
}

func (s *collectionService) List(ctx context.Context) ([]vectorstore.CollectionDescription, error) {
	return s.store.ListCollections(ctx)
}

func (s *collectionService) Get(ctx context.Context, name string) (vectorstore.CollectionInfo, error) {
	return s.store.GetCollection(ctx, name)
}

func (s *collectionService) Delete(ctx context.Context, name string) (*model.DeleteCollectionsResult, error) {
	if name != "" {
		if err := s.store.DeleteCollection(ctx, name); err != nil {
			return nil, err
		}
		log.Infof("[CollectionService] 已删除集合: %s", name)
		return &model.DeleteCollectionsResult{
			Message:            fmt.Sprintf("Deleted collection '%s'", name),
			Status:             model.DeleteStatusSuccess,
			DeletedCollections: []string{name},
		}, nil
	}

	collections, err := s.store.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	if len(collections) == 0 {
		return &model.DeleteCollectionsResult{
			Message:            "No collections found to delete",
			Status:             model.DeleteStatusNoop,
			DeletedCollections: []string{},
		}, nil
	}

	deleted := make([]string, 0, len(collections))
	for _, c := range collections {
		if err := s.store.DeleteCollection(ctx, c.Name); err != nil {
			return nil, fmt.Errorf("delete collection '%s' (already deleted %v): %w", c.Name, deleted, err)
		}
		deleted = append(deleted, c.Name)
		log.Infof("[CollectionService] 已删除集合: %s", c.Name)
	}
	return &model.DeleteCollectionsResult{
		Message:            "Deleted all collections",
		Status:             model.DeleteStatusSuccess,
		DeletedCollections: deleted,
	}, nil
}
