package service

import (
	"vera-go/internal/model"
	"vera-go/internal/repository"
)

// DocumentService 提供已入库文档的台账查询。
type DocumentService interface {
	ListIndexed() ([]model.MetadataRecord, error)
}

type documentService struct {
	ledger repository.MetadataRepository
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(ledger repository.MetadataRepository) DocumentService {
	return &documentService{ledger: ledger}
}

func (s *documentService) ListIndexed() ([]model.MetadataRecord, error) {
	return s.ledger.Load()
}
