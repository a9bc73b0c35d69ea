package pipeline

import (
	"errors"
	"fmt"

	"vera-go/pkg/vectorstore"
)

var (
	// ErrValidation 表示调用方输入有误，例如没有文件也没有 URL、文本为空。
	ErrValidation = errors.New("validation error")
	// ErrIngestion 包装入库流程中除校验与维度不一致之外的所有失败。
	ErrIngestion = errors.New("ingestion failed")
	// ErrDimensionMismatch 表示 embedding 维度与集合的固定维度不一致，属于服务端配置问题。
	ErrDimensionMismatch = fmt.Errorf("embedding dimension mismatch: %w", vectorstore.ErrConfiguration)
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
