// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"vera-go/internal/pipeline"
	"vera-go/internal/repository"
	"vera-go/pkg/log"
	"vera-go/pkg/vectorstore"
)

// statusOf 把错误分类映射为 HTTP 状态码：调用方输入错误 400，资源不存在 404，其余 500。
func statusOf(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, vectorstore.ErrCollectionNotFound), errors.Is(err, repository.ErrJobNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondError 以统一的 {"code","message","data"} 结构返回错误。
func respondError(c *gin.Context, prefix string, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Errorf("%s: %v", prefix, err)
	} else {
		log.Warnf("%s: %v", prefix, err)
	}
	c.JSON(status, gin.H{"code": status, "message": prefix + ": " + err.Error(), "data": nil})
}
