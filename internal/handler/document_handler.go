package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"vera-go/internal/service"
	"vera-go/pkg/log"
)

// DocumentHandler 负责处理已入库文档的查询请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// ListIndexed 返回元数据台账中的全部记录。
func (h *DocumentHandler) ListIndexed(c *gin.Context) {
	records, err := h.docService.ListIndexed()
	if err != nil {
		log.Error("ListIndexed: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to get indexed docs: Internal server error",
		})
		return
	}
	c.JSON(http.StatusOK, records)
}
