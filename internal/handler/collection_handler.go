package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"vera-go/internal/service"
)

// CollectionHandler 负责向量库集合的管理接口。
type CollectionHandler struct {
	collectionService service.CollectionService
}

// NewCollectionHandler 创建一个新的 CollectionHandler 实例。
func NewCollectionHandler(collectionService service.CollectionService) *CollectionHandler {
	return &CollectionHandler{collectionService: collectionService}
}

// ListAll 列出全部集合。
func (h *CollectionHandler) ListAll(c *gin.Context) {
	collections, err := h.collectionService.List(c.Request.Context())
	if err != nil {
		respondError(c, "获取集合列表失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": collections})
}

// Get 返回单个集合的信息，集合名来自路径参数或 collection_id 查询参数。
func (h *CollectionHandler) Get(c *gin.Context) {
	name := collectionName(c)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "collection_id is required", "data": nil})
		return
	}
	info, err := h.collectionService.Get(c.Request.Context(), name)
	if err != nil {
		respondError(c, "获取集合信息失败", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Delete 删除指定集合；未指定集合名时删除全部集合。
func (h *CollectionHandler) Delete(c *gin.Context) {
	result, err := h.collectionService.Delete(c.Request.Context(), collectionName(c))
	if err != nil {
		respondError(c, "删除集合失败", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func collectionName(c *gin.Context) string {
	if id := c.Param("id"); id != "" {
		return id
	}
	return c.Query("collection_id")
}
