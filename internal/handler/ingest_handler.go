package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"vera-go/internal/service"
)

// IngestHandler 负责处理文档入库相关的 API 请求。
type IngestHandler struct {
	ingestService service.IngestService
	defaultDomain string
}

// NewIngestHandler 创建一个新的 IngestHandler 实例。
func NewIngestHandler(ingestService service.IngestService, defaultDomain string) *IngestHandler {
	if defaultDomain == "" {
		defaultDomain = "general"
	}
	return &IngestHandler{ingestService: ingestService, defaultDomain: defaultDomain}
}

// Ingest 处理文件上传或 URL 入库请求。
// 文件通过 multipart 字段 "file" 上传，URL 通过 "url" 参数给出；?async=true 时走 Kafka 异步入库。
func (h *IngestHandler) Ingest(c *gin.Context) {
	domain := h.domain(c)
	async, _ := strconv.ParseBool(c.Query("async"))

	file, header, err := c.Request.FormFile("file")
	if err == nil {
		defer file.Close()
		upload := service.Upload{Reader: file, FileName: header.Filename, Size: header.Size}
		if async {
			accepted, err := h.ingestService.EnqueueFile(c.Request.Context(), upload, domain)
			if err != nil {
				respondError(c, "文件入库排队失败", err)
				return
			}
			c.JSON(http.StatusAccepted, accepted)
			return
		}
		summary, err := h.ingestService.IngestFile(c.Request.Context(), upload, domain)
		if err != nil {
			respondError(c, "文件入库失败", err)
			return
		}
		c.JSON(http.StatusOK, summary)
		return
	}

	url := strings.TrimSpace(c.Query("url"))
	if url == "" {
		url = strings.TrimSpace(c.PostForm("url"))
	}
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "No file or url provided", "data": nil})
		return
	}

	if async {
		accepted, err := h.ingestService.EnqueueURL(c.Request.Context(), url, domain)
		if err != nil {
			respondError(c, "URL 入库排队失败", err)
			return
		}
		c.JSON(http.StatusAccepted, accepted)
		return
	}
	summary, err := h.ingestService.IngestURL(c.Request.Context(), url, domain)
	if err != nil {
		respondError(c, "URL 入库失败", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetJob 查询异步入库任务的状态。
func (h *IngestHandler) GetJob(c *gin.Context) {
	job, err := h.ingestService.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "查询入库任务失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "查询入库任务成功",
		"data":    job,
	})
}

// domain 按表单字段、查询参数、默认值的顺序确定领域标签。
func (h *IngestHandler) domain(c *gin.Context) string {
	for _, v := range []string{c.PostForm("domain"), c.PostForm("domain_form"), c.Query("domain")} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return h.defaultDomain
}
