package handler

import (
	"net/http"
	"strconv"

	"ctxbot-go/internal/config"
	"ctxbot-go/internal/service"
	"ctxbot-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// KnowledgeHandler 负责知识库的管理接口。
type KnowledgeHandler struct {
	knowledgeService service.KnowledgeService
	defaults         config.BotConfig
}

// NewKnowledgeHandler 创建一个新的 KnowledgeHandler。defaults 提供检索参数的默认值。
func NewKnowledgeHandler(knowledgeService service.KnowledgeService, defaults config.BotConfig) *KnowledgeHandler {
	return &KnowledgeHandler{knowledgeService: knowledgeService, defaults: defaults}
}

// AddEntryRequest 是写入单条知识的请求体。
type AddEntryRequest struct {
	Title   string `json:"title" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// AddEntry 写入一条知识。?async=true 时投递到入库队列。
func (h *KnowledgeHandler) AddEntry(c *gin.Context) {
	var req AddEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "无效的请求负载：title 与 content 不能为空", nil)
		return
	}

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		result, err := h.knowledgeService.SubmitEntry(c.Request.Context(), req.Title, req.Content)
		if err != nil {
			log.Errorf("SubmitEntry failed, title: %s, error: %v", req.Title, err)
			respondError(c, err)
			return
		}
		respondIngest(c, result)
		return
	}

	if err := h.knowledgeService.AddEntry(c.Request.Context(), req.Title, req.Content); err != nil {
		log.Errorf("AddEntry failed, title: %s, error: %v", req.Title, err)
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", gin.H{"title": req.Title})
}

// UploadDocument 接收 multipart 文件，保存到对象存储后切块入库。
func (h *KnowledgeHandler) UploadDocument(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respond(c, http.StatusBadRequest, "缺少文件", nil)
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respond(c, http.StatusBadRequest, "无法读取文件", nil)
		return
	}
	defer file.Close()

	result, err := h.knowledgeService.UploadDocument(
		c.Request.Context(),
		fileHeader.Filename,
		file,
		fileHeader.Size,
		fileHeader.Header.Get("Content-Type"),
		c.PostForm("prefix"),
	)
	if err != nil {
		log.Errorf("UploadDocument failed, file: %s, error: %v", fileHeader.Filename, err)
		respondError(c, err)
		return
	}
	respondIngest(c, result)
}

func respondIngest(c *gin.Context, result *service.IngestResult) {
	if result.Queued {
		respond(c, http.StatusAccepted, "queued", result)
		return
	}
	respond(c, http.StatusOK, "success", result)
}

// Search 检索知识库。
func (h *KnowledgeHandler) Search(c *gin.Context) {
	topK, err := queryInt(c, "topK", h.defaults.TopK)
	if err != nil {
		respond(c, http.StatusBadRequest, "topK 必须是整数", nil)
		return
	}
	minSimilarity, err := queryFloat(c, "minSimilarity", h.defaults.MinSimilarity)
	if err != nil {
		respond(c, http.StatusBadRequest, "minSimilarity 必须是数字", nil)
		return
	}

	results, err := h.knowledgeService.Search(c.Request.Context(), c.Query("query"), topK, minSimilarity)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", results)
}

// Stats 返回知识条目数。
func (h *KnowledgeHandler) Stats(c *gin.Context) {
	respond(c, http.StatusOK, "success", gin.H{"count": h.knowledgeService.Count()})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func queryFloat(c *gin.Context, key string, def float64) (float64, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseFloat(raw, 64)
}
