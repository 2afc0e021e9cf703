package httptransport

import (
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/monitoring"
	"viralindex/backend/internal/service"
)

// CatalogHandler 榜单读取处理器
//
// /v1 下面的公开数据端点。认证、限流、等级门槛都在网关
// 中间件里做完，这里只管查询和编码。
type CatalogHandler struct {
	catalog *service.CatalogService
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewCatalogHandler 创建榜单处理器
func NewCatalogHandler(catalog *service.CatalogService, metrics *monitoring.Metrics, log *zap.Logger) *CatalogHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CatalogHandler{
		catalog: catalog,
		metrics: metrics,
		log:     log,
	}
}

// ListModels godoc
// @Summary 获取模型列表
// @Description 获取所有在榜的活跃模型
// @Tags Catalog
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /v1/models [get]
func (h *CatalogHandler) ListModels(c *gin.Context) {
	models, err := h.catalog.ListModels()
	if err != nil {
		RespondError(c, err)
		return
	}

	if models == nil {
		models = []domain.Model{}
	}

	Success(c, gin.H{
		"items": models,
		"count": len(models),
	})
}

// GetModel godoc
// @Summary 获取模型详情
// @Tags Catalog
// @Produce json
// @Param slug path string true "模型slug"
// @Success 200 {object} domain.Model
// @Failure 404 {object} ErrorResponse
// @Router /v1/models/{slug} [get]
func (h *CatalogHandler) GetModel(c *gin.Context) {
	model, err := h.catalog.GetModelBySlug(c.Param("slug"))
	if err != nil {
		RespondError(c, err)
		return
	}

	Success(c, model)
}

// Leaderboard godoc
// @Summary 获取榜单
// @Description 获取某日按指数降序的排行，date 缺省为最新有数据的一天
// @Tags Catalog
// @Produce json
// @Param date query string false "日期（YYYY-MM-DD）"
// @Param limit query int false "返回条数上限，0 为全部"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Router /v1/leaderboard [get]
func (h *CatalogHandler) Leaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	entries, date, err := h.catalog.Leaderboard(c.Query("date"), limit)
	if err != nil {
		RespondError(c, err)
		return
	}

	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}

	Success(c, gin.H{
		"date":    date,
		"entries": entries,
		"count":   len(entries),
	})
}

// ScoreHistory godoc
// @Summary 获取模型分数历史
// @Description 获取模型最近若干天的每日指数，需要 pro 及以上订阅
// @Tags Catalog
// @Produce json
// @Param slug path string true "模型slug"
// @Param days query int false "窗口天数" default(30)
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /v1/models/{slug}/history [get]
func (h *CatalogHandler) ScoreHistory(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "0"))

	model, scores, err := h.catalog.ScoreHistory(c.Param("slug"), days)
	if err != nil {
		RespondError(c, err)
		return
	}

	if scores == nil {
		scores = []domain.DailyScore{}
	}

	Success(c, gin.H{
		"model":  model,
		"scores": scores,
	})
}

// ListSignals godoc
// @Summary 获取信号列表
// @Description 获取某日的异动信号，需要 pro 及以上订阅
// @Tags Catalog
// @Produce json
// @Param date query string false "日期（YYYY-MM-DD），缺省为最新"
// @Param model query string false "按模型slug过滤"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /v1/signals [get]
func (h *CatalogHandler) ListSignals(c *gin.Context) {
	signals, date, err := h.catalog.ListSignals(c.Query("date"), c.Query("model"))
	if err != nil {
		RespondError(c, err)
		return
	}

	if signals == nil {
		signals = []domain.Signal{}
	}

	Success(c, gin.H{
		"date":  date,
		"items": signals,
		"count": len(signals),
	})
}

// csvHeader 导出文件的列定义，分量展开成独立列
var csvHeader = []string{"date", "slug", "name", "score", "market", "news", "community", "dev", "quality", "rank"}

// ExportScores godoc
// @Summary 导出分数 CSV
// @Description 流式导出区间内所有活跃模型的每日分数，需要 enterprise 订阅
// @Tags Catalog
// @Produce text/csv
// @Param from query string false "起始日期（YYYY-MM-DD），缺省等于 to"
// @Param to query string false "结束日期（YYYY-MM-DD），缺省为最新"
// @Success 200 {string} string "CSV 内容"
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /v1/export/scores.csv [get]
func (h *CatalogHandler) ExportScores(c *gin.Context) {
	from, to, err := h.catalog.ResolveExportRange(c.Query("from"), c.Query("to"))
	if err != nil {
		RespondError(c, err)
		return
	}

	filename := "scores.csv"
	if from != "" {
		filename = fmt.Sprintf("scores_%s_%s.csv", from, to)
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	if n := h.catalog.CountExportRows(from, to); n >= 0 {
		c.Header("X-Total-Rows", strconv.Itoa(n))
	}
	c.Status(200)

	w := csv.NewWriter(c.Writer)
	if err := w.Write(csvHeader); err != nil {
		return
	}

	// 一条分数没有时只输出表头
	if from == "" {
		w.Flush()
		return
	}

	rows := 0
	err = h.catalog.ExportScores(from, to, func(row domain.ScoreExportRow) error {
		rows++
		return w.Write([]string{
			row.Date,
			row.Slug,
			row.Name,
			strconv.FormatFloat(row.Score, 'f', 2, 64),
			strconv.FormatFloat(row.Components.Market, 'f', 2, 64),
			strconv.FormatFloat(row.Components.News, 'f', 2, 64),
			strconv.FormatFloat(row.Components.Community, 'f', 2, 64),
			strconv.FormatFloat(row.Components.Dev, 'f', 2, 64),
			strconv.FormatFloat(row.Components.Quality, 'f', 2, 64),
			strconv.Itoa(row.Rank),
		})
	})
	if err != nil {
		// 表头已经写出去了，只能中断连接并记日志
		h.log.Error("score export aborted",
			zap.String("from", from),
			zap.String("to", to),
			zap.Int("rows_written", rows),
			zap.Error(err),
		)
		c.Abort()
		return
	}

	w.Flush()

	if h.metrics != nil {
		h.metrics.AddExportRows(rows)
	}
}
