package httptransport

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"viralindex/backend/internal/monitoring"
	"viralindex/backend/internal/service"
)

// IngestHandler ETL 推送处理器
//
// /internal/ingest 下的服务间接口，离线管道用共享令牌调用，
// 不走用户认证也不占用网关配额。
type IngestHandler struct {
	ingest  *service.IngestService
	metrics *monitoring.Metrics
	token   string
	log     *zap.Logger
}

// NewIngestHandler 创建 ETL 推送处理器
//
// token 留空时所有 ingest 端点对外表现为不存在。
func NewIngestHandler(ingest *service.IngestService, metrics *monitoring.Metrics, token string, log *zap.Logger) *IngestHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &IngestHandler{
		ingest:  ingest,
		metrics: metrics,
		token:   token,
		log:     log,
	}
}

// RequireToken 校验服务令牌
//
// 比较用常数时间操作，令牌未配置时直接 404，不暴露
// 接口的存在。
func (h *IngestHandler) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.token == "" {
			NotFound(c, "Resource not found")
			c.Abort()
			return
		}

		provided := c.GetHeader("X-Ingest-Token")
		if provided == "" {
			if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
				provided = strings.TrimPrefix(header, "Bearer ")
			}
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.token)) != 1 {
			h.log.Warn("ingest token rejected", zap.String("ip", c.ClientIP()))
			Unauthorized(c, "Invalid ingest token")
			c.Abort()
			return
		}

		c.Next()
	}
}

type ingestModelsRequest struct {
	Models []service.IngestModelEntry `json:"models" binding:"required,min=1"`
}

// PushModels godoc
// @Summary 推送模型目录
// @Description 批量创建或更新模型，slug 为幂等键
// @Tags Ingest
// @Accept json
// @Produce json
// @Param request body ingestModelsRequest true "模型列表"
// @Success 200 {object} service.IngestResult
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /internal/ingest/models [post]
func (h *IngestHandler) PushModels(c *gin.Context) {
	var req ingestModelsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body")
		return
	}

	result, err := h.ingest.PushModels(req.Models)
	if err != nil {
		RespondError(c, err)
		return
	}

	h.log.Info("models ingested",
		zap.Int("accepted", result.Accepted),
		zap.Int("rejected", len(result.Rejected)),
	)

	Success(c, result)
}

// PushScores godoc
// @Summary 推送每日分数
// @Description 批量写入某日分数，(model, date) 幂等，重复推送覆盖旧值
// @Tags Ingest
// @Accept json
// @Produce json
// @Param request body service.IngestScoresInput true "分数批次"
// @Success 200 {object} service.IngestResult
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /internal/ingest/scores [post]
func (h *IngestHandler) PushScores(c *gin.Context) {
	var input service.IngestScoresInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "Invalid request body")
		return
	}

	result, err := h.ingest.PushScores(input)
	if err != nil {
		RespondError(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.AddScoresIngested(result.Accepted)
	}
	h.log.Info("scores ingested",
		zap.String("date", input.Date),
		zap.Int("accepted", result.Accepted),
		zap.Int("rejected", len(result.Rejected)),
	)

	Success(c, result)
}

// PushSignals godoc
// @Summary 推送信号
// @Description 批量写入某日异动信号，(model, date, type) 幂等
// @Tags Ingest
// @Accept json
// @Produce json
// @Param request body service.IngestSignalsInput true "信号批次"
// @Success 200 {object} service.IngestResult
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /internal/ingest/signals [post]
func (h *IngestHandler) PushSignals(c *gin.Context) {
	var input service.IngestSignalsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "Invalid request body")
		return
	}

	result, err := h.ingest.PushSignals(input)
	if err != nil {
		RespondError(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.AddSignalsIngested(result.Accepted)
	}
	h.log.Info("signals ingested",
		zap.String("date", input.Date),
		zap.Int("accepted", result.Accepted),
		zap.Int("rejected", len(result.Rejected)),
	)

	Success(c, result)
}
