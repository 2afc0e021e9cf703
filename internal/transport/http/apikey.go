package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"

	"viralindex/backend/internal/service"
)

// 明文只在签发响应里出现一次，提醒调用方立即保存
const apiKeyRevealWarning = "This is the only time the full key is shown. Store it securely, it cannot be retrieved again."

// APIKeyHandler API 密钥管理处理器
type APIKeyHandler struct {
	apiKeys *service.APIKeyService
}

// NewAPIKeyHandler 创建API密钥处理器
func NewAPIKeyHandler(apiKeys *service.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{
		apiKeys: apiKeys,
	}
}

// issueAPIKeyRequest 签发密钥请求
type issueAPIKeyRequest struct {
	Name string `json:"name" binding:"required,max=100"` // 密钥名称/用途描述
}

// apiKeyResponse 密钥元数据，列表与详情只含前缀
type apiKeyResponse struct {
	ID         string     `json:"id"`
	KeyPrefix  string     `json:"keyPrefix"`
	Name       string     `json:"name"`
	IsActive   bool       `json:"isActive"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// issuedAPIKeyResponse 签发响应，唯一一次携带完整明文
type issuedAPIKeyResponse struct {
	apiKeyResponse
	Key     string `json:"key"`
	Warning string `json:"warning"`
}

// IssueAPIKey godoc
// @Summary 签发API密钥
// @Description 为当前用户签发新密钥，明文只在本次响应中返回一次
// @Tags APIKeys
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body issueAPIKeyRequest true "密钥参数"
// @Success 201 {object} issuedAPIKeyResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/keys [post]
func (h *APIKeyHandler) IssueAPIKey(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, "Authentication required")
		return
	}

	var req issueAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body")
		return
	}

	apiKey, plaintext, err := h.apiKeys.IssueAPIKey(service.IssueAPIKeyInput{
		UserID: userID.(string),
		Name:   req.Name,
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	Created(c, issuedAPIKeyResponse{
		apiKeyResponse: apiKeyResponse{
			ID:        apiKey.ID,
			KeyPrefix: apiKey.KeyPrefix,
			Name:      apiKey.Name,
			IsActive:  apiKey.IsActive,
			CreatedAt: apiKey.CreatedAt,
		},
		Key:     plaintext,
		Warning: apiKeyRevealWarning,
	})
}

// ListAPIKeys godoc
// @Summary 获取密钥列表
// @Description 获取当前用户的所有密钥，只返回前缀和元数据
// @Tags APIKeys
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{items=[]apiKeyResponse,count=int}
// @Failure 401 {object} ErrorResponse
// @Router /api/keys [get]
func (h *APIKeyHandler) ListAPIKeys(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, "Authentication required")
		return
	}

	apiKeys, err := h.apiKeys.ListAPIKeys(userID.(string))
	if err != nil {
		RespondError(c, err)
		return
	}

	items := make([]apiKeyResponse, 0, len(apiKeys))
	for _, key := range apiKeys {
		items = append(items, apiKeyResponse{
			ID:         key.ID,
			KeyPrefix:  key.KeyPrefix,
			Name:       key.Name,
			IsActive:   key.IsActive,
			CreatedAt:  key.CreatedAt,
			LastUsedAt: key.LastUsedAt,
		})
	}

	Success(c, gin.H{
		"items": items,
		"count": len(items),
	})
}

// GetAPIKey godoc
// @Summary 获取密钥详情
// @Description 获取指定密钥的元数据，不含明文
// @Tags APIKeys
// @Produce json
// @Security BearerAuth
// @Param id path string true "密钥ID"
// @Success 200 {object} apiKeyResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/keys/{id} [get]
func (h *APIKeyHandler) GetAPIKey(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, "Authentication required")
		return
	}

	apiKey, err := h.apiKeys.GetAPIKey(c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}

	// 验证所有权
	if apiKey.UserID != userID.(string) {
		NotFound(c, "API key not found")
		return
	}

	Success(c, apiKeyResponse{
		ID:         apiKey.ID,
		KeyPrefix:  apiKey.KeyPrefix,
		Name:       apiKey.Name,
		IsActive:   apiKey.IsActive,
		CreatedAt:  apiKey.CreatedAt,
		LastUsedAt: apiKey.LastUsedAt,
	})
}

// RevokeAPIKey godoc
// @Summary 吊销密钥
// @Description 吊销指定密钥，立即生效，重复吊销返回成功
// @Tags APIKeys
// @Security BearerAuth
// @Param id path string true "密钥ID"
// @Success 204
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/keys/{id} [delete]
func (h *APIKeyHandler) RevokeAPIKey(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, "Authentication required")
		return
	}

	if err := h.apiKeys.RevokeAPIKey(userID.(string), c.Param("id")); err != nil {
		RespondError(c, err)
		return
	}

	NoContent(c)
}
