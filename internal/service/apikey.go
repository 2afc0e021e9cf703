package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/storage"
)

var (
	ErrAPIKeyNotFound     = errors.New("API key not found")
	ErrAPIKeyInvalid      = errors.New("invalid API key")
	ErrAPIKeyLimitReached = errors.New("active API key limit reached")

	// ErrPermissionDenied 资源存在但不属于当前用户
	ErrPermissionDenied = errors.New("permission denied")
)

const (
	apiKeyPrefix        = "vx_"
	apiKeyRandomLength  = 48
	displayPrefixLength = 15
)

// apiKeyCharset 密钥随机部分的字符表（base62）
const apiKeyCharset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// APIKeyService API Key业务逻辑服务
type APIKeyService struct {
	store storage.Store
}

// NewAPIKeyService 创建API Key服务
func NewAPIKeyService(store storage.Store) *APIKeyService {
	return &APIKeyService{
		store: store,
	}
}

// IssueAPIKeyInput 签发API Key的输入参数
type IssueAPIKeyInput struct {
	UserID string
	Name   string
}

// IssueAPIKey 签发新的API Key
//
// 明文只在这里返回一次，存储层只保留 SHA-256 摘要。
// 每个用户最多持有 domain.MaxActiveAPIKeys 个有效密钥，
// 达到上限时直接拒绝，不会挤掉旧密钥。
//
// 返回值:
//   - *domain.APIKey: 创建的API Key记录
//   - string: 密钥明文，调用方展示一次后即丢弃
//   - error: 错误信息
func (s *APIKeyService) IssueAPIKey(input IssueAPIKeyInput) (*domain.APIKey, string, error) {
	// 验证用户是否存在
	_, err := s.store.GetUserByID(input.UserID)
	if err != nil {
		return nil, "", ErrUserNotFound
	}

	// 检查有效密钥数量上限
	count, err := s.store.CountActiveAPIKeysByUserID(input.UserID)
	if err != nil {
		return nil, "", err
	}
	if count >= domain.MaxActiveAPIKeys {
		return nil, "", ErrAPIKeyLimitReached
	}

	// 生成随机API Key
	plaintext, err := generateAPIKey()
	if err != nil {
		return nil, "", err
	}

	apiKey := &domain.APIKey{
		ID:        uuid.New().String(),
		UserID:    input.UserID,
		KeyHash:   hashAPIKey(plaintext),
		KeyPrefix: plaintext[:displayPrefixLength],
		Name:      input.Name,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.SaveAPIKey(apiKey); err != nil {
		return nil, "", err
	}

	return apiKey, plaintext, nil
}

// ListAPIKeys 列出用户的所有API Key
//
// 参数:
//   - userID: 用户ID
//
// 返回值:
//   - []*domain.APIKey: API Key列表（只含前缀，不含明文）
//   - error: 错误信息
func (s *APIKeyService) ListAPIKeys(userID string) ([]*domain.APIKey, error) {
	return s.store.ListAPIKeysByUserID(userID)
}

// GetAPIKey 获取API Key详情
//
// 参数:
//   - id: API Key ID
//
// 返回值:
//   - *domain.APIKey: API Key详情
//   - error: 错误信息
func (s *APIKeyService) GetAPIKey(id string) (*domain.APIKey, error) {
	apiKey, err := s.store.GetAPIKey(id)
	if err != nil {
		return nil, ErrAPIKeyNotFound
	}
	return apiKey, nil
}

// RevokeAPIKey 吊销API Key
//
// 幂等操作：重复吊销同一个密钥返回成功。
// 吊销立即生效，记录保留用于审计。
//
// 参数:
//   - userID: 用户ID（用于权限验证）
//   - id: API Key ID
//
// 返回值:
//   - error: 错误信息
func (s *APIKeyService) RevokeAPIKey(userID, id string) error {
	// 获取API Key
	apiKey, err := s.store.GetAPIKey(id)
	if err != nil {
		return ErrAPIKeyNotFound
	}

	// 验证所有权
	if apiKey.UserID != userID {
		return ErrPermissionDenied
	}

	// 已吊销，幂等返回
	if !apiKey.IsActive {
		return nil
	}

	return s.store.DeactivateAPIKey(id)
}

// VerifyAPIKey 验证API Key并返回关联的用户
//
// 密钥不存在、已吊销、属主被停用一律返回 ErrAPIKeyInvalid，
// 不区分具体原因，避免被用来探测密钥状态。
//
// 参数:
//   - key: API Key明文
//
// 返回值:
//   - *domain.User: 关联的用户
//   - error: 错误信息
func (s *APIKeyService) VerifyAPIKey(key string) (*domain.User, error) {
	// 按摘要查找
	apiKey, err := s.store.GetAPIKeyByHash(hashAPIKey(key))
	if err != nil {
		return nil, ErrAPIKeyInvalid
	}

	// 检查是否已吊销
	if !apiKey.IsActive {
		return nil, ErrAPIKeyInvalid
	}

	// 获取用户信息
	user, err := s.store.GetUserByID(apiKey.UserID)
	if err != nil {
		return nil, ErrAPIKeyInvalid
	}

	// 检查用户是否激活
	if !user.IsActive {
		return nil, ErrAPIKeyInvalid
	}

	// 记录使用时间不能拖慢验证路径，失败也不影响验证结果
	go func(id string) {
		_ = s.store.UpdateAPIKeyLastUsed(id)
	}(apiKey.ID)

	return user, nil
}

// ValidAPIKeyShape 检查明文是否符合密钥格式
//
// 不符合格式的值可以直接拒绝，省掉一次存储查询。
func ValidAPIKeyShape(key string) bool {
	if len(key) != len(apiKeyPrefix)+apiKeyRandomLength {
		return false
	}
	if !strings.HasPrefix(key, apiKeyPrefix) {
		return false
	}
	for _, r := range key[len(apiKeyPrefix):] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

// hashAPIKey 计算密钥明文的SHA-256十六进制摘要
func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// generateAPIKey 生成一个安全的随机API Key
//
// 格式为 "vx_" 前缀加48个base62字符，随机部分约285位熵。
// 拒绝采样避免取模偏差。
//
// 返回值:
//   - string: 生成的API Key明文
//   - error: 错误信息
func generateAPIKey() (string, error) {
	// 256 - 256%62 = 248，低于该值的字节取模后均匀分布
	const limit = byte(len(apiKeyCharset) * (256 / len(apiKeyCharset)))

	buf := make([]byte, 0, apiKeyRandomLength)
	chunk := make([]byte, apiKeyRandomLength)

	for len(buf) < apiKeyRandomLength {
		if _, err := rand.Read(chunk); err != nil {
			return "", err
		}
		for _, b := range chunk {
			if b >= limit {
				continue
			}
			buf = append(buf, apiKeyCharset[int(b)%len(apiKeyCharset)])
			if len(buf) == apiKeyRandomLength {
				break
			}
		}
	}

	return apiKeyPrefix + string(buf), nil
}
