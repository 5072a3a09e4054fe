package service

import (
	"errors"

	"ctxbot-go/internal/config"
	"ctxbot-go/pkg/token"

	"golang.org/x/crypto/bcrypt"
)

// AdminRole 是管理账号在 token 中的角色。
const AdminRole = "ADMIN"

// ErrInvalidCredentials 表示用户名或密码错误，或 refresh token 无效。
var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService 负责管理账号的登录与 token 刷新。
type AuthService interface {
	Login(username, password string) (accessToken, refreshToken string, err error)
	RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error)
}

type authService struct {
	admin      config.AdminConfig
	jwtManager *token.JWTManager
}

// NewAuthService 创建一个新的 AuthService 实例。
func NewAuthService(admin config.AdminConfig, jwtManager *token.JWTManager) AuthService {
	return &authService{admin: admin, jwtManager: jwtManager}
}

func (s *authService) Login(username, password string) (accessToken, refreshToken string, err error) {
	// 未配置密码哈希时禁止登录
	if s.admin.PasswordHash == "" || username != s.admin.Username {
		return "", "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(s.admin.PasswordHash), []byte(password)) != nil {
		return "", "", ErrInvalidCredentials
	}
	return s.issue(username)
}

func (s *authService) RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error) {
	claims, err := s.jwtManager.VerifyKind(refreshTokenString, token.KindRefresh)
	if err != nil || claims.Username != s.admin.Username {
		return "", "", ErrInvalidCredentials
	}
	return s.issue(claims.Username)
}

func (s *authService) issue(username string) (string, string, error) {
	accessToken, err := s.jwtManager.GenerateToken(username, AdminRole)
	if err != nil {
		return "", "", err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(username, AdminRole)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}
