package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUpstream     = errors.New("auth-service verify failed")
)

// Claims 与 auth-service 签发的 access token 保持一致
type Claims struct {
	UserID   uint64 `json:"sub"`
	Username string `json:"username"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// JWTVerifier 用共享密钥在本地校验 HS256 token
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Sign 签发 token，replay 工具和测试使用
func (v *JWTVerifier) Sign(userID uint64, username string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Type:     "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type verifyErrResp struct {
	Error string `json:"error"`
}

type verifyResp struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username"`
	Type     string `json:"type"`
}

// RemoteVerifier 调 auth-service 的 /v1/auth/verify
type RemoteVerifier struct {
	client    *http.Client
	verifyURL string
}

// authBaseURL 不要带路径，例如 http://localhost:3001
func NewRemoteVerifier(authBaseURL string) *RemoteVerifier {
	return &RemoteVerifier{
		client:    &http.Client{Timeout: 1200 * time.Millisecond},
		verifyURL: strings.TrimRight(authBaseURL, "/") + "/v1/auth/verify",
	}
}

func (v *RemoteVerifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Authorization", "Bearer "+tokenString)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		// 包含超时：context deadline exceeded
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		var e verifyErrResp
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, e.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var body verifyResp
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: invalid verify response", ErrUpstream)
	}
	return &Claims{UserID: body.UserID, Username: body.Username, Type: body.Type}, nil
}
