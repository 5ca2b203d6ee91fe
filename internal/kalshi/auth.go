package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// WSPath WebSocket 握手签名使用的路径
const WSPath = "/trade-api/ws/v2"

// Auth 负责 Kalshi API 的 RSA-PSS 请求签名
// 签名内容为 timestamp_ms + METHOD + path（不含 query 和 body）
type Auth struct {
	keyID      string
	privateKey *rsa.PrivateKey
}

// NewAuth 用内联 PEM 私钥创建签名器
func NewAuth(keyID string, pemData []byte) (*Auth, error) {
	if keyID == "" {
		return nil, errors.New("key id 不能为空")
	}
	key, err := parsePrivateKey(pemData)
	if err != nil {
		return nil, err
	}
	return &Auth{keyID: keyID, privateKey: key}, nil
}

// NewAuthFromFile 从 PEM 文件加载私钥创建签名器
func NewAuthFromFile(keyID, path string) (*Auth, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "读取私钥文件失败: %s", path)
	}
	return NewAuth(keyID, pemData)
}

// parsePrivateKey 解析 PKCS#8 或 PKCS#1 编码的 RSA 私钥
func parsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("无效的 PEM 数据")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("私钥不是 RSA 类型")
		}
		return rsaKey, nil
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "解析 RSA 私钥失败")
	}
	return key, nil
}

// KeyID 返回 API key id
func (a *Auth) KeyID() string {
	return a.keyID
}

// Headers 为一次请求生成认证头，每次调用使用新的时间戳
func (a *Auth) Headers(method, path string) (map[string]string, error) {
	timestampMS := fmt.Sprintf("%d", time.Now().UnixMilli())
	message := timestampMS + strings.ToUpper(method) + path

	digest := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, a.privateKey, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto, // 最大盐长
	})
	if err != nil {
		return nil, errors.Wrap(err, "RSA-PSS 签名失败")
	}

	return map[string]string{
		"KALSHI-ACCESS-KEY":       a.keyID,
		"KALSHI-ACCESS-SIGNATURE": base64.StdEncoding.EncodeToString(signature),
		"KALSHI-ACCESS-TIMESTAMP": timestampMS,
	}, nil
}

// WSHeaders 为 WebSocket 握手生成认证头
func (a *Auth) WSHeaders() (map[string]string, error) {
	return a.Headers("GET", WSPath)
}
