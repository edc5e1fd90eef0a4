// Package cursor 生成和校验带HMAC签名的分页游标。
// 游标把 keyset 分页的位置 (创建时间, ID) 编码成不透明字符串，
// 客户端无法伪造或篡改。
package cursor

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid 表示游标无法解码或签名不匹配
var ErrInvalid = errors.New("invalid cursor")

// Position 是 keyset 分页中上一页最后一条记录的位置
type Position struct {
	CreatedAt time.Time `json:"t"`
	ID        string    `json:"i"`
}

// Signer 持有签名密钥
type Signer struct {
	key []byte
}

// NewSigner 使用给定的密钥；密钥为空时生成一个32字节的随机密钥，
// 这种情况下游标在进程重启后失效。
func NewSigner(secret string) (*Signer, error) {
	if secret != "" {
		return &Signer{key: []byte(secret)}, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("无法生成游标密钥: %w", err)
	}
	return &Signer{key: key}, nil
}

func (s *Signer) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return mac.Sum(nil)
}

// Encode 把位置编码为 "<payload>.<signature>"，两段都是 base64url
func (s *Signer) Encode(pos Position) (string, error) {
	payload, err := json.Marshal(pos)
	if err != nil {
		return "", fmt.Errorf("无法序列化游标: %w", err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(payload) + "." + enc.EncodeToString(s.sign(payload)), nil
}

// Decode 校验签名并还原位置
func (s *Signer) Decode(token string) (Position, error) {
	var pos Position

	payloadB64, sigB64, ok := strings.Cut(token, ".")
	if !ok {
		return pos, ErrInvalid
	}
	enc := base64.RawURLEncoding
	payload, err := enc.DecodeString(payloadB64)
	if err != nil {
		return pos, ErrInvalid
	}
	sig, err := enc.DecodeString(sigB64)
	if err != nil {
		return pos, ErrInvalid
	}
	// 恒定时间比较
	if !hmac.Equal(s.sign(payload), sig) {
		return pos, ErrInvalid
	}
	if err := json.Unmarshal(payload, &pos); err != nil {
		return pos, ErrInvalid
	}
	return pos, nil
}
