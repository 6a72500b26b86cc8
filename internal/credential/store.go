package credential

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/betbot/perpplay/pkg/secretstore"
)

// StorageKey 会话记录在 KV 中的键
const StorageKey = "perpplay_wallet_data"

// StoredSession 持久化的会话记录
type StoredSession struct {
	WalletAddress      string `json:"walletAddress"`
	AgentPrivateKey    string `json:"agentPrivateKey"`
	Timestamp          int64  `json:"timestamp"` // 毫秒
	BuilderFeeApproved bool   `json:"builderFeeApproved,omitempty"`
}

func (r *StoredSession) valid() bool {
	if r == nil || !common.IsHexAddress(r.WalletAddress) {
		return false
	}
	k := strings.TrimPrefix(r.AgentPrivateKey, "0x")
	return len(k) == 64
}

// Store 会话存储。记录不存在或无法解析时 Load 返回 (nil, nil)。
type Store interface {
	Load() (*StoredSession, error)
	Save(rec StoredSession) error
	Clear() error
}

// SecretStore 基于 Badger 的会话存储（配置了密钥时落盘加密）
type SecretStore struct {
	kv  *secretstore.Store
	log *logrus.Entry
}

// NewSecretStore 包装已打开的 secretstore
func NewSecretStore(kv *secretstore.Store, log *logrus.Entry) *SecretStore {
	if log == nil {
		log = logrus.WithField("component", "credential.store")
	}
	return &SecretStore{kv: kv, log: log}
}

// Load 读取记录；格式错误的记录按不存在处理并删除
func (s *SecretStore) Load() (*StoredSession, error) {
	raw, ok, err := s.kv.Get(StorageKey)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var rec StoredSession
	if err := json.Unmarshal(raw, &rec); err != nil || !rec.valid() {
		s.log.Warn("stored session record is malformed, discarding")
		if derr := s.kv.Delete(StorageKey); derr != nil {
			s.log.Warnf("discard malformed session: %v", derr)
		}
		return nil, nil
	}
	return &rec, nil
}

// Save 覆盖写入
func (s *SecretStore) Save(rec StoredSession) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.kv.Set(StorageKey, b); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear 删除记录，不存在也返回 nil
func (s *SecretStore) Clear() error {
	if err := s.kv.Delete(StorageKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
