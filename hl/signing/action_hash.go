package signing

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	vaultFlagNone = 0x00
	vaultFlagSet  = 0x01
)

// ActionHash 计算 L1 动作摘要：
// keccak256(encode(action) ‖ nonce(8 字节大端) ‖ 0x00 | 0x01‖vault(20 字节))
// 顺序由交易所固定，nonce 必须与随后提交的 nonce 相同。
func ActionHash(action Action, nonce uint64, vault *common.Address) common.Hash {
	data := AppendEncode(make([]byte, 0, 256), action)
	data = binary.BigEndian.AppendUint64(data, nonce)
	if vault == nil {
		data = append(data, vaultFlagNone)
	} else {
		data = append(data, vaultFlagSet)
		data = append(data, vault.Bytes()...)
	}
	return crypto.Keccak256Hash(data)
}
