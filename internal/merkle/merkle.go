// Package merkle 国库结算批次的 Merkle 根
//
// 叶子 = DoubleSHA256(event_id), 按字节序升序排列;
// 父节点 = DoubleSHA256(min(l, r) || max(l, r));
// 奇数层复制最后一个节点. 该构造决定了链上 OP_RETURN 的内容, 修改即不兼容.
package merkle

import (
	"bytes"
	"encoding/hex"
	"errors"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ErrEmptyBatch 空批次没有 Merkle 根
var ErrEmptyBatch = errors.New("merkle: empty batch")

// ErrNotMember 事件不在批次中
var ErrNotMember = errors.New("merkle: event not in batch")

// LeafHash 事件 ID 的叶子哈希
func LeafHash(eventID string) []byte {
	return chainhash.DoubleHashB([]byte(eventID))
}

func hashPair(a, b []byte) []byte {
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	buf := make([]byte, 0, len(a)+len(b))
	buf = append(buf, a...)
	buf = append(buf, b...)
	return chainhash.DoubleHashB(buf)
}

func sortedLeaves(eventIDs []string) [][]byte {
	leaves := make([][]byte, len(eventIDs))
	for i, id := range eventIDs {
		leaves[i] = LeafHash(id)
	}
	sort.Slice(leaves, func(i, j int) bool {
		return bytes.Compare(leaves[i], leaves[j]) < 0
	})
	return leaves
}

func nextLevel(level [][]byte) [][]byte {
	if len(level)%2 == 1 {
		level = append(level, level[len(level)-1])
	}
	next := make([][]byte, 0, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		next = append(next, hashPair(level[i], level[i+1]))
	}
	return next
}

// Root 计算事件 ID 集合的 Merkle 根, 与输入顺序无关
func Root(eventIDs []string) ([]byte, error) {
	if len(eventIDs) == 0 {
		return nil, ErrEmptyBatch
	}
	level := sortedLeaves(eventIDs)
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0], nil
}

// RootHex 十六进制 Merkle 根
func RootHex(eventIDs []string) (string, error) {
	root, err := Root(eventIDs)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(root), nil
}

// Proof 生成 eventID 的成员证明 (自底向上的兄弟节点)
func Proof(eventIDs []string, eventID string) ([][]byte, error) {
	level := sortedLeaves(eventIDs)
	target := LeafHash(eventID)

	idx := -1
	for i, leaf := range level {
		if bytes.Equal(leaf, target) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrNotMember
	}

	var proof [][]byte
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		proof = append(proof, level[idx^1])
		level = nextLevel(level)
		idx /= 2
	}
	return proof, nil
}

// VerifyProof 用成员证明验证 eventID 属于 root
func VerifyProof(root []byte, eventID string, proof [][]byte) bool {
	node := LeafHash(eventID)
	for _, sibling := range proof {
		node = hashPair(node, sibling)
	}
	return bytes.Equal(node, root)
}
