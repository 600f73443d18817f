package util

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"hash/fnv"
	mrand "math/rand"
)

// contextKey 是一个私有类型，用于避免 context key 的冲突
type contextKey string

const runIDKey contextKey = "runID"

// NewRunID 生成一个随机的、唯一的运行 ID
// 仅用于日志与 manifest 标识，不参与数据集内容，因此无需可复现
func NewRunID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// 在极少数情况下，如果随机数生成失败，返回一个固定的错误字符串
		return "failed-to-generate-run-id"
	}
	return hex.EncodeToString(bytes)
}

// ContextWithRunID 将运行 ID 注入到 Context 中，并返回一个新的 Context
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext 从 Context 中提取运行 ID
func RunIDFromContext(ctx context.Context) (string, bool) {
	runID, ok := ctx.Value(runIDKey).(string)
	return runID, ok
}

// LineSeed 由主种子和产线 ID 派生出该产线专用的随机种子
// 使用 FNV-1a 混合，保证：相同 (seed, line) 永远得到相同序列，
// 不同产线之间互相独立，与产线的并行执行顺序无关
func LineSeed(seed int64, lineID string) int64 {
	h := fnv.New64a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(uint64(seed) >> (8 * i))
	}
	h.Write(buf[:])
	h.Write([]byte(lineID))
	return int64(h.Sum64())
}

// NewLineRand 创建产线专用的随机源
// 所有伯努利试验、时长采样、产品分配都必须从它抽取，以保证数据集可复现
func NewLineRand(seed int64, lineID string) *mrand.Rand {
	return mrand.New(mrand.NewSource(LineSeed(seed, lineID)))
}
