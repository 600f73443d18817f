package sink

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"bottling-oee-sim/internal/types"
)

// JSONLWriter 把事件行以行分隔 JSON 的形式落盘
// 面向偏好逐行流式消费的下游（如本体填充器的增量导入）
type JSONLWriter struct {
	file *os.File
	mu   sync.Mutex // 互斥锁，保证文件写入的原子性
}

// NewJSONLWriter 创建或截断一个 JSONL 输出文件
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &JSONLWriter{file: file}, nil
}

// WriteRows 批量追加事件行，每行一条 JSON 记录
func (w *JSONLWriter) WriteRows(rows []types.EventRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range rows {
		data, err := json.Marshal(&rows[i])
		if err != nil {
			return err
		}
		if _, err := w.file.Write(append(data, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// Close 确保数据落盘后关闭文件，防止数据丢失
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Manifest 记录一次生成的完整性信息
// 下游消费方用它校验数据集是否完整、可复现参数是什么
type Manifest struct {
	RunID       string         `json:"run_id"`
	Seed        int64          `json:"seed"`
	RowCount    int            `json:"row_count"`
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	Lines       []types.LineID `json:"lines"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// WriteManifest 把完整性清单写到指定路径
func WriteManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
