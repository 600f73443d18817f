package sink

import (
	"encoding/csv"
	"os"
	"strconv"

	"bottling-oee-sim/internal/config"
	"bottling-oee-sim/internal/types"
)

// CSVWriter 把事件行序列化为下游本体填充器消费的 CSV 数据集
// 列名与顺序是对外契约，见 types.CSVHeader
type CSVWriter struct {
	file *os.File
	w    *csv.Writer
}

// NewCSVWriter 创建输出文件并写入表头
func NewCSVWriter(path string) (*CSVWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(file)
	if err := w.Write(types.CSVHeader); err != nil {
		file.Close()
		return nil, err
	}
	return &CSVWriter{file: file, w: w}, nil
}

// WriteRows 批量追加事件行
func (c *CSVWriter) WriteRows(rows []types.EventRow) error {
	for i := range rows {
		if err := c.w.Write(record(&rows[i])); err != nil {
			return err
		}
	}
	return nil
}

// Close 刷新缓冲并关闭文件
func (c *CSVWriter) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.file.Close()
		return err
	}
	if err := c.file.Sync(); err != nil {
		c.file.Close()
		return err
	}
	return c.file.Close()
}

// record 把一行转换为 CSV 字段
// 无订单覆盖的时间片，订单/产品标识列留空（空即 null 的下游约定）
func record(r *types.EventRow) []string {
	return []string{
		r.Timestamp.Format(config.TimeLayout),
		r.ProductionOrderID,
		string(r.LineID),
		string(r.EquipmentID),
		string(r.EquipmentType),
		r.ProductID,
		r.ProductName,
		string(r.MachineStatus),
		r.DowntimeReason,
		strconv.Itoa(r.GoodUnits),
		strconv.Itoa(r.ScrapUnits),
		strconv.FormatFloat(r.TargetRate, 'f', -1, 64),
		strconv.FormatFloat(r.StandardCost, 'f', 2, 64),
		strconv.FormatFloat(r.SalePrice, 'f', 2, 64),
		strconv.FormatFloat(r.Availability, 'f', 2, 64),
		strconv.FormatFloat(r.Performance, 'f', 2, 64),
		strconv.FormatFloat(r.Quality, 'f', 2, 64),
		strconv.FormatFloat(r.OEE, 'f', 2, 64),
	}
}
