package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bottling-oee-sim/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalYAML 是一份最小但合法的配置
const minimalYAML = `
simulation:
  start_date: "2025-06-01 00:00:00"
  duration_days: 2
  seed: 7
equipment_configuration:
  lines:
    - id: LINE1
      equipment:
        - { id: LINE1-FIL, type: Filler, position: 1 }
        - { id: LINE1-PAK, type: Packer, position: 2 }
        - { id: LINE1-PAL, type: Palletizer, position: 3 }
product_master:
  - sku: SKU-A
    name: "A"
    target_rate: 450
    standard_cost: 1.0
    sale_price: 2.0
    normal_scrap_rate: 0.02
downtime_reason_mapping:
  UNP-MAT: { class: MaterialStarvation, category: UnplannedDowntime }
  PLN-CHG: { class: Changeover, category: PlannedDowntime }
production_schedule:
  run_duration_hours: { min: 8, max: 16 }
  changeover_gap_minutes: { min: 20, max: 40 }
product_specifications:
  default_scrap_rate: 0.02
  shift_performance_variation: [0.95, 1.0, 0.98]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Minimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	// 未显式给出的 interval 应当落到默认值 5 分钟
	assert.Equal(t, 5, cfg.Simulation.IntervalMinutes)

	line := cfg.Equipment.Lines[0]
	require.Len(t, line.Equipment, 3)
	// 上下游链由加载器根据 position 建立
	assert.Nil(t, line.Equipment[0].Upstream)
	require.NotNil(t, line.Equipment[0].Downstream)
	assert.Equal(t, types.EquipmentID("LINE1-PAK"), *line.Equipment[0].Downstream)
	require.NotNil(t, line.Equipment[2].Upstream)
	assert.Equal(t, types.EquipmentID("LINE1-PAK"), *line.Equipment[2].Upstream)
	assert.Nil(t, line.Equipment[2].Downstream)
	assert.Equal(t, types.LineID("LINE1"), line.Equipment[1].Line)
}

func TestLoad_EquipmentSortedByPosition(t *testing.T) {
	// 配置中乱序给出，加载后必须按 position 排好
	shuffled := strings.Replace(minimalYAML,
		`        - { id: LINE1-FIL, type: Filler, position: 1 }
        - { id: LINE1-PAK, type: Packer, position: 2 }
        - { id: LINE1-PAL, type: Palletizer, position: 3 }`,
		`        - { id: LINE1-PAL, type: Palletizer, position: 3 }
        - { id: LINE1-FIL, type: Filler, position: 1 }
        - { id: LINE1-PAK, type: Packer, position: 2 }`, 1)
	cfg, err := Load(writeConfig(t, shuffled))
	require.NoError(t, err)
	assert.Equal(t, types.EquipmentType("Filler"), cfg.Equipment.Lines[0].Equipment[0].Type)
	assert.Equal(t, types.EquipmentType("Palletizer"), cfg.Equipment.Lines[0].Equipment[2].Type)
}

func TestLoad_RejectsMalformedConfig(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantMsg string
	}{
		{
			name: "设备顺序错误",
			mutate: func(s string) string {
				return strings.Replace(s, "type: Filler", "type: Packer", 1)
			},
			wantMsg: "设备类型",
		},
		{
			name: "缺少内置换型代码",
			mutate: func(s string) string {
				return strings.Replace(s, "  PLN-CHG: { class: Changeover, category: PlannedDowntime }\n", "", 1)
			},
			wantMsg: "PLN-CHG",
		},
		{
			name: "停机原因类别非法",
			mutate: func(s string) string {
				return strings.Replace(s, "category: UnplannedDowntime", "category: SomethingElse", 1)
			},
			wantMsg: "category",
		},
		{
			name: "订单时长区间退化",
			mutate: func(s string) string {
				return strings.Replace(s, "run_duration_hours: { min: 8, max: 16 }", "run_duration_hours: { min: 16, max: 8 }", 1)
			},
			wantMsg: "run_duration_hours",
		},
		{
			name: "换型间隙非正",
			mutate: func(s string) string {
				return strings.Replace(s, "changeover_gap_minutes: { min: 20, max: 40 }", "changeover_gap_minutes: { min: 0, max: 40 }", 1)
			},
			wantMsg: "changeover_gap_minutes",
		},
		{
			name: "班次系数数量错误",
			mutate: func(s string) string {
				return strings.Replace(s, "[0.95, 1.0, 0.98]", "[0.95, 1.0]", 1)
			},
			wantMsg: "班次",
		},
		{
			name: "产品引用未知产线",
			mutate: func(s string) string {
				return strings.Replace(s, "normal_scrap_rate: 0.02\ndowntime",
					"normal_scrap_rate: 0.02\n    performance_issue_lines: [LINE9]\n    performance_degradation: { min: 0.1, max: 0.2 }\ndowntime", 1)
			},
			wantMsg: "未知产线",
		},
		{
			name: "空产品目录",
			mutate: func(s string) string {
				return strings.Replace(s,
					`product_master:
  - sku: SKU-A
    name: "A"
    target_rate: 450
    standard_cost: 1.0
    sale_price: 2.0
    normal_scrap_rate: 0.02
`, "product_master: []\n", 1)
			},
			wantMsg: "product_master",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.mutate(minimalYAML)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestConfig_Lookups(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	_, ok := cfg.Line("LINE1")
	assert.True(t, ok)
	_, ok = cfg.Line("LINE9")
	assert.False(t, ok)

	p, ok := cfg.Product("SKU-A")
	require.True(t, ok)
	assert.Equal(t, 450.0, p.TargetRate)

	assert.True(t, cfg.EquipmentIDs()["LINE1-PAK"])
	assert.True(t, cfg.LineIDs()["LINE1"])
}
