package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bottling-oee-sim/internal/anomaly"
	"bottling-oee-sim/internal/config"
	"bottling-oee-sim/internal/engine"
	"bottling-oee-sim/internal/event"
	"bottling-oee-sim/internal/handlers"
	"bottling-oee-sim/internal/sink"
	"bottling-oee-sim/internal/types"
	"bottling-oee-sim/internal/util"
	"bottling-oee-sim/internal/web"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// main 是数据集生成器的主入口
func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	outPath := flag.String("out", "event_log.csv", "CSV 数据集输出路径")
	jsonlPath := flag.String("jsonl", "", "可选的 JSONL 输出路径，为空则不输出")
	monitorAddr := flag.String("monitor", "", "监控服务器监听地址（如 :8080），为空则不开启")
	flag.Parse()

	// 1. 初始化核心组件
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("加载配置失败", "error", err)
		os.Exit(1)
	}
	rules, err := anomaly.DecodeRuleSet(cfg.Anomalies, cfg.EquipmentIDs(), cfg.LineIDs(), cfg.Reasons)
	if err != nil {
		logger.Error("解析异常注入规则失败", "error", err)
		os.Exit(1)
	}

	runID := util.NewRunID()
	logger = logger.With("run_id", runID)

	tracker := web.NewProgressTracker(runID)
	if *monitorAddr != "" {
		hub := web.NewHub(func() any { return tracker.Snapshot() })
		go hub.Run()
		tracker.AttachHub(hub)
		go startMonitorServer(*monitorAddr, hub, tracker, logger)
	}

	// 2. 注册事件处理器
	bus := event.NewBus()
	handlers.RegisterEventHandlers(bus, logger)

	// 3. 运行仿真
	logger.Info("=== 灌装厂 OEE 事件日志生成器启动 ===")
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = util.ContextWithRunID(ctx, runID)

	sim := engine.NewSimulator(cfg, rules, bus, tracker, logger)
	rows, err := sim.Run(ctx)
	if err != nil {
		logger.Error("仿真中止，不输出任何数据集", "error", err)
		os.Exit(1)
	}

	// 4. 写出数据集。任何写入失败都要清掉半成品文件，
	// 下游的 KPI 聚合假设数据集是完整的
	if err := writeCSV(*outPath, rows); err != nil {
		logger.Error("写出 CSV 失败", "error", err, "path", *outPath)
		os.Remove(*outPath)
		os.Exit(1)
	}
	if *jsonlPath != "" {
		if err := writeJSONL(*jsonlPath, rows); err != nil {
			logger.Error("写出 JSONL 失败", "error", err, "path", *jsonlPath)
			os.Remove(*jsonlPath)
			os.Exit(1)
		}
	}

	start, end, _, _ := cfg.Simulation.Window()
	manifest := sink.Manifest{
		RunID:       runID,
		Seed:        cfg.Simulation.Seed,
		RowCount:    len(rows),
		WindowStart: start,
		WindowEnd:   end,
		GeneratedAt: time.Now().UTC(),
	}
	for _, line := range cfg.Equipment.Lines {
		manifest.Lines = append(manifest.Lines, line.ID)
	}
	manifestPath := *outPath + ".manifest.json"
	if err := sink.WriteManifest(manifestPath, manifest); err != nil {
		logger.Error("写出 manifest 失败", "error", err, "path", manifestPath)
		os.Exit(1)
	}

	logger.Info("数据集生成结束", "rows", len(rows), "csv", *outPath, "manifest", manifestPath)
}

// writeCSV 把全部事件行写成 CSV 数据集
func writeCSV(path string, rows []types.EventRow) error {
	w, err := sink.NewCSVWriter(path)
	if err != nil {
		return err
	}
	if err := w.WriteRows(rows); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// writeJSONL 把全部事件行写成行分隔 JSON
func writeJSONL(path string, rows []types.EventRow) error {
	w, err := sink.NewJSONLWriter(path)
	if err != nil {
		return err
	}
	if err := w.WriteRows(rows); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// startMonitorServer 启动调试监控服务器：指标、进度快照和 WebSocket 推送
func startMonitorServer(addr string, hub *web.Hub, tracker *web.ProgressTracker, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", hub.ServeWs)
	mux.HandleFunc("/api/progress", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tracker.Snapshot())
	})

	logger.Info("监控服务器启动", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("监控服务器启动失败", "error", err)
	}
}
