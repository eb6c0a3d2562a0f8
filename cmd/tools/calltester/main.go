package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/medcall/backend/internal/config"
	"github.com/zhouzirui/medcall/backend/internal/logging"
	"github.com/zhouzirui/medcall/backend/internal/service/agent"
	"github.com/zhouzirui/medcall/backend/internal/service/ai"
	"github.com/zhouzirui/medcall/backend/internal/service/events"
	"github.com/zhouzirui/medcall/backend/internal/service/monitor"
	"github.com/zhouzirui/medcall/backend/internal/service/session"
	"github.com/zhouzirui/medcall/backend/internal/service/speech"
)

func main() {
	mode := flag.String("mode", "", "测试模式: asr 或 analyze")
	audioPath := flag.String("audio", "", "ASR 输入音频文件路径")
	text := flag.String("text", "", "analyze 模式的输入文本，多句用 | 分隔")
	heuristic := flag.Bool("heuristic", false, "强制使用关键词规则，不调用大模型")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")
	flag.Parse()

	logging.Init("debug")
	defer logging.Sync()

	if err := godotenv.Load(); err != nil {
		logging.Warnw("无法加载 .env，改用系统环境变量", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("配置加载失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "asr":
		runASR(ctx, cfg, *audioPath)
	case "analyze":
		runAnalyze(ctx, cfg, *text, *heuristic)
	default:
		flag.Usage()
		fatal("请通过 -mode=asr 或 -mode=analyze 指定测试模式")
	}
}

func runASR(ctx context.Context, cfg *config.Config, audioPath string) {
	if !cfg.Speech.Enabled {
		fatal("语音服务未启用，请先配置 SPEECH_* 或 WHISPER_* 环境变量")
	}
	if audioPath == "" {
		fatal("ASR 模式需要通过 -audio 指定音频文件路径")
	}

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		fatal("读取音频文件失败: %v", err)
	}

	transcriber, err := speech.New(cfg.Speech.TranscriberConfig())
	if err != nil {
		fatal("创建识别客户端失败: %v", err)
	}

	started := time.Now()
	logging.Infow("开始进行 ASR 测试", "provider", cfg.Speech.Provider, "bytes", len(audio))
	text, err := transcriber.Transcribe(ctx, audio)
	if err != nil {
		fatal("ASR 调用失败: %v", err)
	}
	fmt.Printf("text=%q elapsed=%s\n", text, time.Since(started).Round(time.Millisecond))
}

// runAnalyze 在本地跑一遍完整流水线，逐句打印告警
func runAnalyze(ctx context.Context, cfg *config.Config, input string, heuristic bool) {
	lines := splitLines(input)
	if len(lines) == 0 {
		fatal("analyze 模式需要通过 -text 提供文本")
	}

	var agents []agent.Agent
	var err error
	if heuristic || !cfg.AI.Enabled() {
		agents, err = agent.NewHeuristics(agent.AllKinds())
	} else {
		chatModel, modelErr := ai.NewChatModel(ctx, cfg.AI)
		if modelErr != nil {
			fatal("创建模型失败: %v", modelErr)
		}
		agents, err = agent.NewClassifiers(ctx, chatModel, agent.AllKinds())
	}
	if err != nil {
		fatal("创建分析代理失败: %v", err)
	}

	monitorCfg := monitor.DefaultConfig()
	monitorCfg.AgentTimeout = cfg.Monitor.AgentTimeout
	monitorCfg.MinAnalysisChars = cfg.Monitor.MinAnalysisChars
	svc := monitor.NewService(session.NewStore(), events.NewHub(events.DefaultBuffer), agents, nil, monitorCfg)

	sess, err := svc.StartSession("")
	if err != nil {
		fatal("创建会话失败: %v", err)
	}

	for _, line := range lines {
		report, err := svc.ProcessChunk(ctx, sess.ID(), line)
		if err != nil {
			fatal("分析失败: %v", err)
		}
		fmt.Printf("> %s\n", line)
		if report == nil || !report.Analyzed {
			fmt.Println("  (too short, not analyzed)")
			continue
		}
		for _, outcome := range report.Outcomes {
			if outcome.Alert != nil {
				fmt.Printf("  [%s] %s -> %s (%s)\n", outcome.Status, outcome.Alert.Message, outcome.Alert.Action, outcome.Alert.Severity)
				continue
			}
			fmt.Printf("  [%s] %s\n", outcome.Status, outcome.Kind)
		}
	}

	summary, _ := svc.StopSession(sess.ID())
	fmt.Printf("total_alerts=%d by_type=%v\n", summary.TotalAlerts, summary.AlertsByType)
}

func splitLines(input string) []string {
	var out []string
	for _, part := range strings.Split(input, "|") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func fatal(format string, args ...any) {
	logging.Errorw(fmt.Sprintf(format, args...))
	_ = logging.Sync()
	os.Exit(1)
}
