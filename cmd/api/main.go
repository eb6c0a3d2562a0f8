package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/medcall/backend/internal/config"
	"github.com/zhouzirui/medcall/backend/internal/handler"
	"github.com/zhouzirui/medcall/backend/internal/logging"
	"github.com/zhouzirui/medcall/backend/internal/service/agent"
	"github.com/zhouzirui/medcall/backend/internal/service/ai"
	"github.com/zhouzirui/medcall/backend/internal/service/events"
	"github.com/zhouzirui/medcall/backend/internal/service/monitor"
	"github.com/zhouzirui/medcall/backend/internal/service/session"
	"github.com/zhouzirui/medcall/backend/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.LogLevel)
	defer logging.Sync()

	if envErr != nil {
		logging.Infow("no .env file loaded, using system environment only", "error", envErr)
	}

	if err := run(ctx, cfg); err != nil {
		logging.Errorw("server exited with error", "error", err)
		_ = logging.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	kinds, err := agent.ParseKinds(cfg.Monitor.Agents)
	if err != nil {
		return fmt.Errorf("MONITOR_AGENTS: %w", err)
	}

	agents, err := buildAgents(ctx, cfg, kinds)
	if err != nil {
		return err
	}

	var transcriber speech.Transcriber
	if cfg.Speech.Enabled {
		transcriber, err = speech.New(cfg.Speech.TranscriberConfig())
		if err != nil {
			return fmt.Errorf("init transcriber: %w", err)
		}
		logging.Infow("speech transcription enabled", "provider", cfg.Speech.Provider)
	} else {
		logging.Infow("语音识别凭证未配置，audio_chunk 将被拒绝", "provider", cfg.Speech.Provider)
	}

	store := session.NewStore()
	hub := events.NewHub(events.DefaultBuffer)
	svc := monitor.NewService(store, hub, agents, transcriber, monitor.Config{
		Cooldown:         cfg.Monitor.Cooldown,
		AgentTimeout:     cfg.Monitor.AgentTimeout,
		MinAnalysisChars: cfg.Monitor.MinAnalysisChars,
		HistoryWindow:    cfg.Monitor.HistoryWindow,
		Windows: map[agent.Kind]int{
			agent.KindSentimentMismatch: cfg.Monitor.SentimentHistoryWindow,
		},
	})

	if cfg.Session.Retention > 0 {
		go store.RunJanitor(ctx, cfg.Session.SweepInterval, cfg.Session.Retention, svc.Evicted)
	}

	router := handler.NewRouter(svc, hub)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logging.Infow("medcall backend listening", "addr", cfg.Server.Addr, "agents", len(agents))
	err = runServer(ctx, srv)

	// 等待后台分析完成再退出
	svc.Wait()
	return err
}

// buildAgents 有模型凭证时使用 LLM 分类器，否则退回关键词规则
func buildAgents(ctx context.Context, cfg *config.Config, kinds []agent.Kind) ([]agent.Agent, error) {
	if !cfg.AI.Enabled() {
		logging.Infow("AI 凭证未配置，使用关键词启发式分析", "provider", cfg.AI.Provider)
		return agent.NewHeuristics(kinds)
	}

	chatModel, err := ai.NewChatModel(ctx, cfg.AI)
	if err != nil {
		logging.Warnw("failed to initialize chat model, falling back to heuristics", "error", err)
		return agent.NewHeuristics(kinds)
	}

	agents, err := agent.NewClassifiers(ctx, chatModel, kinds)
	if err != nil {
		return nil, fmt.Errorf("build classifiers: %w", err)
	}
	logging.Infow("LLM classifiers initialized", "provider", cfg.AI.Provider, "agents", len(agents))
	return agents, nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
