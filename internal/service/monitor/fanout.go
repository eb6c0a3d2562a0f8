package monitor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/medcall/backend/internal/logging"
	"github.com/zhouzirui/medcall/backend/internal/model/call"
	"github.com/zhouzirui/medcall/backend/internal/service/agent"
)

// FanOut runs every agent against one chunk and joins all of them.
type FanOut struct {
	agents        []agent.Agent
	timeout       time.Duration
	windows       map[agent.Kind]int
	defaultWindow int
}

// NewFanOut 创建并发分析协调器。timeout<=0 时使用 DefaultAgentTimeout。
func NewFanOut(agents []agent.Agent, timeout time.Duration, windows map[agent.Kind]int, defaultWindow int) *FanOut {
	if timeout <= 0 {
		timeout = DefaultAgentTimeout
	}
	if defaultWindow <= 0 {
		defaultWindow = DefaultHistoryWindow
	}
	copied := make(map[agent.Kind]int, len(windows))
	for kind, n := range windows {
		copied[kind] = n
	}
	// 结果按 kind 归并，同一 kind 只保留第一个 agent
	unique := make([]agent.Agent, 0, len(agents))
	seen := make(map[agent.Kind]bool, len(agents))
	for _, a := range agents {
		if seen[a.Kind()] {
			logging.Warnw("duplicate agent kind ignored", "agent", a.Kind())
			continue
		}
		seen[a.Kind()] = true
		unique = append(unique, a)
	}
	return &FanOut{
		agents:        unique,
		timeout:       timeout,
		windows:       copied,
		defaultWindow: defaultWindow,
	}
}

// Agents returns the configured agents in invocation order.
func (f *FanOut) Agents() []agent.Agent {
	return append([]agent.Agent(nil), f.agents...)
}

func (f *FanOut) window(kind agent.Kind) int {
	if n, ok := f.windows[kind]; ok && n > 0 {
		return n
	}
	return f.defaultWindow
}

// MaxWindow is the largest history any configured agent needs, i.e. how
// much transcript to snapshot when a chunk is appended.
func (f *FanOut) MaxWindow() int {
	largest := f.defaultWindow
	for _, a := range f.agents {
		largest = max(largest, f.window(a.Kind()))
	}
	return largest
}

// lastN returns the trailing n entries of history, sharing its backing array.
func lastN(history []call.TranscriptEntry, n int) []call.TranscriptEntry {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	return history[max(len(history)-n, 0):]
}

// Run 并发调用全部 agent，不提前退出；返回结果与 agents 顺序一一对应，
// 失败、超时或 panic 的 agent 得到 FailedResult。
// history 是追加当前语句时截取的快照，每个 agent 按自己的窗口取其末尾。
func (f *FanOut) Run(ctx context.Context, history []call.TranscriptEntry, text string) []agent.Result {
	results := make([]agent.Result, len(f.agents))
	if len(f.agents) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(len(f.agents))
	for i, a := range f.agents {
		window := lastN(history, f.window(a.Kind()))
		g.Go(func() error {
			// 每个 agent 拿到独立副本
			results[i] = f.invoke(ctx, a, text, append([]call.TranscriptEntry(nil), window...))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type agentReply struct {
	result agent.Result
	err    error
}

func (f *FanOut) invoke(ctx context.Context, a agent.Agent, text string, history []call.TranscriptEntry) agent.Result {
	kind := a.Kind()
	actx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	replies := make(chan agentReply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				replies <- agentReply{err: fmt.Errorf("%w: %s panicked: %v", agent.ErrAnalysis, kind, r)}
			}
		}()
		result, err := a.Analyze(actx, text, history)
		replies <- agentReply{result: result, err: err}
	}()

	var reply agentReply
	select {
	case reply = <-replies:
	case <-actx.Done():
		reply.err = fmt.Errorf("%w: %s: %w", agent.ErrAnalysis, kind, actx.Err())
	}

	if reply.err == nil && reply.result == nil {
		reply.err = fmt.Errorf("%w: %s returned no result", agent.ErrAnalysis, kind)
	}
	if reply.err != nil {
		logging.Warnw("agent analysis failed", "agent", kind, "error", reply.err)
		return agent.Failed(kind, reply.err)
	}
	return reply.result
}
