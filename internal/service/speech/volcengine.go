package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/medcall/backend/internal/logging"
	speechmodel "github.com/zhouzirui/medcall/backend/internal/model/speech"
)

const (
	volcengineEndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"
	// 16kHz, 16bit, mono, 200ms
	audioPacketSize = 6400
)

// VolcengineClient 火山引擎大模型流式识别（nostream 模式）客户端。
type VolcengineClient struct {
	cfg      speechmodel.Config
	endpoint string
	dialer   *websocket.Dialer
}

// NewVolcengineClient validates credentials and returns a client.
func NewVolcengineClient(cfg speechmodel.Config) (*VolcengineClient, error) {
	cfg.AppID = strings.TrimSpace(cfg.AppID)
	cfg.AccessToken = strings.TrimSpace(cfg.AccessToken)
	if cfg.AppID == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("火山引擎语音配置缺少 AppID 或 AccessToken")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = volcengineEndpoint
	}
	return &VolcengineClient{
		cfg:      cfg,
		endpoint: endpoint,
		dialer:   &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
	}, nil
}

type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrServerMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Text       string `json:"text"`
		Utterances []struct {
			Text string `json:"text"`
		} `json:"utterances,omitempty"`
	} `json:"result"`
}

// Transcribe sends one audio chunk and returns the final recognized text.
func (c *VolcengineClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", transcriptionError("no audio data")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	connectID := uuid.NewString()
	resourceID := "volc.bigasr.sauc.duration" // 小时版
	if c.cfg.ConcurrentMode {
		resourceID = "volc.bigasr.sauc.concurrent"
	}
	header := http.Header{}
	header.Set("X-Api-App-Key", c.cfg.AppID)
	header.Set("X-Api-Access-Key", c.cfg.AccessToken)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return "", fmt.Errorf("%w: connect ASR websocket: %w", ErrTranscription, err)
	}
	defer conn.Close()
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			logging.Debugw("asr connected", "logid", logid, "connect_id", connectID)
		}
	}

	// 让阻塞的读写在 ctx 结束时返回
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := c.sendRequest(conn, connectID); err != nil {
		return "", err
	}

	recvCh := make(chan recvResult, 1)
	go func() {
		text, err := c.receive(conn)
		recvCh <- recvResult{text: text, err: err}
	}()

	if err := c.sendAudio(ctx, conn, audio); err != nil {
		return "", err
	}

	select {
	case res := <-recvCh:
		if res.err != nil && ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", ErrTranscription, ctx.Err())
		}
		return res.text, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrTranscription, ctx.Err())
	}
}

type recvResult struct {
	text string
	err  error
}

func (c *VolcengineClient) sendRequest(conn *websocket.Conn, uid string) error {
	req := asrRequest{}
	req.User.UID = uid
	req.Audio.Format = firstNonEmpty(c.cfg.AudioFormat, "wav")
	req.Audio.Language = firstNonEmpty(c.cfg.Language, "en-US")
	req.Audio.Codec = "raw"
	req.Audio.Rate = 16000
	req.Audio.Bits = 16
	req.Audio.Channel = 1
	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: marshal ASR request: %w", ErrTranscription, err)
	}
	compressed, err := gzipBytes(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	msg := encodeFrame(&frame{
		Type:          frameFullClientRequest,
		Flags:         flagNoSequence,
		Serialization: serializationJSON,
		Compression:   compressionGzip,
		Payload:       compressed,
	})
	if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return fmt.Errorf("%w: send ASR request: %w", ErrTranscription, err)
	}
	return nil
}

// sendAudio 分包发送音频。FullClientRequest 占用序号 1，音频从 2 开始。
func (c *VolcengineClient) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	sequence := int32(2)
	for start := 0; start < len(audio); start += audioPacketSize {
		end := min(start+audioPacketSize, len(audio))
		last := end == len(audio)

		f, err := audioFrame(audio[start:end], sequence, last)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTranscription, err)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, encodeFrame(f)); err != nil {
			return fmt.Errorf("%w: send audio packet %d: %w", ErrTranscription, sequence, err)
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrTranscription, err)
		}
		sequence++
	}
	return nil
}

func (c *VolcengineClient) receive(conn *websocket.Conn) (string, error) {
	var text string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("%w: read ASR response: %w", ErrTranscription, err)
		}
		f, err := decodeFrame(data)
		if err != nil {
			return "", fmt.Errorf("%w: decode ASR frame: %w", ErrTranscription, err)
		}

		switch f.Type {
		case frameError:
			body, _ := f.payload()
			return "", transcriptionError("ASR error %d: %s", f.ErrorCode, string(body))
		case frameFullServerResponse:
			body, err := f.payload()
			if err != nil {
				return "", fmt.Errorf("%w: %w", ErrTranscription, err)
			}
			var msg asrServerMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				logging.Warnw("asr response unmarshal failed", "error", err)
				continue
			}
			if msg.Code != 0 && msg.Code != 20000000 {
				return "", transcriptionError("ASR API error %d: %s", msg.Code, msg.Message)
			}
			if candidate := resultText(msg); candidate != "" {
				text = candidate
			}
			if f.isLast() {
				return strings.TrimSpace(text), nil
			}
		default:
			// ack 等其他帧忽略
		}
	}
}

func resultText(msg asrServerMessage) string {
	if msg.Result.Text != "" {
		return msg.Result.Text
	}
	parts := make([]string, 0, len(msg.Result.Utterances))
	for _, u := range msg.Result.Utterances {
		if u.Text != "" {
			parts = append(parts, u.Text)
		}
	}
	return strings.Join(parts, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
