package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"ctxbot-go/internal/config"

	"github.com/google/generative-ai-go/genai"
	"github.com/gorilla/websocket"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const defaultGeminiChatModel = "gemini-1.5-flash-latest"

// geminiClient 通过 genai 的 ChatSession 流式生成回复。
// system 消息合并为 SystemInstruction，assistant 映射为 model 角色。
type geminiClient struct {
	cfg    config.LLMConfig
	mu     sync.Mutex
	client *genai.Client
}

func newGeminiClient(cfg config.LLMConfig) *geminiClient {
	return &geminiClient{cfg: cfg}
}

func (c *geminiClient) genaiClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(c.cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	c.client = client
	return client, nil
}

// splitForGemini 把消息拆成 system 指令、历史和最后一条要发送的内容。
func splitForGemini(messages []Message) (system string, history []*genai.Content, last string, err error) {
	var sys []string
	var turns []Message
	for _, m := range messages {
		if m.Role == "system" {
			sys = append(sys, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 0 {
		return "", nil, "", errors.New("no user or assistant message to send")
	}
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return strings.Join(sys, "\n\n"), history, turns[len(turns)-1].Content, nil
}

func (c *geminiClient) StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) error {
	system, history, last, err := splitForGemini(messages)
	if err != nil {
		return err
	}
	client, err := c.genaiClient(ctx)
	if err != nil {
		return err
	}

	modelName := c.cfg.Model
	if modelName == "" {
		modelName = defaultGeminiChatModel
	}
	model := client.GenerativeModel(modelName)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if gen == nil {
		gen = ParamsFromConfig(c.cfg.Generation)
	}
	if gen != nil {
		if gen.Temperature != nil {
			model.SetTemperature(float32(*gen.Temperature))
		}
		if gen.TopP != nil {
			model.SetTopP(float32(*gen.TopP))
		}
		if gen.MaxTokens != nil {
			model.SetMaxOutputTokens(int32(*gen.MaxTokens))
		}
	}

	session := model.StartChat()
	session.History = history
	iter := session.SendMessageStream(ctx, genai.Text(last))
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("gemini stream failed: %w", err)
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				txt, ok := part.(genai.Text)
				if !ok || txt == "" {
					continue
				}
				if err := writer.WriteMessage(websocket.TextMessage, []byte(txt)); err != nil {
					return fmt.Errorf("failed to write message chunk: %w", err)
				}
			}
		}
	}
}

func (c *geminiClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}
