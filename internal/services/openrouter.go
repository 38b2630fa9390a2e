package services

import (
  "bufio"
  "bytes"
  "context"
  "encoding/json"
  "fmt"
  "io"
  "net/http"
  "strings"

  "github.com/deepsearch-org/deepsearch-backend/internal/logger"
  "github.com/deepsearch-org/deepsearch-backend/internal/types"
)

const (
  EventTextDelta  = "text-delta"
  EventToolCall   = "tool-call"
  EventToolResult = "tool-result"

  searchToolName  = "searchWeb"
  defaultMaxSteps = 10
)

// StreamEvent is one unit of model output relayed to the client as it is
// produced. Exactly the fields matching Type are set.
type StreamEvent struct {
  Type       string          `json:"type"`
  Delta      string          `json:"delta,omitempty"`
  ToolCallID string          `json:"toolCallId,omitempty"`
  ToolName   string          `json:"toolName,omitempty"`
  Args       json.RawMessage `json:"args,omitempty"`
  Result     json.RawMessage `json:"result,omitempty"`
}

type ModelService interface {
  StreamChat(ctx context.Context, system string, messages []types.UIMessage) (<-chan StreamEvent, <-chan error)
}

type openRouterService struct {
  log      *logger.Logger
  client   *http.Client
  baseURL  string
  apiKey   string
  model    string
  search   SearchService
  maxSteps int
}

func NewOpenRouterService(log *logger.Logger, baseURL, apiKey, model string, search SearchService) (ModelService, error) {
  serviceLog := log.With("service", "OpenRouterService")
  if baseURL == "" {
    baseURL = "https://openrouter.ai/api/v1"
  }
  if model == "" {
    model = "google/gemini-flash-1.5"
  }
  if apiKey == "" {
    serviceLog.Warn("OPENROUTER_API_KEY not set; model calls might fail or be unauthorized")
  }
  // No client timeout: a streamed completion can legitimately outlive any
  // fixed deadline. Cancellation comes from the request context.
  httpClient := &http.Client{
    Timeout: 0,
  }
  return &openRouterService{
    log:      serviceLog,
    client:   httpClient,
    baseURL:  baseURL,
    apiKey:   apiKey,
    model:    model,
    search:   search,
    maxSteps: defaultMaxSteps,
  }, nil
}

type orToolCallFunction struct {
  Name      string `json:"name"`
  Arguments string `json:"arguments"`
}

type orToolCall struct {
  ID       string             `json:"id"`
  Type     string             `json:"type"`
  Function orToolCallFunction `json:"function"`
}

type orMessage struct {
  Role       string       `json:"role"`
  Content    string       `json:"content"`
  ToolCalls  []orToolCall `json:"tool_calls,omitempty"`
  ToolCallID string       `json:"tool_call_id,omitempty"`
}

type orChatRequest struct {
  Model      string                   `json:"model"`
  Messages   []orMessage              `json:"messages"`
  Stream     bool                     `json:"stream"`
  Tools      []map[string]interface{} `json:"tools,omitempty"`
  ToolChoice string                   `json:"tool_choice,omitempty"`
}

type orStreamChunk struct {
  Choices []struct {
    Delta struct {
      Content   string `json:"content"`
      ToolCalls []struct {
        Index    int    `json:"index"`
        ID       string `json:"id"`
        Function struct {
          Name      string `json:"name"`
          Arguments string `json:"arguments"`
        } `json:"function"`
      } `json:"tool_calls"`
    } `json:"delta"`
    FinishReason string `json:"finish_reason"`
  } `json:"choices"`
  Error *struct {
    Message string `json:"message"`
  } `json:"error,omitempty"`
}

func searchToolDefinition() []map[string]interface{} {
  return []map[string]interface{}{
    {
      "type": "function",
      "function": map[string]interface{}{
        "name":        searchToolName,
        "description": "Search the web for current information",
        "parameters": map[string]interface{}{
          "type": "object",
          "properties": map[string]interface{}{
            "query": map[string]interface{}{
              "type":        "string",
              "description": "The query to search the web for",
            },
          },
          "required": []string{"query"},
        },
      },
    },
  }
}

// StreamChat drives the model through up to maxSteps completion rounds,
// executing the search tool between rounds, and emits events as they happen.
func (ors *openRouterService) StreamChat(ctx context.Context, system string, messages []types.UIMessage) (<-chan StreamEvent, <-chan error) {
  events := make(chan StreamEvent, 16)
  errs := make(chan error, 1)

  go func() {
    defer close(events)
    defer close(errs)

    wire := make([]orMessage, 0, len(messages)+1)
    if system != "" {
      wire = append(wire, orMessage{Role: "system", Content: system})
    }
    for _, m := range messages {
      var b strings.Builder
      for _, p := range m.Parts {
        if p.Type == types.PartTypeText {
          b.WriteString(p.Text)
        }
      }
      wire = append(wire, orMessage{Role: m.Role, Content: b.String()})
    }

    for step := 0; step < ors.maxSteps; step++ {
      content, toolCalls, finishReason, err := ors.streamOnce(ctx, wire, events)
      if err != nil {
        errs <- err
        return
      }
      if finishReason != "tool_calls" || len(toolCalls) == 0 {
        return
      }

      wire = append(wire, orMessage{Role: "assistant", Content: content, ToolCalls: toolCalls})
      for _, call := range toolCalls {
        toolMsg, err := ors.runTool(ctx, call, events)
        if err != nil {
          errs <- err
          return
        }
        wire = append(wire, toolMsg)
      }
    }
    ors.log.Warn("model hit the tool step ceiling without finishing", "maxSteps", ors.maxSteps)
  }()

  return events, errs
}

// streamOnce runs a single streamed completion, forwarding text deltas and
// accumulating any tool calls the model asks for.
func (ors *openRouterService) streamOnce(ctx context.Context, wire []orMessage, events chan<- StreamEvent) (string, []orToolCall, string, error) {
  reqBody := orChatRequest{
    Model:      ors.model,
    Messages:   wire,
    Stream:     true,
    Tools:      searchToolDefinition(),
    ToolChoice: "auto",
  }
  b, err := json.Marshal(reqBody)
  if err != nil {
    return "", nil, "", err
  }

  reqURL := fmt.Sprintf("%s/chat/completions", strings.TrimRight(ors.baseURL, "/"))
  req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(b))
  if err != nil {
    return "", nil, "", err
  }
  req.Header.Set("Content-Type", "application/json")
  req.Header.Set("Authorization", "Bearer "+ors.apiKey)

  resp, err := ors.client.Do(req)
  if err != nil {
    return "", nil, "", err
  }
  defer resp.Body.Close()

  if resp.StatusCode < 200 || resp.StatusCode > 299 {
    bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
    ors.log.Warn("openrouter responded with non-2xx", "statusCode", resp.StatusCode, "body", string(bodyBytes))
    return "", nil, "", fmt.Errorf("openrouter HTTP %d: %s", resp.StatusCode, string(bodyBytes))
  }

  var content strings.Builder
  var finishReason string
  pending := make(map[int]*orToolCall)
  order := make([]int, 0, 2)

  sc := bufio.NewScanner(resp.Body)
  buf := make([]byte, 0, 64*1024)
  sc.Buffer(buf, 2*1024*1024)

  for sc.Scan() {
    line := strings.TrimSpace(sc.Text())
    if line == "" || !strings.HasPrefix(line, "data:") {
      continue
    }
    data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
    if data == "[DONE]" {
      break
    }
    var chunk orStreamChunk
    if err := json.Unmarshal([]byte(data), &chunk); err != nil {
      return "", nil, "", fmt.Errorf("failed to decode stream chunk: %w", err)
    }
    if chunk.Error != nil && chunk.Error.Message != "" {
      return "", nil, "", fmt.Errorf("openrouter: %s", chunk.Error.Message)
    }
    if len(chunk.Choices) == 0 {
      continue
    }
    choice := chunk.Choices[0]
    if choice.FinishReason != "" {
      finishReason = choice.FinishReason
    }
    if choice.Delta.Content != "" {
      content.WriteString(choice.Delta.Content)
      select {
      case events <- StreamEvent{Type: EventTextDelta, Delta: choice.Delta.Content}:
      case <-ctx.Done():
        return "", nil, "", ctx.Err()
      }
    }
    for _, tc := range choice.Delta.ToolCalls {
      call, ok := pending[tc.Index]
      if !ok {
        call = &orToolCall{Type: "function"}
        pending[tc.Index] = call
        order = append(order, tc.Index)
      }
      if tc.ID != "" {
        call.ID = tc.ID
      }
      if tc.Function.Name != "" {
        call.Function.Name = tc.Function.Name
      }
      call.Function.Arguments += tc.Function.Arguments
    }
  }
  if err := sc.Err(); err != nil {
    return "", nil, "", err
  }

  toolCalls := make([]orToolCall, 0, len(pending))
  for _, idx := range order {
    toolCalls = append(toolCalls, *pending[idx])
  }
  return content.String(), toolCalls, finishReason, nil
}

// runTool executes one searchWeb invocation and returns the tool message to
// feed back to the model. The search call inherits ctx, so a client abort
// cancels it mid-flight.
func (ors *openRouterService) runTool(ctx context.Context, call orToolCall, events chan<- StreamEvent) (orMessage, error) {
  if call.Function.Name != searchToolName {
    return orMessage{}, fmt.Errorf("model requested unknown tool: '%s'", call.Function.Name)
  }
  args := json.RawMessage(call.Function.Arguments)

  select {
  case events <- StreamEvent{Type: EventToolCall, ToolCallID: call.ID, ToolName: call.Function.Name, Args: args}:
  case <-ctx.Done():
    return orMessage{}, ctx.Err()
  }

  var parsed struct {
    Query string `json:"query"`
  }
  if err := json.Unmarshal(args, &parsed); err != nil {
    return orMessage{}, fmt.Errorf("failed to parse search tool arguments: %w", err)
  }

  results, err := ors.search.Search(ctx, parsed.Query, 10)
  if err != nil {
    return orMessage{}, fmt.Errorf("search tool failed: %w", err)
  }
  resultJSON, err := json.Marshal(results)
  if err != nil {
    return orMessage{}, err
  }

  select {
  case events <- StreamEvent{Type: EventToolResult, ToolCallID: call.ID, ToolName: call.Function.Name, Result: resultJSON}:
  case <-ctx.Done():
    return orMessage{}, ctx.Err()
  }

  return orMessage{Role: "tool", ToolCallID: call.ID, Content: string(resultJSON)}, nil
}
