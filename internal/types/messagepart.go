package types

import (
  "encoding/json"
  "fmt"

  "gorm.io/datatypes"
)

const (
  PartTypeText            = "text"
  PartTypeToolInvocation  = "tool-invocation"
  PartTypeToolResult      = "tool-result"
)

// MessagePart is one typed fragment of a message's content: plain text, a tool
// invocation, or a tool result. The storage layer treats the whole part list as
// an opaque jsonb blob; only the fields matching the part's Type are set.
type MessagePart struct {
  Type          string            `json:"type"`
  Text          string            `json:"text,omitempty"`
  ToolCallID    string            `json:"toolCallId,omitempty"`
  ToolName      string            `json:"toolName,omitempty"`
  Args          json.RawMessage   `json:"args,omitempty"`
  Result        json.RawMessage   `json:"result,omitempty"`
}

// UIMessage is the transport shape of one chat turn as exchanged with the
// client and replayed to the model.
type UIMessage struct {
  Role          string            `json:"role"`
  Parts         []MessagePart     `json:"parts"`
}

type SearchResult struct {
  Title         string            `json:"title"`
  Link          string            `json:"link"`
  Snippet       string            `json:"snippet"`
}

func MarshalParts(parts []MessagePart) (datatypes.JSON, error) {
  raw, err := json.Marshal(parts)
  if err != nil {
    return nil, fmt.Errorf("failed to marshal message parts: %w", err)
  }
  return datatypes.JSON(raw), nil
}

func UnmarshalParts(raw datatypes.JSON) ([]MessagePart, error) {
  var parts []MessagePart
  if len(raw) == 0 {
    return parts, nil
  }
  if err := json.Unmarshal(raw, &parts); err != nil {
    return nil, fmt.Errorf("failed to unmarshal message parts: %w", err)
  }
  return parts, nil
}
