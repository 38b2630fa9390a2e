package services

import (
  "bytes"
  "context"
  "encoding/json"
  "fmt"
  "io"
  "net/http"
  "time"

  "github.com/deepsearch-org/deepsearch-backend/internal/logger"
  "github.com/deepsearch-org/deepsearch-backend/internal/types"
)

type SearchService interface {
  Search(ctx context.Context, query string, num int) ([]types.SearchResult, error)
}

type serperService struct {
  log     *logger.Logger
  client  *http.Client
  baseURL string
  apiKey  string
}

type serperRequest struct {
  Q   string `json:"q"`
  Num int    `json:"num"`
}

type serperResponse struct {
  Organic []struct {
    Title   string `json:"title"`
    Link    string `json:"link"`
    Snippet string `json:"snippet"`
  } `json:"organic"`
}

func NewSerperService(log *logger.Logger, baseURL, apiKey string) (SearchService, error) {
  serviceLog := log.With("service", "SerperService")
  if baseURL == "" {
    baseURL = "https://google.serper.dev"
  }
  if apiKey == "" {
    serviceLog.Warn("SERPER_API_KEY not set; search tool calls will be unauthorized")
  }
  httpClient := &http.Client{
    Timeout: 15 * time.Second,
  }
  return &serperService{
    log:     serviceLog,
    client:  httpClient,
    baseURL: baseURL,
    apiKey:  apiKey,
  }, nil
}

// Search runs one web search and maps the organic results. The request is
// built from ctx so a client abort cancels the in-flight call.
func (ss *serperService) Search(ctx context.Context, query string, num int) ([]types.SearchResult, error) {
  if num <= 0 {
    num = 10
  }
  body, err := json.Marshal(serperRequest{Q: query, Num: num})
  if err != nil {
    return nil, err
  }
  reqURL := fmt.Sprintf("%s/search", ss.baseURL)
  req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
  if err != nil {
    ss.log.Warn("failed to build serper request", "error", err)
    return nil, err
  }
  req.Header.Set("Content-Type", "application/json")
  req.Header.Set("X-API-KEY", ss.apiKey)

  resp, err := ss.client.Do(req)
  if err != nil {
    ss.log.Warn("failed to call serper", "error", err)
    return nil, err
  }
  defer resp.Body.Close()

  if resp.StatusCode < 200 || resp.StatusCode > 299 {
    bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
    ss.log.Warn("serper responded with non-2xx", "statusCode", resp.StatusCode, "body", string(bodyBytes))
    return nil, fmt.Errorf("serper HTTP %d: %s", resp.StatusCode, string(bodyBytes))
  }

  var decoded serperResponse
  if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
    ss.log.Warn("failed to decode serper response body", "error", err)
    return nil, err
  }

  results := make([]types.SearchResult, 0, len(decoded.Organic))
  for _, r := range decoded.Organic {
    results = append(results, types.SearchResult{
      Title:   r.Title,
      Link:    r.Link,
      Snippet: r.Snippet,
    })
  }
  return results, nil
}
