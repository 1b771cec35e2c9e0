package guardian

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/lmittmann/tint"
)

// topicalKeywords gates whether the wiki lookup is attempted at all. This
// is a heuristic: false positives/negatives are acceptable.
var topicalKeywords = []string{
	"minecraft", "creeper", "diamond", "redstone", "enchant", "nether",
	"ender", "dragon", "wither", "villager", "iron golem", "farm",
	"crafting", "biome", "portal", "elytra", "beacon", "anvil",
	"brewing", "potion", "mob", "spawn", "block", "item",
}

// IsTopicalQuestion reports whether the message looks like a Minecraft
// question, via case-insensitive substring matching against a fixed
// keyword table.
func IsTopicalQuestion(message string) bool {
	lower := strings.ToLower(message)
	for _, keyword := range topicalKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// KnowledgeClient performs the two read-only HTTP lookups (Minecraft wiki
// search and DuckDuckGo Instant Answer). Both swallow all errors: any
// failure or empty result is logged and returned as "".
type KnowledgeClient struct {
	config     *LookupConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func newKnowledgeClient(
	config *LookupConfig,
	httpClient *http.Client,
	handler slog.Handler,
) *KnowledgeClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &KnowledgeClient{
		config:     config,
		httpClient: httpClient,
		logger:     slog.New(handler).With(loggerNameKey, "knowledge"),
	}
}

func (k *KnowledgeClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, k.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var body []byte
	body, err = readAllLimited(resp.Body)
	return body, err
}

// LookupWiki searches the Minecraft wiki's opensearch endpoint and returns
// a short formatted snippet naming the top page, or "" if nothing was
// found or the request failed.
func (k *KnowledgeClient) LookupWiki(ctx context.Context, query string) string {
	searchURL := fmt.Sprintf(
		"%s?action=opensearch&format=json&search=%s&limit=1",
		k.config.WikiURL,
		url.QueryEscape(query),
	)

	body, err := k.get(ctx, searchURL)
	if err != nil {
		k.logger.Warn("wiki search failed", tint.Err(err), "query", query)
		return ""
	}

	// opensearch responses are a 4-element array:
	// [query, [titles], [descriptions], [urls]]
	var result []json.RawMessage
	if err = json.Unmarshal(body, &result); err != nil || len(result) < 4 {
		k.logger.Warn("unexpected wiki response shape", tint.Err(err))
		return ""
	}

	var titles, pageURLs []string
	if err = json.Unmarshal(result[1], &titles); err != nil || len(titles) == 0 {
		return ""
	}
	if err = json.Unmarshal(result[3], &pageURLs); err != nil || len(pageURLs) == 0 {
		return ""
	}

	k.logger.Info("wiki page found", "title", titles[0])
	return fmt.Sprintf(
		"**Source: Minecraft Wiki**\n[%s](%s)\n\n"+
			"Page found - answering from official wiki data.",
		titles[0],
		pageURLs[0],
	)
}

// instantAnswer is the subset of the DuckDuckGo Instant Answer response
// the web lookup extracts from, in priority order.
type instantAnswer struct {
	AbstractText  string `json:"AbstractText"`
	Answer        string `json:"Answer"`
	Definition    string `json:"Definition"`
	RelatedTopics []struct {
		Text string `json:"Text"`
	} `json:"RelatedTopics"`
}

// LookupWeb queries the DuckDuckGo Instant Answer API and returns a short
// summary, or "" if nothing relevant came back or the request failed.
func (k *KnowledgeClient) LookupWeb(ctx context.Context, query string) string {
	searchURL := fmt.Sprintf(
		"%s?q=%s&format=json&no_html=1",
		k.config.WebURL,
		url.QueryEscape(query+" Minecraft"),
	)

	body, err := k.get(ctx, searchURL)
	if err != nil {
		k.logger.Warn("web search failed", tint.Err(err), "query", query)
		return ""
	}

	var answer instantAnswer
	if err = json.Unmarshal(body, &answer); err != nil {
		k.logger.Warn("unexpected web search response", tint.Err(err))
		return ""
	}

	summary := answer.AbstractText
	if summary == "" {
		summary = answer.Answer
	}
	if summary == "" {
		summary = answer.Definition
	}
	if summary == "" && len(answer.RelatedTopics) > 0 {
		summary = answer.RelatedTopics[0].Text
	}

	if summary == "" {
		return ""
	}
	return fmt.Sprintf("**Web Search Result**: %s", summary)
}
