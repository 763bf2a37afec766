package ai

import (
	"encoding/json"
	"errors"
	"strings"

	"recruiting-ai-queue/internal/apperr"
)

// DecodeJSON parses a JSON object from model output into dst. It tries the text as-is, then with a
// Markdown code fence removed, then the outermost {...} span. Anything else is a malformed response.
func DecodeJSON(raw string, dst any) error {
	candidates := []string{strings.TrimSpace(raw)}
	if unfenced, ok := stripFence(raw); ok {
		candidates = append(candidates, unfenced)
	}
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		candidates = append(candidates, raw[start:end+1])
	}

	var lastErr error
	for _, c := range candidates {
		if c == "" {
			continue
		}
		// Non-object JSON such as null would decode into a zero result.
		if !strings.HasPrefix(c, "{") {
			lastErr = errors.New("response is not a JSON object")
			continue
		}
		if err := json.Unmarshal([]byte(c), dst); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("empty response")
	}
	return apperr.MalformedAIResponse(lastErr)
}

func stripFence(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return "", false
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the info string ("json") on the opening line.
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s), true
}
