package worker

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/chicoryai/taskrunner/internal/graph"
)

// extractResponse implements the first half of spec.md §4.4.3's terminal
// classification: if the accumulated history carries a "generation" node,
// its value is the response; otherwise the whole history is coerced to a
// string.
func extractResponse(history map[graph.NodeKind]any) string {
	if val, ok := history[graph.NodeGeneration]; ok {
		return stringifyNodeValue(val)
	}
	if len(history) == 0 {
		return ""
	}
	return stringifyHistory(history)
}

// stringifyNodeValue renders one node's emitted payload as text: a bare
// string passes through, a map carrying its own "response" field uses
// that, everything else is JSON-serialised.
func stringifyNodeValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		if response, ok := val["response"].(string); ok {
			return response
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// stringifyHistory coerces the full node-history map to a stable string
// when no "generation" node was ever emitted.
func stringifyHistory(history map[graph.NodeKind]any) string {
	plain := make(map[string]any, len(history))
	for node, val := range history {
		plain[string(node)] = val
	}
	data, err := json.Marshal(plain)
	if err != nil {
		keys := make([]string, 0, len(history))
		for node := range history {
			keys = append(keys, string(node))
		}
		sort.Strings(keys)
		return strings.Join(keys, ",")
	}
	return string(data)
}

// responseIndicatesCancelled detects the canonical cancellation text or a
// `cancelled=true` flag embedded in the response payload (spec.md §4.4.3).
func responseIndicatesCancelled(response string) bool {
	if response == "" {
		return false
	}
	if strings.Contains(response, "Task was cancelled by user.") {
		return true
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(response), &parsed); err == nil {
		if cancelled, ok := parsed["cancelled"].(bool); ok && cancelled {
			return true
		}
	}
	return false
}
