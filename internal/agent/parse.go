package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoJSON = errors.New("no JSON object in agent response")

// decodeObject unmarshals the first JSON object in an agent reply. Models
// sometimes wrap the object in prose or a markdown fence.
func decodeObject(reply string, v any) error {
	reply = strings.TrimSpace(reply)
	if err := json.Unmarshal([]byte(reply), v); err == nil {
		return nil
	}
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return errNoJSON
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), v); err != nil {
		return fmt.Errorf("decode agent response: %w", err)
	}
	return nil
}
