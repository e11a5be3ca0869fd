package dispatcher

import (
	"encoding/json"

	"github.com/minisource/evertask/internal/rrule"
)

func marshalRule(rule rrule.Rule) (json.RawMessage, error) {
	return json.Marshal(rule)
}

func unmarshalRule(raw json.RawMessage) (rrule.Rule, error) {
	var rule rrule.Rule
	if err := json.Unmarshal(raw, &rule); err != nil {
		return rrule.Rule{}, err
	}
	return rule, nil
}
