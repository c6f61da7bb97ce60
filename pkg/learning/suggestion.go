package learning

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// SuggestionID derives a stable id from a topic and the batch it came from.
func SuggestionID(topic, batchID string) string {
	if batchID == "" {
		batchID = "none"
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(topic)) + ":" + batchID))
	return hex.EncodeToString(sum[:])[:16]
}

// StrategySuggestion is one entry of the agent's next_video_suggestions.
type StrategySuggestion struct {
	Topic             string   `json:"topic"`
	Why               string   `json:"why"`
	ReferenceChannels []string `json:"reference_channels"`
	EstimatedAppeal   string   `json:"estimated_appeal"`
}

// Strategy is the subset of an agent analysis result that carries suggestions.
type Strategy struct {
	BatchID       string               `json:"batch_id"`
	OriginChannel string               `json:"origin_channel"`
	Suggestions   []StrategySuggestion `json:"next_video_suggestions"`
}

// SuggestionsFromStrategy converts a strategy into suggestions stamped with
// now. Entries without a topic are dropped.
func SuggestionsFromStrategy(st Strategy, now time.Time) []Suggestion {
	var out []Suggestion
	for _, s := range st.Suggestions {
		topic := strings.TrimSpace(s.Topic)
		if topic == "" {
			continue
		}
		out = append(out, Suggestion{
			ID:                SuggestionID(topic, st.BatchID),
			BatchID:           st.BatchID,
			Topic:             topic,
			Rationale:         strings.TrimSpace(s.Why),
			Keywords:          Keywords(topic + " " + s.Why),
			ReferenceChannels: s.ReferenceChannels,
			OriginChannel:     st.OriginChannel,
			EstimatedAppeal:   parseAppeal(s.EstimatedAppeal),
			CreatedAt:         now.UTC(),
		})
	}
	return out
}

func parseAppeal(s string) Appeal {
	switch Appeal(strings.ToLower(strings.TrimSpace(s))) {
	case AppealHigh:
		return AppealHigh
	case AppealLow:
		return AppealLow
	default:
		return AppealMedium
	}
}
