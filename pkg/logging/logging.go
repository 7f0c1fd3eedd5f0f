package logging

import (
	"encoding/json"
	"log"
	"time"
)

type Fields struct {
	Service    string `json:"service"`
	AttemptID  string `json:"attempt_id,omitempty"`
	OrderID    string `json:"order_id,omitempty"`
	EventID    string `json:"event_id,omitempty"`
	Step       string `json:"step,omitempty"`
	Status     string `json:"status,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	Message    string `json:"message,omitempty"`
}

func Log(fields Fields) {
	payload := map[string]any{
		"service":   fields.Service,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	put := func(k, v string) {
		if v != "" {
			payload[k] = v
		}
	}
	put("attempt_id", fields.AttemptID)
	put("order_id", fields.OrderID)
	put("event_id", fields.EventID)
	put("step", fields.Step)
	put("status", fields.Status)
	put("error", fields.Error)
	put("message", fields.Message)
	if fields.DurationMS > 0 {
		payload["duration_ms"] = fields.DurationMS
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("{\"service\":%q,\"status\":\"log_error\",\"error\":%q}", fields.Service, err.Error())
		return
	}
	log.Print(string(data))
}

// Since returns the elapsed milliseconds for Fields.DurationMS.
func Since(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// Err is err.Error(), or "" for nil.
func Err(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
