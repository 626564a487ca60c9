package repository

import (
	"encoding/json"
	"strings"
)

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key")
}

// toJSON 把任意值编码为 JSON 文本列。nil 值编码为空串以省去空列噪音。
func toJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	s := string(b)
	if s == "null" {
		return "", nil
	}
	return s, nil
}

// fromJSON 把 JSON 文本列解码回目标值，空列视为零值。
func fromJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
