package store

import "encoding/json"

// String slices on scenario child rows (role names, prompt variants) are
// stored as JSON arrays; both SQLite and PostgreSQL keep them opaque.

func joinList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	b, err := json.Marshal(items)
	if err != nil {
		return ""
	}
	return string(b)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil
	}
	return items
}
