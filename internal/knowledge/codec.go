package knowledge

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// record 是持久化文件中每个标题对应的值：{"content": ..., "embedding": [...]}
type record struct {
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
}

// encode 按插入顺序写出 {title: {content, embedding}}。
func encode(titles []string, entries map[string]Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, title := range titles {
		e := entries[title]
		key, err := json.Marshal(title)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(record{Content: e.Content, Embedding: e.Embedding})
		if err != nil {
			return nil, err
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decode 逐 token 读取对象，保留文件中的键顺序。空内容视为空库。
func decode(data []byte) ([]string, map[string]Entry, error) {
	entries := make(map[string]Entry)
	var titles []string
	if len(bytes.TrimSpace(data)) == 0 {
		return titles, entries, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("read knowledge store: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("knowledge store must be a JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("read knowledge title: %w", err)
		}
		title, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected token %v in knowledge store", tok)
		}
		var rec record
		if err := dec.Decode(&rec); err != nil {
			return nil, nil, fmt.Errorf("read knowledge entry %q: %w", title, err)
		}
		if _, seen := entries[title]; !seen {
			titles = append(titles, title)
		}
		entries[title] = Entry{Title: title, Content: rec.Content, Embedding: rec.Embedding}
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, fmt.Errorf("read knowledge store: %w", err)
	}
	return titles, entries, nil
}
