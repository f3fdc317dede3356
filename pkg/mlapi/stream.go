package mlapi

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// consumeStream reads the response body in chunks, calling onChunk with the
// cumulative buffer after each read, then parses the first complete JSON
// object out of the buffer. A buffer with no parseable object is wrapped
// under a raw key rather than failing the call.
func consumeStream(body io.Reader, onChunk ChunkFunc) (map[string]any, error) {
	var buffer []byte
	chunk := make([]byte, 4096)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
			onChunk(string(buffer))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "mlapi: read stream")
		}
	}

	text := string(buffer)
	if obj, ok := extractJSONObject(text); ok {
		var result map[string]any
		if err := json.Unmarshal([]byte(obj), &result); err == nil {
			return result, nil
		}
	}
	return map[string]any{"raw": text}, nil
}

// extractJSONObject returns the first balanced top-level JSON object in s.
// Braces inside string literals do not count toward the balance.
func extractJSONObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if start >= 0 {
				inString = true
			}
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
