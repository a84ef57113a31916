package sarif

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// MaxCompressedSize is the largest gzip compressed SARIF payload the code scanning API accepts
const MaxCompressedSize = 10 << 20

// Compress gzips and base64 encodes a SARIF payload as expected by the code scanning upload API.
// It returns the encoded payload and the gzip size in bytes.
func Compress(raw []byte) (string, int, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", 0, fmt.Errorf("failed to gzip SARIF: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to gzip SARIF: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), buf.Len(), nil
}

// WithCategory returns a copy of raw where every run's automationDetails.id is set to category.
// Unknown fields are preserved. An empty category returns raw unchanged.
func WithCategory(raw []byte, category string) ([]byte, error) {
	if category == "" {
		return raw, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	runs, ok := doc["runs"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: runs is not an array", ErrInvalidFormat)
	}
	for i, r := range runs {
		run, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: runs[%d] is not an object", ErrInvalidFormat, i)
		}
		details, _ := run["automationDetails"].(map[string]any)
		if details == nil {
			details = map[string]any{}
		}
		details["id"] = categoryID(category)
		run["automationDetails"] = details
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode SARIF: %w", err)
	}
	return out, nil
}

// WithDefaultMessages returns a copy of raw where every result without message text or id
// gets its ruleId as text. raw is returned unchanged when every result has a message.
func WithDefaultMessages(raw []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	filled := 0
	runs, _ := doc["runs"].([]any)
	for _, r := range runs {
		run, _ := r.(map[string]any)
		results, _ := run["results"].([]any)
		for _, res := range results {
			result, ok := res.(map[string]any)
			if !ok {
				continue
			}
			message, _ := result["message"].(map[string]any)
			if text, _ := message["text"].(string); text != "" {
				continue
			}
			if id, _ := message["id"].(string); id != "" {
				continue
			}
			if message == nil {
				message = map[string]any{}
			}
			text, _ := result["ruleId"].(string)
			if text == "" {
				text = defaultMessageText
			}
			message["text"] = text
			result["message"] = message
			filled++
		}
	}
	if filled == 0 {
		return raw, nil
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode SARIF: %w", err)
	}
	return out, nil
}

const defaultMessageText = "finding without message"

// categoryID follows the upload-sarif convention: the id ends with "/" so
// the endpoint treats it as a category rather than a run id
func categoryID(category string) string {
	if category[len(category)-1] == '/' {
		return category
	}
	return category + "/"
}

// Marshal encodes a document with 2-space indentation
func Marshal(doc *Document) ([]byte, error) {
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode SARIF: %w", err)
	}
	return out, nil
}
