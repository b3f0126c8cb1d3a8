package llm

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// imageEnvelope is the single normalized schema for every chunk shape the
// image vendors emit. Fields are optional; extractImages decides which one
// wins.
//
// Extraction priority:
//  1. candidates[].content.parts[].inlineData (or inline_data): base64 bytes
//  2. candidates[].content.parts[].fileData.fileUri: hosted file
//  3. choices[].delta.images[] / choices[].message.images[]: OpenAI-compatible gateways
//  4. data[].b64_json then data[].url: images API style
type imageEnvelope struct {
	Candidates []struct {
		FinishReason string `json:"finishReason,omitempty"`
		Content      struct {
			Parts []envelopePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Choices []struct {
		Delta   *envelopeMessage `json:"delta,omitempty"`
		Message *envelopeMessage `json:"message,omitempty"`
	} `json:"choices"`
	Data  []envelopeDatum `json:"data"`
	Error *envelopeError  `json:"error,omitempty"`
}

type envelopePart struct {
	Text            string        `json:"text,omitempty"`
	InlineData      *envelopeBlob `json:"inlineData,omitempty"`
	InlineDataSnake *envelopeBlob `json:"inline_data,omitempty"`
	FileData        *struct {
		FileURI  string `json:"fileUri"`
		MimeType string `json:"mimeType"`
	} `json:"fileData,omitempty"`
}

type envelopeBlob struct {
	MimeType      string `json:"mimeType"`
	MimeTypeSnake string `json:"mime_type"`
	Data          string `json:"data"`
}

type envelopeMessage struct {
	Content json.RawMessage `json:"content,omitempty"`
	Images  []struct {
		ImageURL struct {
			URL string `json:"url"`
		} `json:"image_url"`
	} `json:"images"`
}

type envelopeDatum struct {
	URL     string `json:"url"`
	B64JSON string `json:"b64_json"`
}

type envelopeError struct {
	Code    int             `json:"code"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// extractImages returns the images of one envelope in priority order.
func extractImages(env imageEnvelope) []string {
	var inline, files, gateway, direct []string
	for _, cand := range env.Candidates {
		for _, part := range cand.Content.Parts {
			blob := part.InlineData
			if blob == nil {
				blob = part.InlineDataSnake
			}
			if blob != nil && strings.TrimSpace(blob.Data) != "" {
				mimeType := blob.MimeType
				if mimeType == "" {
					mimeType = blob.MimeTypeSnake
				}
				inline = append(inline, "data:"+fallbackMime(mimeType)+";base64,"+strings.TrimSpace(blob.Data))
			}
			if part.FileData != nil && strings.TrimSpace(part.FileData.FileURI) != "" {
				files = append(files, strings.TrimSpace(part.FileData.FileURI))
			}
		}
	}
	for _, choice := range env.Choices {
		for _, msg := range []*envelopeMessage{choice.Delta, choice.Message} {
			if msg == nil {
				continue
			}
			for _, img := range msg.Images {
				if url := strings.TrimSpace(img.ImageURL.URL); url != "" {
					gateway = append(gateway, url)
				}
			}
		}
	}
	for _, datum := range env.Data {
		if b64 := strings.TrimSpace(datum.B64JSON); b64 != "" {
			direct = append(direct, "data:image/png;base64,"+b64)
		} else if url := strings.TrimSpace(datum.URL); url != "" {
			direct = append(direct, url)
		}
	}

	for _, group := range [][]string{inline, files, gateway, direct} {
		if len(group) > 0 {
			return group
		}
	}
	return nil
}

func envelopeText(env imageEnvelope) string {
	var text string
	for _, cand := range env.Candidates {
		for _, part := range cand.Content.Parts {
			text = appendLine(text, part.Text)
		}
	}
	for _, choice := range env.Choices {
		if choice.Delta != nil {
			text = appendLine(text, rawContentText(choice.Delta.Content))
		}
	}
	return text
}

func rawContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// streamResult is everything collected from one response body.
type streamResult struct {
	Images []string
	Text   string
	Err    *envelopeError
}

// decodeImageStream reads an SSE body (`data: {...}` lines, optional
// `[DONE]`) and collects images across chunks. When no chunk yields an
// image, the whole buffered body is parsed as one JSON document (object
// or array of objects) before giving up.
func decodeImageStream(r io.Reader) (streamResult, error) {
	var (
		result streamResult
		raw    bytes.Buffer
		seen   = make(map[string]struct{})
	)
	collect := func(env imageEnvelope) {
		if env.Error != nil && result.Err == nil {
			result.Err = env.Error
		}
		result.Text = appendLine(result.Text, envelopeText(env))
		for _, img := range extractImages(env) {
			if _, dup := seen[img]; dup {
				continue
			}
			seen[img] = struct{}{}
			result.Images = append(result.Images, img)
		}
	}

	scanner := bufio.NewScanner(io.TeeReader(r, &raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}
		if payload == "" {
			continue
		}
		var env imageEnvelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			continue
		}
		collect(env)
	}
	if err := scanner.Err(); err != nil {
		if len(result.Images) == 0 {
			return result, fmt.Errorf("read stream: %w", err)
		}
		// connection dropped after images arrived; keep them
		logrus.WithError(err).WithField("images", len(result.Images)).Warn("image_stream_truncated")
	}
	if len(result.Images) > 0 {
		return result, nil
	}

	// drain whatever follows an early [DONE] so the fallback sees the full body
	_, _ = io.Copy(io.Discard, io.TeeReader(r, &raw))
	for _, env := range decodeWholeBody(raw.Bytes()) {
		collect(env)
	}
	return result, nil
}

func decodeWholeBody(body []byte) []imageEnvelope {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '[' {
		var list []imageEnvelope
		if err := json.Unmarshal(trimmed, &list); err == nil {
			return list
		}
		return nil
	}
	var env imageEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil
	}
	return []imageEnvelope{env}
}

// appendLine concatenates messages with newlines, avoiding empty prefixes.
func appendLine(current, next string) string {
	next = strings.TrimSpace(next)
	if next == "" {
		return current
	}
	if strings.TrimSpace(current) == "" {
		return next
	}
	return current + "\n" + next
}
