package internal

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

// VisionModel is the contract the CSV-import and AI-scan orchestrators
// consume (§1 Non-goals: "does not implement the vision model itself").
// Gemini is the concrete implementation; the orchestrators only ever see
// this interface, mirroring how §4.3's Provider interface isolates the
// enrichment pipeline from any one provider's wire format.
type VisionModel interface {
	// ParseCSV sends raw CSV text plus a versioned parsing prompt and
	// returns the rows it extracted (§4.9 step 2).
	ParseCSV(ctx context.Context, csvText string, promptVersion string) ([]CSVRow, error)
	// DetectBooks sends image bytes and returns detected book spines
	// (§4.10 step 3).
	DetectBooks(ctx context.Context, image []byte, mimeType string) ([]Detection, error)
	// MaxSideLength and ContextWindowTokens describe the model's image
	// budget, used by the AI-scan orchestrator's resize step (§4.10 step 2).
	MaxSideLength() int
	ContextWindowTokens() int
}

// CSVRow is one row the vision model extracted from a CSV payload (§4.9).
type CSVRow struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	ISBN   string `json:"isbn,omitempty"`
}

// Detection is one book spine the vision model found in a photo (§4.10).
type Detection struct {
	Title       string       `json:"title"`
	Author      string       `json:"author,omitempty"`
	ISBN        string       `json:"isbn,omitempty"`
	Confidence  float64      `json:"confidence"`
	BoundingBox *BoundingBox `json:"boundingBox,omitempty"`
}

// csvParsePromptVersion is embedded in the cache key so a prompt change
// invalidates previously-parsed results (§4.9 step 2).
const csvParsePromptVersion = "csv-parse-v1"

// geminiModel is the concrete Gemini-backed VisionModel. It speaks a
// generic "generateContent"-shaped REST API, the same request/response
// skeleton Gemini's public API uses, over the teacher's throttled/scoped
// transport pattern (internal/transport.go) so it gets the same 10s
// deadline and backoff-on-429 behavior as every other outbound client.
type geminiModel struct {
	client    *http.Client
	maxSide   int
	ctxWindow int
}

// NewGeminiModel builds a VisionModel backed by the Gemini API. maxSide and
// ctxWindow describe the chosen model's image budget (§4.10 step 2); the
// gemini-1.5-flash defaults below match its published image limits.
func NewGeminiModel(apiKey Secret) VisionModel {
	return &geminiModel{
		client:    newProviderClient("generativelanguage.googleapis.com", 5, "key", apiKey),
		maxSide:   3072,
		ctxWindow: 1_000_000,
	}
}

func (g *geminiModel) MaxSideLength() int      { return g.maxSide }
func (g *geminiModel) ContextWindowTokens() int { return g.ctxWindow }

type geminiPart struct {
	Text       string `json:"text,omitempty"`
	InlineData *struct {
		MimeType string `json:"mimeType"`
		Data     string `json:"data"`
	} `json:"inlineData,omitempty"`
}

type geminiRequest struct {
	Contents []struct {
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (g *geminiModel) generate(ctx context.Context, parts []geminiPart) (string, error) {
	req := geminiRequest{Contents: []struct {
		Parts []geminiPart `json:"parts"`
	}{{Parts: parts}}}

	body, err := sonic.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"/v1beta/models/gemini-1.5-flash:generateContent", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", errTimeout
		}
		return "", errBadGateway
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var out geminiResponse
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decoding gemini response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", errBadGateway
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

// csvParsePrompt is the versioned prompt sent alongside raw CSV text
// (§4.9 step 2).
const csvParsePrompt = `Parse the following CSV of books into a JSON array of
objects with "title", "author", and optional "isbn" fields. Return only the
JSON array, no commentary.

CSV:
`

func (g *geminiModel) ParseCSV(ctx context.Context, csvText string, promptVersion string) ([]CSVRow, error) {
	text, err := g.generate(ctx, []geminiPart{{Text: csvParsePrompt + csvText}})
	if err != nil {
		return nil, err
	}
	var rows []CSVRow
	if err := sonic.Unmarshal([]byte(extractJSON(text)), &rows); err != nil {
		return nil, fmt.Errorf("decoding parsed CSV rows: %w", err)
	}
	return rows, nil
}

// scanDetectPrompt is the prompt sent alongside a bookshelf photo
// (§4.10 step 3).
const scanDetectPrompt = `Identify every book spine visible in this image.
Return a JSON array of objects with "title", optional "author", optional
"isbn", "confidence" (0-1), and "boundingBox" ({"x","y","w","h"} normalized
to [0,1]). Return only the JSON array, no commentary.`

func (g *geminiModel) DetectBooks(ctx context.Context, image []byte, mimeType string) ([]Detection, error) {
	part := geminiPart{InlineData: &struct {
		MimeType string `json:"mimeType"`
		Data     string `json:"data"`
	}{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(image)}}

	text, err := g.generate(ctx, []geminiPart{{Text: scanDetectPrompt}, part})
	if err != nil {
		return nil, err
	}
	var detections []Detection
	if err := sonic.Unmarshal([]byte(extractJSON(text)), &detections); err != nil {
		return nil, fmt.Errorf("decoding detections: %w", err)
	}
	for i := range detections {
		detections[i].BoundingBox.clamp()
	}
	return detections, nil
}

// extractJSON trims a model response down to its outermost []...] or
// {...} span, tolerating a model that wraps JSON in prose or code fences
// despite being asked not to.
func extractJSON(s string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '[' || s[i] == '{' {
			start = i
			open = s[i]
			if open == '[' {
				close = ']'
			} else {
				close = '}'
			}
			break
		}
	}
	if start == -1 {
		return s
	}
	for i := len(s) - 1; i >= start; i-- {
		if s[i] == close {
			return s[start : i+1]
		}
	}
	return s[start:]
}

// estimatedTokens approximates the vision model's token cost for an image
// (§4.10 step 2): (sizeKB/3) * 1000.
func estimatedTokens(sizeBytes int) int {
	sizeKB := float64(sizeBytes) / 1024
	return int((sizeKB / 3) * 1000)
}

const resizeDeadline = 10 * time.Second
