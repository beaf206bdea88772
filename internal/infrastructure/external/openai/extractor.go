package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/hvaldezm/delivery-incidents/internal/application/port"
)

// Extractor implements port.TicketExtractor using the OpenAI vision API.
// The lifecycle never trusts this output directly; the driver confirms the
// extraction before it gates anything.
type Extractor struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewExtractor creates a new ticket extractor
func NewExtractor(apiKey, model string, temperature float32, logger *zap.Logger) *Extractor {
	return &Extractor{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		logger:      logger,
	}
}

// extractionPayload mirrors the JSON schema the prompt asks for
type extractionPayload struct {
	StoreCode string `json:"store_code"`
	Items     []struct {
		Product  string  `json:"product"`
		Quantity float64 `json:"quantity"`
		Amount   float64 `json:"amount"`
	} `json:"items"`
	Total      float64 `json:"total"`
	Confidence float64 `json:"confidence"`
}

// Extract runs OCR over a ticket photo and returns the structured fields
func (e *Extractor) Extract(ctx context.Context, imageData []byte, mimeType string) (*port.TicketExtraction, error) {
	e.logger.Debug("Extracting ticket fields", zap.Int("image_bytes", len(imageData)))

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageData))

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: e.temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "You are an expert reader of Mexican retail delivery tickets. " +
					"Extract structured data from the ticket photo. Respond with JSON only: " +
					`{"store_code": string, "items": [{"product": string, "quantity": number, "amount": number}], "total": number, "confidence": number between 0 and 1}`,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Extract the store code, line items and total from this delivery ticket.",
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
					},
				},
			},
		},
	})
	if err != nil {
		e.logger.Error("OpenAI API call failed", zap.Error(err))
		return nil, fmt.Errorf("ticket extraction call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	content := resp.Choices[0].Message.Content

	var payload extractionPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		// Models sometimes wrap the JSON in markdown fences
		if jsonStr := extractJSON(content); jsonStr != "" {
			err = json.Unmarshal([]byte(jsonStr), &payload)
		}
		if err != nil {
			e.logger.Error("Failed to parse extraction response",
				zap.Error(err),
				zap.String("content", content))
			return nil, fmt.Errorf("failed to parse extraction response: %w", err)
		}
	}

	result := &port.TicketExtraction{
		StoreCode:  payload.StoreCode,
		Total:      payload.Total,
		Confidence: payload.Confidence,
	}
	for _, item := range payload.Items {
		result.Items = append(result.Items, port.TicketLine{
			Product:  item.Product,
			Quantity: item.Quantity,
			Amount:   item.Amount,
		})
	}

	e.logger.Info("Ticket extraction completed",
		zap.String("store_code", result.StoreCode),
		zap.Int("items", len(result.Items)),
		zap.Float64("confidence", result.Confidence))

	return result, nil
}

// extractJSON pulls a JSON object out of a markdown code fence
func extractJSON(content string) string {
	start := strings.Index(content, "```json")
	if start == -1 {
		start = strings.Index(content, "```")
		if start == -1 {
			return ""
		}
		start += 3
	} else {
		start += 7
	}

	end := strings.Index(content[start:], "```")
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(content[start : start+end])
}

var _ port.TicketExtractor = (*Extractor)(nil)
