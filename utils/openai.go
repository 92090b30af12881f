package utils

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Perceptus-Labs/label-reader/models"
	"go.uber.org/zap"
)

const (
	defaultOpenAIBaseURL  = "https://api.openai.com/v1"
	defaultVisionModel    = "gpt-4o"
	defaultEmbeddingModel = "text-embedding-ada-002"
)

// ProductNotes looks up user-saved notes relevant to a query.
type ProductNotes interface {
	Lookup(ctx context.Context, query string) ([]string, error)
}

type OpenAIClient struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	BaseURL        string
	Client         *http.Client
	Notes          ProductNotes
	Logger         *zap.Logger
}

type GPTMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type GPTResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type ImageContent struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type OpenAIOption func(*OpenAIClient)

func WithModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		if model != "" {
			c.Model = model
		}
	}
}

func WithBaseURL(url string) OpenAIOption {
	return func(c *OpenAIClient) {
		if url != "" {
			c.BaseURL = strings.TrimRight(url, "/")
		}
	}
}

func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(c *OpenAIClient) { c.Client = client }
}

// WithProductNotes adds saved notes to follow-up answers.
func WithProductNotes(notes ProductNotes) OpenAIOption {
	return func(c *OpenAIClient) { c.Notes = notes }
}

func WithOpenAILogger(l *zap.Logger) OpenAIOption {
	return func(c *OpenAIClient) { c.Logger = l }
}

func NewOpenAIClient(apiKey string, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		APIKey:         apiKey,
		Model:          defaultVisionModel,
		EmbeddingModel: defaultEmbeddingModel,
		BaseURL:        defaultOpenAIBaseURL,
		Client:         &http.Client{Timeout: 60 * time.Second},
		Logger:         zap.L(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func labelInstructions(lang models.Language) string {
	out := lang.DisplayName()
	return fmt.Sprintf(`You are LabelReader, an assistive AI for visually impaired users.
Your task is to analyze one or more images of a product label or object and extract key information.
If multiple images are provided, they show different sides of the same product. Combine the information found on all of them.

Return the JSON object only, no other text, in the following format:
{
	"item_name": string,
	"expiry": string,
	"usage": string,
	"warnings": string,
	"ingredients": string,
	"confidence_score": float,
	"is_medicine": boolean,
	"visual_details": string,
	"seal_status": string,
	"quantity_estimate": string
}

Rules:
1. "item_name": Short, clear name.
2. "expiry": Expiration date if visible. If not found, say "No date found" (translated to %[1]s).
3. "usage": A 1-sentence summary of how to use, cook or consume it.
4. "warnings": Any allergen warnings (nuts, dairy) or safety warnings (flammable, medicine dosage). If none, say "None" (translated to %[1]s).
5. "ingredients": The main ingredients if clearly visible. If none found, say "None" (translated to %[1]s).
6. "confidence_score": A number between 0.0 and 1.0 indicating how readable the text is.
7. "is_medicine": true if it looks like a medication or pill bottle.
8. "visual_details": If is_medicine is false, describe color, shape and packaging (e.g. "Red cylindrical metal can"). If is_medicine is true, return "N/A".
9. "seal_status": If is_medicine is false, estimate whether the item is "Sealed" or "Opened" from the cap or lid. If unsure, say "Unknown". If is_medicine is true, return "N/A".
10. "quantity_estimate": If is_medicine is true, estimate the quantity left (e.g. "Full bottle", "About 10 pills", "Cannot see inside"). If is_medicine is false, return "N/A".

Translate the VALUES of "item_name", "expiry", "usage", "warnings", "ingredients", "visual_details", "seal_status" and "quantity_estimate" into %[1]s. Do not translate the keys.

If the confidence score is below 0.5, set "item_name" to "Image unclear" (translated) and suggest retaking the photo in "usage".`, out)
}

func imageParts(images [][]byte) []ImageContent {
	parts := make([]ImageContent, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, ImageContent{
			Type:     "image_url",
			ImageURL: &ImageURL{URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img)},
		})
	}
	return parts
}

// Analyze sends the frames to the vision model and decodes the label it
// describes. All failures are ANALYSIS_FAILURE errors.
func (c *OpenAIClient) Analyze(ctx context.Context, images [][]byte, lang models.Language) (models.StructuredResult, error) {
	if len(images) == 0 {
		return models.StructuredResult{}, models.NewAnalysisError("no frames to analyze", nil)
	}

	content := append(imageParts(images), ImageContent{
		Type: "text",
		Text: fmt.Sprintf("Analyze this product. Output the content in %s.", lang.DisplayName()),
	})
	requestBody := map[string]interface{}{
		"model": c.Model,
		"messages": []GPTMessage{
			{Role: "system", Content: labelInstructions(lang)},
			{Role: "user", Content: content},
		},
		"response_format": map[string]string{"type": "json_object"},
		"max_tokens":      1000,
	}

	text, err := c.chatCompletion(ctx, requestBody)
	if err != nil {
		return models.StructuredResult{}, models.NewAnalysisError("label analysis failed", err)
	}
	result, err := models.DecodeLabel([]byte(text))
	if err != nil {
		c.Logger.Warn("Failed to decode label analysis", zap.Error(err), zap.String("content", text))
		return models.StructuredResult{}, err
	}
	return result, nil
}

// AskFollowUp answers a question about an analysed product, briefly and in
// the requested language.
func (c *OpenAIClient) AskFollowUp(ctx context.Context, images [][]byte, result models.StructuredResult, question string, lang models.Language) (string, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return "", models.NewQuestionError("failed to encode analysis", err)
	}

	system := fmt.Sprintf(`You are a helpful assistant for the visually impaired.
You have already analyzed the product image(s) and found: %s.
The user is asking a follow-up question.
Answer briefly, clearly, and directly in %s.`, resultJSON, lang.DisplayName())

	if notes := c.lookupNotes(ctx, result.ItemName+" "+question); len(notes) > 0 {
		system += "\n\nNotes the user saved about products like this one:\n- " + strings.Join(notes, "\n- ")
	}

	content := append(imageParts(images), ImageContent{Type: "text", Text: "Question: " + question})
	requestBody := map[string]interface{}{
		"model": c.Model,
		"messages": []GPTMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: content},
		},
		"max_tokens": 300,
	}

	answer, err := c.chatCompletion(ctx, requestBody)
	if err != nil {
		return "", models.NewQuestionError("follow-up question failed", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", models.NewQuestionError("empty answer", nil)
	}
	return answer, nil
}

func (c *OpenAIClient) lookupNotes(ctx context.Context, query string) []string {
	if c.Notes == nil {
		return nil
	}
	notes, err := c.Notes.Lookup(ctx, query)
	if err != nil {
		// Answer without notes.
		c.Logger.Warn("Failed to look up product notes", zap.Error(err))
		return nil
	}
	return notes
}

func (c *OpenAIClient) post(ctx context.Context, path string, requestBody interface{}) ([]byte, error) {
	requestBodyBytes, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OpenAI API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return bodyBytes, nil
}

func (c *OpenAIClient) chatCompletion(ctx context.Context, requestBody map[string]interface{}) (string, error) {
	bodyBytes, err := c.post(ctx, "/chat/completions", requestBody)
	if err != nil {
		return "", err
	}

	var response GPTResponse
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return "", fmt.Errorf("failed to unmarshal response JSON: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI API response")
	}

	content := response.Choices[0].Message.Content
	c.Logger.Debug("OpenAI response content", zap.String("content", content))
	return content, nil
}

// Embed returns the embedding vector for text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	bodyBytes, err := c.post(ctx, "/embeddings", map[string]interface{}{
		"input": text,
		"model": c.EmbeddingModel,
	})
	if err != nil {
		return nil, err
	}

	var responseData struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(bodyBytes, &responseData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response JSON: %w", err)
	}
	if len(responseData.Data) == 0 {
		return nil, fmt.Errorf("no data in OpenAI API response")
	}
	return responseData.Data[0].Embedding, nil
}
