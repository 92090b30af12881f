package utils

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Perceptus-Labs/label-reader/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturedRequest struct {
	Path   string
	Auth   string
	Body   map[string]interface{}
	Status int
}

func chatServer(t *testing.T, status int, content string, got *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Path = r.URL.Path
		got.Auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got.Body))
		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(`{"error":"boom"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": content}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOpenAI(srv *httptest.Server, opts ...OpenAIOption) *OpenAIClient {
	opts = append([]OpenAIOption{WithBaseURL(srv.URL), WithOpenAILogger(zap.NewNop())}, opts...)
	return NewOpenAIClient("sk-test", opts...)
}

func TestAnalyze_DecodesLabel(t *testing.T) {
	var got capturedRequest
	srv := chatServer(t, http.StatusOK, `{"item_name":"Paracetamol","expiry":"03/2027","usage":"One tablet","warnings":"None","ingredients":"Paracetamol","confidence_score":0.92,"is_medicine":true,"visual_details":"N/A","seal_status":"N/A","quantity_estimate":"About 10 pills"}`, &got)
	client := newTestOpenAI(srv)

	result, err := client.Analyze(context.Background(), [][]byte{{1, 2}, {3, 4}}, models.LanguageHindi)
	require.NoError(t, err)

	assert.Equal(t, "/chat/completions", got.Path)
	assert.Equal(t, "Bearer sk-test", got.Auth)
	assert.Equal(t, "gpt-4o", got.Body["model"])

	messages := got.Body["messages"].([]interface{})
	system := messages[0].(map[string]interface{})["content"].(string)
	assert.Contains(t, system, "into Hindi")
	user := messages[1].(map[string]interface{})["content"].([]interface{})
	assert.Len(t, user, 3, "two images and the instruction")

	assert.Equal(t, "Paracetamol", result.ItemName)
	assert.True(t, result.IsMedicine)
	assert.Nil(t, result.Warnings)
	assert.Nil(t, result.VisualDetails)
	require.NotNil(t, result.QuantityEstimate)
	assert.Equal(t, 92, result.ConfidencePercent())
}

func TestAnalyze_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		content string
	}{
		{"http error", http.StatusInternalServerError, ""},
		{"malformed", http.StatusOK, "I cannot read this label"},
		{"missing name", http.StatusOK, `{"expiry":"2026"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got capturedRequest
			client := newTestOpenAI(chatServer(t, tt.status, tt.content, &got))
			_, err := client.Analyze(context.Background(), [][]byte{{1}}, models.LanguageEnglish)
			assert.True(t, models.IsCode(err, models.ErrAnalysis), "got %v", err)
		})
	}
}

func TestAnalyze_NoImages(t *testing.T) {
	client := NewOpenAIClient("sk-test")
	_, err := client.Analyze(context.Background(), nil, models.LanguageEnglish)
	assert.True(t, models.IsCode(err, models.ErrAnalysis))
}

type staticNotes struct {
	notes []string
	err   error
	query string
}

func (n *staticNotes) Lookup(_ context.Context, query string) ([]string, error) {
	n.query = query
	return n.notes, n.err
}

func TestAskFollowUp_IncludesResultAndNotes(t *testing.T) {
	var got capturedRequest
	srv := chatServer(t, http.StatusOK, "  It contains nuts.  ", &got)
	notes := &staticNotes{notes: []string{"My brand of peanut butter is crunchy"}}
	client := newTestOpenAI(srv, WithProductNotes(notes))

	result := models.StructuredResult{ItemName: "Peanut butter", Expiry: "2026", Usage: "Spread"}
	answer, err := client.AskFollowUp(context.Background(), [][]byte{{9}}, result, "Does it have nuts?", models.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, "It contains nuts.", answer)

	system := got.Body["messages"].([]interface{})[0].(map[string]interface{})["content"].(string)
	assert.Contains(t, system, `"item_name":"Peanut butter"`)
	assert.Contains(t, system, "My brand of peanut butter is crunchy")
	assert.True(t, strings.HasPrefix(notes.query, "Peanut butter"))
}

func TestAskFollowUp_NotesFailureIsIgnored(t *testing.T) {
	var got capturedRequest
	srv := chatServer(t, http.StatusOK, "Yes.", &got)
	client := newTestOpenAI(srv, WithProductNotes(&staticNotes{err: errors.New("index down")}))

	answer, err := client.AskFollowUp(context.Background(), nil, models.StructuredResult{ItemName: "Tea"}, "Caffeine?", models.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, "Yes.", answer)
}

func TestAskFollowUp_Failures(t *testing.T) {
	var got capturedRequest
	client := newTestOpenAI(chatServer(t, http.StatusBadGateway, "", &got))
	_, err := client.AskFollowUp(context.Background(), nil, models.StructuredResult{ItemName: "Tea"}, "Caffeine?", models.LanguageEnglish)
	assert.True(t, models.IsCode(err, models.ErrQuestion))

	client = newTestOpenAI(chatServer(t, http.StatusOK, "   ", &got))
	_, err = client.AskFollowUp(context.Background(), nil, models.StructuredResult{ItemName: "Tea"}, "Caffeine?", models.LanguageEnglish)
	assert.True(t, models.IsCode(err, models.ErrQuestion))
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	vec, err := newTestOpenAI(srv).Embed(context.Background(), "oat milk")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}
