package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// LabelPayload is the wire shape returned by the vision model. Optional
// fields may carry sentinel strings ("None", "N/A", "Unknown") instead of
// being omitted.
type LabelPayload struct {
	ItemName         string   `json:"item_name"`
	Expiry           string   `json:"expiry"`
	Usage            string   `json:"usage"`
	Warnings         string   `json:"warnings"`
	Ingredients      string   `json:"ingredients"`
	ConfidenceScore  *float64 `json:"confidence_score,omitempty"`
	IsMedicine       *bool    `json:"is_medicine,omitempty"`
	VisualDetails    string   `json:"visual_details,omitempty"`
	SealStatus       string   `json:"seal_status,omitempty"`
	QuantityEstimate string   `json:"quantity_estimate,omitempty"`
}

// StructuredResult is the analysed product description. A nil optional
// field means the value is absent or not applicable.
type StructuredResult struct {
	ItemName         string   `json:"item_name"`
	Expiry           string   `json:"expiry"`
	Usage            string   `json:"usage"`
	Warnings         *string  `json:"warnings,omitempty"`
	Ingredients      *string  `json:"ingredients,omitempty"`
	ConfidenceScore  *float64 `json:"confidence_score,omitempty"`
	IsMedicine       bool     `json:"is_medicine"`
	VisualDetails    *string  `json:"visual_details,omitempty"`
	SealStatus       *string  `json:"seal_status,omitempty"`
	QuantityEstimate *string  `json:"quantity_estimate,omitempty"`
}

// sentinels are compared lower-cased and trimmed, in both languages.
var sentinels = map[string]bool{
	"":          true,
	"none":      true,
	"n/a":       true,
	"na":        true,
	"unknown":   true,
	"null":      true,
	"कोई नहीं":  true,
	"लागू नहीं": true,
	"अज्ञात":    true,
}

// IsSentinel reports whether s is a placeholder meaning "no value".
func IsSentinel(s string) bool {
	return sentinels[strings.ToLower(strings.TrimSpace(s))]
}

func optional(s string) *string {
	if IsSentinel(s) {
		return nil
	}
	v := strings.TrimSpace(s)
	return &v
}

// ToResult resolves sentinels and clamps the confidence score.
func (p LabelPayload) ToResult() StructuredResult {
	r := StructuredResult{
		ItemName:         strings.TrimSpace(p.ItemName),
		Expiry:           strings.TrimSpace(p.Expiry),
		Usage:            strings.TrimSpace(p.Usage),
		Warnings:         optional(p.Warnings),
		Ingredients:      optional(p.Ingredients),
		VisualDetails:    optional(p.VisualDetails),
		SealStatus:       optional(p.SealStatus),
		QuantityEstimate: optional(p.QuantityEstimate),
	}
	if p.IsMedicine != nil {
		r.IsMedicine = *p.IsMedicine
	}
	if p.ConfidenceScore != nil && !math.IsNaN(*p.ConfidenceScore) {
		c := math.Min(math.Max(*p.ConfidenceScore, 0), 1)
		r.ConfidenceScore = &c
	}
	return r
}

// DecodeLabel parses a model response into a StructuredResult. Empty,
// malformed, or nameless payloads are analysis errors.
func DecodeLabel(data []byte) (StructuredResult, error) {
	text := strings.TrimSpace(string(data))
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return StructuredResult{}, NewAnalysisError("empty analysis response", nil)
	}

	var payload LabelPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return StructuredResult{}, NewAnalysisError("malformed analysis response", fmt.Errorf("failed to unmarshal label JSON: %w", err))
	}
	if strings.TrimSpace(payload.ItemName) == "" {
		return StructuredResult{}, NewAnalysisError("analysis response has no item_name", nil)
	}
	return payload.ToResult(), nil
}

// ConfidencePercent is the rounded confidence for display, or -1 when absent.
func (r StructuredResult) ConfidencePercent() int {
	if r.ConfidenceScore == nil {
		return -1
	}
	return int(math.Round(*r.ConfidenceScore * 100))
}

// HasIngredients reports whether ingredients should be shown.
func (r StructuredResult) HasIngredients() bool {
	return Present(r.Ingredients)
}

// Present reports whether an optional field carries a real value.
func Present(v *string) bool {
	return v != nil && !IsSentinel(*v)
}
