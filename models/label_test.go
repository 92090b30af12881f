package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLabel_ResolvesSentinels(t *testing.T) {
	result, err := DecodeLabel([]byte(`{
		"item_name": " Cough syrup ",
		"expiry": "No date found",
		"usage": "10ml twice daily",
		"warnings": "May cause drowsiness",
		"ingredients": "None",
		"confidence_score": 0.42,
		"is_medicine": true,
		"visual_details": "N/A",
		"seal_status": "n/a",
		"quantity_estimate": "Half bottle"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "Cough syrup", result.ItemName)
	assert.Equal(t, "No date found", result.Expiry)
	require.NotNil(t, result.Warnings)
	assert.Equal(t, "May cause drowsiness", *result.Warnings)
	assert.Nil(t, result.Ingredients)
	assert.Nil(t, result.VisualDetails)
	assert.Nil(t, result.SealStatus)
	require.NotNil(t, result.QuantityEstimate)
	assert.True(t, result.IsMedicine)
	assert.Equal(t, 42, result.ConfidencePercent())
	assert.False(t, result.HasIngredients())
}

func TestDecodeLabel_CodeFence(t *testing.T) {
	result, err := DecodeLabel([]byte("```json\n{\"item_name\":\"Rice\"}\n```"))
	require.NoError(t, err)
	assert.Equal(t, "Rice", result.ItemName)
	assert.False(t, result.IsMedicine)
	assert.Equal(t, -1, result.ConfidencePercent())
}

func TestDecodeLabel_ClampsConfidence(t *testing.T) {
	result, err := DecodeLabel([]byte(`{"item_name":"Rice","confidence_score":1.7}`))
	require.NoError(t, err)
	assert.Equal(t, 100, result.ConfidencePercent())

	result, err = DecodeLabel([]byte(`{"item_name":"Rice","confidence_score":-0.2}`))
	require.NoError(t, err)
	assert.Equal(t, 0, result.ConfidencePercent())
}

func TestDecodeLabel_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"malformed", `{"item_name":`},
		{"not an object", `["Rice"]`},
		{"no name", `{"expiry":"2026"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeLabel([]byte(tt.input))
			require.Error(t, err)
			assert.True(t, IsCode(err, ErrAnalysis))
		})
	}
}

func TestIsSentinel(t *testing.T) {
	for _, s := range []string{"", "None", " N/A ", "unknown", "NULL", "कोई नहीं", "अज्ञात"} {
		assert.True(t, IsSentinel(s), s)
	}
	for _, s := range []string{"Nuts", "Sealed", "0"} {
		assert.False(t, IsSentinel(s), s)
	}
}

func TestPresent(t *testing.T) {
	v := "Dairy"
	none := "None"
	assert.True(t, Present(&v))
	assert.False(t, Present(&none))
	assert.False(t, Present(nil))
}
