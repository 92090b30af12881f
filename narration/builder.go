// Package narration turns analysis results into spoken scripts and plays
// them through a single speech channel.
package narration

import (
	"fmt"
	"strings"

	"github.com/Perceptus-Labs/label-reader/models"
)

// LowConfidenceThreshold is the score below which the image is called unclear.
const LowConfidenceThreshold = 0.5

// SegmentKind identifies what a script segment says.
type SegmentKind string

const (
	SegmentCaution      SegmentKind = "caution"
	SegmentVerify       SegmentKind = "verify"
	SegmentUnclear      SegmentKind = "unclear"
	SegmentItem         SegmentKind = "item_name"
	SegmentWarnings     SegmentKind = "warnings"
	SegmentQuantity     SegmentKind = "quantity_estimate"
	SegmentExpiry       SegmentKind = "expiry"
	SegmentUsage        SegmentKind = "usage"
	SegmentVisual       SegmentKind = "visual_details"
	SegmentSeal         SegmentKind = "seal_status"
	SegmentAnswer       SegmentKind = "answer"
	SegmentAnnouncement SegmentKind = "announcement"
)

type Segment struct {
	Kind SegmentKind
	Text string
}

// Script is an ordered, read-only list of segments for one event.
type Script struct {
	Lang     models.Language
	segments []Segment
}

func newScript(lang models.Language, segments ...Segment) Script {
	return Script{Lang: lang, segments: segments}
}

// Segments returns a copy of the script's segments.
func (s Script) Segments() []Segment {
	out := make([]Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// Kinds returns the segment kinds in order.
func (s Script) Kinds() []SegmentKind {
	kinds := make([]SegmentKind, 0, len(s.segments))
	for _, seg := range s.segments {
		kinds = append(kinds, seg.Kind)
	}
	return kinds
}

// Segment returns the first segment of the given kind.
func (s Script) Segment(kind SegmentKind) (Segment, bool) {
	for _, seg := range s.segments {
		if seg.Kind == kind {
			return seg, true
		}
	}
	return Segment{}, false
}

func (s Script) Empty() bool {
	return len(s.segments) == 0
}

// Text is the spoken form: segments joined by ". ".
func (s Script) Text() string {
	parts := make([]string, 0, len(s.segments))
	for _, seg := range s.segments {
		t := strings.TrimRight(strings.TrimSpace(seg.Text), ".। ")
		if t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ". ") + "."
}

func labeled(lang models.Language, id models.MessageID, value string) string {
	return fmt.Sprintf("%s: %s", models.Message(lang, id), value)
}

// NormalizeWarnings returns the warning text to speak. For medicine the
// professional-verification phrase is always present, prepended when the
// analysis left it out. Absent non-medicine warnings read as "None".
func NormalizeWarnings(warnings *string, lang models.Language, isMedicine bool) string {
	existing := ""
	if models.Present(warnings) {
		existing = strings.TrimSpace(*warnings)
	}
	if !isMedicine {
		if existing == "" {
			return models.Message(lang, models.MsgNone)
		}
		return existing
	}

	verify := models.Message(lang, models.MsgVerifyProfessional)
	if strings.Contains(strings.ToLower(existing), strings.ToLower(verify)) {
		return existing
	}
	if existing == "" {
		return verify
	}
	return verify + " " + existing
}

// Build assembles the narration for an analysis result. It has no side
// effects: identical inputs give identical scripts.
func Build(result models.StructuredResult, lang models.Language, isMedicine bool) Script {
	var segs []Segment
	add := func(kind SegmentKind, text string) {
		segs = append(segs, Segment{Kind: kind, Text: text})
	}

	if isMedicine {
		add(SegmentCaution, models.Message(lang, models.MsgCautionMedicine))
		add(SegmentVerify, models.Message(lang, models.MsgVerifyProfessional))
	}

	if result.ConfidenceScore != nil && *result.ConfidenceScore < LowConfidenceThreshold {
		add(SegmentUnclear, models.Message(lang, models.MsgNoteUnclear))
	}

	add(SegmentItem, result.ItemName)

	warnings := labeled(lang, models.MsgWarningsLabel, NormalizeWarnings(result.Warnings, lang, isMedicine))
	expiry := labeled(lang, models.MsgExpiryLabel, result.Expiry)
	usage := labeled(lang, models.MsgUsageLabel, result.Usage)

	if isMedicine {
		add(SegmentWarnings, warnings)
		if models.Present(result.QuantityEstimate) {
			add(SegmentQuantity, labeled(lang, models.MsgQuantityLabel, *result.QuantityEstimate))
		}
		add(SegmentExpiry, expiry)
		add(SegmentUsage, usage)
		return newScript(lang, segs...)
	}

	if models.Present(result.VisualDetails) {
		add(SegmentVisual, strings.TrimSpace(*result.VisualDetails))
	}
	if models.Present(result.SealStatus) {
		add(SegmentSeal, labeled(lang, models.MsgSealStatusLabel, *result.SealStatus))
	}
	add(SegmentExpiry, expiry)
	add(SegmentUsage, usage)
	add(SegmentWarnings, warnings)
	return newScript(lang, segs...)
}

// Answer is the script for a follow-up answer. Only the answer is spoken.
func Answer(answer string, lang models.Language) Script {
	return newScript(lang, Segment{
		Kind: SegmentAnswer,
		Text: labeled(lang, models.MsgAnswerTitle, strings.TrimSpace(answer)),
	})
}

// Message is a single announcement from the language table, with optional
// trailing words (e.g. a scan mode name).
func Message(lang models.Language, id models.MessageID, extra ...string) Script {
	text := models.Message(lang, id)
	if len(extra) > 0 {
		text = text + " " + strings.Join(extra, " ")
	}
	return newScript(lang, Segment{Kind: SegmentAnnouncement, Text: text})
}
