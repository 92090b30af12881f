package models

import (
	"fmt"
	"strings"
)

// Language selects the table every spoken and displayed string comes from.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageHindi   Language = "hi"
)

// Languages lists the supported languages.
var Languages = []Language{LanguageEnglish, LanguageHindi}

// ParseLanguage accepts "en" or "hi".
func ParseLanguage(s string) (Language, error) {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case LanguageEnglish:
		return LanguageEnglish, nil
	case LanguageHindi:
		return LanguageHindi, nil
	default:
		return LanguageEnglish, NewInvalidRequest(fmt.Sprintf("unsupported language %q", s))
	}
}

// Locale is the BCP 47 tag handed to the speech engine.
func (l Language) Locale() string {
	if l == LanguageHindi {
		return "hi-IN"
	}
	return "en-US"
}

// DisplayName is the language name used in model prompts.
func (l Language) DisplayName() string {
	return Message(l, MsgLanguageName)
}

type MessageID string

const (
	MsgCameraPermission   MessageID = "cameraPermission"
	MsgCameraReady        MessageID = "cameraReady"
	MsgAnalyzing          MessageID = "analyzing"
	MsgAnalysisError      MessageID = "analysisError"
	MsgItemLabel          MessageID = "itemLabel"
	MsgExpiryLabel        MessageID = "expiryLabel"
	MsgUsageLabel         MessageID = "usageLabel"
	MsgWarningsLabel      MessageID = "warningsLabel"
	MsgIngredientsLabel   MessageID = "ingredientsLabel"
	MsgVerifyProfessional MessageID = "verifyProfessional"
	MsgNoteUnclear        MessageID = "noteUnclear"
	MsgCautionMedicine    MessageID = "cautionMedicine"
	MsgNone               MessageID = "none"
	MsgLanguageName       MessageID = "languageName"
	MsgLanguageSet        MessageID = "languageSet"
	MsgAnswerTitle        MessageID = "answerTitle"
	MsgThinking           MessageID = "thinking"
	MsgAskError           MessageID = "askError"
	MsgListening          MessageID = "listening"
	MsgMicError           MessageID = "micError"
	MsgQuickScan          MessageID = "quickScan"
	MsgFullScan           MessageID = "fullScan"
	MsgModeChanged        MessageID = "modeChanged"
	MsgRotateInstruction  MessageID = "rotateInstruction"
	MsgScanComplete       MessageID = "scanComplete"
	MsgTapToScan          MessageID = "tapToScan"
	MsgTapToStartFull     MessageID = "tapToStartFull"
	MsgAccuracyLabel      MessageID = "accuracyLabel"
	MsgVisualDetailsLabel MessageID = "visualDetailsLabel"
	MsgSealStatusLabel    MessageID = "sealStatusLabel"
	MsgQuantityLabel      MessageID = "quantityEstimateLabel"
)

var translations = map[Language]map[MessageID]string{
	LanguageEnglish: {
		MsgCameraPermission:   "Could not access camera. Please allow permissions.",
		MsgCameraReady:        "Camera ready. Tap anywhere to scan.",
		MsgAnalyzing:          "Analyzing... Please wait.",
		MsgAnalysisError:      "I could not analyze that. Please try again.",
		MsgItemLabel:          "Item",
		MsgExpiryLabel:        "Expiry",
		MsgUsageLabel:         "Usage",
		MsgWarningsLabel:      "Warnings",
		MsgIngredientsLabel:   "Ingredients",
		MsgVerifyProfessional: "Verify with a professional.",
		MsgNoteUnclear:        "Note: Image was unclear.",
		MsgCautionMedicine:    "Caution: This looks like medication.",
		MsgNone:               "None",
		MsgLanguageName:       "English",
		MsgLanguageSet:        "Language set to English",
		MsgAnswerTitle:        "Answer",
		MsgThinking:           "Thinking...",
		MsgAskError:           "Could not get an answer. Try again.",
		MsgListening:          "Listening...",
		MsgMicError:           "Voice input not supported",
		MsgQuickScan:          "Quick Scan",
		MsgFullScan:           "Full Scan",
		MsgModeChanged:        "Mode changed to",
		MsgRotateInstruction:  "Rotate product slowly. Capturing...",
		MsgScanComplete:       "Scan complete.",
		MsgTapToScan:          "Tap to Scan",
		MsgTapToStartFull:     "Tap to start Full Scan",
		MsgAccuracyLabel:      "Match",
		MsgVisualDetailsLabel: "Appearance",
		MsgSealStatusLabel:    "Condition",
		MsgQuantityLabel:      "Quantity Estimate",
	},
	LanguageHindi: {
		MsgCameraPermission:   "कैमरा एक्सेस नहीं मिला। कृपया अनुमति दें।",
		MsgCameraReady:        "कैमरा तैयार है। स्कैन करने के लिए कहीं भी टैप करें।",
		MsgAnalyzing:          "विश्लेषण हो रहा है... कृपया प्रतीक्षा करें।",
		MsgAnalysisError:      "मैं विश्लेषण नहीं कर सका। कृपया पुनः प्रयास करें।",
		MsgItemLabel:          "वस्तु",
		MsgExpiryLabel:        "समाप्ति तिथि",
		MsgUsageLabel:         "उपयोग",
		MsgWarningsLabel:      "चेतावनी",
		MsgIngredientsLabel:   "सामग्री",
		MsgVerifyProfessional: "किसी पेशेवर से जाँच करें।",
		MsgNoteUnclear:        "नोट: छवि स्पष्ट नहीं थी।",
		MsgCautionMedicine:    "सावधान: यह दवा जैसी लग रही है।",
		MsgNone:               "कोई नहीं",
		MsgLanguageName:       "Hindi",
		MsgLanguageSet:        "हिंदी चुनी गई",
		MsgAnswerTitle:        "उत्तर",
		MsgThinking:           "सोच रहा हूँ...",
		MsgAskError:           "उत्तर नहीं मिला। पुनः प्रयास करें।",
		MsgListening:          "सुन रहा हूँ...",
		MsgMicError:           "आवाज़ इनपुट समर्थित नहीं है",
		MsgQuickScan:          "त्वरित स्कैन",
		MsgFullScan:           "पूरा स्कैन",
		MsgModeChanged:        "मोड बदल गया है:",
		MsgRotateInstruction:  "उत्पाद को धीरे-धीरे घुमाएं। स्कैन हो रहा है...",
		MsgScanComplete:       "स्कैन पूरा हुआ।",
		MsgTapToScan:          "स्कैन करने के लिए टैप करें",
		MsgTapToStartFull:     "पूरा स्कैन शुरू करने के लिए टैप करें",
		MsgAccuracyLabel:      "सटीकता",
		MsgVisualDetailsLabel: "दिखावट",
		MsgSealStatusLabel:    "स्थिति",
		MsgQuantityLabel:      "अनुमानित मात्रा",
	},
}

// Message looks up id in the table for lang, falling back to English.
// A missing id returns the id itself so gaps are audible rather than silent.
func Message(lang Language, id MessageID) string {
	if table, ok := translations[lang]; ok {
		if s, ok := table[id]; ok {
			return s
		}
	}
	if s, ok := translations[LanguageEnglish][id]; ok {
		return s
	}
	return string(id)
}

// MessageIDs returns every id known to the language table.
func MessageIDs(lang Language) []MessageID {
	ids := make([]MessageID, 0, len(translations[lang]))
	for id := range translations[lang] {
		ids = append(ids, id)
	}
	return ids
}

// ScanModeName is the spoken name of a scan mode.
func ScanModeName(lang Language, mode ScanMode) string {
	if mode == ScanModeFull {
		return Message(lang, MsgFullScan)
	}
	return Message(lang, MsgQuickScan)
}
