package models

import (
	"time"
)

const (
	SESSION_END   = "<SESSION_END>"
	END_OF_SPEECH = "<END_OF_SPEECH>"
)

// AppState is the screen-level state of an interaction session.
type AppState string

const (
	AppStateWelcome   AppState = "WELCOME"
	AppStateCamera    AppState = "CAMERA"
	AppStateAnalyzing AppState = "ANALYZING"
	AppStateResult    AppState = "RESULT"
)

// QuestionAnswer is one follow-up turn. It is dropped when a new capture starts.
type QuestionAnswer struct {
	Question  string
	Answer    string
	Timestamp time.Time
}
