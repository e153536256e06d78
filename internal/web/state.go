package web

import (
	"github.com/hpungsan/intake/internal/errors"
	"github.com/hpungsan/intake/internal/flow"
	"github.com/hpungsan/intake/internal/photo"
	"github.com/hpungsan/intake/internal/record"
)

// State is the JSON form of a session for clients that ask for it.
type State struct {
	Session   string         `json:"session"`
	Step      string         `json:"step"`
	StepIndex int            `json:"stepIndex"`
	Answers   record.Answers `json:"answers"`
	Photos    []PhotoState   `json:"photos"`
	Pending   []photo.Meta   `json:"pending,omitempty"`
	InFlight  bool           `json:"inFlight"`
	Progress  *ProgressState `json:"progress,omitempty"`
	Error     *ErrorState    `json:"error,omitempty"`
}

// PhotoState describes one pick.
type PhotoState struct {
	Bucket  photo.Bucket `json:"bucket"`
	Index   int          `json:"index"`
	Name    string       `json:"name"`
	Size    int64        `json:"size"`
	Preview string       `json:"preview,omitempty"`
}

// ProgressState is the compression progress of a running submission.
type ProgressState struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// ErrorState is the step error.
type ErrorState struct {
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func stateOf(v flow.View) State {
	st := State{
		Session:   v.ID,
		Step:      v.Step.String(),
		StepIndex: v.Step.Index(),
		Answers:   v.Answers,
		Photos:    make([]PhotoState, 0, v.PhotoCount),
		Pending:   v.Pending,
		InFlight:  v.InFlight,
	}
	for _, b := range photo.Buckets {
		entries := v.Current
		if b == photo.BucketInspiration {
			entries = v.Inspiration
		}
		for i, e := range entries {
			ps := PhotoState{Bucket: b, Index: i, Name: e.Photo.DisplayName(), Size: e.Photo.Size}
			if e.Preview != "" {
				ps.Preview = "/intake/preview/" + e.Preview
			}
			st.Photos = append(st.Photos, ps)
		}
	}
	if v.InFlight {
		st.Progress = &ProgressState{Done: v.Progress.Done, Total: v.Progress.Total}
	}

	var iErr *errors.IntakeError
	if errors.As(v.Err, &iErr) {
		st.Error = &ErrorState{
			Code:      string(iErr.Code),
			Message:   iErr.Message,
			Retryable: iErr.Retryable,
		}
		if f, ok := iErr.Details["field"].(string); ok {
			st.Error.Field = f
		}
	} else if v.Err != nil {
		st.Error = &ErrorState{Code: string(errors.ErrUnexpected), Message: v.ErrorMessage(), Retryable: true}
	}
	return st
}
