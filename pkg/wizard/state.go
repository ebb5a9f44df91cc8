package wizard

import (
	"time"

	"github.com/gabrielmiguelok/questkit/pkg/quest"
)

// NoticeLevel is the severity of a notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-visible message raised by the session.
type Notice struct {
	Level   NoticeLevel `json:"level" msgpack:"level"`
	Message string      `json:"message" msgpack:"message"`
	At      time.Time   `json:"at" msgpack:"at"`
}

// FieldState is the view state of one rendered field.
type FieldState struct {
	ID      string `json:"id" msgpack:"id"`
	Part    int    `json:"part" msgpack:"part"`
	Words   int    `json:"words" msgpack:"words"`
	Label   string `json:"label" msgpack:"label"`
	Invalid bool   `json:"invalid" msgpack:"invalid"`
	Height  int    `json:"height" msgpack:"height"`
}

// State is a snapshot of everything a client needs to draw the wizard.
type State struct {
	Phase      Phase            `json:"phase" msgpack:"phase"`
	PathType   quest.FormType   `json:"pathType" msgpack:"path_type"`
	FormType   quest.FormType   `json:"formType" msgpack:"form_type"`
	Choices    []quest.FormType `json:"choices,omitempty" msgpack:"choices,omitempty"`
	Part       int              `json:"part" msgpack:"part"`
	TotalParts int              `json:"totalParts" msgpack:"total_parts"`
	Progress   float64          `json:"progress" msgpack:"progress"`
	Fields     []FieldState     `json:"fields,omitempty" msgpack:"fields,omitempty"`
	// Tooltips lists the parts whose validation tooltip is shown.
	Tooltips      []int          `json:"tooltips,omitempty" msgpack:"tooltips,omitempty"`
	Indicator     IndicatorPhase `json:"indicator" msgpack:"indicator"`
	IndicatorText string         `json:"indicatorText,omitempty" msgpack:"indicator_text,omitempty"`
	Submitting    bool           `json:"submitting" msgpack:"submitting"`
	ReadOnly      bool           `json:"readOnly" msgpack:"read_only"`
	Redirect      string         `json:"redirect,omitempty" msgpack:"redirect,omitempty"`
	Notices       []Notice       `json:"notices,omitempty" msgpack:"notices,omitempty"`
	Answered      int            `json:"answered" msgpack:"answered"`
	// Rendered changes whenever a new section view is attached; clients
	// fetch the full markup when it moves.
	Rendered uint64 `json:"rendered" msgpack:"rendered"`
	Saves    int    `json:"saves" msgpack:"saves"`
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Phase:      s.phase,
		PathType:   s.pathType,
		FormType:   s.version,
		Submitting: s.submitting,
		ReadOnly:   s.readOnly,
		Redirect:   s.redirect,
		Notices:    append([]Notice(nil), s.notices...),
		Indicator:  s.indicator.Phase(),
		Rendered:   s.rendered,
		Saves:      s.saves,
	}
	if st.Indicator != IndicatorHidden {
		st.IndicatorText = SavedMessage
	}
	if s.phase == PhaseSelecting {
		st.Choices = s.store.Types()
	}
	if s.instance != nil {
		st.Answered = s.instance.Answered()
	}
	if s.view == nil || s.nav == nil {
		return st
	}

	st.Part = s.nav.Current()
	st.TotalParts = s.nav.Total()
	st.Progress = s.nav.Progress()
	for _, fv := range s.view.Fields() {
		fs := FieldState{
			ID:      fv.Name(),
			Words:   quest.CountWords(fv.Value()),
			Label:   fv.WordCount(),
			Invalid: fv.Invalid(),
			Height:  fv.Height(),
		}
		if p := fv.Part(); p != nil {
			fs.Part = p.Index()
		}
		st.Fields = append(st.Fields, fs)
	}
	for _, p := range s.view.Parts() {
		if p.TooltipShown() {
			st.Tooltips = append(st.Tooltips, p.Index())
		}
	}
	return st
}

// raise appends a notice, keeping the most recent MaxNotices.
func (s *Session) raise(level NoticeLevel, msg string) {
	s.notices = append(s.notices, Notice{Level: level, Message: msg, At: s.sched.Now()})
	if limit := s.cfg.MaxNotices; limit > 0 && len(s.notices) > limit {
		s.notices = append([]Notice(nil), s.notices[len(s.notices)-limit:]...)
	}
}

// Notices returns the raised notices, oldest first.
func (s *Session) Notices() []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notice(nil), s.notices...)
}

// DismissNotices clears every notice.
func (s *Session) DismissNotices() {
	s.mu.Lock()
	s.notices = nil
	s.mu.Unlock()
	s.emit()
}
