package mission

import (
	"sync"
	"time"

	"github.com/outland-robotics/missiond/internal/interp"
	"github.com/outland-robotics/missiond/internal/tree"
	"github.com/outland-robotics/missiond/internal/types"
)

// Question is one operator prompt raised by a Prompt node. A question
// is pending from Ask until it is answered, abandoned on timeout, or
// retired when its owning node completes or the mission resets.
type Question struct {
	ID             types.ID            `json:"id"`
	NodeInstanceID int64               `json:"node_instance_id"`
	Source         string              `json:"source"`
	Text           string              `json:"text"`
	Options        []tree.PromptOption `json:"options"`
	Severity       string              `json:"severity,omitempty"`
	AskedAt        time.Time           `json:"asked_at"`

	Answered     bool       `json:"answered"`
	Abandoned    bool       `json:"abandoned"`
	AcceptedCode int64      `json:"accepted_code,omitempty"`
	AnsweredAt   *time.Time `json:"answered_at,omitempty"`
}

// clone returns a copy safe to hand to clients.
func (q *Question) clone() *Question {
	cp := *q
	cp.Options = append([]tree.PromptOption(nil), q.Options...)
	return &cp
}

// Board is the question/answer subsystem: Prompt nodes register
// questions through the interp.QuestionBoard face, operators answer
// through AnswerQuestion on the service.
type Board struct {
	mu       sync.Mutex
	pending  map[types.ID]*Question
	resolved []*Question

	// nameOf resolves a node instance ID to its display name for the
	// question's Source field.
	nameOf func(int64) string

	// onAsk, when set, observes every newly asked question. The service
	// uses it to publish question events.
	onAsk func(*Question)

	clock func() time.Time
}

// Observe registers a callback invoked for each newly asked question.
func (b *Board) Observe(fn func(*Question)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onAsk = fn
}

// NewBoard creates an empty question board. nameOf may be nil.
func NewBoard(nameOf func(int64) string) *Board {
	return &Board{
		pending: make(map[types.ID]*Question),
		nameOf:  nameOf,
		clock:   time.Now,
	}
}

// Ask implements interp.QuestionBoard.
func (b *Board) Ask(nodeID int64, text string, options []tree.PromptOption, severity string) types.ID {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := &Question{
		ID:             types.NewID(),
		NodeInstanceID: nodeID,
		Text:           text,
		Options:        append([]tree.PromptOption(nil), options...),
		Severity:       severity,
		AskedAt:        b.clock(),
	}
	if b.nameOf != nil {
		q.Source = b.nameOf(nodeID)
	}
	b.pending[q.ID] = q
	if b.onAsk != nil {
		b.onAsk(q.clone())
	}
	return q.ID
}

// Poll implements interp.QuestionBoard.
func (b *Board) Poll(id types.ID) (int64, interp.QuestionState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.pending[id]
	if !ok {
		// A question absent from pending was either answered and moved
		// to resolved, or never existed; report the resolved outcome.
		for _, r := range b.resolved {
			if r.ID == id {
				if r.Answered {
					return r.AcceptedCode, interp.QuestionAnswered
				}
				return 0, interp.QuestionAbandoned
			}
		}
		return 0, interp.QuestionAbandoned
	}
	if q.Answered {
		return q.AcceptedCode, interp.QuestionAnswered
	}
	return 0, interp.QuestionPending
}

// Abandon implements interp.QuestionBoard: the prompt timed out without
// an answer. Abandoned questions are retained for inspection but are
// never marked answered.
func (b *Board) Abandon(id types.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.pending[id]
	if !ok {
		return
	}
	delete(b.pending, id)
	q.Abandoned = true
	b.resolved = append(b.resolved, q)
}

// Retire implements interp.QuestionBoard: the owning node completed or
// the mission reset. Answered questions stay in the resolved list;
// unanswered ones are dropped.
func (b *Board) Retire(id types.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.pending[id]
	if !ok {
		return
	}
	delete(b.pending, id)
	if q.Answered {
		b.resolved = append(b.resolved, q)
	}
}

// Answer validates and records an operator answer. The ID must be
// pending, the code one of the declared options, and the question not
// yet answered.
func (b *Board) Answer(id types.ID, code int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.pending[id]
	if !ok {
		for _, r := range b.resolved {
			if r.ID == id {
				return NewError(ErrAlreadyAnswered, "question was already resolved").
					WithContext("question_id", id)
			}
		}
		return NewError(ErrQuestionNotFound, "question is not pending").
			WithContext("question_id", id)
	}
	if q.Answered {
		return NewError(ErrAlreadyAnswered, "question was already answered").
			WithContext("question_id", id)
	}

	valid := false
	for _, opt := range q.Options {
		if opt.Code == code {
			valid = true
			break
		}
	}
	if !valid {
		return NewError(ErrInvalidAnswerCode, "code is not one of the question's options").
			WithContext("question_id", id).
			WithContext("code", code)
	}

	q.Answered = true
	q.AcceptedCode = code
	now := b.clock()
	q.AnsweredAt = &now
	return nil
}

// Pending returns a copy of every pending question, ordered by ask
// time.
func (b *Board) Pending() []*Question {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Question, 0, len(b.pending))
	for _, q := range b.pending {
		out = append(out, q.clone())
	}
	sortQuestions(out)
	return out
}

// Resolved returns a copy of every answered or abandoned question.
func (b *Board) Resolved() []*Question {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Question, 0, len(b.resolved))
	for _, q := range b.resolved {
		out = append(out, q.clone())
	}
	return out
}

// Reset drops every question; used on mission restart and unload.
func (b *Board) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = make(map[types.ID]*Question)
	b.resolved = nil
}

func sortQuestions(qs []*Question) {
	for i := 1; i < len(qs); i++ {
		for j := i; j > 0 && qs[j].AskedAt.Before(qs[j-1].AskedAt); j-- {
			qs[j], qs[j-1] = qs[j-1], qs[j]
		}
	}
}

// Compile-time check that Board satisfies the interpreter contract.
var _ interp.QuestionBoard = (*Board)(nil)
