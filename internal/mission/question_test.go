package mission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outland-robotics/missiond/internal/interp"
	"github.com/outland-robotics/missiond/internal/tree"
	"github.com/outland-robotics/missiond/internal/types"
)

var yesNo = []tree.PromptOption{
	{Text: "yes", Code: 1},
	{Text: "no", Code: 2},
}

func TestBoardAskAndAnswer(t *testing.T) {
	b := NewBoard(func(id int64) string { return "gate" })

	id := b.Ask(7, "continue?", yesNo, "warn")
	pending := b.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "gate", pending[0].Source)
	assert.Equal(t, int64(7), pending[0].NodeInstanceID)

	code, state := b.Poll(id)
	assert.Equal(t, interp.QuestionPending, state)
	assert.Zero(t, code)

	require.NoError(t, b.Answer(id, 2))
	code, state = b.Poll(id)
	assert.Equal(t, interp.QuestionAnswered, state)
	assert.Equal(t, int64(2), code)
}

func TestBoardAnswerValidation(t *testing.T) {
	b := NewBoard(nil)
	id := b.Ask(1, "continue?", yesNo, "")

	err := b.Answer(types.NewID(), 1)
	assert.True(t, IsCode(err, ErrQuestionNotFound))

	err = b.Answer(id, 42)
	assert.True(t, IsCode(err, ErrInvalidAnswerCode))

	require.NoError(t, b.Answer(id, 1))
	err = b.Answer(id, 2)
	assert.True(t, IsCode(err, ErrAlreadyAnswered))
}

func TestBoardAbandonKeepsQuestionForInspection(t *testing.T) {
	b := NewBoard(nil)
	id := b.Ask(1, "continue?", yesNo, "")

	b.Abandon(id)
	assert.Empty(t, b.Pending())

	resolved := b.Resolved()
	require.Len(t, resolved, 1)
	assert.True(t, resolved[0].Abandoned)
	assert.False(t, resolved[0].Answered)

	_, state := b.Poll(id)
	assert.Equal(t, interp.QuestionAbandoned, state)

	// Answering an abandoned question is rejected as resolved.
	err := b.Answer(id, 1)
	assert.True(t, IsCode(err, ErrAlreadyAnswered))
}

func TestBoardRetireDropsUnansweredKeepsAnswered(t *testing.T) {
	b := NewBoard(nil)

	dropped := b.Ask(1, "first?", yesNo, "")
	b.Retire(dropped)
	assert.Empty(t, b.Pending())
	assert.Empty(t, b.Resolved())

	kept := b.Ask(2, "second?", yesNo, "")
	require.NoError(t, b.Answer(kept, 1))
	b.Retire(kept)
	resolved := b.Resolved()
	require.Len(t, resolved, 1)
	assert.Equal(t, int64(1), resolved[0].AcceptedCode)
}

func TestBoardObserveSeesEveryAsk(t *testing.T) {
	b := NewBoard(nil)
	var seen []string
	b.Observe(func(q *Question) { seen = append(seen, q.Text) })

	b.Ask(1, "first?", yesNo, "")
	b.Ask(2, "second?", yesNo, "")
	assert.Equal(t, []string{"first?", "second?"}, seen)
}

func TestBoardPendingOrderedByAskTime(t *testing.T) {
	b := NewBoard(nil)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	b.clock = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	b.Ask(1, "first?", yesNo, "")
	b.Ask(2, "second?", yesNo, "")
	b.Ask(3, "third?", yesNo, "")

	pending := b.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, "first?", pending[0].Text)
	assert.Equal(t, "third?", pending[2].Text)
}

func TestBoardResetDropsEverything(t *testing.T) {
	b := NewBoard(nil)
	id := b.Ask(1, "first?", yesNo, "")
	require.NoError(t, b.Answer(id, 1))
	b.Retire(id)
	b.Ask(2, "second?", yesNo, "")

	b.Reset()
	assert.Empty(t, b.Pending())
	assert.Empty(t, b.Resolved())
}
