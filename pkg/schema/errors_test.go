package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	err := NewErrorf(ErrCodeBinding, "variable %q is not defined", "Count")
	assert.Equal(t, `[BINDING_ERROR] variable "Count" is not defined`, err.Error())

	err.WithActivity("writeLine1")
	assert.Equal(t, `[BINDING_ERROR] activity writeLine1: variable "Count" is not defined`, err.Error())
}

func TestError_UnwrapAndCode(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", NewError(ErrCodeExecutionFault, "failed").WithCause(cause))

	assert.True(t, IsCode(err, ErrCodeExecutionFault))
	assert.False(t, IsCode(err, ErrCodeBinding))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeExecutionFault, CodeOf(err))
	assert.Equal(t, ErrCodeExecutionFault, CodeOf(errors.New("plain")))
	assert.Equal(t, ErrCodeStore, CodeOf(NewError(ErrCodeStore, "x")))
}

func TestInstanceStatus_Terminal(t *testing.T) {
	assert.False(t, InstanceStatusRunning.Terminal())
	assert.False(t, InstanceStatusSuspended.Terminal())
	assert.True(t, InstanceStatusCompleted.Terminal())
	assert.True(t, InstanceStatusFaulted.Terminal())
	assert.True(t, InstanceStatusCancelled.Terminal())
}

func TestInstanceState_Lookups(t *testing.T) {
	s := &InstanceState{
		Executions: map[string]*Execution{
			"root": {ID: "root", ActivityID: "sequence1"},
			"c1":   {ID: "c1", ActivityID: "event1", ParentID: "root"},
			"c2":   {ID: "c2", ActivityID: "event2", ParentID: "root"},
		},
		Bookmarks: []Bookmark{
			{ID: "b1", ExecutionID: "c1", Kind: "Event"},
			{ID: "b2", ExecutionID: "c2", Kind: "Event"},
		},
	}

	assert.Len(t, s.ChildrenOf("root"), 2)
	assert.Empty(t, s.ChildrenOf("c1"))
	assert.Len(t, s.BookmarksOf("c2"), 1)

	b, ok := s.Bookmark("b2")
	assert.True(t, ok)
	assert.Equal(t, "c2", b.ExecutionID)
	_, ok = s.Bookmark("nope")
	assert.False(t, ok)
}

func TestFault_Error(t *testing.T) {
	var nilFault *Fault
	assert.Nil(t, nilFault.AsError())

	f := &Fault{ActivityID: "http1", Code: ErrCodeExecutionFault, Message: "timeout"}
	assert.Equal(t, "[EXECUTION_FAULT] activity http1: timeout", f.AsError().Error())
}
