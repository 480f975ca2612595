package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusTodo, StatusInProgress, true},
		{StatusInProgress, StatusDone, true},
		{StatusTodo, StatusDone, false},
		{StatusInProgress, StatusTodo, false},
		{StatusDone, StatusInProgress, false},
		{StatusDone, StatusDone, false},
		{StatusTodo, StatusTodo, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestDoneIsTerminal(t *testing.T) {
	_, ok := StatusDone.Next()
	assert.False(t, ok)
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("IN_PROGRESS")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, s)

	_, err = ParseStatus("in_progress")
	assert.Error(t, err)
}

func TestAssigneeName(t *testing.T) {
	var i Issue
	assert.Equal(t, UnassignedName, i.AssigneeName())
	i.Assignee = &User{ID: "u1", Username: "bob"}
	assert.Equal(t, "bob", i.AssigneeName())
}

func TestHistoryEntryJSONKeepsVariant(t *testing.T) {
	actor := "alice"
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := []HistoryEntry{
		{ID: 1, IssueID: "i1", ChangedAt: ts, Change: StatusChange{Old: StatusTodo, New: StatusInProgress}},
		{ID: 2, IssueID: "i1", ChangedAt: ts, ChangedBy: &actor, Change: AssigneeChange{Old: UnassignedName, New: "bob"}},
	}
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"field":"status"`)
	assert.Contains(t, string(data), `"new_assignee":"bob"`)
	assert.NotContains(t, string(data), `"old_assignee":""`)

	var back []HistoryEntry
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, entries, back)
}

func TestHistoryEntryWithoutChangeFailsToMarshal(t *testing.T) {
	_, err := json.Marshal(HistoryEntry{ID: 9})
	assert.Error(t, err)
}
