package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"issueflow/internal/domain"
)

const (
	IssueCreated   = "issue.created"
	IssueStarted   = "issue.started"
	IssueCompleted = "issue.completed"
	IssueAssigned  = "issue.assigned"
	IssueCommented = "issue.commented"
	ProjectCreated = "project.created"
	UserCreated    = "user.created"
)

// TSLayout is fixed width so stored timestamps sort lexically.
const TSLayout = "2006-01-02T15:04:05.000000000Z"

type Payload map[string]any

// Builder stamps events with the clock used by the engine.
type Builder struct {
	Now func() time.Time
}

func (b Builder) New(evtType, projectID, entityKind, entityID, actorID string, payload Payload) (domain.Event, error) {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	return domain.Event{
		TS:         now().UTC().Format(TSLayout),
		Type:       evtType,
		ProjectID:  projectID,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    string(data),
	}, nil
}

// Filter matches event types. An empty filter or "*" matches everything;
// a trailing ".*" matches a prefix.
type Filter []string

func ParseFilter(raw []string) Filter {
	var out Filter
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (f Filter) Match(evtType string) bool {
	if len(f) == 0 {
		return true
	}
	for _, p := range f {
		if p == "*" || p == evtType {
			return true
		}
		if strings.HasSuffix(p, ".*") && strings.HasPrefix(evtType, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}
