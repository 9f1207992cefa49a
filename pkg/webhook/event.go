// Package webhook provides HTTP handling for GitHub webhook deliveries:
// signature verification, payload normalization into typed events, and the
// receiving endpoint that hands events off to the notification pipeline.
package webhook

import (
	"fmt"
	"strings"
	"time"
)

// Event type names GitHub sends in the X-GitHub-Event header.
const (
	TypePush        = "push"
	TypePullRequest = "pull_request"
	TypeIssues      = "issues"
	TypeCheckRun    = "check_run"
	TypeCheckSuite  = "check_suite"
	TypeWorkflowRun = "workflow_run"
	TypePing        = "ping"
)

// zeroSHA is the placeholder GitHub uses for the before/after commit of a
// branch creation or deletion.
const zeroSHA = "0000000000000000000000000000000000000000"

// maxCommits limits how many commits from a push are carried on the event.
// The full count is still recorded in PushDetails.CommitCount.
const maxCommits = 5

// Event is a normalized GitHub webhook delivery.
type Event struct {
	ReceivedAt    time.Time
	Details       Details
	Type          string
	DeliveryID    string
	Repository    string
	RepositoryURL string
	Sender        string
	SenderURL     string
	Action        string
}

// Details holds the event-type-specific fields of an Event. Exactly one
// concrete type corresponds to each recognized event type; unrecognized
// types carry nil details.
type Details interface {
	eventDetails()
}

// Commit is a single commit from a push event.
type Commit struct {
	SHA      string
	Message  string
	Author   string
	URL      string
	Added    []string
	Removed  []string
	Modified []string
}

// PushDetails describes a push event.
type PushDetails struct {
	HeadCommit    *Commit
	Branch        string
	CompareURL    string
	Commits       []Commit
	CommitCount   int
	NewBranch     bool
	DeletedBranch bool
}

// PullRequestDetails describes a pull_request event.
type PullRequestDetails struct {
	Title      string
	URL        string
	BaseBranch string
	HeadBranch string
	Number     int
	Merged     bool
}

// IssuesDetails describes an issues event.
type IssuesDetails struct {
	Title  string
	URL    string
	Number int
}

// CheckDetails describes a check_run or check_suite event.
type CheckDetails struct {
	Name       string
	Status     string
	Conclusion string
	URL        string
}

// WorkflowRunDetails describes a workflow_run event.
type WorkflowRunDetails struct {
	Name       string
	Status     string
	Conclusion string
	Branch     string
	URL        string
	RunNumber  int
}

func (*PushDetails) eventDetails()        {}
func (*PullRequestDetails) eventDetails() {}
func (*IssuesDetails) eventDetails()      {}
func (*CheckDetails) eventDetails()       {}
func (*WorkflowRunDetails) eventDetails() {}

// ParseEvent normalizes a raw webhook payload into an Event. The caller is
// expected to have already confirmed that the payload carries a repository
// object; a payload missing one of the required repository or sender fields
// is reported as an error rather than producing a partial event.
func ParseEvent(eventType, deliveryID string, payload map[string]any) (*Event, error) {
	repo := childMap(payload, "repository")
	sender := childMap(payload, "sender")

	event := &Event{
		Type:          eventType,
		DeliveryID:    deliveryID,
		Repository:    str(repo, "full_name"),
		RepositoryURL: str(repo, "html_url"),
		Sender:        str(sender, "login"),
		SenderURL:     str(sender, "html_url"),
		Action:        str(payload, "action"),
		ReceivedAt:    time.Now(),
	}

	switch {
	case event.Repository == "":
		return nil, fmt.Errorf("%s payload missing repository.full_name", eventType)
	case event.RepositoryURL == "":
		return nil, fmt.Errorf("%s payload missing repository.html_url", eventType)
	case event.Sender == "":
		return nil, fmt.Errorf("%s payload missing sender.login", eventType)
	case event.SenderURL == "":
		return nil, fmt.Errorf("%s payload missing sender.html_url", eventType)
	}

	switch eventType {
	case TypePush:
		details, err := parsePush(payload)
		if err != nil {
			return nil, err
		}
		event.Details = details
	case TypePullRequest:
		event.Details = parsePullRequest(payload)
	case TypeIssues:
		event.Details = parseIssues(payload)
	case TypeCheckRun:
		event.Details = parseCheck(childMap(payload, "check_run"))
	case TypeCheckSuite:
		event.Details = parseCheck(childMap(payload, "check_suite"))
	case TypeWorkflowRun:
		event.Details = parseWorkflowRun(payload)
	default:
		// Unrecognized types pass through with no details.
	}

	return event, nil
}

func parsePush(payload map[string]any) (*PushDetails, error) {
	ref := str(payload, "ref")
	if ref == "" {
		return nil, fmt.Errorf("push payload missing ref")
	}

	details := &PushDetails{
		Branch:        strings.TrimPrefix(ref, "refs/heads/"),
		NewBranch:     str(payload, "before") == zeroSHA,
		DeletedBranch: str(payload, "after") == zeroSHA,
		CompareURL:    str(payload, "compare"),
	}

	commits, _ := payload["commits"].([]any)
	details.CommitCount = len(commits)
	if len(commits) > maxCommits {
		commits = commits[:maxCommits]
	}
	for _, c := range commits {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		details.Commits = append(details.Commits, parseCommit(cm))
	}

	if head := childMap(payload, "head_commit"); head != nil {
		commit := parseCommit(head)
		details.HeadCommit = &commit
	}

	return details, nil
}

func parseCommit(m map[string]any) Commit {
	return Commit{
		SHA:      str(m, "id"),
		Message:  str(m, "message"),
		Author:   str(childMap(m, "author"), "name"),
		URL:      str(m, "url"),
		Added:    strs(m, "added"),
		Removed:  strs(m, "removed"),
		Modified: strs(m, "modified"),
	}
}

func parsePullRequest(payload map[string]any) *PullRequestDetails {
	pr := childMap(payload, "pull_request")
	return &PullRequestDetails{
		Number:     num(pr, "number"),
		Title:      str(pr, "title"),
		URL:        str(pr, "html_url"),
		BaseBranch: str(childMap(pr, "base"), "ref"),
		HeadBranch: str(childMap(pr, "head"), "ref"),
		Merged:     boolean(pr, "merged"),
	}
}

func parseIssues(payload map[string]any) *IssuesDetails {
	issue := childMap(payload, "issue")
	return &IssuesDetails{
		Number: num(issue, "number"),
		Title:  str(issue, "title"),
		URL:    str(issue, "html_url"),
	}
}

func parseCheck(m map[string]any) *CheckDetails {
	return &CheckDetails{
		Name:       str(m, "name"),
		Status:     str(m, "status"),
		Conclusion: str(m, "conclusion"),
		URL:        str(m, "html_url"),
	}
}

func parseWorkflowRun(payload map[string]any) *WorkflowRunDetails {
	run := childMap(payload, "workflow_run")
	return &WorkflowRunDetails{
		Name:       str(run, "name"),
		Status:     str(run, "status"),
		Conclusion: str(run, "conclusion"),
		Branch:     str(run, "head_branch"),
		URL:        str(run, "html_url"),
		RunNumber:  num(run, "run_number"),
	}
}

// childMap returns the nested object at key, or nil.
func childMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	child, _ := m[key].(map[string]any)
	return child
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	// JSON numbers decode as float64
	f, _ := m[key].(float64)
	return int(f)
}

func boolean(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}

func strs(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	raw, _ := m[key].([]any)
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
