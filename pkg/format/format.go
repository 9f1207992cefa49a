// Package format renders parsed webhook events into compact,
// human-readable notification text.
//
// Only push events produce output. The text targets an HTML-mode message
// renderer: the footer carries an inline anchor, and nothing else is
// escaped — commit messages with HTML-significant characters pass through
// as-is (a known limitation, not a defense).
package format

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gitping-dev/gitping/pkg/webhook"
)

const (
	// maxCommitLines is how many commits are summarized individually.
	maxCommitLines = 3
	// maxMessageLen is the cutoff for a single commit summary line.
	maxMessageLen = 60
)

// Push renders a push event into notification text. It returns the empty
// string for non-push events, and for branch creations and deletions,
// which carry no commit diff worth summarizing.
func Push(event *webhook.Event) string {
	push, ok := event.Details.(*webhook.PushDetails)
	if !ok || event.Type != webhook.TypePush {
		return ""
	}
	if push.NewBranch || push.DeletedBranch {
		return ""
	}

	var b strings.Builder

	b.WriteString(strings.ToLower(fmt.Sprintf("%s@%s pushed by %s",
		event.Repository, push.Branch, event.Sender)))
	if push.CommitCount > 1 {
		fmt.Fprintf(&b, " (%d commits)", push.CommitCount)
	}

	for i, commit := range push.Commits {
		if i >= maxCommitLines {
			break
		}
		b.WriteString("\n- ")
		b.WriteString(strings.ToLower(summarize(commit.Message)))
	}
	if push.CommitCount > maxCommitLines {
		fmt.Fprintf(&b, "\n... and %d more commits", push.CommitCount-maxCommitLines)
	}

	link := push.CompareURL
	if link == "" {
		link = event.RepositoryURL
	}

	if total := changedFileCount(push.Commits); total > 0 {
		noun := "files"
		if total == 1 {
			noun = "file"
		}
		fmt.Fprintf(&b, "\n<a href=\"%s\">%d %s changed</a>", link, total, noun)
	} else {
		fmt.Fprintf(&b, "\n<a href=\"%s\">view changes</a>", link)
	}

	return b.String()
}

// summarize reduces a raw commit message to its decoded first line,
// truncated with an ellipsis marker when too long. Messages arrive
// percent-encoded from the source; undecodable ones are used verbatim.
func summarize(message string) string {
	decoded, err := url.PathUnescape(message)
	if err != nil {
		decoded = message
	}

	if i := strings.IndexAny(decoded, "\r\n"); i >= 0 {
		decoded = decoded[:i]
	}

	runes := []rune(decoded)
	if len(runes) > maxMessageLen {
		return string(runes[:maxMessageLen]) + "..."
	}
	return decoded
}

// changedFileCount unions the added, removed, and modified file lists
// across the included commits into three deduplicated sets and returns
// their combined size. A file both added and later modified counts in
// each category it appears in.
func changedFileCount(commits []webhook.Commit) int {
	added := make(map[string]struct{})
	removed := make(map[string]struct{})
	modified := make(map[string]struct{})
	for _, c := range commits {
		for _, f := range c.Added {
			added[f] = struct{}{}
		}
		for _, f := range c.Removed {
			removed[f] = struct{}{}
		}
		for _, f := range c.Modified {
			modified[f] = struct{}{}
		}
	}
	return len(added) + len(removed) + len(modified)
}
