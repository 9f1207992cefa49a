package format

import (
	"strings"
	"testing"

	"github.com/gitping-dev/gitping/pkg/webhook"
)

func pushEvent(details *webhook.PushDetails) *webhook.Event {
	return &webhook.Event{
		Type:          webhook.TypePush,
		DeliveryID:    "d1",
		Repository:    "Acme/Widgets",
		RepositoryURL: "https://github.com/acme/widgets",
		Sender:        "OctoCat",
		Details:       details,
	}
}

func TestPushSingleCommit(t *testing.T) {
	got := Push(pushEvent(&webhook.PushDetails{
		Branch:      "main",
		CommitCount: 1,
		CompareURL:  "https://github.com/acme/widgets/compare/aaa...bbb",
		Commits: []webhook.Commit{
			{SHA: "bbb", Message: "Fix login redirect"},
		},
	}))

	want := "acme/widgets@main pushed by octocat\n" +
		"- fix login redirect\n" +
		`<a href="https://github.com/acme/widgets/compare/aaa...bbb">view changes</a>`
	if got != want {
		t.Errorf("Push() =\n%q\nwant\n%q", got, want)
	}
}

func TestPushHeaderLowercasedAndCounted(t *testing.T) {
	got := Push(pushEvent(&webhook.PushDetails{
		Branch:      "Feature/X",
		CommitCount: 2,
		Commits: []webhook.Commit{
			{Message: "one"},
			{Message: "two"},
		},
	}))

	header := strings.SplitN(got, "\n", 2)[0]
	if header != "acme/widgets@feature/x pushed by octocat (2 commits)" {
		t.Errorf("header = %q", header)
	}
}

func TestPushOmitsCountForSingleCommit(t *testing.T) {
	got := Push(pushEvent(&webhook.PushDetails{
		Branch:      "main",
		CommitCount: 1,
		Commits:     []webhook.Commit{{Message: "one"}},
	}))

	if strings.Contains(got, "commits)") {
		t.Errorf("single-commit header carries a count: %q", got)
	}
}

func TestPushTruncatesCommitList(t *testing.T) {
	got := Push(pushEvent(&webhook.PushDetails{
		Branch:      "main",
		CommitCount: 5,
		Commits: []webhook.Commit{
			{Message: "first"},
			{Message: "second"},
			{Message: "third"},
			{Message: "fourth"},
			{Message: "fifth"},
		},
	}))

	for _, want := range []string{"- first", "- second", "- third"} {
		if !strings.Contains(got, want) {
			t.Errorf("Push() missing %q:\n%s", want, got)
		}
	}
	for _, unwanted := range []string{"- fourth", "- fifth"} {
		if strings.Contains(got, unwanted) {
			t.Errorf("Push() lists commit past the cutoff:\n%s", got)
		}
	}
	if !strings.Contains(got, "... and 2 more commits") {
		t.Errorf("Push() missing overflow line:\n%s", got)
	}
}

func TestPushOverflowUsesTotalCount(t *testing.T) {
	// Payload truncated to 5 commits but 30 were pushed.
	got := Push(pushEvent(&webhook.PushDetails{
		Branch:      "main",
		CommitCount: 30,
		Commits: []webhook.Commit{
			{Message: "a"}, {Message: "b"}, {Message: "c"},
			{Message: "d"}, {Message: "e"},
		},
	}))

	if !strings.Contains(got, "... and 27 more commits") {
		t.Errorf("overflow line not based on total count:\n%s", got)
	}
}

func TestPushFileCountFooter(t *testing.T) {
	tests := []struct {
		name    string
		commits []webhook.Commit
		want    string
	}{
		{
			name: "distinct files across commits",
			commits: []webhook.Commit{
				{Message: "one", Added: []string{"a.go"}, Modified: []string{"b.go"}},
				{Message: "two", Removed: []string{"c.go"}},
			},
			want: ">3 files changed</a>",
		},
		{
			name: "same file modified twice counts once",
			commits: []webhook.Commit{
				{Message: "one", Modified: []string{"a.go"}},
				{Message: "two", Modified: []string{"a.go"}},
			},
			want: ">1 file changed</a>",
		},
		{
			name: "file added then modified counts per category",
			commits: []webhook.Commit{
				{Message: "one", Added: []string{"a.go"}},
				{Message: "two", Modified: []string{"a.go"}},
			},
			want: ">2 files changed</a>",
		},
		{
			name:    "no file lists",
			commits: []webhook.Commit{{Message: "one"}},
			want:    ">view changes</a>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Push(pushEvent(&webhook.PushDetails{
				Branch:      "main",
				CommitCount: len(tt.commits),
				CompareURL:  "https://example.com/compare",
				Commits:     tt.commits,
			}))
			if !strings.Contains(got, tt.want) {
				t.Errorf("Push() footer missing %q:\n%s", tt.want, got)
			}
		})
	}
}

func TestPushFooterFallsBackToRepositoryURL(t *testing.T) {
	got := Push(pushEvent(&webhook.PushDetails{
		Branch:      "main",
		CommitCount: 1,
		Commits:     []webhook.Commit{{Message: "one"}},
	}))

	if !strings.Contains(got, `<a href="https://github.com/acme/widgets">`) {
		t.Errorf("footer link did not fall back to repository URL:\n%s", got)
	}
}

func TestPushSkipsBranchLifecycle(t *testing.T) {
	tests := []struct {
		name    string
		details *webhook.PushDetails
	}{
		{"new branch", &webhook.PushDetails{Branch: "main", NewBranch: true}},
		{"deleted branch", &webhook.PushDetails{Branch: "main", DeletedBranch: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Push(pushEvent(tt.details)); got != "" {
				t.Errorf("Push() = %q, want empty", got)
			}
		})
	}
}

func TestPushIgnoresOtherEvents(t *testing.T) {
	event := &webhook.Event{
		Type:       webhook.TypeIssues,
		Repository: "acme/widgets",
		Sender:     "octocat",
		Details:    &webhook.IssuesDetails{Title: "bug"},
	}
	if got := Push(event); got != "" {
		t.Errorf("Push() = %q for issues event, want empty", got)
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{
			name:    "plain message",
			message: "fix the thing",
			want:    "fix the thing",
		},
		{
			name:    "percent-encoded",
			message: "fix%20the%20thing",
			want:    "fix the thing",
		},
		{
			name:    "undecodable used verbatim",
			message: "100%zz done",
			want:    "100%zz done",
		},
		{
			name:    "first line only",
			message: "subject line\n\nlong body paragraph",
			want:    "subject line",
		},
		{
			name:    "carriage return terminates",
			message: "subject line\r\nbody",
			want:    "subject line",
		},
		{
			name:    "long message truncated",
			message: strings.Repeat("a", 80),
			want:    strings.Repeat("a", 60) + "...",
		},
		{
			name:    "exactly at limit untouched",
			message: strings.Repeat("a", 60),
			want:    strings.Repeat("a", 60),
		},
		{
			name:    "multibyte runes counted as runes",
			message: strings.Repeat("é", 70),
			want:    strings.Repeat("é", 60) + "...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := summarize(tt.message); got != tt.want {
				t.Errorf("summarize(%q) = %q, want %q", tt.message, got, tt.want)
			}
		})
	}
}
