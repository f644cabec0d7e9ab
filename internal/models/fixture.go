package models

import (
	"fmt"
	"time"
)

// FixtureKind names a resource type the fixture factory can create and
// tear down.
type FixtureKind string

const (
	FixtureIssue           FixtureKind = "issue"
	FixtureBranch          FixtureKind = "branch"
	FixtureLabel           FixtureKind = "label"
	FixtureMilestone       FixtureKind = "milestone"
	FixtureMergeRequest    FixtureKind = "merge_request"
	FixtureWebhook         FixtureKind = "webhook"
	FixtureVariable        FixtureKind = "variable"
	FixtureWikiPage        FixtureKind = "wiki_page"
	FixtureBadge           FixtureKind = "badge"
	FixtureRelease         FixtureKind = "release"
	FixtureTag             FixtureKind = "tag"
	FixtureProtectedBranch FixtureKind = "protected_branch"
	FixtureFile            FixtureKind = "file"
)

// FixtureKinds lists kinds in teardown order. Merge requests are closed
// before their branches go away, releases before their tags.
var FixtureKinds = []FixtureKind{
	FixtureMergeRequest,
	FixtureIssue,
	FixtureMilestone,
	FixtureLabel,
	FixtureWebhook,
	FixtureVariable,
	FixtureWikiPage,
	FixtureBadge,
	FixtureRelease,
	FixtureTag,
	FixtureProtectedBranch,
	FixtureFile,
	FixtureBranch,
}

func ParseFixtureKind(s string) (FixtureKind, error) {
	for _, k := range FixtureKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("invalid fixture kind: %s", s)
}

// Fixture identifies one created resource. Key is what the teardown endpoint
// needs: an IID, a numeric ID, a branch name, a label name, a slug.
type Fixture struct {
	Kind      FixtureKind
	ProjectID int
	Key       string
}

func (f Fixture) String() string {
	return fmt.Sprintf("%s %s in project %d", f.Kind, f.Key, f.ProjectID)
}

// LedgerEntry is a fixture as persisted in the ledger.
type LedgerEntry struct {
	ID        string
	RunID     string
	Fixture   Fixture
	CreatedAt time.Time
	CleanedAt *time.Time
	LastError string
}

func (e LedgerEntry) Pending() bool {
	return e.CleanedAt == nil
}

// LedgerFilter narrows ledger listings. Zero values match everything.
type LedgerFilter struct {
	RunID       string
	Kind        FixtureKind
	PendingOnly bool
	Limit       uint64

	// GitLabURL keeps entries of runs recorded against that instance.
	GitLabURL string

	// FinishedRunsOnly drops entries of runs that have not finished.
	FinishedRunsOnly bool
}

// Run is one harness session against an instance.
type Run struct {
	ID         string
	GitLabURL  string
	Project    string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// LedgerSummary counts fixtures per kind.
type LedgerSummary struct {
	Kind    FixtureKind
	Total   int
	Pending int
}
