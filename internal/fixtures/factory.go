package fixtures

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gitlab-skills/live-harness/internal/models"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

const (
	DefaultLabelColor       = "#428bca"
	DefaultEnvironmentScope = "*"
	DefaultWikiFormat       = "markdown"
	DefaultRef              = "main"
)

// Factory creates project resources and registers each one with its
// Tracker once GitLab confirmed the creation.
type Factory struct {
	api        API
	tracker    *Tracker
	projectID  int
	defaultRef string
	newID      func() string
}

type FactoryOption func(*Factory)

// WithDefaultRef sets the branch new branches and merge requests start from.
func WithDefaultRef(ref string) FactoryOption {
	return func(f *Factory) { f.defaultRef = ref }
}

// WithIDGenerator replaces UniqueID, mostly for deterministic tests.
func WithIDGenerator(fn func() string) FactoryOption {
	return func(f *Factory) { f.newID = fn }
}

func NewFactory(api API, tracker *Tracker, projectID int, opts ...FactoryOption) *Factory {
	f := &Factory{
		api:        api,
		tracker:    tracker,
		projectID:  projectID,
		defaultRef: DefaultRef,
		newID:      UniqueID,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Factory) ProjectID() int {
	return f.projectID
}

func (f *Factory) Tracker() *Tracker {
	return f.tracker
}

func (f *Factory) endpoint(format string, args ...any) string {
	return fmt.Sprintf("/projects/%d", f.projectID) + fmt.Sprintf(format, args...)
}

func (f *Factory) track(ctx context.Context, kind models.FixtureKind, key string) {
	f.tracker.Track(ctx, models.Fixture{Kind: kind, ProjectID: f.projectID, Key: key})
}

// create posts body and decodes the created resource into out.
func (f *Factory) create(ctx context.Context, what, endpoint string, body, out any) error {
	resp, err := f.api.Request(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("creating %s: %w", what, err)
	}
	if err := resp.Decode(out); err != nil {
		if errors.Is(err, glab.ErrAbsent) {
			return fmt.Errorf("creating %s: empty response", what)
		}
		return fmt.Errorf("creating %s: %w", what, err)
	}
	return nil
}

type IssueOptions struct {
	Description string
	Labels      []string
	AssigneeIDs []int
	MilestoneID int
}

func (f *Factory) CreateIssue(ctx context.Context, title string, opts IssueOptions) (*models.Issue, error) {
	body := map[string]any{
		"title":       title,
		"description": opts.Description,
	}
	if len(opts.Labels) > 0 {
		body["labels"] = strings.Join(opts.Labels, ",")
	}
	if len(opts.AssigneeIDs) > 0 {
		body["assignee_ids"] = opts.AssigneeIDs
	}
	if opts.MilestoneID != 0 {
		body["milestone_id"] = opts.MilestoneID
	}

	var issue models.Issue
	if err := f.create(ctx, "issue", f.endpoint("/issues"), body, &issue); err != nil {
		return nil, err
	}
	f.track(ctx, models.FixtureIssue, strconv.Itoa(issue.IID))
	return &issue, nil
}

// CreateBranch creates name from ref. An empty ref means the default ref.
func (f *Factory) CreateBranch(ctx context.Context, name, ref string) (*models.Branch, error) {
	if ref == "" {
		ref = f.defaultRef
	}

	var branch models.Branch
	if err := f.create(ctx, "branch", f.endpoint("/repository/branches"),
		map[string]string{"branch": name, "ref": ref}, &branch); err != nil {
		return nil, err
	}
	f.track(ctx, models.FixtureBranch, name)
	return &branch, nil
}

type LabelOptions struct {
	Color       string
	Description string
}

func (f *Factory) CreateLabel(ctx context.Context, name string, opts LabelOptions) (*models.Label, error) {
	if opts.Color == "" {
		opts.Color = DefaultLabelColor
	}

	var label models.Label
	if err := f.create(ctx, "label", f.endpoint("/labels"), map[string]string{
		"name":        name,
		"color":       opts.Color,
		"description": opts.Description,
	}, &label); err != nil {
		return nil, err
	}
	f.track(ctx, models.FixtureLabel, name)
	return &label, nil
}

type MilestoneOptions struct {
	Description string
	DueDate     string
	StartDate   string
}

func (f *Factory) CreateMilestone(ctx context.Context, title string, opts MilestoneOptions) (*models.Milestone, error) {
	body := map[string]string{"title": title, "description": opts.Description}
	if opts.DueDate != "" {
		body["due_date"] = opts.DueDate
	}
	if opts.StartDate != "" {
		body["start_date"] = opts.StartDate
	}

	var milestone models.Milestone
	if err := f.create(ctx, "milestone", f.endpoint("/milestones"), body, &milestone); err != nil {
		return nil, err
	}
	f.track(ctx, models.FixtureMilestone, strconv.Itoa(milestone.ID))
	return &milestone, nil
}

type MergeRequestOptions struct {
	Description string
	// SourceBranch is created with one commit when empty.
	SourceBranch string
	TargetBranch string
	Labels       []string
}

// CreateMergeRequest opens a merge request. Without a source branch it
// creates test/mr-<id> from the target, commits test-<id>.txt to it and
// tracks the branch before opening the request.
func (f *Factory) CreateMergeRequest(ctx context.Context, title string, opts MergeRequestOptions) (*models.MergeRequest, error) {
	if opts.TargetBranch == "" {
		opts.TargetBranch = f.defaultRef
	}

	if opts.SourceBranch == "" {
		id := f.newID()
		opts.SourceBranch = "test/mr-" + id
		if _, err := f.CreateBranch(ctx, opts.SourceBranch, opts.TargetBranch); err != nil {
			return nil, err
		}
		if _, err := f.commitFile(ctx, "test-"+id+".txt", FileOptions{
			Branch:        opts.SourceBranch,
			Content:       "Test file for MR " + id,
			CommitMessage: "Add test file for MR " + id,
		}); err != nil {
			return nil, err
		}
	}

	body := map[string]string{
		"source_branch": opts.SourceBranch,
		"target_branch": opts.TargetBranch,
		"title":         title,
		"description":   opts.Description,
	}
	if len(opts.Labels) > 0 {
		body["labels"] = strings.Join(opts.Labels, ",")
	}

	var mr models.MergeRequest
	if err := f.create(ctx, "merge request", f.endpoint("/merge_requests"), body, &mr); err != nil {
		return nil, err
	}
	f.track(ctx, models.FixtureMergeRequest, strconv.Itoa(mr.IID))
	return &mr, nil
}

type WebhookOptions struct {
	// PushEvents defaults to true when nil.
	PushEvents          *bool
	MergeRequestsEvents bool
	IssuesEvents        bool
}

func (f *Factory) CreateWebhook(ctx context.Context, url string, opts WebhookOptions) (*models.Webhook, error) {
	push := true
	if opts.PushEvents != nil {
		push = *opts.PushEvents
	}

	var hook models.Webhook
	if err := f.create(ctx, "webhook", f.endpoint("/hooks"), map[string]any{
		"url":                   url,
		"push_events":           push,
		"merge_requests_events": opts.MergeRequestsEvents,
		"issues_events":         opts.IssuesEvents,
	}, &hook); err != nil {
		return nil, err
	}
	f.track(ctx, models.FixtureWebhook, strconv.Itoa(hook.ID))
	return &hook, nil
}

type VariableOptions struct {
	Protected        bool
	Masked           bool
	EnvironmentScope string
}

func (f *Factory) CreateVariable(ctx context.Context, key, value string, opts VariableOptions) (*models.Variable, error) {
	if opts.EnvironmentScope == "" {
		opts.EnvironmentScope = DefaultEnvironmentScope
	}

	var variable models.Variable
	if err := f.create(ctx, "variable", f.endpoint("/variables"), map[string]any{
		"key":               key,
		"value":             value,
		"protected":         opts.Protected,
		"masked":            opts.Masked,
		"environment_scope": opts.EnvironmentScope,
	}, &variable); err != nil {
		return nil, err
	}
	f.track(ctx, models.FixtureVariable, key)
	return &variable, nil
}

// CreateWikiPage creates a page and tracks it by the slug GitLab assigned.
func (f *Factory) CreateWikiPage(ctx context.Context, title, content, format string) (*models.WikiPage, error) {
	if format == "" {
		format = DefaultWikiFormat
	}

	var page models.WikiPage
	if err := f.create(ctx, "wiki page", f.endpoint("/wikis"), map[string]string{
		"title":   title,
		"content": content,
		"format":  format,
	}, &page); err != nil {
		return nil, err
	}
	f.track(ctx, models.FixtureWikiPage, page.Slug)
	return &page, nil
}

func (f *Factory) CreateBadge(ctx context.Context, linkURL, imageURL string) (*models.Badge, error) {
	var badge models.Badge
	if err := f.create(ctx, "badge", f.endpoint("/badges"), map[string]string{
		"link_url":  linkURL,
		"image_url": imageURL,
	}, &badge); err != nil {
		return nil, err
	}
	f.track(ctx, models.FixtureBadge, strconv.Itoa(badge.ID))
	return &badge, nil
}

// CreateTag tags ref. An empty ref means the default ref.
func (f *Factory) CreateTag(ctx context.Context, name, ref, message string) (*models.Tag, error) {
	if ref == "" {
		ref = f.defaultRef
	}
	body := map[string]string{"tag_name": name, "ref": ref}
	if message != "" {
		body["message"] = message
	}

	var tag models.Tag
	if err := f.create(ctx, "tag", f.endpoint("/repository/tags"), body, &tag); err != nil {
		return nil, err
	}
	f.track(ctx, models.FixtureTag, name)
	return &tag, nil
}

type ReleaseOptions struct {
	Name        string
	Description string
	// Ref makes GitLab create the tag from it. The tag is tracked too.
	Ref string
}

func (f *Factory) CreateRelease(ctx context.Context, tagName string, opts ReleaseOptions) (*models.Release, error) {
	body := map[string]string{"tag_name": tagName}
	if opts.Name != "" {
		body["name"] = opts.Name
	}
	if opts.Description != "" {
		body["description"] = opts.Description
	}
	if opts.Ref != "" {
		body["ref"] = opts.Ref
	}

	var release models.Release
	if err := f.create(ctx, "release", f.endpoint("/releases"), body, &release); err != nil {
		return nil, err
	}
	if opts.Ref != "" {
		f.track(ctx, models.FixtureTag, tagName)
	}
	f.track(ctx, models.FixtureRelease, tagName)
	return &release, nil
}

type ProtectOptions struct {
	PushAccessLevel  int
	MergeAccessLevel int
	AllowForcePush   bool
}

// ProtectBranch protects name. Zero access levels default to maintainer.
func (f *Factory) ProtectBranch(ctx context.Context, name string, opts ProtectOptions) (*models.ProtectedBranch, error) {
	if opts.PushAccessLevel == 0 {
		opts.PushAccessLevel = models.AccessMaintainer
	}
	if opts.MergeAccessLevel == 0 {
		opts.MergeAccessLevel = models.AccessMaintainer
	}

	var pb models.ProtectedBranch
	if err := f.create(ctx, "protected branch", f.endpoint("/protected_branches"), map[string]any{
		"name":               name,
		"push_access_level":  opts.PushAccessLevel,
		"merge_access_level": opts.MergeAccessLevel,
		"allow_force_push":   opts.AllowForcePush,
	}, &pb); err != nil {
		return nil, err
	}
	f.track(ctx, models.FixtureProtectedBranch, name)
	return &pb, nil
}

type FileOptions struct {
	Branch        string
	Content       string
	CommitMessage string
}

// CreateFile commits a new file and tracks it for removal.
func (f *Factory) CreateFile(ctx context.Context, path string, opts FileOptions) (*models.FileCommit, error) {
	if opts.Branch == "" {
		opts.Branch = f.defaultRef
	}
	commit, err := f.commitFile(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	f.track(ctx, models.FixtureFile, FileKey(opts.Branch, path))
	return commit, nil
}

func (f *Factory) commitFile(ctx context.Context, path string, opts FileOptions) (*models.FileCommit, error) {
	if opts.CommitMessage == "" {
		opts.CommitMessage = "Add " + path
	}

	var commit models.FileCommit
	if err := f.create(ctx, "file", f.endpoint("/repository/files/%s", EncodeFilePath(path)), map[string]string{
		"branch":         opts.Branch,
		"content":        opts.Content,
		"commit_message": opts.CommitMessage,
	}, &commit); err != nil {
		return nil, err
	}
	return &commit, nil
}
