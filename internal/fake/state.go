package fake

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gitlab-skills/live-harness/internal/models"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

const (
	Version  = "17.5.0-fake"
	Revision = "livehrns"
)

type branch struct {
	commit *models.Commit
	files  map[string]string
}

type project struct {
	models.Project

	issues      map[int]*models.Issue
	mrs         map[int]*models.MergeRequest
	milestones  map[int]*models.Milestone
	labels      map[string]*models.Label
	branches    map[string]*branch
	tags        map[string]*models.Tag
	releases    map[string]*models.Release
	protected   map[string]*models.ProtectedBranch
	hooks       map[int]*models.Webhook
	variables   map[string]*models.Variable
	wikis       map[string]*models.WikiPage
	badges      map[int]*models.Badge
	discussions map[string][]*models.Discussion
	pipelines   map[int]*models.Pipeline

	nextIssueIID     int
	nextMRIID        int
	nextMilestoneIID int
}

// State is the in-memory content of the fake instance. Handlers lock mu for
// the whole request.
type State struct {
	mu       sync.Mutex
	nextID   int
	now      func() time.Time
	users    map[string]models.User
	roles    map[string]glab.Role
	groups   map[string]*models.Group
	projects map[int]*project
}

func NewState() *State {
	s := &State{
		now:      time.Now,
		users:    make(map[string]models.User),
		roles:    make(map[string]glab.Role),
		groups:   make(map[string]*models.Group),
		projects: make(map[int]*project),
	}
	for _, role := range glab.Roles {
		name := usernameFor(role)
		s.users[name] = models.User{ID: s.id(), Username: name, Name: name, State: "active"}
		s.roles[name] = role
	}
	return s
}

func (s *State) id() int {
	s.nextID++
	return s.nextID
}

// Seed creates group and a project inside it whose default branch holds a
// README. It returns the created project.
func (s *State) Seed(groupPath, projectPath, defaultBranch string) models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupPath]
	if !ok {
		g = s.addGroup(groupPath, "private")
	}
	name := projectPath[strings.LastIndex(projectPath, "/")+1:]
	return s.addProject(g, name, defaultBranch, "private", true).Project
}

// addGroup expects mu to be held.
func (s *State) addGroup(fullPath, visibility string) *models.Group {
	name := fullPath[strings.LastIndex(fullPath, "/")+1:]
	g := &models.Group{
		ID:         s.id(),
		Name:       name,
		Path:       name,
		FullPath:   fullPath,
		Visibility: visibility,
	}
	s.groups[fullPath] = g
	return g
}

// addProject expects mu to be held. The default branch is protected at
// maintainer level and holds a README when withReadme is set.
func (s *State) addProject(g *models.Group, name, defaultBranch, visibility string, withReadme bool) *project {
	p := &project{
		Project: models.Project{
			ID:                s.id(),
			Name:              name,
			Path:              name,
			PathWithNamespace: g.FullPath + "/" + name,
			DefaultBranch:     defaultBranch,
			Visibility:        visibility,
			Namespace: &models.Namespace{
				ID:       g.ID,
				Name:     g.Name,
				Path:     g.Path,
				FullPath: g.FullPath,
				Kind:     "group",
			},
		},
		issues:      make(map[int]*models.Issue),
		mrs:         make(map[int]*models.MergeRequest),
		milestones:  make(map[int]*models.Milestone),
		labels:      make(map[string]*models.Label),
		branches:    make(map[string]*branch),
		tags:        make(map[string]*models.Tag),
		releases:    make(map[string]*models.Release),
		protected:   make(map[string]*models.ProtectedBranch),
		hooks:       make(map[int]*models.Webhook),
		variables:   make(map[string]*models.Variable),
		wikis:       make(map[string]*models.WikiPage),
		badges:      make(map[int]*models.Badge),
		discussions: make(map[string][]*models.Discussion),
		pipelines:   make(map[int]*models.Pipeline),
	}
	files := map[string]string{}
	if withReadme {
		files["README.md"] = "# " + name + "\n\nWelcome to " + name + ".\n"
	}
	p.branches[defaultBranch] = &branch{
		commit: s.commit("Initial commit"),
		files:  files,
	}
	p.protected[defaultBranch] = &models.ProtectedBranch{
		ID:                s.id(),
		Name:              defaultBranch,
		PushAccessLevels:  []models.AccessLevel{accessLevel(models.AccessMaintainer)},
		MergeAccessLevels: []models.AccessLevel{accessLevel(models.AccessMaintainer)},
	}
	s.projects[p.ID] = p
	return p
}

func (s *State) commit(message string) *models.Commit {
	sha := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")[:40]
	title, _, _ := strings.Cut(message, "\n")
	return &models.Commit{
		ID:        sha,
		ShortID:   sha[:8],
		Title:     title,
		Message:   message,
		CreatedAt: s.now().UTC(),
	}
}

// project resolves a numeric ID or a full path.
func (s *State) project(ref string) (*project, bool) {
	if id, err := strconv.Atoi(ref); err == nil {
		p, ok := s.projects[id]
		return p, ok
	}
	for _, p := range s.projects {
		if p.PathWithNamespace == ref {
			return p, true
		}
	}
	return nil, false
}

// group resolves a numeric ID or a full path.
func (s *State) group(ref string) (*models.Group, bool) {
	if id, err := strconv.Atoi(ref); err == nil {
		for _, g := range s.groups {
			if g.ID == id {
				return g, true
			}
		}
		return nil, false
	}
	g, ok := s.groups[ref]
	return g, ok
}

func (s *State) user(name string) *models.User {
	u, ok := s.users[name]
	if !ok {
		return nil
	}
	return &u
}

func (s *State) userByID(id int) (models.User, bool) {
	for _, u := range s.users {
		if u.ID == id {
			return u, true
		}
	}
	return models.User{}, false
}

func accessLevel(level int) models.AccessLevel {
	desc := map[int]string{
		models.AccessNone:       "No one",
		models.AccessDeveloper:  "Developers + Maintainers",
		models.AccessMaintainer: "Maintainers",
		models.AccessOwner:      "Owners",
	}[level]
	if desc == "" {
		desc = fmt.Sprintf("Access level %d", level)
	}
	return models.AccessLevel{AccessLevel: level, AccessLevelDescription: desc}
}

func splitLabels(s string) []string {
	out := []string{}
	for _, l := range strings.Split(s, ",") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func slugify(title string) string {
	return strings.ReplaceAll(strings.TrimSpace(title), " ", "-")
}

func sortedValues[K comparable, V any](m map[K]*V, less func(a, b *V) bool) []V {
	items := make([]*V, 0, len(m))
	for _, v := range m {
		items = append(items, v)
	}
	sort.Slice(items, func(i, j int) bool { return less(items[i], items[j]) })

	out := make([]V, 0, len(items))
	for _, v := range items {
		out = append(out, *v)
	}
	return out
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
