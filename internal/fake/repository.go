package fake

import (
	"encoding/base64"
	"fmt"
	"maps"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gitlab-skills/live-harness/internal/models"
)

func (p *project) branchModel(name string) models.Branch {
	b := p.branches[name]
	_, protected := p.protected[name]
	return models.Branch{
		Name:      name,
		Commit:    b.commit,
		Protected: protected,
		Default:   name == p.DefaultBranch,
	}
}

// resolveRef finds the files behind a branch name or a tag name.
func (p *project) resolveRef(ref string) (*branch, bool) {
	if b, ok := p.branches[ref]; ok {
		return b, true
	}
	if t, ok := p.tags[ref]; ok {
		for _, b := range p.branches {
			if b.commit.ID == t.Target {
				return b, true
			}
		}
	}
	return nil, false
}

// canPush applies the push access level of a protected branch.
func canPush(c *gin.Context, p *project, branch string) bool {
	pb, ok := p.protected[branch]
	if !ok {
		return true
	}
	claims, err := caller(c)
	if err != nil {
		return false
	}
	if claims.IsAdmin() {
		return true
	}
	for _, lvl := range pb.PushAccessLevels {
		if lvl.AccessLevel != models.AccessNone && claims.AccessLevel() >= lvl.AccessLevel {
			return true
		}
	}
	return false
}

type branchRequest struct {
	Branch string `json:"branch"`
	Ref    string `json:"ref"`
}

func (h *Handlers) ListBranches(c *gin.Context, p *project) {
	search := c.Query("search")
	names := make([]string, 0, len(p.branches))
	for name := range p.branches {
		if containsFold(name, search) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]models.Branch, 0, len(names))
	for _, name := range names {
		out = append(out, p.branchModel(name))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) GetBranch(c *gin.Context, p *project) {
	name := c.Param("branch")
	if _, ok := p.branches[name]; !ok {
		abort(c, http.StatusNotFound, "404 Branch Not Found")
		return
	}
	c.JSON(http.StatusOK, p.branchModel(name))
}

func (h *Handlers) CreateBranch(c *gin.Context, p *project) {
	var req branchRequest
	if !bind(c, &req) {
		return
	}
	if req.Branch == "" || req.Ref == "" {
		abort(c, http.StatusBadRequest, "400 Bad request - branch and ref are required")
		return
	}
	if _, ok := p.branches[req.Branch]; ok {
		abort(c, http.StatusBadRequest, fmt.Sprintf("Branch already exists: %s", req.Branch))
		return
	}
	from, ok := p.resolveRef(req.Ref)
	if !ok {
		abort(c, http.StatusBadRequest, "Invalid reference name: "+req.Ref)
		return
	}

	p.branches[req.Branch] = &branch{commit: from.commit, files: maps.Clone(from.files)}
	c.JSON(http.StatusCreated, p.branchModel(req.Branch))
}

func (h *Handlers) DeleteBranch(c *gin.Context, p *project) {
	name := c.Param("branch")
	if _, ok := p.branches[name]; !ok {
		abort(c, http.StatusNotFound, "404 Branch Not Found")
		return
	}
	if name == p.DefaultBranch {
		abort(c, http.StatusBadRequest, "The default branch of a project cannot be deleted.")
		return
	}
	if _, ok := p.protected[name]; ok {
		abort(c, http.StatusForbidden, "403 Forbidden - Protected branch cant be removed")
		return
	}
	delete(p.branches, name)
	c.Status(http.StatusNoContent)
}

type fileRequest struct {
	Branch        string `json:"branch"`
	Content       string `json:"content"`
	CommitMessage string `json:"commit_message"`
	Encoding      string `json:"encoding"`
}

func (h *Handlers) GetFile(c *gin.Context, p *project) {
	filePath, content, ref, ok := h.file(c, p)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, models.File{
		FileName: path.Base(filePath),
		FilePath: filePath,
		Size:     len(content),
		Encoding: "base64",
		Content:  base64.StdEncoding.EncodeToString([]byte(content)),
		Ref:      ref,
	})
}

func (h *Handlers) GetRawFile(c *gin.Context, p *project) {
	_, content, _, ok := h.file(c, p)
	if !ok {
		return
	}
	c.String(http.StatusOK, content)
}

func (h *Handlers) file(c *gin.Context, p *project) (filePath, content, ref string, ok bool) {
	ref = c.DefaultQuery("ref", p.DefaultBranch)
	b, ok := p.resolveRef(ref)
	if !ok {
		abort(c, http.StatusNotFound, "404 Commit Not Found")
		return "", "", "", false
	}
	filePath = c.Param("file_path")
	content, ok = b.files[filePath]
	if !ok {
		abort(c, http.StatusNotFound, "404 File Not Found")
		return "", "", "", false
	}
	return filePath, content, ref, true
}

// writeFile creates, updates or deletes a file depending on the method.
func (h *Handlers) writeFile(c *gin.Context, p *project) {
	var req fileRequest
	if !bind(c, &req) {
		return
	}
	if req.Branch == "" {
		req.Branch = c.Query("branch")
	}
	if req.CommitMessage == "" {
		req.CommitMessage = c.Query("commit_message")
	}
	if req.Branch == "" || req.CommitMessage == "" {
		abort(c, http.StatusBadRequest, "400 Bad request - branch and commit_message are required")
		return
	}
	b, ok := p.branches[req.Branch]
	if !ok {
		abort(c, http.StatusBadRequest, "You can only create or edit files when you are on a branch")
		return
	}
	if !canPush(c, p, req.Branch) {
		abort(c, http.StatusForbidden, "403 Forbidden - You are not allowed to push into this branch")
		return
	}

	content := req.Content
	if req.Encoding == "base64" {
		data, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			abort(c, http.StatusBadRequest, "400 Bad request - content is not valid base64")
			return
		}
		content = string(data)
	}

	filePath := c.Param("file_path")
	_, exists := b.files[filePath]
	switch c.Request.Method {
	case http.MethodPost:
		if exists {
			abort(c, http.StatusBadRequest, "A file with this name already exists")
			return
		}
	case http.MethodPut, http.MethodDelete:
		if !exists {
			abort(c, http.StatusBadRequest, "A file with this name doesn't exist")
			return
		}
	}

	files := maps.Clone(b.files)
	if c.Request.Method == http.MethodDelete {
		delete(files, filePath)
	} else {
		files[filePath] = content
	}
	p.branches[req.Branch] = &branch{commit: h.state.commit(req.CommitMessage), files: files}

	switch c.Request.Method {
	case http.MethodDelete:
		c.Status(http.StatusNoContent)
	case http.MethodPost:
		c.JSON(http.StatusCreated, models.FileCommit{FilePath: filePath, Branch: req.Branch})
	default:
		c.JSON(http.StatusOK, models.FileCommit{FilePath: filePath, Branch: req.Branch})
	}
}

func (h *Handlers) CreateFile(c *gin.Context, p *project) { h.writeFile(c, p) }
func (h *Handlers) UpdateFile(c *gin.Context, p *project) { h.writeFile(c, p) }
func (h *Handlers) DeleteFile(c *gin.Context, p *project) { h.writeFile(c, p) }

type treeEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path"`
	Mode string `json:"mode"`
}

func (h *Handlers) ListTree(c *gin.Context, p *project) {
	b, ok := p.resolveRef(c.DefaultQuery("ref", p.DefaultBranch))
	if !ok {
		abort(c, http.StatusNotFound, "404 Tree Not Found")
		return
	}
	dir := strings.Trim(c.Query("path"), "/")
	recursive := c.Query("recursive") == "true"

	seen := map[string]treeEntry{}
	for filePath := range b.files {
		rel := filePath
		if dir != "" {
			var found bool
			if rel, found = strings.CutPrefix(filePath, dir+"/"); !found {
				continue
			}
		}
		parts := strings.Split(rel, "/")
		for i := range parts {
			if !recursive && i > 0 {
				break
			}
			full := strings.Join(append([]string{dir}, parts[:i+1]...), "/")
			full = strings.TrimPrefix(full, "/")
			entry := treeEntry{ID: full, Name: parts[i], Type: "tree", Path: full, Mode: "040000"}
			if i == len(parts)-1 {
				entry.Type, entry.Mode = "blob", "100644"
			}
			seen[full] = entry
		}
	}
	if dir != "" && len(seen) == 0 {
		abort(c, http.StatusNotFound, "404 Tree Not Found")
		return
	}

	out := make([]treeEntry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) ListCommits(c *gin.Context, p *project) {
	b, ok := p.resolveRef(c.DefaultQuery("ref_name", p.DefaultBranch))
	if !ok {
		abort(c, http.StatusNotFound, "404 Commit Not Found")
		return
	}
	c.JSON(http.StatusOK, []models.Commit{*b.commit})
}

type tagRequest struct {
	TagName string `json:"tag_name"`
	Ref     string `json:"ref"`
	Message string `json:"message"`
}

func (h *Handlers) ListTags(c *gin.Context, p *project) {
	c.JSON(http.StatusOK, sortedValues(p.tags, func(a, b *models.Tag) bool { return a.Name < b.Name }))
}

func (h *Handlers) GetTag(c *gin.Context, p *project) {
	t, ok := p.tags[c.Param("tag")]
	if !ok {
		abort(c, http.StatusNotFound, "404 Tag Not Found")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handlers) CreateTag(c *gin.Context, p *project) {
	var req tagRequest
	if !bind(c, &req) {
		return
	}
	t, ok := h.createTag(c, p, req)
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handlers) createTag(c *gin.Context, p *project, req tagRequest) (*models.Tag, bool) {
	if req.TagName == "" || req.Ref == "" {
		abort(c, http.StatusBadRequest, "400 Bad request - tag_name and ref are required")
		return nil, false
	}
	if _, ok := p.tags[req.TagName]; ok {
		abort(c, http.StatusBadRequest, fmt.Sprintf("Tag %s already exists", req.TagName))
		return nil, false
	}
	b, ok := p.resolveRef(req.Ref)
	if !ok {
		abort(c, http.StatusBadRequest, "Target "+req.Ref+" is invalid")
		return nil, false
	}

	t := &models.Tag{Name: req.TagName, Message: req.Message, Target: b.commit.ID, Commit: b.commit}
	p.tags[t.Name] = t
	return t, true
}

func (h *Handlers) DeleteTag(c *gin.Context, p *project) {
	name := c.Param("tag")
	if _, ok := p.tags[name]; !ok {
		abort(c, http.StatusNotFound, "404 Tag Not Found")
		return
	}
	delete(p.tags, name)
	c.Status(http.StatusNoContent)
}

type releaseRequest struct {
	TagName     string  `json:"tag_name"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Ref         string  `json:"ref"`
}

func (h *Handlers) ListReleases(c *gin.Context, p *project) {
	c.JSON(http.StatusOK, sortedValues(p.releases, func(a, b *models.Release) bool {
		return a.CreatedAt.After(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.TagName > b.TagName)
	}))
}

func (h *Handlers) GetRelease(c *gin.Context, p *project) {
	r, ok := h.release(c, p)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, r)
}

// CreateRelease tags ref first when the tag does not exist yet.
func (h *Handlers) CreateRelease(c *gin.Context, p *project) {
	var req releaseRequest
	if !bind(c, &req) {
		return
	}
	if req.TagName == "" {
		abort(c, http.StatusBadRequest, "400 Bad request - tag_name is missing")
		return
	}
	if _, ok := p.releases[req.TagName]; ok {
		abort(c, http.StatusConflict, "Release already exists")
		return
	}
	if _, ok := p.tags[req.TagName]; !ok {
		if req.Ref == "" {
			abort(c, http.StatusBadRequest, "Ref is not specified")
			return
		}
		if _, ok := h.createTag(c, p, tagRequest{TagName: req.TagName, Ref: req.Ref}); !ok {
			return
		}
	}

	now := h.state.now().UTC()
	r := &models.Release{TagName: req.TagName, Name: req.TagName, CreatedAt: now, ReleasedAt: now}
	if req.Name != nil {
		r.Name = *req.Name
	}
	if req.Description != nil {
		r.Description = *req.Description
	}
	p.releases[r.TagName] = r
	c.JSON(http.StatusCreated, r)
}

func (h *Handlers) UpdateRelease(c *gin.Context, p *project) {
	r, ok := h.release(c, p)
	if !ok {
		return
	}
	var req releaseRequest
	if !bind(c, &req) {
		return
	}
	if req.Name != nil {
		r.Name = *req.Name
	}
	if req.Description != nil {
		r.Description = *req.Description
	}
	c.JSON(http.StatusOK, r)
}

// DeleteRelease keeps the tag and returns the deleted release.
func (h *Handlers) DeleteRelease(c *gin.Context, p *project) {
	r, ok := h.release(c, p)
	if !ok {
		return
	}
	delete(p.releases, r.TagName)
	c.JSON(http.StatusOK, r)
}

func (h *Handlers) release(c *gin.Context, p *project) (*models.Release, bool) {
	r, ok := p.releases[c.Param("tag")]
	if !ok {
		abort(c, http.StatusNotFound, "404 Not found")
		return nil, false
	}
	return r, true
}

type protectRequest struct {
	Name             string `json:"name"`
	PushAccessLevel  *int   `json:"push_access_level"`
	MergeAccessLevel *int   `json:"merge_access_level"`
	AllowForcePush   bool   `json:"allow_force_push"`
}

func (h *Handlers) ListProtectedBranches(c *gin.Context, p *project) {
	c.JSON(http.StatusOK, sortedValues(p.protected, func(a, b *models.ProtectedBranch) bool { return a.ID < b.ID }))
}

func (h *Handlers) GetProtectedBranch(c *gin.Context, p *project) {
	pb, ok := p.protected[c.Param("branch")]
	if !ok {
		abort(c, http.StatusNotFound, "404 Not found")
		return
	}
	c.JSON(http.StatusOK, pb)
}

func (h *Handlers) ProtectBranch(c *gin.Context, p *project) {
	var req protectRequest
	if !bind(c, &req) {
		return
	}
	if req.Name == "" {
		abort(c, http.StatusBadRequest, "400 Bad request - name is missing")
		return
	}
	if _, ok := p.protected[req.Name]; ok {
		abort(c, http.StatusConflict, fmt.Sprintf("Protected branch '%s' already exists", req.Name))
		return
	}

	push, merge := models.AccessMaintainer, models.AccessMaintainer
	if req.PushAccessLevel != nil {
		push = *req.PushAccessLevel
	}
	if req.MergeAccessLevel != nil {
		merge = *req.MergeAccessLevel
	}
	pb := &models.ProtectedBranch{
		ID:                h.state.id(),
		Name:              req.Name,
		PushAccessLevels:  []models.AccessLevel{accessLevel(push)},
		MergeAccessLevels: []models.AccessLevel{accessLevel(merge)},
		AllowForcePush:    req.AllowForcePush,
	}
	p.protected[pb.Name] = pb
	c.JSON(http.StatusCreated, pb)
}

func (h *Handlers) UnprotectBranch(c *gin.Context, p *project) {
	name := c.Param("branch")
	if _, ok := p.protected[name]; !ok {
		abort(c, http.StatusNotFound, "404 Not found")
		return
	}
	delete(p.protected, name)
	c.Status(http.StatusNoContent)
}
