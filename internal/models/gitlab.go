package models

import "time"

// The types below mirror the subset of the GitLab REST payloads the harness
// reads and writes. Unknown fields are ignored on decode.

type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	State    string `json:"state,omitempty"`
}

type Namespace struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	FullPath string `json:"full_path"`
	Kind     string `json:"kind"`
}

type Project struct {
	ID                int        `json:"id"`
	Name              string     `json:"name"`
	Path              string     `json:"path"`
	PathWithNamespace string     `json:"path_with_namespace"`
	DefaultBranch     string     `json:"default_branch"`
	Visibility        string     `json:"visibility,omitempty"`
	WebURL            string     `json:"web_url,omitempty"`
	Namespace         *Namespace `json:"namespace,omitempty"`
}

type Group struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	FullPath    string `json:"full_path"`
	Description string `json:"description"`
	Visibility  string `json:"visibility,omitempty"`
	WebURL      string `json:"web_url,omitempty"`
}

type Member struct {
	User
	AccessLevel int `json:"access_level"`
}

// Access levels used by members and protected branches.
const (
	AccessNone       = 0
	AccessGuest      = 10
	AccessReporter   = 20
	AccessDeveloper  = 30
	AccessMaintainer = 40
	AccessOwner      = 50
)

type Issue struct {
	ID          int        `json:"id"`
	IID         int        `json:"iid"`
	ProjectID   int        `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	State       string     `json:"state"`
	Labels      []string   `json:"labels"`
	Assignees   []User     `json:"assignees"`
	Author      *User      `json:"author,omitempty"`
	Milestone   *Milestone `json:"milestone"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	WebURL      string     `json:"web_url,omitempty"`
}

type Commit struct {
	ID        string    `json:"id"`
	ShortID   string    `json:"short_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type Branch struct {
	Name      string  `json:"name"`
	Commit    *Commit `json:"commit"`
	Merged    bool    `json:"merged"`
	Protected bool    `json:"protected"`
	Default   bool    `json:"default"`
}

type Label struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

type Milestone struct {
	ID          int    `json:"id"`
	IID         int    `json:"iid"`
	ProjectID   int    `json:"project_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
	State       string `json:"state"`
	DueDate     string `json:"due_date,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
}

type MergeRequest struct {
	ID           int       `json:"id"`
	IID          int       `json:"iid"`
	ProjectID    int       `json:"project_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	State        string    `json:"state"`
	SourceBranch string    `json:"source_branch"`
	TargetBranch string    `json:"target_branch"`
	Labels       []string  `json:"labels"`
	Draft        bool      `json:"draft"`
	Author       *User     `json:"author,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	WebURL       string    `json:"web_url,omitempty"`
}

type Webhook struct {
	ID                  int    `json:"id"`
	URL                 string `json:"url"`
	ProjectID           int    `json:"project_id"`
	PushEvents          bool   `json:"push_events"`
	MergeRequestsEvents bool   `json:"merge_requests_events"`
	IssuesEvents        bool   `json:"issues_events"`
	TagPushEvents       bool   `json:"tag_push_events"`
}

type Variable struct {
	Key              string `json:"key"`
	Value            string `json:"value"`
	VariableType     string `json:"variable_type"`
	Protected        bool   `json:"protected"`
	Masked           bool   `json:"masked"`
	EnvironmentScope string `json:"environment_scope"`
}

type WikiPage struct {
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
	Format  string `json:"format"`
}

type Badge struct {
	ID               int    `json:"id"`
	Name             string `json:"name,omitempty"`
	LinkURL          string `json:"link_url"`
	ImageURL         string `json:"image_url"`
	RenderedLinkURL  string `json:"rendered_link_url"`
	RenderedImageURL string `json:"rendered_image_url"`
	Kind             string `json:"kind"`
}

type Tag struct {
	Name    string  `json:"name"`
	Message string  `json:"message"`
	Target  string  `json:"target"`
	Commit  *Commit `json:"commit"`
}

type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	ReleasedAt  time.Time `json:"released_at"`
}

type AccessLevel struct {
	AccessLevel            int    `json:"access_level"`
	AccessLevelDescription string `json:"access_level_description"`
}

type ProtectedBranch struct {
	ID                int           `json:"id"`
	Name              string        `json:"name"`
	PushAccessLevels  []AccessLevel `json:"push_access_levels"`
	MergeAccessLevels []AccessLevel `json:"merge_access_levels"`
	AllowForcePush    bool          `json:"allow_force_push"`
}

// FileCommit is returned when a repository file is created or updated.
type FileCommit struct {
	FilePath string `json:"file_path"`
	Branch   string `json:"branch"`
}

type File struct {
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
	Size     int    `json:"size"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
	Ref      string `json:"ref"`
	BlobID   string `json:"blob_id,omitempty"`
}

type Note struct {
	ID        int       `json:"id"`
	Body      string    `json:"body"`
	Author    *User     `json:"author,omitempty"`
	System    bool      `json:"system"`
	CreatedAt time.Time `json:"created_at"`
}

type Discussion struct {
	ID    string `json:"id"`
	Notes []Note `json:"notes"`
}

type Pipeline struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
	Ref    string `json:"ref"`
	SHA    string `json:"sha"`
}

type RegistryRepository struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Location string `json:"location"`
}
