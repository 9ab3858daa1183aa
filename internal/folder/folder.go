package folder

import (
	"path/filepath"
	"strings"

	"github.com/loykin/dbkick/internal/constants"
	"github.com/loykin/dbkick/internal/util"
)

// Policy says how often the scripts of a folder run.
type Policy int

const (
	// RunOnce scripts run once per content hash and are skipped afterwards.
	RunOnce Policy = iota
	// RunEveryTime scripts run on every migration.
	RunEveryTime
)

func (p Policy) String() string {
	if p == RunEveryTime {
		return "run_every_time"
	}
	return "run_once"
}

// Known folder names, in execution order.
const (
	Up               = "Up"
	RunFirstAfterUp  = "RunFirstAfterUp"
	Functions        = "Functions"
	Views            = "Views"
	StoredProcedures = "StoredProcedures"
	Permissions      = "Permissions"
)

// MigrationsFolder is one script directory of the catalog.
type MigrationsFolder struct {
	Name string
	// Path is the directory as configured, relative to the scripts root unless absolute.
	Path string
	// FullPath is Path resolved against the scripts root.
	FullPath string
	// Description names the kind of script for log lines.
	Description string
	Policy      Policy
}

// RunOnce reports whether scripts in the folder are gated by their hash.
func (f MigrationsFolder) RunOnce() bool { return f.Policy == RunOnce }

// RunEveryTime reports whether scripts in the folder always run.
func (f MigrationsFolder) RunEveryTime() bool { return f.Policy == RunEveryTime }

// Config names the folders. Blank entries take the defaults.
type Config struct {
	Root             string
	Up               string
	RunFirstAfterUp  string
	Functions        string
	Views            string
	StoredProcedures string
	Permissions      string
	// ChangeDrop is the output directory, relative to the working directory unless absolute.
	ChangeDrop string
}

// Catalog is the fixed, ordered set of script folders plus the change-drop
// output directory. It is immutable once built.
type Catalog struct {
	root       string
	folders    []MigrationsFolder
	changeDrop string
}

// New builds the catalog. Up runs before every repeatable folder because
// functions, views, procedures and permissions depend on its schema changes.
func New(cfg Config) *Catalog {
	root := filepath.Clean(util.TrimWithDefault(cfg.Root, "."))
	c := &Catalog{
		root:       root,
		changeDrop: filepath.Clean(util.TrimWithDefault(cfg.ChangeDrop, constants.DefaultChangeDropFolder)),
	}
	add := func(name, path, fallback, description string, policy Policy) {
		path = util.TrimWithDefault(path, fallback)
		c.folders = append(c.folders, MigrationsFolder{
			Name:        name,
			Path:        path,
			FullPath:    resolve(root, path),
			Description: description,
			Policy:      policy,
		})
	}
	add(Up, cfg.Up, constants.DefaultUpFolder, "Update", RunOnce)
	add(RunFirstAfterUp, cfg.RunFirstAfterUp, constants.DefaultRunFirstAfterUpFolder, "Run First After Update", RunEveryTime)
	add(Functions, cfg.Functions, constants.DefaultFunctionsFolder, "Function", RunEveryTime)
	add(Views, cfg.Views, constants.DefaultViewsFolder, "View", RunEveryTime)
	add(StoredProcedures, cfg.StoredProcedures, constants.DefaultStoredProceduresFolder, "Stored Procedure", RunEveryTime)
	add(Permissions, cfg.Permissions, constants.DefaultPermissionsFolder, "Permission", RunEveryTime)
	return c
}

func resolve(root, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(root, path)
}

// Root is the scripts root directory.
func (c *Catalog) Root() string { return c.root }

// Folders returns the script folders in execution order.
func (c *Catalog) Folders() []MigrationsFolder {
	out := make([]MigrationsFolder, len(c.folders))
	copy(out, c.folders)
	return out
}

// Lookup finds a folder by name, ignoring case.
func (c *Catalog) Lookup(name string) (MigrationsFolder, bool) {
	for _, f := range c.folders {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return MigrationsFolder{}, false
}

// ChangeDrop is the output directory of the run.
func (c *Catalog) ChangeDrop() string { return c.changeDrop }

// ItemsRan is the directory executed scripts are mirrored into.
func (c *Catalog) ItemsRan() string {
	return filepath.Join(c.changeDrop, constants.ChangeDropItemsRan)
}

// Backups is the directory database backups are written to.
func (c *Catalog) Backups() string {
	return filepath.Join(c.changeDrop, constants.ChangeDropBackups)
}

// MirrorPath maps an executed script onto its copy under ItemsRan. Scripts
// under the root keep their root-relative path; scripts of an absolute folder
// elsewhere are placed under the folder's name.
func (c *Catalog) MirrorPath(f MigrationsFolder, script string) string {
	script = filepath.Clean(script)
	if rel, ok := within(c.root, script); ok {
		return filepath.Join(c.ItemsRan(), rel)
	}
	if rel, ok := within(f.FullPath, script); ok {
		return filepath.Join(c.ItemsRan(), filepath.Base(f.FullPath), rel)
	}
	return filepath.Join(c.ItemsRan(), f.Name, filepath.Base(script))
}

func within(base, path string) (string, bool) {
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
