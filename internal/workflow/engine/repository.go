package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/kingrea/flowgraph/internal/task"
)

// File names of the persisted snapshot inside the graph output directory.
const (
	FileStatus = "status.json"
	FilePIDs   = "pids.json"
)

// ErrStateNotFound is returned when no status snapshot exists yet.
var ErrStateNotFound = errors.New("workflow engine: state not found")

// StateStore persists run snapshots.
type StateStore interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
}

// Repository stores snapshots next to the graph it describes.
type Repository struct {
	fs  afero.Fs
	dir string
}

// NewRepository creates a repository rooted at the graph output directory.
// A nil fs means the operating system filesystem.
func NewRepository(fsys afero.Fs, dir string) *Repository {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Repository{fs: fsys, dir: dir}
}

// StatusPath returns the location of the status snapshot.
func (r *Repository) StatusPath() string { return filepath.Join(r.dir, FileStatus) }

// PIDsPath returns the location of the pid snapshot.
func (r *Repository) PIDsPath() string { return filepath.Join(r.dir, FilePIDs) }

// Load reads the persisted snapshot. A missing pid file is not an error.
func (r *Repository) Load() (Snapshot, error) {
	snap := Snapshot{Status: map[string]task.Status{}, PIDs: map[string]int{}}
	if err := r.read(r.StatusPath(), &snap.Status); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, ErrStateNotFound
		}
		return Snapshot{}, err
	}
	for name, status := range snap.Status {
		if !status.Valid() {
			return Snapshot{}, fmt.Errorf("workflow engine: %s: task %s has unknown status %q", FileStatus, name, status)
		}
	}
	if err := r.read(r.PIDsPath(), &snap.PIDs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, err
	}
	return snap, nil
}

// Save writes both snapshot files. Each file is written to a temporary
// name first and renamed into place.
func (r *Repository) Save(snap Snapshot) error {
	if err := r.fs.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	if snap.Status == nil {
		snap.Status = map[string]task.Status{}
	}
	if snap.PIDs == nil {
		snap.PIDs = map[string]int{}
	}
	if err := r.write(r.StatusPath(), snap.Status); err != nil {
		return err
	}
	return r.write(r.PIDsPath(), snap.PIDs)
}

func (r *Repository) read(path string, v any) error {
	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("workflow engine: decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (r *Repository) write(path string, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(r.fs, tmp, append(encoded, '\n'), 0o644); err != nil {
		return err
	}
	if err := r.fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("workflow engine: replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
