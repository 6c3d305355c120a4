// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// FixtureExt is the extension of fixture files.
const FixtureExt = ".rsd"

// forbiddenNameChars contains the characters a fixture name cannot contain.
const forbiddenNameChars = `,<>*?|\/'":`

// ValidFixtureName returns whether name can be used as a fixture name.
//
// A valid name is not empty and does not contain path separators, quotes,
// or any of the characters in `,<>*?|:`.
func ValidFixtureName(name string) bool {
	return name != "" && !strings.ContainsAny(name, forbiddenNameChars)
}

// Registry tracks where fixtures live and which fixture the next
// [*Session] should use.
//
// The zero value is invalid; construct using [NewRegistry]. Methods are
// safe for concurrent use, but sessions sharing a registry must run one
// at a time for the fixture names to be meaningful.
type Registry struct {
	mu      sync.Mutex
	saveDir string
	name    string
	persist bool
	counter int
}

// NewRegistry returns a new [*Registry] with no save directory and no name.
func NewRegistry() *Registry {
	return &Registry{}
}

// SetSaveDir sets the directory containing fixtures.
//
// The path must name an existing directory; it is stored in absolute
// form with symbolic links resolved. On failure, SetSaveDir returns false
// and the previous value is kept.
func (r *Registry) SetSaveDir(path string) bool {
	if path == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return false
	}
	finfo, err := os.Stat(resolved)
	if err != nil || !finfo.IsDir() {
		return false
	}

	r.mu.Lock()
	r.saveDir = resolved
	r.mu.Unlock()
	return true
}

// SaveDir returns the save directory or [ErrNoSaveDir].
func (r *Registry) SaveDir() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveDir == "" {
		return "", ErrNoSaveDir
	}
	return r.saveDir, nil
}

// SetSaveFilename sets the fixture name used by the next session.
//
// Invalid names (see [ValidFixtureName]) are rejected and the previous
// name is kept.
func (r *Registry) SetSaveFilename(name string) bool {
	if !ValidFixtureName(name) {
		return false
	}
	r.mu.Lock()
	r.name = name
	r.mu.Unlock()
	return true
}

// SaveFilename returns the active fixture name, or "" when unset.
func (r *Registry) SaveFilename() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

// ClearSaveFile clears the active fixture name. Under persist mode it does
// nothing and returns false: use [*Registry.ClearPersistSaveFile] instead.
func (r *Registry) ClearSaveFile() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.persist {
		return false
	}
	r.name = ""
	return true
}

// PersistSaveFile enters persist mode using name as the base name.
//
// Each subsequent [*Session.Open] advances a counter starting from zero,
// so that sessions use name-1, name-2, and so on.
func (r *Registry) PersistSaveFile(name string) bool {
	if !ValidFixtureName(name) {
		return false
	}
	r.mu.Lock()
	r.name = name
	r.persist = true
	r.counter = 0
	r.mu.Unlock()
	return true
}

// ClearPersistSaveFile leaves persist mode, resets the counter and
// clears the active name.
func (r *Registry) ClearPersistSaveFile() {
	r.mu.Lock()
	r.name = ""
	r.persist = false
	r.counter = 0
	r.mu.Unlock()
}

// Persisting returns whether persist mode is on.
func (r *Registry) Persisting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persist
}

// EffectiveFileName returns the fixture name of the current session.
func (r *Registry) EffectiveFileName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.effectiveLocked()
}

func (r *Registry) effectiveLocked() string {
	if !r.persist {
		return r.name
	}
	return r.name + "-" + strconv.Itoa(r.counter)
}

// FixturePath returns the path of the fixture file for name.
func (r *Registry) FixturePath(name string) (string, error) {
	dir, err := r.SaveDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+FixtureExt), nil
}

// next prepares the fixture of a new session and returns its effective
// name and path. Under persist mode the counter advances even when the
// session later fails.
func (r *Registry) next() (name, path string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.name == "" {
		return "", "", ErrNoFixtureName
	}
	if r.saveDir == "" {
		return "", "", ErrNoSaveDir
	}
	if r.persist {
		r.counter++
	}
	name = r.effectiveLocked()
	return name, filepath.Join(r.saveDir, name+FixtureExt), nil
}
