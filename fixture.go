// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"os"
	"path/filepath"
)

// FixtureExists returns whether a regular file exists at path.
func FixtureExists(path string) bool {
	finfo, err := os.Stat(path)
	return err == nil && finfo.Mode().IsRegular()
}

// WriteFixture atomically writes data to path: the bytes go to a
// temporary file in the same directory, which is then renamed.
//
// Readers either see the previous content or the whole new content.
func WriteFixture(path string, data []byte) error {
	dir, filename := filepath.Split(path)
	f, err := os.CreateTemp(dir, "."+filename+".*")
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(f.Name(), 0644)
	}
	if err == nil {
		err = os.Rename(f.Name(), path)
	}
	if err != nil {
		os.Remove(f.Name())
	}
	return err
}
