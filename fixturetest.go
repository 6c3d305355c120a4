// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import "testing"

// UseFixture makes name the fixture of the sessions opened by the test
// and clears it when the test ends. An invalid name fails the test.
func UseFixture(t testing.TB, reg *Registry, name string) {
	t.Helper()
	if !reg.SetSaveFilename(name) {
		t.Fatalf("%s: %q", ErrValidation, name)
	}
	t.Cleanup(func() {
		reg.ClearSaveFile()
	})
}

// UsePersistentFixture is like [UseFixture] but enters persist mode, so
// that each session of the test gets its own numbered fixture.
func UsePersistentFixture(t testing.TB, reg *Registry, name string) {
	t.Helper()
	if !reg.PersistSaveFile(name) {
		t.Fatalf("%s: %q", ErrValidation, name)
	}
	t.Cleanup(reg.ClearPersistSaveFile)
}
