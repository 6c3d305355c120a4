// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"context"
	"errors"
	"testing"

	"github.com/bassosimone/errclass"
	"github.com/stretchr/testify/assert"
)

func TestDefaultErrClassifier(t *testing.T) {
	tests := []struct {
		// name describes the error.
		name string

		// err is the error to classify.
		err error

		// want is the expected class.
		want string
	}{
		{name: "nil error", err: nil, want: ""},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: errclass.ETIMEDOUT},
		{name: "unknown error", err: errors.New("mocked error"), want: errclass.EGENERIC},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultErrClassifier.Classify(tt.err))
		})
	}
}

func TestErrClassifierFunc(t *testing.T) {
	classifier := ErrClassifierFunc(func(err error) string {
		return "ECUSTOM"
	})
	assert.Equal(t, "ECUSTOM", classifier.Classify(ErrNotOpen))
}
