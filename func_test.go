// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuncAdapter(t *testing.T) {
	adapter := FuncAdapter[string, *Target](func(ctx context.Context, input string) (*Target, error) {
		return ParseTarget(input)
	})

	target, err := adapter.Call(context.Background(), "http://example.com/x")
	require.NoError(t, err)
	assert.Equal(t, "example.com", target.Host)

	_, err = adapter.Call(context.Background(), "ftp://example.com/")
	assert.True(t, errors.Is(err, ErrUnsupportedScheme))
}
