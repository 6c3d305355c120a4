// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSpanID(t *testing.T) {
	spanID := NewSpanID()

	parsed, err := uuid.Parse(spanID)
	require.NoError(t, err)

	// Time-ordered IDs sort like the sessions they tag
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestNewSessionGetsDistinctSpanIDs(t *testing.T) {
	reg := NewRegistry()
	cfg := NewConfig()

	seen := make(map[string]struct{})
	for range 50 {
		sess := NewSession(cfg, reg, DefaultSLogger())
		_, duplicate := seen[sess.SpanID]
		require.False(t, duplicate, "duplicate span ID: %s", sess.SpanID)
		seen[sess.SpanID] = struct{}{}
	}
}
