package commands

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lianxiangcloud/ringroute/libs/log"
)

func TestSimulateConverges(t *testing.T) {
	opts := simFlags
	opts.nodes = 8
	opts.fail = 1
	opts.settle = 10 * time.Minute

	var buf bytes.Buffer
	misplaced, err := simulate(&buf, opts, log.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, misplaced, buf.String())
	assert.Contains(t, buf.String(), "joined: 8 nodes, 8 initialized, 0 misplaced")
	assert.Contains(t, buf.String(), "after 1 failures: 7 nodes")
}

func TestSimulateRejectsBadOptions(t *testing.T) {
	opts := simFlags
	opts.nodes = 2
	opts.fail = 2
	_, err := simulate(&bytes.Buffer{}, opts, log.NewNopLogger())
	assert.Error(t, err)
}
