package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.Equal(t, 0, execute(root))
	assert.True(t, strings.HasPrefix(out.String(), "botservice dev"))
}

func TestServeFlags(t *testing.T) {
	serve := newServeCmd()

	for _, name := range []string{"config", "dev", "shutdown-timeout"} {
		assert.NotNil(t, serve.Flags().Lookup(name), name)
	}
	assert.Equal(t, "config.yaml", serve.Flags().Lookup("config").DefValue)
}

func TestUnknownCommandFails(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"explode"})

	assert.Equal(t, 1, execute(root))
}
