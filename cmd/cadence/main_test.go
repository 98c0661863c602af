package main

import (
	"testing"

	"github.com/harrison/cadence/internal/cmd"
	"github.com/stretchr/testify/assert"
)

func TestRootCommandName(t *testing.T) {
	root := cmd.NewRootCommand()
	assert.Equal(t, "cadence", root.Name())
	assert.NotEmpty(t, root.Version)
}
