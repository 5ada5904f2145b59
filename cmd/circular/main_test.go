package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	capabilitiesFlags.plan, capabilitiesFlags.role, capabilitiesFlags.roleSet = "", "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	oldVersion, oldBuildTime, oldGitCommit := Version, BuildTime, GitCommit
	defer func() { Version, BuildTime, GitCommit = oldVersion, oldBuildTime, oldGitCommit }()

	Version, BuildTime, GitCommit = "1.2.3", "2026-01-01", "abcdef"
	output, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, output, "Circular 1.2.3")
	assert.Contains(t, output, "Built: 2026-01-01")
	assert.Contains(t, output, "Commit: abcdef")

	BuildTime, GitCommit = "unknown", "unknown"
	output, err = execute(t, "version")
	require.NoError(t, err)
	assert.NotContains(t, output, "Built:")
	assert.NotContains(t, output, "Commit:")
}

func TestCapabilitiesCmd_FullMatrix(t *testing.T) {
	output, err := execute(t, "capabilities")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(output), "\n")
	// header + 3 plans * (2 default roles + 4 enterprise roles)
	assert.Len(t, lines, 1+3*6)
	assert.Contains(t, lines[0], "CAPABILITIES")
}

func TestCapabilitiesCmd_Filtered(t *testing.T) {
	output, err := execute(t, "capabilities", "--plan", "enterprise", "--role-set", "enterprise", "--role", "org:admin")
	require.NoError(t, err)
	assert.Contains(t, output, "manage_billing")
	assert.Contains(t, output, "manage_developer")

	output, err = execute(t, "capabilities", "--plan", "free", "--role-set", "default", "--role", "member")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(output), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[1]), "-"))

	// A billing role outside the enterprise role set is degraded.
	output, err = execute(t, "capabilities", "--plan", "enterprise", "--role-set", "default", "--role", "billing")
	require.NoError(t, err)
	assert.NotContains(t, output, "view_billing")
}

func TestCapabilitiesCmd_RejectsUnknownValues(t *testing.T) {
	for _, args := range [][]string{
		{"capabilities", "--plan", "gold"},
		{"capabilities", "--role", "owner"},
		{"capabilities", "--role-set", "custom"},
	} {
		_, err := execute(t, args...)
		assert.Error(t, err, args)
	}
}
