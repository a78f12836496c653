package testutils

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// FlagCase describes the expected shape of a cobra flag.
type FlagCase struct {
	Short      string
	Persistent bool
	// Default is the textual default value, as printed by the usage.
	Default string
	// Extensions are the file extensions offered by shell completion, if the flag is a file name.
	Extensions []string
}

// AssertFlag checks that cmd declares the flag name with the expected shape.
func AssertFlag(t *testing.T, cmd *cobra.Command, name string, want FlagCase) {
	t.Helper()

	var flag *pflag.Flag
	if want.Persistent {
		flag = cmd.PersistentFlags().Lookup(name)
	} else {
		flag = cmd.Flags().Lookup(name)
	}
	require.NotNil(t, flag, "Flag %q should be declared", name)

	assert.Equal(t, want.Short, flag.Shorthand, "Unexpected shorthand for %q", name)
	assert.Equal(t, want.Default, flag.DefValue, "Unexpected default for %q", name)
	if want.Extensions != nil {
		assert.Equal(t, want.Extensions, flag.Annotations[cobra.BashCompFilenameExt], "Unexpected completion for %q", name)
	} else {
		assert.Nil(t, flag.Annotations[cobra.BashCompFilenameExt], "Flag %q should not complete file names", name)
	}
}
