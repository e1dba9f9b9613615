package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	require.Equal(t, "Motion to Dismiss", SanitizeFilename("Motion   to\tDismiss", 80))
	require.Equal(t, "Order_ Granting _Partial_", SanitizeFilename(`Order: Granting "Partial"`, 80))
	require.Equal(t, "abcde", SanitizeFilename("abcdefgh", 5))
	require.Equal(t, "a_b_c", SanitizeFilename(`a/b\c`, 80))
}

func TestStripTrailingDate(t *testing.T) {
	require.Equal(t, "Motion to Dismiss", StripTrailingDate("Motion to Dismiss 01/02/2023"))
	require.Equal(t, "Motion to Dismiss", StripTrailingDate("Motion to Dismiss"))
	// a date in the middle is part of the title
	require.Equal(t, "Hearing 01/02/2023 Notice", StripTrailingDate("Hearing 01/02/2023 Notice"))
}

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "johndoe", NormalizeName("  John Doe\n"))
	require.True(t, MatchName("John Doe", []string{"johndoe"}))
	require.False(t, MatchName("John Doe", []string{"janedoe"}))
}
