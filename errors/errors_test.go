package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMissingCredential(t *testing.T) {
	err := NewMissingCredential("subtitle", []string{"huggingface.token", "tmdb.api_key"})
	require.True(t, IsMissingCredential(err))
	require.Contains(t, err.Error(), "huggingface.token")
	require.Equal(t, 1, ExitCode(err))
}

func TestBudgetExceededClassification(t *testing.T) {
	err := NewBudgetExceeded(7, 55.5, 50, "2026-08")
	require.True(t, IsBudgetExceeded(err))
	require.False(t, IsMissingCredential(err))
}

func TestDownloadFailedUnwraps(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := NewDownloadFailed("https://example.com/video", cause)
	require.True(t, IsDownloadFailed(err))
	require.ErrorIs(t, err, cause)
}

func TestCancelledExitCode(t *testing.T) {
	err := NewCancelled()
	require.Equal(t, 130, ExitCode(err))
}

func TestExitCodeSuccess(t *testing.T) {
	require.Equal(t, 0, ExitCode(nil))
}

func TestInternalConsistencyIsDistinctFromMissingInput(t *testing.T) {
	ic := NewInternalConsistency("manifest claims success but output missing")
	mi := NewMissingInput("asr", "audio.wav", nil)
	require.True(t, IsInternalConsistency(ic))
	require.False(t, IsInternalConsistency(mi))
	require.True(t, IsMissingInput(mi))
}
