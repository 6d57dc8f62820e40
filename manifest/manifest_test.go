package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackInputHashesImmediately(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.wav")
	require.NoError(t, os.WriteFile(inputPath, []byte("hello"), 0o644))

	tr := New("demux", "job-1", time.Unix(0, 0))
	tr.TrackInput(inputPath, "audio", nil)

	require.Len(t, tr.inputs, 1)
	require.NotEqual(t, placeholderHash, tr.inputs[0].Hash)
	require.Equal(t, int64(5), tr.inputs[0].Size)
}

func TestTrackOutputBeforeWriteGetsRehashedAtFinalize(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "output.wav")

	tr := New("demux", "job-1", time.Unix(0, 0))
	tr.TrackOutput(outputPath, "audio", nil)
	require.Equal(t, placeholderHash, tr.outputs[0].Hash)

	require.NoError(t, os.WriteFile(outputPath, []byte("world!"), 0o644))

	sm, err := tr.Finalize(filepath.Join(dir, "manifest.json"), time.Unix(1, 0), 0, StatusSuccess)
	require.NoError(t, err)
	require.NotEqual(t, placeholderHash, sm.Outputs[0].Hash)
	require.Equal(t, int64(6), sm.Outputs[0].Size)
}

func TestFinalizeWritesAtomicallyAndIsReadable(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "manifest.json")

	tr := New("asr", "job-2", time.Unix(100, 0))
	tr.SetConfig("model", "large-v3")
	tr.AddWarning("low confidence segment at 00:12")

	_, err := tr.Finalize(manifestPath, time.Unix(200, 0), 0, StatusSuccessWithWarnings)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no leftover temp file after rename")

	loaded, err := Load(manifestPath)
	require.NoError(t, err)
	require.Equal(t, "asr", loaded.Stage)
	require.Equal(t, StatusSuccessWithWarnings, loaded.Status)
	require.Equal(t, "large-v3", loaded.Config["model"])
	require.Equal(t, []string{"low confidence segment at 00:12"}, loaded.Warnings)
}

func TestTrackIntermediateRecordsRetentionDecision(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scratch.pcm")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	tr := New("vad", "job-3", time.Unix(0, 0))
	tr.TrackIntermediate(path, false, "superseded by aligned segments")

	require.Len(t, tr.inter, 1)
	require.False(t, *tr.inter[0].Retained)
	require.Equal(t, "superseded by aligned segments", tr.inter[0].Reason)
}

func TestWriteAtomicRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	require.NoError(t, WriteAtomic(path, []byte(`{"a":1}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(data))
}

func TestHashFileMissingReturnsError(t *testing.T) {
	_, _, err := HashFile(filepath.Join(t.TempDir(), "nope.bin"))
	require.Error(t, err)
}
