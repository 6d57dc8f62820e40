package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfigValue struct {
	GlossaryPath string
}

func TestStoreAndRetrieve(t *testing.T) {
	c := New[testConfigValue]()
	c.Store(
		"/jobs/job-1",
		testConfigValue{
			GlossaryPath: "/jobs/job-1/glossary.json",
		},
	)
	v, ok := c.Get("/jobs/job-1")
	require.True(t, ok)
	require.Equal(t, "/jobs/job-1/glossary.json", v.GlossaryPath)
}

func TestGetMissingReturnsZeroValue(t *testing.T) {
	c := New[testConfigValue]()
	v, ok := c.Get("/jobs/missing")
	require.False(t, ok)
	require.Equal(t, testConfigValue{}, v)
}

func TestStoreAndRemove(t *testing.T) {
	c := New[testConfigValue]()
	c.Store("/jobs/job-1", testConfigValue{GlossaryPath: "glossary.json"})

	c.Remove("job-1", "/jobs/job-1")
	_, ok := c.Get("/jobs/job-1")
	require.False(t, ok)
}
