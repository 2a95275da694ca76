package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesSortedAndEmbedded(t *testing.T) {
	files, err := Files()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(files), 3)
	assert.Equal(t, "0001_jobs.sql", files[0])
	assert.Equal(t, "0002_scheduled_jobs.sql", files[1])
	assert.Equal(t, "0003_job_lease.sql", files[2])
	assert.IsIncreasing(t, files)
}

func TestVersionStripsExtension(t *testing.T) {
	assert.Equal(t, "0001_jobs", version("0001_jobs.sql"))
}
