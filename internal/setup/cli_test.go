package setup

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progress-analytics-server/internal/domain"
	"github.com/progress-analytics-server/internal/litestore"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(quietLogger())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedStore(t *testing.T, dataDir string) {
	t.Helper()
	store, err := litestore.NewSQLiteStore(filepath.Join(dataDir, "progress.db"), quietLogger())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, v := range []float64{7, 6, 5} {
		require.NoError(t, store.Insert(ctx, &domain.MeasurementPoint{
			SubjectID:  "client-1",
			MetricKind: domain.MetricSymptomSeverity,
			Value:      v,
			Timestamp:  base.Add(time.Duration(i) * 24 * time.Hour),
			Source:     "gad7",
		}))
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	seedStore(t, src)

	exportFile := filepath.Join(t.TempDir(), "export.json")
	_, err := run(t, "export", "--data-dir", src, "-o", exportFile)
	require.NoError(t, err)
	assert.FileExists(t, exportFile)

	out, err := run(t, "import", exportFile, "--data-dir", dst)
	require.NoError(t, err)
	var result litestore.ImportResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 3, result.MeasurementsImported)
	assert.Equal(t, 0, result.MeasurementsSkipped)

	out, err = run(t, "import", exportFile, "--data-dir", dst)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 0, result.MeasurementsImported)
	assert.Equal(t, 3, result.MeasurementsSkipped)
}

func TestExportToStdout(t *testing.T) {
	dir := t.TempDir()
	seedStore(t, dir)

	out, err := run(t, "export", "--data-dir", dir, "-o", "-")
	require.NoError(t, err)

	var export litestore.Export
	require.NoError(t, json.Unmarshal([]byte(out), &export))
	assert.Equal(t, litestore.ExportVersion, export.Version)
	assert.Len(t, export.Measurements, 3)
}

func TestImport_MissingFile(t *testing.T) {
	_, err := run(t, "import", filepath.Join(t.TempDir(), "nope.json"), "--data-dir", t.TempDir())
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	dir := t.TempDir()
	seedStore(t, dir)
	clientConfig := filepath.Join(t.TempDir(), "client.json")

	out, err := run(t, "status", "--data-dir", dir, "--client-config", clientConfig)
	require.NoError(t, err)

	var status Status
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.NotNil(t, status.Store)
	assert.Equal(t, int64(3), status.Store.Measurements)
	assert.Equal(t, int64(1), status.Store.Subjects)
	assert.Contains(t, status.Issues, "lite server is not registered with the desktop client")
}

func TestStatus_FreshDataDir(t *testing.T) {
	out, err := run(t, "status", "--data-dir", t.TempDir(), "--client-config", filepath.Join(t.TempDir(), "c.json"))
	require.NoError(t, err)

	var status Status
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Nil(t, status.Store)
	assert.Contains(t, status.Issues, "database will be created on first run")
}

func TestRegisterClientCommand(t *testing.T) {
	clientConfig := filepath.Join(t.TempDir(), "client.json")
	out, err := run(t, "register-client", "--client-config", clientConfig, "--binary", "/opt/progress/mcp-server-lite", "--data-dir", "/srv/progress")
	require.NoError(t, err)
	assert.Contains(t, out, "registered progress-analytics")

	cfg, err := LoadClientConfig(clientConfig)
	require.NoError(t, err)
	assert.Equal(t, "/srv/progress", cfg.MCPServers[ServerName].Env["PROGRESS_DATA_DIR"])
}

func TestMigrate_RejectsUnknownAction(t *testing.T) {
	_, err := run(t, "migrate", "sideways")
	assert.Error(t, err)

	_, err = run(t, "migrate")
	assert.Error(t, err)
}
