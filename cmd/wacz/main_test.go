package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mrhapile/wacz/cmd/wacz/cli"
	"github.com/mrhapile/wacz/pkg/cdx"
	"github.com/mrhapile/wacz/pkg/types"
	"github.com/mrhapile/wacz/pkg/validate"
	"github.com/mrhapile/wacz/pkg/warc/warctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func writeCapture(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "crawl.warc.gz")
	_, err := warctest.WriteFile(path, true,
		warctest.Response("https://example.com/", "2021-03-04T05:06:07Z", 200, "text/html", "<title>Home</title>"),
		warctest.Response("https://example.com/style.css", "2021-03-04T05:06:08Z", 200, "text/css", "body{}"),
	)
	require.NoError(t, err)
	return path
}

func TestCreateValidateIndex(t *testing.T) {
	dir := t.TempDir()
	capture := writeCapture(t, dir)
	out := filepath.Join(dir, "crawl.wacz")

	stdout, _, err := execute(t, "create", "-d", "--title", "Crawl", "-o", out, capture)
	require.NoError(t, err)
	assert.Contains(t, stdout, "crawl.wacz")
	assert.Contains(t, stdout, "1 pages")

	stdout, _, err = execute(t, "validate", "-f", out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "VALID "))

	stdout, _, err = execute(t, "validate", "--json", "-f", out)
	require.NoError(t, err)
	var report validate.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, validate.Valid, report.Outcome)
	assert.Equal(t, types.FormatVersion, report.Version)

	index := filepath.Join(dir, "crawl.cdxj")
	_, _, err = execute(t, "index", "-f", out, "-p", "/data/", "-o", index)
	require.NoError(t, err)
	data, err := os.ReadFile(index)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	rec, err := cdx.ParseLine([]byte(lines[0]))
	require.NoError(t, err)
	assert.Equal(t, "/data/crawl.wacz", rec.Filename)

	stdout, _, err = execute(t, "index", "-f", out, "-p", "/data/")
	require.NoError(t, err)
	assert.Equal(t, string(data), stdout)
}

func TestCreateConfigFile(t *testing.T) {
	dir := t.TempDir()
	capture := writeCapture(t, dir)
	cfgPath := filepath.Join(dir, "wacz.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"create:\n  inputs: ["+capture+"]\n  output: "+filepath.Join(dir, "from-config.wacz")+"\n  detect_pages: true\n  title: From config\n"), 0o644))

	_, _, err := execute(t, "create", "--config", cfgPath)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "from-config.wacz"))

	override := filepath.Join(dir, "override.wacz")
	_, _, err = execute(t, "create", "--config", cfgPath, "-o", override)
	require.NoError(t, err)
	assert.FileExists(t, override)
}

func TestCreateErrors(t *testing.T) {
	dir := t.TempDir()
	capture := writeCapture(t, dir)

	t.Run("no inputs", func(t *testing.T) {
		_, _, err := execute(t, "create", "-o", filepath.Join(dir, "none.wacz"))
		var cfgErr *types.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "inputs", cfgErr.Option)
	})

	t.Run("malformed page list", func(t *testing.T) {
		_, _, err := execute(t, "create", "--page-list", "nameonly", capture)
		var cfgErr *types.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "page-list", cfgErr.Option)
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, _, err := execute(t, "create", "--bogus", capture)
		assert.ErrorContains(t, err, "unknown flag")
	})
}

func TestValidateInvalidExitCode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.wacz")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))

	stdout, _, err := execute(t, "validate", "-f", path)
	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.True(t, strings.HasPrefix(stdout, "INVALID "))
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, types.FormatVersion)
}
