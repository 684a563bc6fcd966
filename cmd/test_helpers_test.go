package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"github.com/warpdl/warpnet/cmd/common"
	names "github.com/warpdl/warpnet/common"
	"github.com/warpdl/warpnet/internal/config"
	"github.com/warpdl/warpnet/pkg/credman/keyring"
	"github.com/warpdl/warpnet/pkg/logger"
)

const (
	testConfigDir = "/cfg"
	testDataDir   = "/data"
)

// testIO holds the captured command output.
type testIO struct {
	out *bytes.Buffer
	err *bytes.Buffer
}

// setupCmd points every seam at an in-memory filesystem and buffers.
func setupCmd(t *testing.T) *testIO {
	t.Helper()
	t.Setenv(names.ConfigDirEnv, testConfigDir)
	t.Setenv(names.DataDirEnv, testDataDir)

	oldFs, oldOut, oldErr, oldKS := appFs, stdout, stderr, newKeyStore
	oldReady, oldUI := daemonReady, fetchUI
	fs := afero.NewMemMapFs()
	tio := &testIO{out: &bytes.Buffer{}, err: &bytes.Buffer{}}
	appFs, stdout, stderr = fs, tio.out, tio.err
	newKeyStore = func() keyring.KeyStore {
		return keyring.NewFileKeyStore(fs, testDataDir+"/primary.key")
	}
	prevHelp := common.SetShowAppHelpAndExit(func(*cli.Context, int) {})
	t.Cleanup(func() {
		appFs, stdout, stderr, newKeyStore = oldFs, oldOut, oldErr, oldKS
		daemonReady, fetchUI = oldReady, oldUI
		common.SetShowAppHelpAndExit(prevHelp)
	})
	return tio
}

// runApp runs the CLI with args after the program name.
func runApp(t *testing.T, args ...string) error {
	t.Helper()
	return Execute(append([]string{"warpnet"}, args...), BuildArgs{
		Version:   "1.0.0",
		BuildType: "test",
		Date:      "today",
		Commit:    "abc123",
	})
}

// testEnv loads an env from the in-memory filesystem set up by setupCmd.
func testEnv(t *testing.T) *env {
	t.Helper()
	dirs := config.Dirs{Config: testConfigDir, Data: testDataDir}
	settings, err := config.Load(appFs, dirs.ConfigFile())
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return &env{dirs: dirs, settings: settings, log: logger.NewNopLogger()}
}

// assertContains checks if output contains the expected substring.
func assertContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("expected output to contain %q, got:\n%s", expected, output)
	}
}

// assertNotContains checks if output does NOT contain the specified substring.
func assertNotContains(t *testing.T, output, notExpected string) {
	t.Helper()
	if strings.Contains(output, notExpected) {
		t.Errorf("expected output to NOT contain %q, got:\n%s", notExpected, output)
	}
}
