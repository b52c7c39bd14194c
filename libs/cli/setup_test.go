package cli

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exitErr struct{ code int }

func (e exitErr) Error() string { return "exit" }
func (e exitErr) ExitCode() int { return e.code }

func runWithArgs(cmd Executor, args []string, env map[string]string) error {
	oargs := os.Args
	oenv := map[string]string{}
	defer func() {
		os.Args = oargs
		for k, v := range oenv {
			os.Setenv(k, v)
		}
	}()
	os.Args = args
	for k, v := range env {
		oenv[k] = os.Getenv(k)
		os.Setenv(k, v)
	}
	return cmd.Execute()
}

func TestSetupConfig(t *testing.T) {
	tmp, err := ioutil.TempDir("", "cli-setup")
	require.NoError(t, err)
	defer os.RemoveAll(tmp)
	require.NoError(t, os.MkdirAll(filepath.Join(tmp, "config"), 0700))
	require.NoError(t, ioutil.WriteFile(filepath.Join(tmp, "config", "config.toml"),
		[]byte("moniker = \"from-file\"\n[router]\nleaf_set_size = 8\n"), 0600))

	cases := []struct {
		args     []string
		env      map[string]string
		moniker  string
		leafSize int
	}{
		{nil, nil, "from-file", 8},
		{[]string{"--moniker", "from-flag"}, nil, "from-flag", 8},
		{nil, map[string]string{"RR_MONIKER": "from-env"}, "from-env", 8},
		{nil, map[string]string{"RRMONIKER": "copied-env"}, "copied-env", 8},
	}
	for i, tc := range cases {
		viper.Reset()
		var moniker string
		var leafSize int
		cmd := &cobra.Command{
			Use: "reader",
			RunE: func(cmd *cobra.Command, args []string) error {
				moniker = viper.GetString("moniker")
				leafSize = viper.GetInt("router.leaf_set_size")
				return nil
			},
		}
		cmd.Flags().String("moniker", "", "")
		exec := PrepareBaseCmd(cmd, "RR", tmp)

		args := append([]string{cmd.Use, "--home", tmp}, tc.args...)
		require.NoError(t, runWithArgs(exec, args, tc.env), "case %d", i)
		assert.Equal(t, tc.moniker, moniker, "case %d", i)
		assert.Equal(t, tc.leafSize, leafSize, "case %d", i)
	}
}

func TestBadConfigFileFails(t *testing.T) {
	tmp, err := ioutil.TempDir("", "cli-bad")
	require.NoError(t, err)
	defer os.RemoveAll(tmp)
	require.NoError(t, ioutil.WriteFile(filepath.Join(tmp, "config.toml"), []byte("= broken"), 0600))

	viper.Reset()
	ran := false
	cmd := &cobra.Command{Use: "reader", RunE: func(*cobra.Command, []string) error { ran = true; return nil }}
	exec := PrepareBaseCmd(cmd, "RR", tmp)
	code := -1
	exec.Exit = func(c int) { code = c }

	assert.Error(t, runWithArgs(exec, []string{"reader", "--home", tmp}, nil))
	assert.False(t, ran)
	assert.Equal(t, 1, code)
}

func TestExitCode(t *testing.T) {
	tmp, err := ioutil.TempDir("", "cli-exit")
	require.NoError(t, err)
	defer os.RemoveAll(tmp)

	viper.Reset()
	cmd := &cobra.Command{Use: "failer", RunE: func(*cobra.Command, []string) error {
		return errors.WithStack(exitErr{code: 3})
	}}
	exec := PrepareBaseCmd(cmd, "RR", tmp)
	code := -1
	exec.Exit = func(c int) { code = c }

	assert.Error(t, runWithArgs(exec, []string{"failer"}, nil))
	// a wrapped ExitCoder is not unwrapped
	assert.Equal(t, 1, code)

	cmd.RunE = func(*cobra.Command, []string) error { return exitErr{code: 3} }
	assert.Error(t, runWithArgs(exec, []string{"failer"}, nil))
	assert.Equal(t, 3, code)
}
