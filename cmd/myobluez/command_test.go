package main

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/suite"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
	"github.com/yodaldevoid/MyoBlueZ/internal/testutils"
	"github.com/yodaldevoid/MyoBlueZ/pkg/config"
)

const waitTimeout = 3 * time.Second

// syncBuffer is a bytes.Buffer safe to read while the command writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite runs the real command tree against a fake platform.
type CommandTestSuite struct {
	suite.Suite

	fake   *testutils.FakePlatform
	periph *testutils.FakePeripheral
	cfg    *config.Config

	originalPlatform func(*config.Config, *logrus.Logger) (platform.Platform, error)
}

func (suite *CommandTestSuite) SetupTest() {
	suite.fake = testutils.NewFakePlatform()
	suite.periph = testutils.MyoPeripheral().Build()
	suite.cfg = nil

	suite.originalPlatform = newPlatform
	newPlatform = func(cfg *config.Config, _ *logrus.Logger) (platform.Platform, error) {
		suite.cfg = cfg
		return suite.fake, nil
	}
}

func (suite *CommandTestSuite) TearDownTest() {
	newPlatform = suite.originalPlatform
	resetFlags(rootCmd)
}

// resetFlags restores every flag of cmd and its children to its default so
// that Changed does not leak between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func setContext(cmd *cobra.Command, ctx context.Context) {
	cmd.SetContext(ctx)
	for _, c := range cmd.Commands() {
		setContext(c, ctx)
	}
}

// execute runs the root command with args and returns stdout, stderr and
// the command error.
func (suite *CommandTestSuite) execute(ctx context.Context, args ...string) (*syncBuffer, *syncBuffer, error) {
	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	setContext(rootCmd, ctx)
	err := rootCmd.ExecuteContext(ctx)
	return stdout, stderr, err
}

func (suite *CommandTestSuite) waitCalls(method string, n int, msg string) {
	ok := suite.fake.WaitFor(waitTimeout, func(calls []testutils.Call) bool {
		return testutils.CountCalls(calls, method) >= n
	})
	suite.Require().True(ok, "%s: want %d %s calls, got %d", msg, n, method, len(suite.fake.Calls(method)))
}

func TestCommandTestSuite(t *testing.T) {
	suite.Run(t, new(CommandTestSuite))
}
