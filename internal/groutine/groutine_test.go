package groutine_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"
	"github.com/yodaldevoid/MyoBlueZ/internal/groutine"
)

type GroutineTestSuite struct {
	suite.Suite
}

func (suite *GroutineTestSuite) TestNameIsVisible() {
	got := make(chan string, 1)
	groutine.Go(context.Background(), nil, "worker-42", func(ctx context.Context) {
		got <- groutine.GetName(ctx)
	})

	select {
	case name := <-got:
		suite.Equal("worker-42", name)
	case <-time.After(time.Second):
		suite.Fail("goroutine did not run")
	}
}

func (suite *GroutineTestSuite) TestPanicIsLogged() {
	// GOAL: Verify a panicking goroutine is recovered and reported through the logger

	logger, hook := test.NewNullLogger()
	done := make(chan struct{})
	groutine.Go(context.Background(), logger, "boom", func(ctx context.Context) {
		defer close(done)
		panic("kaboom")
	})

	<-done
	suite.Eventually(func() bool { return hook.LastEntry() != nil }, time.Second, 5*time.Millisecond)

	entry := hook.LastEntry()
	suite.Equal(logrus.ErrorLevel, entry.Level)
	suite.Equal("boom", entry.Data["goroutine"])
	suite.Equal("kaboom", entry.Data["panic"])
}

func (suite *GroutineTestSuite) TestGetNameWithoutGoroutine() {
	suite.Empty(groutine.GetName(context.Background()))
	//nolint:staticcheck // nil context is part of the contract
	suite.Empty(groutine.GetName(nil))
}

func TestGroutineTestSuite(t *testing.T) {
	suite.Run(t, new(GroutineTestSuite))
}
