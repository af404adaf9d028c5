package main

import (
	"context"

	"github.com/yodaldevoid/MyoBlueZ/internal/device"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
	"github.com/yodaldevoid/MyoBlueZ/internal/testutils"
)

func (suite *CommandTestSuite) TestAdaptersText() {
	// GOAL: Verify adapters prints one aligned row per controller and closes the platform

	suite.fake.AdapterList = append(suite.fake.AdapterList, platform.AdapterInfo{
		Path: "/org/bluez/hci1", Name: "hci1", Address: "00:1A:7D:DA:71:13", Alias: "dongle",
	})

	stdout, _, err := suite.execute(context.Background(), "adapters")
	suite.Require().NoError(err)

	testutils.NewTextAsserter(suite.T()).
		WithOptions(testutils.WithIgnoreTrailingWhitespace(true)).
		Assert(stdout.String(), `NAME  ADDRESS            POWERED  ALIAS
hci0  00:11:22:33:44:55  yes
hci1  00:1A:7D:DA:71:13  no       dongle
`)
	suite.True(suite.fake.Closed(), "platform MUST be closed")
}

func (suite *CommandTestSuite) TestAdaptersJSON() {
	stdout, _, err := suite.execute(context.Background(), "adapters", "--format", "json")
	suite.Require().NoError(err)

	testutils.NewJSONAsserter(suite.T()).Assert(stdout.String(), `[
		{"name": "hci0", "address": "00:11:22:33:44:55", "powered": true}
	]`)
}

func (suite *CommandTestSuite) TestAdaptersEmpty() {
	suite.fake.AdapterList = nil

	stdout, _, err := suite.execute(context.Background(), "adapters")
	suite.Require().NoError(err)
	suite.Equal("No Bluetooth controllers found\n", stdout.String())
}

func (suite *CommandTestSuite) TestAdaptersError() {
	suite.fake.AdaptersErr = platform.ErrNotPermitted

	_, _, err := suite.execute(context.Background(), "adapters")
	suite.ErrorIs(err, device.ErrAdapterUnavailable)
	suite.ErrorIs(err, platform.ErrNotPermitted)
	suite.Contains(FormatUserError(err), "elevated permissions")
}

func (suite *CommandTestSuite) TestVersion() {
	stdout, _, err := suite.execute(context.Background(), "version")
	suite.Require().NoError(err)
	suite.Contains(stdout.String(), "myobluez dev (commit none, built unknown")
}
