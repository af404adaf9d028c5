package goble

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/suite"
)

type PathsTestSuite struct {
	suite.Suite
}

func (suite *PathsTestSuite) TestObjectPaths() {
	// GOAL: Verify synthetic paths follow the BlueZ layout so parent/child prefixes hold

	adapter := adapterPath("hci0")
	dev := devicePath(adapter, "c8:2f:84:e5:89:57")
	svc := servicePath(dev, 3)
	char := characteristicPath(svc, 10)

	suite.Equal("/goble/hci0", string(adapter))
	suite.Equal("/goble/hci0/dev_C8_2F_84_E5_89_57", string(dev))
	suite.Equal("/goble/hci0/dev_C8_2F_84_E5_89_57/service0003", string(svc))
	suite.Equal("/goble/hci0/dev_C8_2F_84_E5_89_57/service0003/char000a", string(char))
}

func (suite *PathsTestSuite) TestUUIDString() {
	// GOAL: Verify go-ble's little-endian UUIDs render in canonical 128-bit form

	suite.Run("16-bit", func() {
		suite.Equal("0000180f-0000-1000-8000-00805f9b34fb", uuidString(ble.UUID16(0x180f)))
	})

	suite.Run("128-bit", func() {
		u := ble.MustParse("d5060001-a904-deb9-4748-2c7f4a124842")
		suite.Equal("d5060001-a904-deb9-4748-2c7f4a124842", uuidString(u))
	})

	suite.Run("list", func() {
		got := uuidStrings([]ble.UUID{ble.UUID16(0x2a19), ble.MustParse("d5060104-a904-deb9-4748-2c7f4a124842")})
		suite.Equal([]string{
			"00002a19-0000-1000-8000-00805f9b34fb",
			"d5060104-a904-deb9-4748-2c7f4a124842",
		}, got)
	})
}

func (suite *PathsTestSuite) TestFlagNames() {
	suite.Equal([]string{"read", "notify"}, flagNames(ble.CharRead|ble.CharNotify))
	suite.Equal([]string{"write-without-response", "write"}, flagNames(ble.CharWrite|ble.CharWriteNR))
	suite.Empty(flagNames(0))
}

func TestPathsTestSuite(t *testing.T) {
	suite.Run(t, new(PathsTestSuite))
}
