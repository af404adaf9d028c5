package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"github.com/yodaldevoid/MyoBlueZ/internal/metrics"
)

type MetricsTestSuite struct {
	suite.Suite
	m *metrics.Metrics
}

func (suite *MetricsTestSuite) SetupTest() {
	suite.m = metrics.New()
}

func (suite *MetricsTestSuite) TestTransitionsMoveStateGauge() {
	// GOAL: Verify the state gauge marks only the current state

	suite.m.ObserveTransition("unknown", "uuids_known")
	suite.m.ObserveTransition("uuids_known", "connecting")

	count, err := testutil.GatherAndCount(suite.m.Registry(), "myobluez_state_transitions_total")
	suite.Require().NoError(err)
	suite.Equal(2, count, "each distinct transition MUST be its own series")

	body := suite.scrape()
	suite.Contains(body, `myobluez_state{state="connecting"} 1`)
	suite.Contains(body, `myobluez_state{state="uuids_known"} 0`)
}

func (suite *MetricsTestSuite) TestCounters() {
	suite.m.ObserveNotification("imu")
	suite.m.ObserveNotification("imu")
	suite.m.ObserveDecodeError("emg")
	suite.m.ObserveReconnect()
	suite.m.ObserveDropped()
	suite.m.ObserveBattery(87)

	body := suite.scrape()
	suite.Contains(body, `myobluez_notifications_total{kind="imu"} 2`)
	suite.Contains(body, `myobluez_decode_errors_total{kind="emg"} 1`)
	suite.Contains(body, `myobluez_reconnects_total 1`)
	suite.Contains(body, `myobluez_stream_dropped_total 1`)
	suite.Contains(body, `myobluez_battery_percent 87`)
}

func (suite *MetricsTestSuite) TestNilIsNoop() {
	var m *metrics.Metrics

	suite.NotPanics(func() {
		m.ObserveNotification("imu")
		m.ObserveDecodeError("imu")
		m.ObserveTransition("a", "b")
		m.ObserveReconnect()
		m.ObserveDropped()
		m.ObserveBattery(1)
	})
	suite.Nil(m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	suite.Equal(404, rec.Code)
}

func (suite *MetricsTestSuite) scrape() string {
	rec := httptest.NewRecorder()
	suite.m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	suite.Require().Equal(200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	suite.Require().NoError(err)
	return string(body)
}

func TestMetricsTestSuite(t *testing.T) {
	suite.Run(t, new(MetricsTestSuite))
}
