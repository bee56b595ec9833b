package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManager(t *testing.T) {
	Convey("Given a manager on a private registry", t, func() {
		reg := prometheus.NewRegistry()
		m := NewManager(WithPrometheusRegistry(reg), WithNamespace("test"), WithSubsystem("unit"))

		Convey("Counters register under the configured namespace", func() {
			m.predictionsSubmitted.Inc()
			m.predictionsRejected.WithLabelValues("unknown_candidate").Inc()

			So(testutil.ToFloat64(m.predictionsSubmitted), ShouldEqual, 1)
			So(testutil.ToFloat64(m.predictionsRejected.WithLabelValues("unknown_candidate")), ShouldEqual, 1)

			families, err := reg.Gather()
			So(err, ShouldBeNil)
			names := map[string]bool{}
			for _, f := range families {
				names[f.GetName()] = true
			}
			So(names["test_unit_submitted_total"], ShouldBeTrue)
		})

		Convey("Gauges hold the last value", func() {
			m.resultVersion.Set(3)
			m.resultVersion.Set(7)
			So(testutil.ToFloat64(m.resultVersion), ShouldEqual, 7)
		})
	})
}

func TestGlobalHelpers(t *testing.T) {
	Convey("Package helpers update the global manager", t, func() {
		before := testutil.ToFloat64(globalManager.jobsEnqueued)
		RecordJobEnqueued()
		So(testutil.ToFloat64(globalManager.jobsEnqueued), ShouldEqual, before+1)

		RecordTransition("promote_semi_finalist", "applied")
		So(testutil.ToFloat64(globalManager.transitions.WithLabelValues("promote_semi_finalist", "applied")), ShouldBeGreaterThanOrEqualTo, 1)

		UpdateLeaderboardSize(42)
		So(testutil.ToFloat64(globalManager.leaderboardSize), ShouldEqual, 42)

		So(GetRegistry(), ShouldNotBeNil)
	})
}
