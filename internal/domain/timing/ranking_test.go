package timing_test

import (
	"testing"

	"github.com/okian/dorsal/internal/domain/model"
	"github.com/okian/dorsal/internal/domain/timing"
	. "github.com/smartystreets/goconvey/convey"
)

func secs(v int64) *int64 { return &v }

func TestRank(t *testing.T) {
	Convey("Given classifications for bibs 7, 3 and 9", t, func() {
		cls := []model.Classification{
			{Bib: 7, TotalTime: secs(130)},
			{Bib: 3, TotalTime: secs(125)},
			{Bib: 9, TotalTime: secs(140)},
		}

		Convey("When ranking", func() {
			r := timing.Rank(cls, 0)

			Convey("Then the order is 3, 7, 9 with gaps to the leader", func() {
				So(r.Standings, ShouldHaveLength, 3)
				So(r.Standings[0].Bib, ShouldEqual, 3)
				So(r.Standings[0].Position, ShouldEqual, 1)
				So(r.Standings[0].Gap, ShouldBeNil)
				So(r.Standings[1].Bib, ShouldEqual, 7)
				So(*r.Standings[1].Gap, ShouldEqual, 5)
				So(r.Standings[2].Bib, ShouldEqual, 9)
				So(*r.Standings[2].Gap, ShouldEqual, 15)
			})

			Convey("Then stats and speeds use the default distance", func() {
				So(r.DistanceKm, ShouldEqual, timing.DefaultDistanceKm)
				So(r.Stats.TotalAthletes, ShouldEqual, 3)
				So(*r.Stats.FastestTime, ShouldEqual, 125)
				So(*r.Standings[0].AvgSpeed, ShouldAlmostEqual, 288.0)
				So(r.Standings[0].Formatted, ShouldEqual, "00:02:05")
			})
		})

		Convey("When a bib has several times and others have none", func() {
			cls = append(cls,
				model.Classification{Bib: 7, TotalTime: secs(120)},
				model.Classification{Bib: 11},
			)
			r := timing.Rank(cls, 21.1)

			Convey("Then the best time per bib counts and untimed bibs are left out", func() {
				So(r.Standings, ShouldHaveLength, 3)
				So(r.Standings[0].Bib, ShouldEqual, 7)
				So(r.Standings[0].TotalTime, ShouldEqual, 120)
				So(r.DistanceKm, ShouldEqual, 21.1)
			})
		})

		Convey("When two bibs tie", func() {
			r := timing.Rank([]model.Classification{
				{Bib: 20, TotalTime: secs(100)},
				{Bib: 4, TotalTime: secs(100)},
			}, 5)
			So(r.Standings[0].Bib, ShouldEqual, 4)
			So(*r.Standings[1].Gap, ShouldEqual, 0)
		})
	})

	Convey("Given no timed classifications", t, func() {
		r := timing.Rank(nil, 10)
		So(r.Standings, ShouldBeEmpty)
		So(r.Stats.FastestTime, ShouldBeNil)
	})
}

func TestFormatDuration(t *testing.T) {
	Convey("Given durations in seconds", t, func() {
		So(timing.FormatDuration(0), ShouldEqual, "00:00:00")
		So(timing.FormatDuration(3725), ShouldEqual, "01:02:05")
		So(timing.FormatDuration(-3), ShouldEqual, "00:00:00")
	})
}
