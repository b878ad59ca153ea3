package timing

import (
	"fmt"
	"sort"

	"github.com/okian/dorsal/internal/domain/model"
	"github.com/okian/dorsal/internal/domain/types"
)

// DefaultDistanceKm is used for speeds when an event has no distance.
const DefaultDistanceKm = 10.0

// Rank orders athletes by their best total time. Classifications without a
// total time are ignored. Ties go to the lower bib.
func Rank(classifications []model.Classification, distanceKm float64) types.Ranking {
	if distanceKm <= 0 {
		distanceKm = DefaultDistanceKm
	}

	best := make(map[int]model.Classification)
	for _, c := range classifications {
		if c.TotalTime == nil {
			continue
		}
		if cur, ok := best[c.Bib]; !ok || *c.TotalTime < *cur.TotalTime {
			best[c.Bib] = c
		}
	}

	standings := make([]types.Standing, 0, len(best))
	for bib, c := range best {
		standings = append(standings, types.Standing{
			Bib:       bib,
			TotalTime: *c.TotalTime,
			Formatted: FormatDuration(*c.TotalTime),
			DeviceID:  c.DeviceID,
		})
	}
	sort.Slice(standings, func(i, j int) bool {
		if standings[i].TotalTime != standings[j].TotalTime {
			return standings[i].TotalTime < standings[j].TotalTime
		}
		return standings[i].Bib < standings[j].Bib
	})

	ranking := types.Ranking{DistanceKm: distanceKm, Standings: standings}
	ranking.Stats.TotalAthletes = len(standings)
	if len(standings) == 0 {
		return ranking
	}

	leader := standings[0].TotalTime
	ranking.Stats.FastestTime = &leader
	for i := range standings {
		s := &standings[i]
		s.Position = i + 1
		if i > 0 {
			gap := s.TotalTime - leader
			s.Gap = &gap
		}
		if s.TotalTime > 0 {
			speed := distanceKm * 3600 / float64(s.TotalTime)
			s.AvgSpeed = &speed
		}
	}
	return ranking
}

// FormatDuration renders seconds as HH:MM:SS.
func FormatDuration(sec int64) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, sec%3600/60, sec%60)
}
