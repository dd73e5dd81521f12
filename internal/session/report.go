package session

import (
	"fmt"
	"maps"

	"github.com/zjrosen/levelsync/internal/syncproto"
)

// ParticipantReport is one participant's view at the end of a round.
type ParticipantReport struct {
	Peer        string             `json:"peer"`
	Host        bool               `json:"host"`
	Ready       bool               `json:"ready"`
	Level       string             `json:"level"`
	Flow        string             `json:"flow,omitempty"`
	Multiplier  float64            `json:"multiplier"`
	Generations int                `json:"generations"`
	Weather     map[string]string  `json:"weather"`
	Divergences map[string]float64 `json:"divergences"`
	Fallbacks   float64            `json:"fallbacks"`
}

// RoundReport collects every participant's view of one round.
type RoundReport struct {
	Round        int                 `json:"round"`
	Participants []ParticipantReport `json:"participants"`
	Consistent   bool                `json:"consistent"`
}

// Report snapshots every participant. Divergence and fallback counts are
// cumulative since the cluster was created.
func (c *Cluster) Report(round int) (RoundReport, error) {
	report := RoundReport{Round: round}
	for _, p := range c.participants {
		pr, err := p.report()
		if err != nil {
			return RoundReport{}, err
		}
		report.Participants = append(report.Participants, pr)
	}
	report.Consistent = consistent(report.Participants)
	return report, nil
}

func (p *Participant) report() (ParticipantReport, error) {
	snap, err := p.Metrics.Snapshot()
	if err != nil {
		return ParticipantReport{}, fmt.Errorf("%s: %w", p.ID, err)
	}

	pr := ParticipantReport{
		Peer:        string(p.ID),
		Host:        p.IsHost(),
		Ready:       p.Manager.IsReady(),
		Level:       p.Levels.Current(),
		Multiplier:  p.Generator.LengthMultiplier(),
		Generations: len(p.Generator.History()),
		Weather:     make(map[string]string),
		Divergences: make(map[string]float64),
		Fallbacks:   snap["levelsync_sync_fallback_selections_total"],
	}
	if flow, ok := p.Protocol.LastFlow(); ok {
		pr.Flow = flow.Ref.String()
	}
	for _, l := range p.Levels.Levels() {
		pr.Weather[l.Name()] = l.Weather().String()
	}
	for _, kind := range []string{syncproto.ExchangeWeather, syncproto.ExchangeOverride} {
		pr.Divergences[kind] = snap["levelsync_sync_divergences_total{kind="+kind+"}"]
	}
	return pr, nil
}

// consistent reports whether every participant is ready and agrees with the
// host on flow, multiplier and weather.
func consistent(reports []ParticipantReport) bool {
	if len(reports) == 0 {
		return true
	}
	host := reports[0]
	for _, r := range reports {
		if !r.Ready || r.Flow != host.Flow || r.Multiplier != host.Multiplier || r.Level != host.Level {
			return false
		}
		if !maps.Equal(r.Weather, host.Weather) {
			return false
		}
	}
	return true
}
