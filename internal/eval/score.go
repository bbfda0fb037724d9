package eval

import (
	"time"

	"machguard/internal/model"
)

func Aggregate(trials []model.Trial, beta float64) model.EvalReport {
	var rep model.EvalReport
	rep.Beta = beta
	var latSum time.Duration
	var latCount int
	for _, tr := range trials {
		if tr.Latency > 0 {
			latSum += tr.Latency
			latCount++
		}
		switch {
		case tr.Degenerate:
			rep.DegenerateTrials++
		case tr.Undecidable:
			rep.Excluded++
		case tr.GroundTruth && tr.Predicted:
			rep.TruePositives++
		case !tr.GroundTruth && tr.Predicted:
			rep.FalsePositives++
		case tr.GroundTruth && !tr.Predicted:
			rep.FalseNegatives++
		default:
			rep.TrueNegatives++
		}
	}
	decided := rep.TruePositives + rep.FalsePositives + rep.TrueNegatives + rep.FalseNegatives
	if decided == 0 {
		rep.Degenerate = true
	} else {
		rep.Score = fbeta(rep.TruePositives, rep.FalsePositives, rep.FalseNegatives, beta)
	}
	if latCount > 0 {
		rep.MeanLatency = latSum / time.Duration(latCount)
	}
	return rep
}

func fbeta(tp, fp, fn int, beta float64) float64 {
	if tp == 0 {
		return 0
	}
	precision := float64(tp) / float64(tp+fp)
	recall := float64(tp) / float64(tp+fn)
	b2 := beta * beta
	return (1 + b2) * precision * recall / (b2*precision + recall)
}
