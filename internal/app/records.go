package app

import (
	"github.com/MrWong99/vitalscan/internal/scan"
	"github.com/MrWong99/vitalscan/pkg/sink"
)

// toRecord flattens a completed scan result for the sinks.
func toRecord(res scan.Result) sink.Record {
	rec := sink.Record{
		SessionID:          res.SessionID,
		DeviceID:           res.DeviceID,
		DeviceClass:        string(res.DeviceClass),
		BlinkRatePerMinute: res.BlinkRate.BlinkRatePerMinute,
		TotalBlinks:        res.BlinkRate.TotalBlinks,
		ElapsedSeconds:     res.BlinkRate.ElapsedSeconds,
		Tier:               string(res.Classification.Tier),
		RateTier:           string(res.Classification.RateTier),
		Escalated:          res.Classification.Escalated,
		StartedAt:          res.StartedAt,
		CompletedAt:        res.CompletedAt,
		TraceID:            res.TraceID,
	}
	if res.HRV != nil {
		rmssd, hr := res.HRV.RMSSDMs, res.HRV.HeartRateBpm
		rec.RMSSDMs = &rmssd
		rec.HeartRateBpm = &hr
	}
	return rec
}
