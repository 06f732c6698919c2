package notify

import (
	"time"

	"historical/internal/job"
	"historical/pkg/cloudevent"
)

// Events builds the CloudEvents for a transition: always a transition event, plus
// a quoted or finished event when the job reaches those states. The job id is the
// subject of every event.
func Events(source string, t job.Transition) []*cloudevent.CloudEvent {
	data := transitionData(t)
	events := []*cloudevent.CloudEvent{
		stamp(cloudevent.New(TypeTransition, source, t.Identity.ID, data), t.At),
	}

	switch t.To.State {
	case job.StateQuoted:
		events = append(events, stamp(cloudevent.New(TypeQuoted, source, t.Identity.ID, map[string]any{
			"jobId": t.Identity.ID,
			"title": t.Identity.Title,
			"quote": t.To.Quote,
		}), t.At))
	case job.StateFinished:
		finished := map[string]any{
			"jobId": t.Identity.ID,
			"title": t.Identity.Title,
		}
		if r := t.To.Results; r != nil {
			finished["dataURL"] = r.DataURL
			if r.SuspectMinutesURL != "" {
				finished["suspectMinutesURL"] = r.SuspectMinutesURL
			}
			if r.ExpiresAt != "" {
				finished["expiresAt"] = r.ExpiresAt
			}
		}
		events = append(events, stamp(cloudevent.New(TypeFinished, source, t.Identity.ID, finished), t.At))
	}
	return events
}

func transitionData(t job.Transition) map[string]any {
	data := map[string]any{
		"jobId":  t.Identity.ID,
		"title":  t.Identity.Title,
		"jobURL": t.Identity.URL,
		"from":   string(t.From.State),
		"to":     string(t.To.State),
	}
	if t.To.State == job.StateRunning {
		data["percentComplete"] = t.To.PercentComplete
	}
	if t.To.Message != "" {
		data["message"] = t.To.Message
	}
	return data
}

func stamp(ev *cloudevent.CloudEvent, at time.Time) *cloudevent.CloudEvent {
	if !at.IsZero() {
		ev.Time = at.UTC()
	}
	return ev
}
