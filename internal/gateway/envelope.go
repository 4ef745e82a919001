package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
)

// SampleInfo describes the envelope an inbound payload arrived in.
type SampleInfo struct {
	ID      string
	Source  string
	Topic   amm.TopicKind
	Subject string
	Time    time.Time
}

type sampleInfoKey struct{}

// SampleInfoFromContext returns the envelope metadata of the sample being
// handled, if any.
func SampleInfoFromContext(ctx context.Context) (SampleInfo, bool) {
	info, ok := ctx.Value(sampleInfoKey{}).(SampleInfo)
	return info, ok
}

func withSampleInfo(ctx context.Context, info SampleInfo) context.Context {
	return context.WithValue(ctx, sampleInfoKey{}, info)
}

func encodeEnvelope(source string, payload amm.Payload) ([]byte, error) {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(source)
	event.SetType(payload.TopicKind().EventType())
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if err := event.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		return nil, fmt.Errorf("failed to set event data: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (cloudevents.Event, error) {
	var event cloudevents.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("invalid envelope: %w", err)
	}
	if err := event.Validate(); err != nil {
		return event, fmt.Errorf("invalid envelope: %w", err)
	}
	return event, nil
}
