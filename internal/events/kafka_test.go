package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"ekyc/internal/events"
)

type fakeProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if f.err == nil {
			f.records = append(f.records, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

type PublisherSuite struct {
	suite.Suite
	producer  *fakeProducer
	publisher *events.KafkaPublisher
}

func TestPublisherSuite(t *testing.T) {
	suite.Run(t, new(PublisherSuite))
}

func (s *PublisherSuite) SetupTest() {
	s.producer = &fakeProducer{}
	s.publisher = events.NewKafkaPublisher(s.producer, events.WithTopic("test.status"))
}

func (s *PublisherSuite) TestPublish() {
	event := events.StatusChanged{
		Type:           events.TypeAutoApproved,
		OccurredAt:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		RecordID:       uuid.NewString(),
		SubjectID:      "subject-1",
		Kind:           "ekyc",
		PreviousStatus: "pending",
		Status:         "approved",
		IsVerified:     true,
		Version:        5,
	}
	s.Require().NoError(s.publisher.Publish(context.Background(), event))

	s.Require().Len(s.producer.records, 1)
	rec := s.producer.records[0]
	s.Equal("test.status", rec.Topic)
	s.Equal("subject-1", string(rec.Key))

	var decoded events.StatusChanged
	s.Require().NoError(json.Unmarshal(rec.Value, &decoded))
	s.NotEqual(uuid.Nil, decoded.EventID, "event id is assigned when missing")
	s.Equal("approved", decoded.Status)
	s.Equal(int64(5), decoded.Version)

	headers := map[string]string{}
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	s.Equal(events.TypeAutoApproved, headers["event_type"])
	s.Equal(decoded.EventID.String(), headers["event_id"])
}

func (s *PublisherSuite) TestPublishErrors() {
	s.Run("requires subject", func() {
		s.Error(s.publisher.Publish(context.Background(), events.StatusChanged{Status: "pending"}))
	})

	s.Run("wraps producer failures", func() {
		boom := errors.New("broker down")
		s.producer.err = boom
		err := s.publisher.Publish(context.Background(), events.StatusChanged{SubjectID: "subject-1"})
		s.ErrorIs(err, boom)
	})
}
