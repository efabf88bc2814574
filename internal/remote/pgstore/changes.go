package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/ipimonitor/ipi-api/internal/remote"
)

const changesChannelPrefix = "ipi:changes:"

func changesChannel(table string) string {
	return changesChannelPrefix + table
}

func (s *Store) publish(ctx context.Context, table string, kind remote.ChangeType, record, old interface{}) {
	if s.rdb == nil {
		return
	}

	event := remote.ChangeEvent{Type: kind, Table: table, At: s.now().UTC()}
	if record != nil {
		event.Record, _ = json.Marshal(record)
	}
	if old != nil {
		event.OldRecord, _ = json.Marshal(old)
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling change event: %v", err)
		return
	}
	if err := s.rdb.Publish(ctx, changesChannel(table), data).Err(); err != nil {
		log.Printf("Error publishing change event to Redis: %v", err)
	}
}

// matches applies an eq filter to the row an event carries
func matches(event remote.ChangeEvent, filter *remote.Filter) bool {
	if filter == nil {
		return true
	}
	raw := event.Record
	if event.Type == remote.ChangeDelete || len(raw) == 0 {
		raw = event.OldRecord
	}
	var row map[string]interface{}
	if err := json.Unmarshal(raw, &row); err != nil {
		return false
	}
	v, ok := row[filter.Column]
	if !ok {
		return false
	}
	return remote.FormatValue(v) == remote.FormatValue(filter.Value)
}

func (s *Store) Subscribe(ctx context.Context, table string, filter *remote.Filter, handler func(remote.ChangeEvent)) (remote.Subscription, error) {
	if _, err := s.rowType(table); err != nil {
		return nil, err
	}
	if s.rdb == nil {
		return nil, errors.New("change feed requires redis")
	}
	if filter != nil && filter.Op != remote.OpEq {
		return nil, errors.New("change feeds only support eq filters")
	}

	subCtx, cancel := context.WithCancel(context.Background())
	pubsub := s.rdb.Subscribe(subCtx, changesChannel(table))
	// Wait for the subscription to be confirmed so no event after return is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, err
	}

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event remote.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("Error unmarshaling change event: %v", err)
					continue
				}
				if matches(event, filter) {
					handler(event)
				}
			}
		}
	}()

	return remote.SubscriptionFunc(func() {
		cancel()
		pubsub.Close()
	}), nil
}
