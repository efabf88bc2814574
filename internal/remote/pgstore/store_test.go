package pgstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqldb, err := db.DB()
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqldb.Close() })
	require.NoError(t, db.AutoMigrate(Models()...))

	mr := miniredis.RunT(t)
	return New(db, redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

// collect subscribes to table and buffers every delivered event
func collect(t *testing.T, s *Store, table string, filter *remote.Filter) <-chan remote.ChangeEvent {
	events := make(chan remote.ChangeEvent, 16)
	sub, err := s.Subscribe(context.Background(), table, filter, func(ev remote.ChangeEvent) { events <- ev })
	require.NoError(t, err)
	t.Cleanup(sub.Unsubscribe)
	return events
}

func next(t *testing.T, events <-chan remote.ChangeEvent) remote.ChangeEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no change event")
		return remote.ChangeEvent{}
	}
}

func none(t *testing.T, events <-chan remote.ChangeEvent) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected %s event: %s", ev.Type, ev.Record)
	case <-time.After(100 * time.Millisecond):
	}
}

func device(id string, user int64) map[string]interface{} {
	return map[string]interface{}{
		"device_id":               id,
		"user_id":                 user,
		"device_name":             "Sensor " + id,
		"device_temperature_unit": "Celsius",
	}
}

func TestInsertSingleRowReturnsObject(t *testing.T) {
	s := newTestStore(t)
	events := collect(t, s, model.TableDevice, nil)

	var created model.Device
	require.NoError(t, s.Insert(context.Background(), model.TableDevice, device("AA:BB", 7), &created))

	assert.Equal(t, "AA:BB", created.DeviceID)
	assert.Equal(t, model.Celsius, created.TemperatureUnit)
	assert.False(t, created.CreatedAt.IsZero())

	ev := next(t, events)
	assert.Equal(t, remote.ChangeInsert, ev.Type)
	assert.Equal(t, model.TableDevice, ev.Table)
	assert.Contains(t, string(ev.Record), `"device_id":"AA:BB"`)
}

func TestInsertManyRowsReturnsList(t *testing.T) {
	s := newTestStore(t)
	events := collect(t, s, model.TableMeasurement, nil)
	at := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)

	rows := []map[string]interface{}{
		{"user_id": 7, "device_id": "AA:BB", "measurement_date_time": at, "measurement_temperature": 20.5},
		{"user_id": 7, "device_id": "AA:BB", "measurement_date_time": at.Add(time.Minute), "measurement_temperature": 21},
	}
	var created []model.Measurement
	require.NoError(t, s.Insert(context.Background(), model.TableMeasurement, rows, &created))

	require.Len(t, created, 2)
	assert.NotZero(t, created[0].MeasurementSK)
	assert.NotEqual(t, created[0].MeasurementSK, created[1].MeasurementSK)
	assert.Equal(t, 21.0, created[1].Temperature)

	assert.Equal(t, remote.ChangeInsert, next(t, events).Type)
	assert.Equal(t, remote.ChangeInsert, next(t, events).Type)
}

func TestInsertEmptyListIsNoop(t *testing.T) {
	s := newTestStore(t)

	var created []model.Device
	require.NoError(t, s.Insert(context.Background(), model.TableDevice, []map[string]interface{}{}, &created))

	assert.Empty(t, created)
}

func TestInsertDuplicateKeepsUniqueCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, model.TableDevice, device("AA:BB", 7), nil))

	err := s.Insert(ctx, model.TableDevice, device("AA:BB", 8), nil)

	assert.True(t, remote.IsUniqueViolation(err), "got %v", err)
}

func TestUnknownTable(t *testing.T) {
	s := newTestStore(t)

	err := s.Query(context.Background(), remote.From("sensor_secrets"), &[]map[string]interface{}{})

	var re *remote.Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "42P01", re.Code)
}

func TestQueryFiltersOrdersAndLimits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, model.TableDevice, []map[string]interface{}{
		device("AA:01", 7), device("AA:02", 7), device("AA:03", 8),
	}, nil))

	var rows []model.Device
	q := remote.From(model.TableDevice).Eq("user_id", int64(7)).OrderBy("device_id", false).WithLimit(1)
	require.NoError(t, s.Query(ctx, q, &rows))

	require.Len(t, rows, 1)
	assert.Equal(t, "AA:02", rows[0].DeviceID)
}

func TestUpdateRereadsPatchedRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, model.TableDevice, []map[string]interface{}{device("AA:01", 7), device("AA:02", 8)}, nil))
	events := collect(t, s, model.TableDevice, &remote.Filter{Column: "user_id", Op: remote.OpEq, Value: int64(7)})

	var updated []model.Device
	q := remote.From(model.TableDevice).Eq("device_id", "AA:01").Eq("user_id", int64(7))
	require.NoError(t, s.Update(ctx, q, map[string]interface{}{"device_battery": 42.5}, &updated))

	require.Len(t, updated, 1)
	assert.Equal(t, 42.5, updated[0].Battery)
	assert.Equal(t, "Sensor AA:01", updated[0].DeviceName)

	ev := next(t, events)
	assert.Equal(t, remote.ChangeUpdate, ev.Type)
	var row model.Device
	require.NoError(t, json.Unmarshal(ev.Record, &row))
	assert.Equal(t, 42.5, row.Battery)
}

func TestUpdateOfFilteredColumnFollowsNewValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, model.TableDevice, device("AA:01", 7), nil))

	var updated []model.Device
	q := remote.From(model.TableDevice).Eq("device_name", "Sensor AA:01")
	require.NoError(t, s.Update(ctx, q, map[string]interface{}{"device_name": "Cellar"}, &updated))

	require.Len(t, updated, 1)
	assert.Equal(t, "Cellar", updated[0].DeviceName)
}

func TestUpdateStampsUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	stamp := time.Date(2030, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, s.Insert(ctx, model.TableDevice, device("AA:01", 7), nil))
	s.now = func() time.Time { return stamp }

	var updated []model.Device
	require.NoError(t, s.Update(ctx, remote.From(model.TableDevice).Eq("device_id", "AA:01"), map[string]interface{}{"device_interval": 60}, &updated))

	require.Len(t, updated, 1)
	assert.True(t, stamp.Equal(updated[0].UpdatedAt), "updated_at = %s", updated[0].UpdatedAt)
}

func TestUpdateAndDeleteNeedFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var re *remote.Error
	require.ErrorAs(t, s.Update(ctx, remote.From(model.TableDevice), map[string]interface{}{"device_interval": 1}, nil), &re)
	assert.Equal(t, "21000", re.Code)
	require.ErrorAs(t, s.Delete(ctx, remote.From(model.TableDevice)), &re)
	assert.Equal(t, "21000", re.Code)
}

func TestDeletePublishesOldRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, model.TableDevice, []map[string]interface{}{device("AA:01", 7), device("AA:02", 8)}, nil))
	mine := collect(t, s, model.TableDevice, &remote.Filter{Column: "user_id", Op: remote.OpEq, Value: int64(7)})

	require.NoError(t, s.Delete(ctx, remote.From(model.TableDevice).Eq("device_id", "AA:01")))

	ev := next(t, mine)
	assert.Equal(t, remote.ChangeDelete, ev.Type)
	assert.Empty(t, ev.Record)
	assert.Contains(t, string(ev.OldRecord), `"device_id":"AA:01"`)

	var left []model.Device
	require.NoError(t, s.Query(ctx, remote.From(model.TableDevice), &left))
	require.Len(t, left, 1)
	assert.Equal(t, "AA:02", left[0].DeviceID)

	// The other user's delete never reaches this feed
	require.NoError(t, s.Delete(ctx, remote.From(model.TableDevice).Eq("device_id", "AA:02")))
	none(t, mine)
}

func TestSubscribeRejectsRangeFilters(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Subscribe(context.Background(), model.TableDevice, &remote.Filter{Column: "user_id", Op: remote.OpGt, Value: 1}, func(remote.ChangeEvent) {})

	assert.Error(t, err)
}

func TestMatchesComparesFormattedValues(t *testing.T) {
	row := func(kind remote.ChangeType, record, old string) remote.ChangeEvent {
		return remote.ChangeEvent{Type: kind, Record: json.RawMessage(record), OldRecord: json.RawMessage(old)}
	}
	eq := func(col string, v interface{}) *remote.Filter {
		return &remote.Filter{Column: col, Op: remote.OpEq, Value: v}
	}

	// JSON numbers decode as float64 and still equal integer filter values
	assert.True(t, matches(row(remote.ChangeInsert, `{"user_id":7}`, ""), eq("user_id", int64(7))))
	assert.True(t, matches(row(remote.ChangeInsert, `{"user_id":1234567890}`, ""), eq("user_id", 1234567890)))
	assert.False(t, matches(row(remote.ChangeInsert, `{"user_id":7.5}`, ""), eq("user_id", int64(7))))
	assert.True(t, matches(row(remote.ChangeInsert, `{"device_battery":42.5}`, ""), eq("device_battery", 42.5)))
	assert.True(t, matches(row(remote.ChangeInsert, `{"device_id":"AA:BB"}`, ""), eq("device_id", "AA:BB")))

	assert.True(t, matches(row(remote.ChangeDelete, "", `{"user_id":7}`), eq("user_id", int64(7))))
	assert.False(t, matches(row(remote.ChangeInsert, `{"device_id":"AA:BB"}`, ""), eq("user_id", int64(7))))
	assert.False(t, matches(row(remote.ChangeInsert, `not json`, ""), eq("user_id", int64(7))))
	assert.True(t, matches(row(remote.ChangeInsert, `{}`, ""), nil))
}

func TestConditionsTranslateEveryOperator(t *testing.T) {
	s := newTestStore(t)
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	q := remote.From(model.TableMeasurement).
		Eq("device_id", "AA:BB").
		Gt("measurement_temperature", 5).
		Gte("measurement_date_time", at).
		Lt("measurement_humidity", 90.5).
		Lte("user_id", int64(7))

	exprs := conditions(q)
	require.Len(t, exprs, 5)

	stmt := s.db.Session(&gorm.Session{DryRun: true}).
		Clauses(clause.Where{Exprs: exprs}).
		Find(&[]model.Measurement{}).Statement
	sql := stmt.SQL.String()

	assert.Contains(t, sql, "`device_id` = ?")
	assert.Contains(t, sql, "`measurement_temperature` > ?")
	assert.Contains(t, sql, "`measurement_date_time` >= ?")
	assert.Contains(t, sql, "`measurement_humidity` < ?")
	assert.Contains(t, sql, "`user_id` <= ?")
	assert.Equal(t, []interface{}{"AA:BB", 5, at, 90.5, int64(7)}, stmt.Vars)
}
