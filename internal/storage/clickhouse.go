package storage

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"github.com/lumalytics/luma/internal/models"
)

// StoreError wraps any failure from the event store. The engines propagate
// it unchanged; retries, if any, belong below this layer.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string {
	return "event store: " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ClickHouseStore implements Executor and EventWriter on the native
// ClickHouse protocol.
type ClickHouseStore struct {
	conn  driver.Conn
	table string
}

// NewClickHouseStore wraps an established connection. table is the fully
// qualified events table used for ingestion.
func NewClickHouseStore(conn driver.Conn, table string) *ClickHouseStore {
	return &ClickHouseStore{conn: conn, table: table}
}

// Query executes the spec and returns column-labeled rows. Columns are
// scanned generically off the driver's column types so the engines stay
// agnostic to the result shape.
func (s *ClickHouseStore) Query(ctx context.Context, spec QuerySpec) ([]Row, error) {
	rows, err := s.conn.Query(ctx, spec.SQL, spec.Args...)
	if err != nil {
		return nil, &StoreError{Err: err}
	}
	defer rows.Close()

	types := rows.ColumnTypes()
	names := rows.Columns()

	var out []Row
	for rows.Next() {
		dest := make([]any, len(types))
		for i, ct := range types {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, &StoreError{Err: err}
		}
		row := make(Row, len(names))
		for i, name := range names {
			row[name] = reflect.ValueOf(dest[i]).Elem().Interface()
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Err: err}
	}
	return out, nil
}

// InsertEvents appends a batch of tracked events. Missing IDs and
// timestamps are filled here so callers can hand over raw payloads.
func (s *ClickHouseStore) InsertEvents(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO `+s.table+` (
			id, event_time, user_id, device_id, event, source,
			session_id, geo_country, geo_region, geo_city, user_agent, properties
		)`)
	if err != nil {
		return &StoreError{Err: err}
	}

	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		props := "{}"
		if len(e.Properties) > 0 {
			if b, err := json.Marshal(e.Properties); err == nil {
				props = string(b)
			}
		}
		if err := batch.Append(
			e.ID, e.Timestamp, e.UserID, e.DeviceID, e.Name, e.Source,
			e.SessionID, e.GeoCountry, e.GeoRegion, e.GeoCity, e.UserAgent, props,
		); err != nil {
			return &StoreError{Err: err}
		}
	}

	if err := batch.Send(); err != nil {
		return &StoreError{Err: err}
	}
	return nil
}
