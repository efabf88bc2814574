package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/ipimonitor/ipi-api/internal/aggregator"
	"github.com/ipimonitor/ipi-api/internal/controller"
	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/ipimonitor/ipi-api/pkg/storage"
)

const exportURLExpiry = 15 * time.Minute

// Export is a rendered chart CSV. URL is empty when no object storage is configured
// and the caller streams Data instead.
type Export struct {
	Name      string
	Data      []byte
	Key       string
	URL       string
	ExpiresAt time.Time
}

// ExportService renders chart data to CSV and hands it out through object storage
type ExportService struct {
	measurements *MeasurementService
	storage      storage.Storage
	now          func() time.Time
}

// NewExportService creates an export service; store may be nil
func NewExportService(measurements *MeasurementService, store storage.Storage) *ExportService {
	return &ExportService{measurements: measurements, storage: store, now: time.Now}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// RenderCSV writes one row per chart point followed by the summary rows
func RenderCSV(view controller.ChartView) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	unit := view.UnitSymbol
	header := []string{"at", "time", "temperature (" + unit + ")", "humidity (%)", "dew point (" + unit + ")"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, p := range view.Points {
		row := []string{
			p.At.UTC().Format(time.RFC3339),
			p.Time,
			formatValue(p.Temperature),
			formatValue(p.Humidity),
			formatValue(p.DewPoint),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	summary := []struct {
		name string
		pick func(aggregator.Stats) float64
	}{
		{"average", func(s aggregator.Stats) float64 { return s.Average }},
		{"high", func(s aggregator.Stats) float64 { return s.High }},
		{"low", func(s aggregator.Stats) float64 { return s.Low }},
	}
	for _, s := range summary {
		row := []string{
			s.name, "",
			formatValue(s.pick(view.Temperature)),
			formatValue(s.pick(view.Humidity)),
			formatValue(s.pick(view.DewPoint)),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Export renders the chart of a device and uploads it when storage is available
func (s *ExportService) Export(ctx context.Context, client remote.DataClient, userID int64, deviceID string, q model.ChartQuery) (*Export, error) {
	state, err := s.measurements.Chart(ctx, client, userID, deviceID, q)
	if err != nil {
		return nil, err
	}
	if state.Status != controller.StatusSuccess {
		if state.Err() != nil {
			return nil, state.Err()
		}
		return nil, errors.New(state.Error)
	}

	data, err := RenderCSV(state.Data)
	if err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}

	stamp := s.now().UTC().Format("20060102T150405Z")
	out := &Export{
		Name: fmt.Sprintf("%s-%s.csv", deviceID, stamp),
		Data: data,
	}
	if s.storage == nil {
		return out, nil
	}

	key := fmt.Sprintf("exports/%s/%s.csv", deviceID, stamp)
	if _, err := s.storage.Put(ctx, bytes.NewReader(data), int64(len(data)), key, "text/csv"); err != nil {
		return nil, fmt.Errorf("upload export: %w", err)
	}
	url, err := s.storage.PresignedURL(ctx, key, exportURLExpiry)
	if err != nil {
		return nil, fmt.Errorf("presign export: %w", err)
	}
	log.Printf("📦 Exported %d points of device %s to %s", len(state.Data.Points), deviceID, key)

	out.Key = key
	out.URL = url
	out.ExpiresAt = s.now().UTC().Add(exportURLExpiry)
	return out, nil
}
