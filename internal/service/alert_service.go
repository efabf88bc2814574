package service

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/pkg/mailer"
	"github.com/ipimonitor/ipi-api/pkg/notification"
)

// AlertMailer sends alert emails
type AlertMailer interface {
	SendThresholdAlert(toEmail string, alert mailer.ThresholdAlert) error
}

// AlertPusher sends alert push messages
type AlertPusher interface {
	SendAlert(ctx context.Context, authUser string, alert notification.Alert) error
}

// Recipient is who gets told about a breach
type Recipient struct {
	AuthUser string
	Email    string
	Name     string
}

// AlertService checks readings against device thresholds and delivers breaches
type AlertService struct {
	mailer    AlertMailer
	pusher    AlertPusher
	publicURL string
}

func NewAlertService(m AlertMailer, p AlertPusher, publicURL string) *AlertService {
	return &AlertService{mailer: m, pusher: p, publicURL: strings.TrimRight(publicURL, "/")}
}

type band struct {
	metric    string
	low, high float64
	unit      string
	value     func(model.Measurement) (float64, bool)
}

// bands lists the threshold pairs of d. A pair left at 0/0 is not configured.
func bands(d model.Device) []band {
	symbol := d.TemperatureUnit.Symbol()
	all := []band{
		{"temperature", d.LowTemperatureThreshold, d.HighTemperatureThreshold, symbol,
			func(m model.Measurement) (float64, bool) { return m.Temperature, true }},
		{"humidity", d.LowHumidityThreshold, d.HighHumidityThreshold, "%",
			func(m model.Measurement) (float64, bool) {
				if m.Humidity == nil {
					return 0, false
				}
				return *m.Humidity, true
			}},
		{"dew point", d.LowDewPoint, d.HighDewPoint, symbol,
			func(m model.Measurement) (float64, bool) {
				if m.DewPoint == nil {
					return 0, false
				}
				return *m.DewPoint, true
			}},
	}
	out := all[:0]
	for _, b := range all {
		if b.low != 0 || b.high != 0 {
			out = append(out, b)
		}
	}
	return out
}

// Evaluate returns the breaches of rows. Rows must already be in the device's unit.
func Evaluate(device model.Device, rows []model.Measurement) []model.Alert {
	alerts := []model.Alert{}
	for _, b := range bands(device) {
		for _, m := range rows {
			v, ok := b.value(m)
			if !ok {
				continue
			}
			alert := model.Alert{DeviceID: device.DeviceID, Metric: b.metric, Value: v, Unit: b.unit, At: m.DateTime}
			switch {
			case v < b.low:
				alert.Bound, alert.Threshold = "low", b.low
			case v > b.high:
				alert.Bound, alert.Threshold = "high", b.high
			default:
				continue
			}
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

func direction(bound string) string {
	if bound == "low" {
		return "below"
	}
	return "above"
}

// Dispatch emails and pushes alerts. Failures are logged only.
func (s *AlertService) Dispatch(ctx context.Context, to Recipient, device model.Device, alerts []model.Alert) {
	if len(alerts) == 0 {
		return
	}

	chartURL := ""
	if s.publicURL != "" {
		chartURL = s.publicURL + "/chart?device=" + url.QueryEscape(device.DeviceID)
	}

	if s.mailer != nil && to.Email != "" {
		breaches := make([]mailer.Breach, len(alerts))
		for i, a := range alerts {
			breaches[i] = mailer.Breach{Metric: a.Metric, Bound: a.Bound, Value: a.Value, Threshold: a.Threshold, Unit: a.Unit, At: a.At}
		}
		err := s.mailer.SendThresholdAlert(to.Email, mailer.ThresholdAlert{
			Name:       to.Name,
			DeviceName: device.Label(),
			DeviceID:   device.DeviceID,
			Breaches:   breaches,
			ChartURL:   chartURL,
		})
		if err != nil {
			log.Printf("❌ Alert email for %s failed: %v", device.DeviceID, err)
		}
	}

	if s.pusher != nil {
		first := alerts[0]
		body := fmt.Sprintf("%s %.1f%s %s %.1f%s", first.Metric, first.Value, first.Unit, direction(first.Bound), first.Threshold, first.Unit)
		if len(alerts) > 1 {
			body += fmt.Sprintf(" (+%d more)", len(alerts)-1)
		}
		err := s.pusher.SendAlert(ctx, to.AuthUser, notification.Alert{
			DeviceID:   device.DeviceID,
			DeviceName: device.Label(),
			Title:      device.Label() + " is out of range",
			Body:       body,
		})
		if err != nil {
			log.Printf("❌ Alert push for %s failed: %v", device.DeviceID, err)
		}
	}
}
