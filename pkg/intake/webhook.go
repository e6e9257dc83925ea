package intake

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// ErrInvalidPayload marks a webhook body that fails shape validation.
// The API layer maps it to a 400.
var ErrInvalidPayload = errors.New("invalid webhook payload")

// WebhookPayload is the Alertmanager-compatible webhook body.
type WebhookPayload struct {
	Version           string            `json:"version"`
	GroupKey          string            `json:"groupKey"`
	Status            string            `json:"status"`
	Receiver          string            `json:"receiver"`
	GroupLabels       map[string]string `json:"groupLabels"`
	CommonLabels      map[string]string `json:"commonLabels"`
	CommonAnnotations map[string]string `json:"commonAnnotations"`
	ExternalURL       string            `json:"externalURL"`
	Alerts            []WebhookAlert    `json:"alerts"`
}

// WebhookAlert is one alert entry inside a webhook payload.
type WebhookAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL"`
	Fingerprint  string            `json:"fingerprint"`
}

// Validate checks the payload shape: a known group status, at least one
// alert, and an alertname label plus a valid status on every entry.
func (p *WebhookPayload) Validate() error {
	if p.Status != "" && !validWebhookStatus(p.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidPayload, p.Status)
	}
	if len(p.Alerts) == 0 {
		return fmt.Errorf("%w: no alerts", ErrInvalidPayload)
	}
	for i := range p.Alerts {
		a := &p.Alerts[i]
		if a.Labels["alertname"] == "" {
			return fmt.Errorf("%w: alert %d has no alertname label", ErrInvalidPayload, i)
		}
		if a.Status != "" && !validWebhookStatus(a.Status) {
			return fmt.Errorf("%w: alert %d has unknown status %q", ErrInvalidPayload, i, a.Status)
		}
		if a.Status == "" && p.Status == "" {
			return fmt.Errorf("%w: alert %d has no status", ErrInvalidPayload, i)
		}
	}
	return nil
}

func validWebhookStatus(s string) bool {
	return s == string(models.AlertFiring) || s == string(models.AlertResolved)
}

// ToAlert converts one webhook entry to the stored alert shape. The
// group status applies when the entry carries none; a zero endsAt means
// the alert is still open.
func (a *WebhookAlert) ToAlert(groupStatus string) *models.Alert {
	status := a.Status
	if status == "" {
		status = groupStatus
	}

	alert := &models.Alert{
		Fingerprint: a.Fingerprint,
		Name:        a.Labels["alertname"],
		Severity:    a.Labels["severity"],
		Instance:    a.Labels["instance"],
		Job:         a.Labels["job"],
		Labels:      models.StringMap(a.Labels),
		Annotations: models.StringMap(a.Annotations),
		Status:      models.AlertStatus(status),
		StartsAt:    a.StartsAt,
	}
	if alert.Fingerprint == "" {
		alert.Fingerprint = Fingerprint(alert.Name, a.Labels)
	}
	if !a.EndsAt.IsZero() {
		ends := a.EndsAt
		alert.EndsAt = &ends
	}
	if raw, err := json.Marshal(a); err == nil {
		alert.RawPayload = string(raw)
	}
	return alert
}

// Fingerprint derives a stable dedup key for senders that omit one:
// a hash of the alert name and its sorted label set.
func Fingerprint(name string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('\n')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}
