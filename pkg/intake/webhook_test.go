package intake

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

func firingPayload() *WebhookPayload {
	return &WebhookPayload{
		Version:  "4",
		GroupKey: "{}:{alertname=\"NginxDown\"}",
		Status:   "firing",
		Receiver: "remedy",
		Alerts: []WebhookAlert{
			{
				Status: "firing",
				Labels: map[string]string{
					"alertname": "NginxDown",
					"severity":  "critical",
					"instance":  "web-01:9100",
					"job":       "node",
				},
				Annotations: map[string]string{"summary": "nginx is not responding"},
				StartsAt:    time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC),
				Fingerprint: "c9f1a7d2b4e3",
			},
		},
	}
}

func TestWebhookPayloadValidate(t *testing.T) {
	t.Run("valid firing payload", func(t *testing.T) {
		assert.NoError(t, firingPayload().Validate())
	})

	t.Run("alert status falls back to group status", func(t *testing.T) {
		p := firingPayload()
		p.Alerts[0].Status = ""
		assert.NoError(t, p.Validate())
	})

	t.Run("no alerts", func(t *testing.T) {
		p := firingPayload()
		p.Alerts = nil
		err := p.Validate()
		require.ErrorIs(t, err, ErrInvalidPayload)
		assert.Contains(t, err.Error(), "no alerts")
	})

	t.Run("unknown group status", func(t *testing.T) {
		p := firingPayload()
		p.Status = "exploding"
		require.ErrorIs(t, p.Validate(), ErrInvalidPayload)
	})

	t.Run("unknown alert status", func(t *testing.T) {
		p := firingPayload()
		p.Alerts[0].Status = "maybe"
		require.ErrorIs(t, p.Validate(), ErrInvalidPayload)
	})

	t.Run("missing alertname label", func(t *testing.T) {
		p := firingPayload()
		delete(p.Alerts[0].Labels, "alertname")
		err := p.Validate()
		require.ErrorIs(t, err, ErrInvalidPayload)
		assert.Contains(t, err.Error(), "alertname")
	})

	t.Run("no status anywhere", func(t *testing.T) {
		p := firingPayload()
		p.Status = ""
		p.Alerts[0].Status = ""
		require.ErrorIs(t, p.Validate(), ErrInvalidPayload)
	})
}

func TestWebhookAlertToAlert(t *testing.T) {
	t.Run("maps well-known labels", func(t *testing.T) {
		a := firingPayload().Alerts[0].ToAlert("firing")
		assert.Equal(t, "NginxDown", a.Name)
		assert.Equal(t, "critical", a.Severity)
		assert.Equal(t, "web-01:9100", a.Instance)
		assert.Equal(t, "node", a.Job)
		assert.Equal(t, "c9f1a7d2b4e3", a.Fingerprint)
		assert.Equal(t, models.AlertFiring, a.Status)
		assert.Nil(t, a.EndsAt)
		assert.Equal(t, "nginx is not responding", a.Annotations["summary"])
	})

	t.Run("group status applies when entry has none", func(t *testing.T) {
		entry := firingPayload().Alerts[0]
		entry.Status = ""
		a := entry.ToAlert("resolved")
		assert.Equal(t, models.AlertResolved, a.Status)
	})

	t.Run("entry status wins over group status", func(t *testing.T) {
		entry := firingPayload().Alerts[0]
		entry.Status = "resolved"
		a := entry.ToAlert("firing")
		assert.Equal(t, models.AlertResolved, a.Status)
	})

	t.Run("non-zero endsAt is kept", func(t *testing.T) {
		entry := firingPayload().Alerts[0]
		ends := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
		entry.EndsAt = ends
		a := entry.ToAlert("resolved")
		require.NotNil(t, a.EndsAt)
		assert.Equal(t, ends, *a.EndsAt)
	})

	t.Run("missing fingerprint falls back to a label hash", func(t *testing.T) {
		entry := firingPayload().Alerts[0]
		entry.Fingerprint = ""
		a := entry.ToAlert("firing")
		assert.Equal(t, Fingerprint("NginxDown", entry.Labels), a.Fingerprint)
		assert.NotEmpty(t, a.Fingerprint)
	})

	t.Run("raw payload round-trips the entry", func(t *testing.T) {
		a := firingPayload().Alerts[0].ToAlert("firing")
		var entry WebhookAlert
		require.NoError(t, json.Unmarshal([]byte(a.RawPayload), &entry))
		assert.Equal(t, "NginxDown", entry.Labels["alertname"])
		assert.Equal(t, "c9f1a7d2b4e3", entry.Fingerprint)
	})
}

func TestFingerprint(t *testing.T) {
	labels := map[string]string{"alertname": "DiskFull", "instance": "db-01", "severity": "warning"}

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, Fingerprint("DiskFull", labels), Fingerprint("DiskFull", labels))
	})

	t.Run("independent of label insertion order", func(t *testing.T) {
		reordered := map[string]string{"severity": "warning", "instance": "db-01", "alertname": "DiskFull"}
		assert.Equal(t, Fingerprint("DiskFull", labels), Fingerprint("DiskFull", reordered))
	})

	t.Run("sensitive to label values", func(t *testing.T) {
		other := map[string]string{"alertname": "DiskFull", "instance": "db-02", "severity": "warning"}
		assert.NotEqual(t, Fingerprint("DiskFull", labels), Fingerprint("DiskFull", other))
	})

	t.Run("sensitive to the alert name", func(t *testing.T) {
		assert.NotEqual(t, Fingerprint("DiskFull", labels), Fingerprint("DiskAlmostFull", labels))
	})

	t.Run("hex encoded and compact", func(t *testing.T) {
		fp := Fingerprint("DiskFull", nil)
		assert.Len(t, fp, 32)
	})
}
