package consultation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/JavidSumra/care-be/internal/platform/blobstore"
	"github.com/JavidSumra/care-be/internal/platform/metrics"
	"github.com/JavidSumra/care-be/internal/platform/notification"
)

// SummaryLinkExpiry is how long an emailed discharge summary link works.
const SummaryLinkExpiry = 48 * time.Hour

var (
	ErrQueueFull   = errors.New("discharge summary queue is full")
	ErrQueueClosed = errors.New("discharge summary queue is closed")
)

var summaryTemplate = template.Must(template.New("summary").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Discharge summary: {{.PatientName}}</title></head>
<body>
<h1>Discharge summary</h1>
<table>
<tr><th>Patient</th><td>{{.PatientName}}</td></tr>
<tr><th>Facility</th><td>{{.FacilityName}}</td></tr>
<tr><th>Consultation</th><td>{{.ExternalID}}</td></tr>
<tr><th>Suggestion</th><td>{{.Suggestion}}</td></tr>
<tr><th>Encounter date</th><td>{{.EncounterDate.Format "02 Jan 2006 15:04"}}</td></tr>
{{- if .DischargeDate}}
<tr><th>Discharge date</th><td>{{.DischargeDate.Format "02 Jan 2006 15:04"}}</td></tr>
<tr><th>Discharge reason</th><td>{{.NewDischargeReason}}</td></tr>
{{- end}}
{{- if .DeathDatetime}}
<tr><th>Time of death</th><td>{{.DeathDatetime.Format "02 Jan 2006 15:04"}}</td></tr>
<tr><th>Confirmed by</th><td>{{.DeathConfirmedDoctor}}</td></tr>
{{- end}}
</table>
<h2>Consultation notes</h2>
<p>{{.ConsultationNotes}}</p>
{{- if .DischargeNotes}}
<h2>Discharge notes</h2>
<p>{{.DischargeNotes}}</p>
{{- end}}
</body>
</html>
`))

// RenderSummary renders the consultation as a standalone HTML document.
func RenderSummary(c *Consultation) ([]byte, error) {
	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, c); err != nil {
		return nil, fmt.Errorf("render discharge summary: %w", err)
	}
	return buf.Bytes(), nil
}

// SummaryMailer stores a rendered summary and emails a time-limited link.
type SummaryMailer struct {
	blobs     blobstore.Store
	mail      notification.EmailSender
	templates *notification.TemplateEngine
	now       func() time.Time
}

func NewSummaryMailer(blobs blobstore.Store, mail notification.EmailSender) *SummaryMailer {
	return &SummaryMailer{
		blobs:     blobs,
		mail:      mail,
		templates: notification.NewTemplateEngine(),
		now:       time.Now,
	}
}

func (m *SummaryMailer) Send(ctx context.Context, c *Consultation, to string) error {
	doc, err := RenderSummary(c)
	if err != nil {
		return err
	}

	now := m.now().UTC()
	key := fmt.Sprintf("discharge_summary/%s/%s.html", c.ExternalID, now.Format("20060102T150405Z"))
	if _, err := m.blobs.Put(ctx, key, bytes.NewReader(doc), "text/html; charset=utf-8", map[string]string{
		"consultation": c.ExternalID.String(),
	}); err != nil {
		return fmt.Errorf("store discharge summary: %w", err)
	}

	link, err := m.blobs.PresignGet(ctx, key, SummaryLinkExpiry)
	if err != nil {
		return fmt.Errorf("presign discharge summary: %w", err)
	}

	subject, body, err := m.templates.Render(notification.TemplateDischargeSummary, map[string]string{
		"patient_name":  c.PatientName,
		"facility_name": c.FacilityName,
		"link":          link,
		"expires_at":    now.Add(SummaryLinkExpiry).Format("02 Jan 2006 15:04 MST"),
	})
	if err != nil {
		return err
	}
	if err := m.mail.SendEmail(ctx, to, subject, body); err != nil {
		return fmt.Errorf("send discharge summary: %w", err)
	}
	return nil
}

type summaryTask struct {
	consultation *Consultation
	email        string
	requestID    string
}

// SummaryQueue runs discharge summary deliveries on a fixed set of workers
// so that requests return before the mail gateway answers.
type SummaryQueue struct {
	mailer  *SummaryMailer
	logger  zerolog.Logger
	metrics *metrics.Metrics
	workers int
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan summaryTask
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSummaryQueue(mailer *SummaryMailer, workers, buffer int, logger zerolog.Logger, m *metrics.Metrics) *SummaryQueue {
	if workers <= 0 {
		workers = 2
	}
	if buffer <= 0 {
		buffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SummaryQueue{
		mailer:  mailer,
		logger:  logger,
		metrics: m,
		workers: workers,
		timeout: 2 * time.Minute,
		queue:   make(chan summaryTask, buffer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (q *SummaryQueue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.loop()
	}
}

// Stop stops accepting work, lets workers drain the queue and waits for them
// or for ctx.
func (q *SummaryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.queue)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}

// Enqueue never blocks; a full queue is reported to the caller.
func (q *SummaryQueue) Enqueue(c *Consultation, email, requestID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.queue <- summaryTask{consultation: c, email: email, requestID: requestID}:
		return nil
	default:
		q.metrics.SummaryJob("rejected")
		return ErrQueueFull
	}
}

func (q *SummaryQueue) loop() {
	defer q.wg.Done()
	for task := range q.queue {
		q.process(task)
	}
}

func (q *SummaryQueue) process(task summaryTask) {
	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	defer cancel()

	log := q.logger.With().
		Str("request_id", task.requestID).
		Str("consultation_id", task.consultation.ExternalID.String()).
		Logger()

	if err := q.mailer.Send(ctx, task.consultation, task.email); err != nil {
		q.metrics.SummaryJob("failed")
		log.Error().Err(err).Msg("discharge summary delivery failed")
		return
	}
	q.metrics.SummaryJob("sent")
	log.Info().Msg("discharge summary sent")
}
