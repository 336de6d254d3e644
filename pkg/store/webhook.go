package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/cuemby/cargohold/pkg/regerr"
	"github.com/cuemby/cargohold/pkg/types"
)

// CreateWebhook registers a new webhook, encrypted secret already
// supplied by the caller, and returns its assigned ID. An empty
// webhook.CrateID registers a registry-wide webhook.
func (s *sqlStore) CreateWebhook(ctx context.Context, webhook types.Webhook) (string, error) {
	var crateID any
	if webhook.CrateID != "" {
		id, err := parseID(webhook.CrateID)
		if err != nil {
			return "", err
		}
		crateID = id
	}

	eventsJSON, err := json.Marshal(webhook.Events)
	if err != nil {
		return "", err
	}

	if s.dialect == DialectPostgres {
		var id int64
		err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO webhooks (crate_id, url, secret_enc, events, active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`),
			crateID, webhook.URL, webhook.SecretEnc, string(eventsJSON), true, time.Now().UTC()).Scan(&id)
		if err != nil {
			return "", wrapTransient(err, "creating webhook")
		}
		return strconv.FormatInt(id, 10), nil
	}

	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO webhooks (crate_id, url, secret_enc, events, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`),
		crateID, webhook.URL, webhook.SecretEnc, string(eventsJSON), true, time.Now().UTC())
	if err != nil {
		return "", wrapTransient(err, "creating webhook")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", wrapTransient(err, "reading new webhook id")
	}
	return strconv.FormatInt(id, 10), nil
}

// GetWebhook fetches a single webhook by ID, active or not.
func (s *sqlStore) GetWebhook(ctx context.Context, id string) (*types.Webhook, error) {
	webhookID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, crate_id, url, secret_enc, events, active, created_at
		FROM webhooks WHERE id = $1`), webhookID)

	var wID int64
	var crateID sql.NullInt64
	var w types.Webhook
	var eventsJSON string
	err = row.Scan(&wID, &crateID, &w.URL, &w.SecretEnc, &eventsJSON, &w.Active, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, regerr.Newf(regerr.NotFound, "webhook %s not found", id)
	}
	if err != nil {
		return nil, wrapTransient(err, "getting webhook")
	}

	var events []types.WebhookEvent
	_ = json.Unmarshal([]byte(eventsJSON), &events)
	w.ID = strconv.FormatInt(wID, 10)
	if crateID.Valid {
		w.CrateID = strconv.FormatInt(crateID.Int64, 10)
	}
	w.Events = events
	return &w, nil
}

// ListWebhooksForCrate returns active webhooks subscribed to event,
// including registry-wide ones (crate_id NULL), for the named crate.
func (s *sqlStore) ListWebhooksForCrate(ctx context.Context, crateName string, event types.WebhookEvent) ([]types.Webhook, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT w.id, w.crate_id, w.url, w.secret_enc, w.events, w.active, w.created_at
		FROM webhooks w LEFT JOIN crates c ON c.id = w.crate_id
		WHERE w.active = TRUE AND (w.crate_id IS NULL OR c.name = $1)`), crateName)
	if err != nil {
		return nil, wrapTransient(err, "listing webhooks")
	}
	defer rows.Close()

	var out []types.Webhook
	for rows.Next() {
		var id int64
		var crateID sql.NullInt64
		var w types.Webhook
		var eventsJSON string
		if err := rows.Scan(&id, &crateID, &w.URL, &w.SecretEnc, &eventsJSON, &w.Active, &w.CreatedAt); err != nil {
			return nil, wrapTransient(err, "scanning webhook")
		}
		var events []types.WebhookEvent
		_ = json.Unmarshal([]byte(eventsJSON), &events)

		subscribed := false
		for _, e := range events {
			if e == event {
				subscribed = true
				break
			}
		}
		if !subscribed {
			continue
		}

		w.ID = strconv.FormatInt(id, 10)
		if crateID.Valid {
			w.CrateID = strconv.FormatInt(crateID.Int64, 10)
		}
		w.Events = events
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *sqlStore) CreateWebhookDelivery(ctx context.Context, delivery types.WebhookDelivery) error {
	webhookID, err := parseID(delivery.WebhookID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO webhook_deliveries
		(webhook_id, event, payload, attempts, last_status, last_error, delivered_at, next_attempt, created_at)
		VALUES ($1, $2, $3, 0, 0, '', NULL, $4, $5)`),
		webhookID, string(delivery.Event), delivery.Payload, delivery.NextAttempt, time.Now().UTC())
	if err != nil {
		return wrapTransient(err, "creating webhook delivery")
	}
	return nil
}

func (s *sqlStore) ListPendingWebhookDeliveries(ctx context.Context, limit int) ([]types.WebhookDelivery, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, webhook_id, event, payload, attempts, last_status,
		last_error, delivered_at, next_attempt, created_at
		FROM webhook_deliveries
		WHERE delivered_at IS NULL AND next_attempt <= $1
		ORDER BY next_attempt ASC LIMIT $2`), time.Now().UTC(), limit)
	if err != nil {
		return nil, wrapTransient(err, "listing pending webhook deliveries")
	}
	defer rows.Close()

	var out []types.WebhookDelivery
	for rows.Next() {
		var id, webhookID int64
		var d types.WebhookDelivery
		var event string
		if err := rows.Scan(&id, &webhookID, &event, &d.Payload, &d.Attempts, &d.LastStatus,
			&d.LastError, &d.DeliveredAt, &d.NextAttempt, &d.CreatedAt); err != nil {
			return nil, wrapTransient(err, "scanning webhook delivery")
		}
		d.ID = strconv.FormatInt(id, 10)
		d.WebhookID = strconv.FormatInt(webhookID, 10)
		d.Event = types.WebhookEvent(event)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqlStore) RecordWebhookDeliveryResult(ctx context.Context, deliveryID string, status int, deliveryErr string, nextAttempt *time.Time) error {
	var deliveredAt any
	if status >= 200 && status < 300 {
		now := time.Now().UTC()
		deliveredAt = now
	}
	var next any
	if nextAttempt != nil {
		next = *nextAttempt
	}

	id, err := parseID(deliveryID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`UPDATE webhook_deliveries
		SET attempts = attempts + 1, last_status = $1, last_error = $2, delivered_at = COALESCE($3, delivered_at), next_attempt = COALESCE($4, next_attempt)
		WHERE id = $5`), status, deliveryErr, deliveredAt, next, id)
	if err != nil {
		return wrapTransient(err, "recording webhook delivery result")
	}
	return nil
}
