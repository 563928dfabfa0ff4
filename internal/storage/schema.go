package storage

import (
	"context"
	"fmt"
	"strings"
)

// schema is written once and specialised per dialect through the
// {{uuid}}, {{ts}}, {{json}} and {{money}} column types.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id {{uuid}} PRIMARY KEY,
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT '',
	is_subscribed BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id {{uuid}} PRIMARY KEY,
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL,
	landlord_id {{uuid}} NOT NULL,
	plan_name TEXT NOT NULL DEFAULT '',
	external_ref TEXT NOT NULL,
	status TEXT NOT NULL,
	start_date {{ts}} NOT NULL,
	end_date {{ts}} NOT NULL,
	unit_limit INTEGER NOT NULL DEFAULT 0,
	refunded BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS units (
	id {{uuid}} PRIMARY KEY,
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL,
	owner_id {{uuid}} NOT NULL,
	subscription_id {{uuid}},
	title TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS booking_requests (
	id {{uuid}} PRIMARY KEY,
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL,
	tenant_id {{uuid}} NOT NULL,
	landlord_id {{uuid}} NOT NULL,
	unit_id {{uuid}} NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	lease_id {{uuid}}
);

CREATE TABLE IF NOT EXISTS leases (
	id {{uuid}} PRIMARY KEY,
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL,
	landlord_id {{uuid}} NOT NULL,
	tenant_id {{uuid}} NOT NULL,
	unit_id {{uuid}} NOT NULL,
	booking_id {{uuid}},
	start_date {{ts}} NOT NULL,
	end_date {{ts}} NOT NULL,
	rent_amount {{money}} NOT NULL,
	status TEXT NOT NULL,
	expired_at {{ts}},
	terminated_at {{ts}},
	expiry_notified_at {{ts}}
);

CREATE TABLE IF NOT EXISTS notifications (
	id {{uuid}} PRIMARY KEY,
	created_at {{ts}} NOT NULL,
	user_id {{uuid}} NOT NULL,
	sender_id {{uuid}},
	title TEXT NOT NULL,
	message TEXT NOT NULL,
	type TEXT NOT NULL,
	lease_id {{uuid}},
	dedup_key TEXT,
	is_read BOOLEAN NOT NULL DEFAULT FALSE,
	disabled BOOLEAN NOT NULL DEFAULT FALSE,
	meta {{json}}
);

CREATE TABLE IF NOT EXISTS messages (
	id {{uuid}} PRIMARY KEY,
	created_at {{ts}} NOT NULL,
	chat_id {{uuid}} NOT NULL,
	sender_id {{uuid}} NOT NULL,
	receiver_id {{uuid}} NOT NULL,
	text TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reviews (
	id {{uuid}} PRIMARY KEY,
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL,
	lease_id {{uuid}} NOT NULL,
	reviewer_id {{uuid}} NOT NULL,
	reviewee_id {{uuid}} NOT NULL,
	rating INTEGER NOT NULL,
	comment TEXT NOT NULL DEFAULT '',
	sentiment TEXT,
	keywords TEXT,
	flagged BOOLEAN NOT NULL DEFAULT FALSE,
	analyzed_at {{ts}}
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_external_ref ON subscriptions(external_ref);
CREATE INDEX IF NOT EXISTS idx_subscriptions_end_date ON subscriptions(end_date) WHERE refunded = FALSE;
CREATE INDEX IF NOT EXISTS idx_units_subscription_id ON units(subscription_id);
CREATE INDEX IF NOT EXISTS idx_booking_requests_landlord ON booking_requests(landlord_id, status);
CREATE INDEX IF NOT EXISTS idx_leases_status_end_date ON leases(status, end_date);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_notifications_sender ON notifications(sender_id, created_at);
CREATE INDEX IF NOT EXISTS idx_notifications_lease ON notifications(lease_id, type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_active_dedup
	ON notifications(user_id, type, dedup_key)
	WHERE disabled = FALSE AND dedup_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);
`

var dialects = map[string]*strings.Replacer{
	DriverPostgres: strings.NewReplacer(
		"{{uuid}}", "UUID",
		"{{ts}}", "TIMESTAMPTZ",
		"{{json}}", "JSONB",
		"{{money}}", "NUMERIC(12,2)",
	),
	DriverSQLite: strings.NewReplacer(
		"{{uuid}}", "TEXT",
		"{{ts}}", "DATETIME",
		"{{json}}", "TEXT",
		"{{money}}", "REAL",
	),
}

// Migrate runs idempotent schema migrations
func (s *SQLStore) Migrate(ctx context.Context) error {
	r, ok := dialects[s.driverName()]
	if !ok {
		return fmt.Errorf("no schema for driver %q", s.driverName())
	}
	_, err := s.db.ExecContext(ctx, r.Replace(schema))
	return err
}
