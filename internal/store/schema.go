package store

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS services (
		id INTEGER PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		settlement_account TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT 1,
		prefer_legacy BOOLEAN NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS descriptors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		service_id INTEGER NOT NULL REFERENCES services(id),
		family TEXT NOT NULL,
		base_url TEXT NOT NULL,
		credential_ref TEXT NOT NULL DEFAULT '',
		UNIQUE (service_id, family)
	)`,
	`CREATE TABLE IF NOT EXISTS descriptor_paths (
		descriptor_id INTEGER NOT NULL REFERENCES descriptors(id) ON DELETE CASCADE,
		operation TEXT NOT NULL,
		path TEXT NOT NULL,
		PRIMARY KEY (descriptor_id, operation)
	)`,
	`CREATE TABLE IF NOT EXISTS external_customers (
		customer_id INTEGER NOT NULL,
		service_id INTEGER NOT NULL,
		external_id TEXT NOT NULL,
		PRIMARY KEY (customer_id, service_id)
	)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		customer_id INTEGER NOT NULL,
		total TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS purchase_lines (
		purchase_id TEXT NOT NULL REFERENCES purchases(id),
		line_index INTEGER NOT NULL,
		kind TEXT NOT NULL,
		service_id INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		success BOOLEAN NOT NULL,
		confirmation_code TEXT NOT NULL DEFAULT '',
		invoice_url TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		failure_code TEXT NOT NULL DEFAULT '',
		warning TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		state TEXT NOT NULL,
		PRIMARY KEY (purchase_id, line_index)
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		purchase_id TEXT NOT NULL REFERENCES purchases(id),
		customer_id INTEGER NOT NULL,
		service_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		confirmation_code TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		invoice_url TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT 1,
		refund_amount TEXT,
		cancelled_at TIMESTAMP
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS services (
		id BIGINT PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		settlement_account TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		prefer_legacy BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS descriptors (
		id BIGSERIAL PRIMARY KEY,
		service_id BIGINT NOT NULL REFERENCES services(id),
		family TEXT NOT NULL,
		base_url TEXT NOT NULL,
		credential_ref TEXT NOT NULL DEFAULT '',
		UNIQUE (service_id, family)
	)`,
	`CREATE TABLE IF NOT EXISTS descriptor_paths (
		descriptor_id BIGINT NOT NULL REFERENCES descriptors(id) ON DELETE CASCADE,
		operation TEXT NOT NULL,
		path TEXT NOT NULL,
		PRIMARY KEY (descriptor_id, operation)
	)`,
	`CREATE TABLE IF NOT EXISTS external_customers (
		customer_id BIGINT NOT NULL,
		service_id BIGINT NOT NULL,
		external_id TEXT NOT NULL,
		PRIMARY KEY (customer_id, service_id)
	)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		customer_id BIGINT NOT NULL,
		total NUMERIC(14,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS purchase_lines (
		purchase_id TEXT NOT NULL REFERENCES purchases(id),
		line_index INTEGER NOT NULL,
		kind TEXT NOT NULL,
		service_id BIGINT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		success BOOLEAN NOT NULL,
		confirmation_code TEXT NOT NULL DEFAULT '',
		invoice_url TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		failure_code TEXT NOT NULL DEFAULT '',
		warning TEXT NOT NULL DEFAULT '',
		amount NUMERIC(14,2) NOT NULL,
		state TEXT NOT NULL,
		PRIMARY KEY (purchase_id, line_index)
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id BIGSERIAL PRIMARY KEY,
		purchase_id TEXT NOT NULL REFERENCES purchases(id),
		customer_id BIGINT NOT NULL,
		service_id BIGINT NOT NULL,
		kind TEXT NOT NULL,
		confirmation_code TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		amount NUMERIC(14,2) NOT NULL,
		invoice_url TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		refund_amount NUMERIC(14,2),
		cancelled_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS reservations_purchase_idx ON reservations (purchase_id)`,
}
