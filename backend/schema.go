package backend

// ChangesChannel is the NOTIFY channel the change triggers publish on.
const ChangesChannel = "asset_changes"

const schema = `
CREATE TABLE IF NOT EXISTS assets (
    id         TEXT PRIMARY KEY,
    code       TEXT NOT NULL UNIQUE,
    name       TEXT NOT NULL DEFAULT '',
    category   TEXT NOT NULL DEFAULT '',
    location   TEXT NOT NULL DEFAULT '',
    status     TEXT NOT NULL DEFAULT '',
    notes      TEXT NOT NULL DEFAULT '',
    created_by TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS inventory_checks (
    asset_id   TEXT PRIMARY KEY REFERENCES assets(id) ON DELETE CASCADE,
    checked_by TEXT NOT NULL,
    notes      TEXT NOT NULL DEFAULT '',
    checked_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS scan_records (
    id         TEXT PRIMARY KEY,
    asset_id   TEXT NOT NULL,
    scanned_by TEXT NOT NULL,
    scanned_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_scan_records_asset ON scan_records(asset_id);

CREATE OR REPLACE FUNCTION notify_asset_change() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('asset_changes', json_build_object(
        'table', TG_TABLE_NAME,
        'op', TG_OP,
        'row_id', COALESCE(to_jsonb(NEW) ->> 'id', to_jsonb(OLD) ->> 'id',
                           to_jsonb(NEW) ->> 'asset_id', to_jsonb(OLD) ->> 'asset_id')
    )::text);
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS assets_notify ON assets;
CREATE TRIGGER assets_notify AFTER INSERT OR UPDATE OR DELETE ON assets
    FOR EACH ROW EXECUTE FUNCTION notify_asset_change();

DROP TRIGGER IF EXISTS inventory_checks_notify ON inventory_checks;
CREATE TRIGGER inventory_checks_notify AFTER INSERT OR UPDATE OR DELETE ON inventory_checks
    FOR EACH ROW EXECUTE FUNCTION notify_asset_change();

DROP TRIGGER IF EXISTS scan_records_notify ON scan_records;
CREATE TRIGGER scan_records_notify AFTER INSERT ON scan_records
    FOR EACH ROW EXECUTE FUNCTION notify_asset_change();
`
