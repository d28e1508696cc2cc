package store

// NotifyChannel is the Postgres channel the insert trigger raises.
// Must match what the notifier listens on.
const NotifyChannel = "device_readings"

// schemaStatements bootstrap the readings table, its paging index, and
// the commit-then-notify trigger. Executed one at a time; every
// statement is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS device_readings (
		id                  BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		device_id           TEXT NOT NULL,
		recorded_at         TIMESTAMPTZ NOT NULL,
		carbon_monoxide_ppm DOUBLE PRECISION NOT NULL,
		temperature_celcius DOUBLE PRECISION NOT NULL,
		pm1_ug_m3           DOUBLE PRECISION NOT NULL,
		pm2_5_ug_m3         DOUBLE PRECISION NOT NULL,
		pm4_ug_m3           DOUBLE PRECISION NOT NULL,
		pm10_ug_m3          DOUBLE PRECISION NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS device_readings_device_recorded_idx
		ON device_readings (device_id, recorded_at DESC, id DESC)`,

	`CREATE OR REPLACE FUNCTION device_readings_notify() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('device_readings', NEW.device_id);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS device_readings_notify ON device_readings`,

	`CREATE TRIGGER device_readings_notify
		AFTER INSERT ON device_readings
		FOR EACH ROW EXECUTE FUNCTION device_readings_notify()`,
}
