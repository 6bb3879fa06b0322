package replication

// Every column is cast to a concrete type so rows decode to string, int64,
// float64 or bool regardless of server version (EXTRACT returns numeric on 14+).

const primaryWALQuery = `
SELECT
    pg_current_wal_lsn()::text AS current_wal_lsn,
    pg_wal_lsn_diff(pg_current_wal_lsn(), '0/0')::bigint AS wal_position_bytes`

const streamStatsQuery = `
SELECT
    application_name,
    state,
    sent_lsn::text AS sent_lsn,
    write_lsn::text AS write_lsn,
    flush_lsn::text AS flush_lsn,
    replay_lsn::text AS replay_lsn,
    sync_state,
    EXTRACT(EPOCH FROM write_lag)::float8 AS write_lag_seconds,
    EXTRACT(EPOCH FROM flush_lag)::float8 AS flush_lag_seconds,
    EXTRACT(EPOCH FROM replay_lag)::float8 AS replay_lag_seconds,
    pg_wal_lsn_diff(sent_lsn, replay_lsn)::bigint AS byte_lag
FROM pg_stat_replication
WHERE application_name = $1`

const slotQuery = `
SELECT
    slot_name::text AS slot_name,
    active,
    restart_lsn::text AS restart_lsn,
    pg_wal_lsn_diff(pg_current_wal_lsn(), restart_lsn)::bigint AS retained_bytes
FROM pg_replication_slots
WHERE slot_name = $1`

const standbyStatusQuery = `
SELECT
    pg_is_in_recovery() AS is_in_recovery,
    CASE WHEN pg_is_in_recovery() THEN pg_last_wal_receive_lsn()::text END AS last_wal_receive_lsn,
    CASE WHEN pg_is_in_recovery() THEN pg_last_wal_replay_lsn()::text END AS last_wal_replay_lsn`

// RecoveryQuery is the probe used wherever only the recovery flag matters
const RecoveryQuery = `SELECT pg_is_in_recovery() AS is_in_recovery`
