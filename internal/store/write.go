package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/bpflow/internal/engine"
	"github.com/roach88/bpflow/internal/ir"
)

// WriteRun archives run in one transaction. It assigns run.ID when empty
// (a UUIDv7), computes run.Digest from the entries and sets run.Seq.
// Writing an ID that already exists fails.
func (s *Store) WriteRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("write run: generate id: %w", err)
		}
		run.ID = id.String()
	}
	if run.EngineVersion == "" {
		run.EngineVersion = ir.EngineVersion
	}

	digest, err := ir.TraceDigest(run.Trace())
	if err != nil {
		return fmt.Errorf("write run %s: digest: %w", run.ID, err)
	}
	run.Digest = digest

	props, err := encodeProps(run.Props)
	if err != nil {
		return fmt.Errorf("write run %s: %w", run.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write run %s: begin tx: %w", run.ID, err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&seq); err != nil {
		return fmt.Errorf("write run %s: next seq: %w", run.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, seq, name, catalog, props, digest, engine_version, trace_format)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, seq, run.Name, run.Catalog, props, run.Digest, run.EngineVersion, ir.TraceFormat)
	if err != nil {
		return fmt.Errorf("write run %s: %w", run.ID, err)
	}

	for _, e := range run.Entries {
		if err := writeEntry(ctx, tx, run.ID, e); err != nil {
			return fmt.Errorf("write run %s: action %d: %w", run.ID, e.Action.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write run %s: commit: %w", run.ID, err)
	}
	run.Seq = seq
	return nil
}

func writeEntry(ctx context.Context, tx *sql.Tx, runID string, e engine.Entry) error {
	a := e.Action
	eventKey, err := encodeKey(a.Event.Key)
	if err != nil {
		return err
	}
	scenarioKey, err := encodeKey(a.Scenario.Key)
	if err != nil {
		return err
	}
	payload, err := encodePayload(a.Payload)
	if err != nil {
		return err
	}
	pending, err := encodeEvents(e.Pending)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO actions
		(run_id, id, type, event_name, event_key, scenario_name, scenario_key, bid_kind,
		 pending, payload, request_action_id, resolve_action_id, err, pending_events)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		runID,
		a.ID,
		string(a.Type),
		a.Event.Name,
		eventKey,
		a.Scenario.Name,
		scenarioKey,
		encodeBidKind(a.BidKind),
		a.Pending,
		payload,
		a.RequestActionID,
		a.ResolveActionID,
		a.Error,
		pending,
	)
	if err != nil {
		return err
	}

	for i, r := range e.Reactions {
		key, err := encodeKey(r.Scenario.Key)
		if err != nil {
			return err
		}
		detail, err := encodeDetail(r)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reactions
			(run_id, action_id, seq, scenario_name, scenario_key, type, section, detail)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, a.ID, i, r.Scenario.Name, key, string(r.Type), r.Section, detail)
		if err != nil {
			return fmt.Errorf("reaction %d: %w", i, err)
		}
	}
	return nil
}
