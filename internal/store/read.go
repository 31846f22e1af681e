package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/bpflow/internal/engine"
)

// ReadRun loads an archived run with its entries in action id order.
// Returns ErrNotFound if id does not exist.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	run := Run{ID: id}
	var props string
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, name, catalog, props, digest, engine_version
		FROM runs
		WHERE id = ?
	`, id).Scan(&run.Seq, &run.Name, &run.Catalog, &props, &run.Digest, &run.EngineVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("read run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}

	if run.Props, err = decodeProps(props); err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}

	entries, err := s.readEntries(ctx, id)
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	if err := s.readReactions(ctx, id, entries); err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	run.Entries = entries
	return run, nil
}

// ListRuns returns the archived runs matching filter in insertion order.
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]RunSummary, error) {
	where, params, err := compileWhere(filter.Predicate(), "r", runColumns)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.seq, r.name, r.catalog, r.digest, COUNT(a.id)
		FROM runs r
		LEFT JOIN actions a ON a.run_id = r.id
		WHERE `+where+`
		GROUP BY r.id
		ORDER BY r.seq ASC
	`, params...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Seq, &r.Name, &r.Catalog, &r.Digest, &r.Actions); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the id of the most recently written run matching
// filter. Returns ErrNotFound when no run matches.
func (s *Store) LatestRun(ctx context.Context, filter RunFilter) (string, error) {
	where, params, err := compileWhere(filter.Predicate(), "", runColumns)
	if err != nil {
		return "", fmt.Errorf("latest run (%s): %w", filter, err)
	}
	var id string
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM runs
		WHERE `+where+`
		ORDER BY seq DESC
		LIMIT 1
	`, params...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("latest run (%s): %w", filter, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("latest run (%s): %w", filter, err)
	}
	return id, nil
}

func (s *Store) readEntries(ctx context.Context, runID string) ([]engine.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, event_name, event_key, scenario_name, scenario_key, bid_kind,
		       pending, payload, request_action_id, resolve_action_id, err, pending_events
		FROM actions
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var entries []engine.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (engine.Entry, error) {
	var (
		a                      engine.Action
		typ, eventKey          string
		scenarioKey, bidKind   string
		payload, pendingEvents string
	)
	err := rows.Scan(
		&a.ID,
		&typ,
		&a.Event.Name,
		&eventKey,
		&a.Scenario.Name,
		&scenarioKey,
		&bidKind,
		&a.Pending,
		&payload,
		&a.RequestActionID,
		&a.ResolveActionID,
		&a.Error,
		&pendingEvents,
	)
	if err != nil {
		return engine.Entry{}, fmt.Errorf("scan action: %w", err)
	}

	t, ok := engine.ParseActionType(typ)
	if !ok {
		return engine.Entry{}, fmt.Errorf("action %d: unknown type %q", a.ID, typ)
	}
	a.Type = t
	if a.Event.Key, err = decodeKey(eventKey); err != nil {
		return engine.Entry{}, fmt.Errorf("action %d: %w", a.ID, err)
	}
	if a.Scenario.Key, err = decodeKey(scenarioKey); err != nil {
		return engine.Entry{}, fmt.Errorf("action %d: %w", a.ID, err)
	}
	if a.BidKind, err = decodeBidKind(bidKind); err != nil {
		return engine.Entry{}, fmt.Errorf("action %d: %w", a.ID, err)
	}
	if a.Payload, err = decodePayload(payload); err != nil {
		return engine.Entry{}, fmt.Errorf("action %d: %w", a.ID, err)
	}
	pending, err := decodeEvents(pendingEvents)
	if err != nil {
		return engine.Entry{}, fmt.Errorf("action %d: %w", a.ID, err)
	}

	return engine.Entry{Action: a, Reactions: []engine.Reaction{}, Pending: pending}, nil
}

// readReactions attaches reactions to entries, which must be sorted by
// action id.
func (s *Store) readReactions(ctx context.Context, runID string, entries []engine.Entry) error {
	index := make(map[int64]int, len(entries))
	for i, e := range entries {
		index[e.Action.ID] = i
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT action_id, scenario_name, scenario_key, type, section, detail
		FROM reactions
		WHERE run_id = ?
		ORDER BY action_id ASC, seq ASC
	`, runID)
	if err != nil {
		return fmt.Errorf("query reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r             engine.Reaction
			key, typ, det string
		)
		if err := rows.Scan(&r.ActionID, &r.Scenario.Name, &key, &typ, &r.Section, &det); err != nil {
			return fmt.Errorf("scan reaction: %w", err)
		}
		r.Type = engine.ReactionType(typ)
		if r.Scenario.Key, err = decodeKey(key); err != nil {
			return fmt.Errorf("reaction of action %d: %w", r.ActionID, err)
		}
		if err := decodeDetail(det, &r); err != nil {
			return fmt.Errorf("reaction of action %d: %w", r.ActionID, err)
		}
		i, ok := index[r.ActionID]
		if !ok {
			return fmt.Errorf("reaction references missing action %d", r.ActionID)
		}
		entries[i].Reactions = append(entries[i].Reactions, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate reactions: %w", err)
	}
	return nil
}
