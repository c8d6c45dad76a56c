package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/minus-twelve/ledgerauth/internal/logattr"
	"github.com/minus-twelve/ledgerauth/types"
)

// encodeSnapshot renders the session map as one JSON object keyed by session
// id. Timestamps are normalized to UTC so the file sorts and diffs cleanly.
func encodeSnapshot(sessions map[string]types.SessionRecord) ([]byte, error) {
	out := make(map[string]types.SessionRecord, len(sessions))
	for id, rec := range sessions {
		out[id] = normalize(rec)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("session: failed to marshal snapshot: %w", err)
	}
	return data, nil
}

func encodeRecord(rec types.SessionRecord) ([]byte, error) {
	data, err := json.Marshal(normalize(rec))
	if err != nil {
		return nil, fmt.Errorf("session: failed to marshal %s: %w", rec.SessionID, err)
	}
	return data, nil
}

// decodeSnapshot parses a whole snapshot. Entries that fail validation are
// logged and skipped; an unparsable document yields ErrCorruptSnapshot.
func decodeSnapshot(data []byte, logger *slog.Logger) (map[string]types.SessionRecord, error) {
	sessions := make(map[string]types.SessionRecord)
	if len(data) == 0 {
		return sessions, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return sessions, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	for id, entry := range raw {
		rec, err := decodeRecord(id, entry)
		if err != nil {
			logger.Warn("skipping persisted session", logattr.SessionID(id), logattr.Error(err))
			continue
		}
		sessions[id] = rec
	}
	return sessions, nil
}

func decodeRecord(id string, data []byte) (types.SessionRecord, error) {
	var rec types.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.SessionRecord{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if err := validate(id, rec); err != nil {
		return types.SessionRecord{}, err
	}
	return rec, nil
}

func validate(id string, rec types.SessionRecord) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty key", ErrMalformedRecord)
	case rec.SessionID != id:
		return fmt.Errorf("%w: key %q holds session %q", ErrMalformedRecord, id, rec.SessionID)
	case rec.UserID == "":
		return fmt.Errorf("%w: missing user_id", ErrMalformedRecord)
	case rec.CreatedAt.IsZero() || rec.ExpiresAt.IsZero():
		return fmt.Errorf("%w: missing timestamps", ErrMalformedRecord)
	}
	return nil
}

func normalize(rec types.SessionRecord) types.SessionRecord {
	rec = rec.Clone()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	rec.LastAccessedAt = rec.LastAccessedAt.UTC()
	return rec
}
