package worlddb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// World and player info values are opaque byte strings stored compressed.

func (w *worker) getWorldInfo(ctx context.Context, key string) (Value, error) {
	var blob []byte
	err := w.db.QueryRowContext(ctx, `SELECT value FROM world_info WHERE name=?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return Value{}, nil
	}
	if err != nil {
		return Value{}, err
	}
	raw, err := w.codec.Decompress(blob)
	if err != nil {
		return Value{}, fmt.Errorf("%w: world info %q: %v", ErrCorrupt, key, err)
	}
	return Value{Data: raw, Found: true}, nil
}

func (w *worker) setWorldInfo(ctx context.Context, key string, value []byte) error {
	blob, err := w.codec.Compress(value)
	if err != nil {
		return err
	}
	_, err = w.db.ExecContext(ctx,
		`INSERT INTO world_info(name,value,modified) VALUES(?,?,?)
		 ON CONFLICT(name) DO UPDATE SET value=excluded.value, modified=excluded.modified`,
		key, blob, time.Now().UnixMilli())
	return err
}

func (w *worker) worldInfoKeys(ctx context.Context) ([]string, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT name FROM world_info ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (w *worker) registerPlayer(ctx context.Context, player uuid.UUID) (int64, error) {
	if id, ok := w.players[player]; ok {
		return id, nil
	}
	var id int64
	err := w.db.QueryRowContext(ctx, `INSERT INTO player(uuid) VALUES(?) RETURNING id`, player[:]).Scan(&id)
	if err != nil {
		return 0, err
	}
	w.players[player] = id
	return id, nil
}

func (w *worker) getPlayerInfo(ctx context.Context, player uuid.UUID, key string) (Value, error) {
	id, ok := w.players[player]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrUnknownPlayer, player)
	}
	var blob []byte
	err := w.db.QueryRowContext(ctx,
		`SELECT value FROM player_info WHERE playerId=? AND name=?`, id, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return Value{}, nil
	}
	if err != nil {
		return Value{}, err
	}
	raw, err := w.codec.Decompress(blob)
	if err != nil {
		return Value{}, fmt.Errorf("%w: player info %s %q: %v", ErrCorrupt, player, key, err)
	}
	return Value{Data: raw, Found: true}, nil
}

func (w *worker) setPlayerInfo(ctx context.Context, player uuid.UUID, key string, value []byte) error {
	id, ok := w.players[player]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, player)
	}
	blob, err := w.codec.Compress(value)
	if err != nil {
		return err
	}
	_, err = w.db.ExecContext(ctx,
		`INSERT INTO player_info(playerId,name,value) VALUES(?,?,?)
		 ON CONFLICT(playerId,name) DO UPDATE SET value=excluded.value`,
		id, key, blob)
	return err
}
