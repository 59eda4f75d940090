package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jirwin/daybreak/pkg/data_store/sqlite"
)

const warnsDDL = `CREATE TABLE IF NOT EXISTS {table_name}(
	UserId INTEGER PRIMARY KEY,
	WarnCount INTEGER DEFAULT 0,
	LastWarn INTEGER DEFAULT 0
);`

func userKey(userID string) (int64, error) {
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q", userID)
	}
	return uid, nil
}

// warnStore keeps one warn table per guild.
type warnStore struct {
	h *sqlite.Handle
}

func (s *warnStore) ensureTables(ctx context.Context, guildIDs []string) error {
	return s.h.Cursor(ctx, func(cur *sqlite.Cursor) error {
		return sqlite.CreateGuildTables(ctx, cur, guildIDs, warnsDDL)
	})
}

// warn records a warning and returns the user's new warn count.
func (s *warnStore) warn(ctx context.Context, guildID, userID string, now time.Time) (int, error) {
	table, err := sqlite.GuildTable(guildID)
	if err != nil {
		return 0, err
	}
	uid, err := userKey(userID)
	if err != nil {
		return 0, err
	}

	var count int
	err = s.h.Cursor(ctx, func(cur *sqlite.Cursor) error {
		if err := sqlite.CreateGuildTables(ctx, cur, []string{guildID}, warnsDDL); err != nil {
			return err
		}
		if err := sqlite.InsertOrIgnoreUser(ctx, cur, table, userID); err != nil {
			return err
		}
		if err := cur.QueryRow(ctx, "SELECT WarnCount FROM "+table+" WHERE UserId = ?", uid).Scan(&count); err != nil {
			return err
		}
		count++
		_, err := cur.Exec(ctx, "UPDATE "+table+" SET WarnCount = ?, LastWarn = ? WHERE UserId = ?", count, now.Unix(), uid)
		return err
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (s *warnStore) count(ctx context.Context, guildID, userID string) (int, error) {
	table, err := sqlite.GuildTable(guildID)
	if err != nil {
		return 0, err
	}
	uid, err := userKey(userID)
	if err != nil {
		return 0, err
	}

	var count int
	err = s.h.Cursor(ctx, func(cur *sqlite.Cursor) error {
		if err := sqlite.CreateGuildTables(ctx, cur, []string{guildID}, warnsDDL); err != nil {
			return err
		}
		err := cur.QueryRow(ctx, "SELECT WarnCount FROM "+table+" WHERE UserId = ?", uid).Scan(&count)
		if errors.Is(err, sql.ErrNoRows) {
			count = 0
			return nil
		}
		return err
	})
	return count, err
}

// resetExpired clears the warns of users whose last warn is older than cutoff, in every guild table.
func (s *warnStore) resetExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	err := s.h.Cursor(ctx, func(cur *sqlite.Cursor) error {
		rows, err := cur.Query(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name GLOB 'g[0-9]*'")
		if err != nil {
			return err
		}
		var tables []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return err
			}
			tables = append(tables, name)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, table := range tables {
			res, err := cur.Exec(ctx, "UPDATE "+table+" SET WarnCount = 0 WHERE WarnCount > 0 AND LastWarn < ?", cutoff.Unix())
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return total, err
}
