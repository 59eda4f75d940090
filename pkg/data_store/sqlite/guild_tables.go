package sqlite

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// GuildTable returns the per-guild table name g<guild_id>.
func GuildTable(guildID string) (string, error) {
	if _, err := strconv.ParseUint(guildID, 10, 64); err != nil {
		return "", fmt.Errorf("persistence: invalid guild id %q", guildID)
	}
	return "g" + guildID, nil
}

// CreateGuildTables runs ddl once per guild with {table_name} replaced by the guild's table.
func CreateGuildTables(ctx context.Context, cur *Cursor, guildIDs []string, ddl string) error {
	for _, id := range guildIDs {
		table, err := GuildTable(id)
		if err != nil {
			return err
		}
		if _, err := cur.Exec(ctx, strings.ReplaceAll(ddl, "{table_name}", table)); err != nil {
			return fmt.Errorf("persistence: create %s: %w", table, err)
		}
	}
	return nil
}

// InsertOrIgnoreUser makes sure a row keyed by userID exists in table.
func InsertOrIgnoreUser(ctx context.Context, cur *Cursor, table string, userID string) error {
	if !strings.HasPrefix(table, "g") {
		return fmt.Errorf("persistence: invalid guild table %q", table)
	}
	if _, err := GuildTable(strings.TrimPrefix(table, "g")); err != nil {
		return err
	}
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("persistence: invalid user id %q", userID)
	}
	if _, err := cur.Exec(ctx, fmt.Sprintf("INSERT OR IGNORE INTO %s (UserId) VALUES (?)", table), uid); err != nil {
		return fmt.Errorf("persistence: insert user into %s: %w", table, err)
	}
	return nil
}
