/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

const (
	schema = `
	-- Key/value documents
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Set membership (indexes)
	CREATE TABLE IF NOT EXISTS set_members (
		set_key TEXT NOT NULL,
		member TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (set_key, member)
	);

	-- Create index for set enumeration in insertion order
	CREATE INDEX IF NOT EXISTS idx_set_members_created_at ON set_members(set_key, created_at);
	`

	// Key queries
	queryGetValue = `
		SELECT value FROM kv WHERE key = ?`

	queryUpsertValue = `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = kv.version + 1,
			updated_at = CURRENT_TIMESTAMP`

	queryInsertValueIfAbsent = `
		INSERT OR IGNORE INTO kv (key, value) VALUES (?, ?)`

	queryCompareAndSwap = `
		UPDATE kv
		SET value = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE key = ? AND value = ?`

	queryDeleteValue = `
		DELETE FROM kv WHERE key = ?`

	// Set queries
	queryAddMember = `
		INSERT OR IGNORE INTO set_members (set_key, member) VALUES (?, ?)`

	queryRemoveMember = `
		DELETE FROM set_members WHERE set_key = ? AND member = ?`

	queryGetMembers = `
		SELECT member FROM set_members
		WHERE set_key = ?
		ORDER BY created_at, member`

	queryCountMembers = `
		SELECT COUNT(*) FROM set_members WHERE set_key = ?`
)
