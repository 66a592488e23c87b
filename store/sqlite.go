// Copyright 2025 open-edhrec-embed Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store reads and writes the scraped decklist database. The schema is
// shared with the scraper, so the trainer can run against a database produced
// by an independent scraping process.
package store

import (
	"context"
	"database/sql"

	"github.com/juju/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/aaronbanse/open-edhrec-embed/base/log"
	"github.com/aaronbanse/open-edhrec-embed/dataset"
)

// DeckStore is a SQLite database of scraped decklists.
type DeckStore struct {
	db *sql.DB
}

// Open opens a decklist database.
func Open(path string) (*DeckStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &DeckStore{db: db}, nil
}

func (s *DeckStore) Close() error {
	return s.db.Close()
}

// Init creates the schema if it does not exist. The url_hash column dedupes
// re-scraped decklists.
func (s *DeckStore) Init() error {
	for _, stmt := range []string{`
CREATE TABLE IF NOT EXISTS commanders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);`, `
CREATE TABLE IF NOT EXISTS decks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	commander_id INTEGER NOT NULL REFERENCES commanders(id),
	url_hash TEXT NOT NULL UNIQUE
);`, `
CREATE TABLE IF NOT EXISTS cards (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);`, `
CREATE TABLE IF NOT EXISTS deck_cards (
	deck_id INTEGER NOT NULL REFERENCES decks(id),
	card_id INTEGER NOT NULL REFERENCES cards(id),
	PRIMARY KEY (deck_id, card_id)
);`} {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// InsertDeck stores one scraped decklist. A decklist whose url_hash is already
// present is skipped and reported as false.
func (s *DeckStore) InsertDeck(ctx context.Context, commander, urlHash string, cards []string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Trace(err)
	}
	defer func() { _ = tx.Rollback() }()
	var commanderId int64
	if err := tx.QueryRowContext(ctx, `
INSERT INTO commanders (name) VALUES (?)
ON CONFLICT(name) DO UPDATE SET name = excluded.name
RETURNING id`, commander).Scan(&commanderId); err != nil {
		return false, errors.Trace(err)
	}
	result, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO decks (commander_id, url_hash) VALUES (?, ?)`, commanderId, urlHash)
	if err != nil {
		return false, errors.Trace(err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return false, errors.Trace(err)
	} else if n == 0 {
		// already scraped
		return false, nil
	}
	deckId, err := result.LastInsertId()
	if err != nil {
		return false, errors.Trace(err)
	}
	for _, card := range cards {
		var cardId int64
		if err := tx.QueryRowContext(ctx, `
INSERT INTO cards (name) VALUES (?)
ON CONFLICT(name) DO UPDATE SET name = excluded.name
RETURNING id`, card).Scan(&cardId); err != nil {
			return false, errors.Trace(err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO deck_cards (deck_id, card_id) VALUES (?, ?)`, deckId, cardId); err != nil {
			return false, errors.Trace(err)
		}
	}
	return true, errors.Trace(tx.Commit())
}

// CountDecks returns the number of stored decklists.
func (s *DeckStore) CountDecks(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decks`).Scan(&count)
	return count, errors.Trace(err)
}

// Scan streams decklists grouped by deck in deck-id order, calling fn once per
// deck. A single pass over the database, no decklists are materialized.
func (s *DeckStore) Scan(ctx context.Context, fn func(commander string, cards []string) error) error {
	rows, err := s.db.QueryContext(ctx, `
SELECT d.id, m.name, c.name
FROM decks d
JOIN commanders m ON m.id = d.commander_id
JOIN deck_cards dc ON dc.deck_id = d.id
JOIN cards c ON c.id = dc.card_id
ORDER BY d.id`)
	if err != nil {
		return errors.Trace(err)
	}
	defer rows.Close()
	var (
		deckId    int64 = -1
		commander string
		cards     []string
	)
	flush := func() error {
		if deckId < 0 {
			return nil
		}
		return fn(commander, cards)
	}
	for rows.Next() {
		var id int64
		var m, card string
		if err := rows.Scan(&id, &m, &card); err != nil {
			return errors.Trace(err)
		}
		if id != deckId {
			if err := flush(); err != nil {
				return err
			}
			deckId, commander, cards = id, m, cards[:0]
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return errors.Trace(err)
	}
	return flush()
}

// Load reads every decklist into an in-memory dataset. Commanders and cards
// present in the database but absent from every decklist still enter the
// universe, so their embeddings exist (flagged untrained).
func (s *DeckStore) Load(ctx context.Context) (*dataset.Dataset, error) {
	d := dataset.NewDataset()
	// register the full universe first
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM commanders ORDER BY id`)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Trace(err)
		}
		d.DeclareCommander(name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	rows, err = s.db.QueryContext(ctx, `SELECT name FROM cards ORDER BY id`)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Trace(err)
		}
		d.DeclareCard(name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	decks := 0
	if err := s.Scan(ctx, func(commander string, cards []string) error {
		decks++
		return errors.Trace(d.AddDeck(commander, cards))
	}); err != nil {
		return nil, err
	}
	log.Logger().Info("loaded decklist database",
		zap.Int("n_decks", decks),
		zap.Int32("n_commanders", d.CountCommanders()),
		zap.Int32("n_cards", d.CountCards()))
	return d, nil
}
