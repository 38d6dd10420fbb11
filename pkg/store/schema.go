package store

import (
	"fmt"

	"github.com/FlexpointLLC/linquo-sub000/pkg/db"
)

// EnsureSchema creates the keyspace and tables this core touches. Schema
// management beyond these tables belongs to migration tooling.
func EnsureSchema(hosts []string, keyspace string) error {
	sys, err := db.NewSession(hosts, "system")
	if err != nil {
		return fmt.Errorf("connect to system keyspace: %w", err)
	}
	err = sys.Query(fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`,
		keyspace,
	)).Exec()
	sys.Close()
	if err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}

	session, err := db.NewSession(hosts, keyspace)
	if err != nil {
		return fmt.Errorf("connect to %s keyspace: %w", keyspace, err)
	}
	defer session.Close()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id text,
			customer_id text,
			customer_name text,
			state text,
			last_message_at timestamp,
			created_at timestamp,
			PRIMARY KEY (id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			conversation_id text,
			id bigint,
			sender_type text,
			agent_id text,
			customer_id text,
			sender_name text,
			body text,
			created_at timestamp,
			read_by_agent boolean,
			read_at timestamp,
			PRIMARY KEY (conversation_id, id)
		) WITH CLUSTERING ORDER BY (id ASC)`,
	}
	for _, stmt := range statements {
		if err := session.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}
