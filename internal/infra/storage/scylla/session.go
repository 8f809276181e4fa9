package scylla

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/gocql/gocql"

	"rentchat/internal/infra/config"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// NewSession ensures schema exists and returns a connected Scylla session.
func NewSession(cfg config.Config, logger *slog.Logger) (*gocql.Session, error) {
	if !keyspacePattern.MatchString(cfg.ScyllaKeyspace) {
		return nil, fmt.Errorf("invalid keyspace name: %s", cfg.ScyllaKeyspace)
	}

	baseCluster := gocql.NewCluster(cfg.ScyllaHosts...)
	baseCluster.Timeout = cfg.ScyllaTimeout
	baseCluster.Consistency = cfg.ScyllaConsistency
	setAuth(baseCluster, cfg)

	baseSession, err := baseCluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}
	defer baseSession.Close()

	if err := ensureKeyspace(context.Background(), baseSession, cfg); err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(cfg.ScyllaHosts...)
	cluster.Timeout = cfg.ScyllaTimeout
	cluster.Keyspace = cfg.ScyllaKeyspace
	cluster.Consistency = cfg.ScyllaConsistency
	setAuth(cluster, cfg)

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to keyspace %s: %w", cfg.ScyllaKeyspace, err)
	}
	if err := ensureTables(context.Background(), session, cfg.ScyllaKeyspace); err != nil {
		session.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("scylla connected", "hosts", cfg.ScyllaHosts, "keyspace", cfg.ScyllaKeyspace)
	}
	return session, nil
}

func ensureKeyspace(ctx context.Context, session *gocql.Session, cfg config.Config) error {
	cql := fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		cfg.ScyllaKeyspace, cfg.ReplicationFactor,
	)
	if err := session.Query(cql).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}
	return nil
}

func ensureTables(ctx context.Context, session *gocql.Session, keyspace string) error {
	for _, stmt := range schema(keyspace) {
		if err := session.Query(stmt.cql).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("create %s table: %w", stmt.table, err)
		}
	}
	return nil
}

type schemaStatement struct {
	table string
	cql   string
}

func schema(keyspace string) []schemaStatement {
	return []schemaStatement{
		{"participants", fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.participants (
	id text PRIMARY KEY,
	display_name text,
	avatar_url text,
	last_seen_at timestamp
);`, keyspace)},
		{"services", fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.services (
	id text PRIMARY KEY,
	name text
);`, keyspace)},
		{"conversations", fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.conversations (
	id text PRIMARY KEY,
	pair_key text,
	service_id text,
	participants set<text>,
	hidden_for set<text>,
	created_at timestamp,
	updated_at timestamp,
	last_message_id text,
	last_message_sender_id text,
	last_message_text text,
	last_message_at timestamp,
	last_message_read_at timestamp
);`, keyspace)},
		{"conversations_by_pair", fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.conversations_by_pair (
	pair_key text,
	service_id text,
	conversation_id text,
	PRIMARY KEY ((pair_key, service_id))
);`, keyspace)},
		{"messages", fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.messages (
	conversation_id text,
	created_at timestamp,
	message_id text,
	sender_id text,
	text text,
	read_at timestamp,
	PRIMARY KEY (conversation_id, created_at, message_id)
) WITH CLUSTERING ORDER BY (created_at ASC, message_id ASC);`, keyspace)},
	}
}

func setAuth(cluster *gocql.ClusterConfig, cfg config.Config) {
	if cfg.ScyllaUsername == "" {
		return
	}
	cluster.Authenticator = gocql.PasswordAuthenticator{
		Username: cfg.ScyllaUsername,
		Password: cfg.ScyllaPassword,
	}
	// avoid long stalls on auth/connect
	cluster.ConnectTimeout = cfg.ScyllaTimeout
	cluster.Timeout = cfg.ScyllaTimeout
}
