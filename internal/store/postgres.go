package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements ConversationStore and UserStore on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the given database URL and applies the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromPool wraps an existing pool (shared with the job queue).
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool exposes the underlying pool so the durable queue driver can share it.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) FindOrCreateConversation(ctx context.Context, ch Channel, externalID, name string) (*Conversation, bool, error) {
	// Single round trip: the partial unique index on active conversations
	// makes the upsert race-free across concurrent inbound messages. xmax=0
	// reports whether the row was freshly inserted.
	query := `
		INSERT INTO conversations (id, channel, customer_external_id, customer_name, status, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, 'OPEN', now(), now())
		ON CONFLICT (channel, customer_external_id) WHERE status IN ('OPEN', 'HUMAN')
		DO UPDATE SET updated_at = conversations.updated_at
		RETURNING id, channel, customer_external_id, customer_name, status, created_at, updated_at, (xmax = 0) AS created
	`

	var conv Conversation
	var created bool
	err := s.pool.QueryRow(ctx, query, ch, externalID, name).Scan(
		&conv.ID, &conv.Channel, &conv.CustomerExternalID, &conv.CustomerName,
		&conv.Status, &conv.CreatedAt, &conv.UpdatedAt, &created,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find or create conversation: %w", err)
	}

	return &conv, created, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, m *Message) error {
	// Message insert and the conversation's updated_at bump are one
	// transaction so a failure leaves no partial state.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender, content, delivered, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.ConversationID, m.Sender, m.Content, m.Delivered, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE conversations SET updated_at = now() WHERE id = $1
	`, m.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to bump conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) UpdateConversationStatus(ctx context.Context, id string, status Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET status = $1, updated_at = now() WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update conversation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetMessageDelivered(ctx context.Context, messageID string, delivered bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET delivered = $1 WHERE id = $2
	`, delivered, messageID)
	if err != nil {
		return fmt.Errorf("failed to set message delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.pool.QueryRow(ctx, `
		SELECT id, channel, customer_external_id, customer_name, status, created_at, updated_at
		FROM conversations WHERE id = $1
	`, id).Scan(
		&conv.ID, &conv.Channel, &conv.CustomerExternalID, &conv.CustomerName,
		&conv.Status, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, channel, customer_external_id, customer_name, status, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(
			&conv.ID, &conv.Channel, &conv.CustomerExternalID, &conv.CustomerName,
			&conv.Status, &conv.CreatedAt, &conv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, &conv)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, conversation_id, sender, content, delivered, created_at
		FROM messages WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`, conversationID)
}

func (s *PostgresStore) RecentMessages(ctx context.Context, conversationID string, n int) ([]*Message, error) {
	// Last n by timestamp, returned oldest-first.
	return s.queryMessages(ctx, `
		SELECT id, conversation_id, sender, content, delivered, created_at FROM (
			SELECT id, conversation_id, sender, content, delivered, created_at
			FROM messages WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent ORDER BY created_at ASC, id ASC
	`, conversationID, n)
}

func (s *PostgresStore) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Content, &m.Delivered, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, name, role, created_at FROM users WHERE email = $1
	`, email))
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, name, role, created_at FROM users WHERE id = $1
	`, id))
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, name, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Email, u.PasswordHash, u.Name, u.Role, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}
