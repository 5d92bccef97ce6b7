package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/samber/lo"
)

const (
	pqForeignKeyViolation = "23503"
	pqUniqueViolation     = "23505"

	channelColumns = "id, name, creator_id, members, created_at"
	messageColumns = "id, channel_id, text, user_id, user_name, created_at"
)

func pqErrorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func (db *PgChatRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO users (id, nickname, email, password_hash) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, nickname, email, password_hash, created_at",
		newUserId(),
		params.Nickname,
		strings.ToLower(params.Email),
		params.PasswordHash,
	)

	var u User
	err := row.Scan(&u.Id, &u.Nickname, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if pqErrorCode(err) == pqUniqueViolation {
		return User{}, ErrAlreadyExists
	}

	return u, err
}

func (db *PgChatRepository) GetUserById(ctx context.Context, id string) (User, error) {
	return db.getUser(ctx, "id = $1", id)
}

func (db *PgChatRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return db.getUser(ctx, "email = $1", strings.ToLower(email))
}

func (db *PgChatRepository) getUser(ctx context.Context, where string, arg string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, nickname, email, password_hash, created_at FROM users "+
			"WHERE "+where+" LIMIT 1",
		arg,
	)

	var u User
	err := row.Scan(&u.Id, &u.Nickname, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}

	return u, err
}

func (db *PgChatRepository) SearchUsers(ctx context.Context, query string) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, nickname, email, created_at FROM users "+
			"WHERE strpos(lower(nickname), lower($1)) > 0 OR strpos(lower(email), lower($1)) > 0 "+
			"ORDER BY nickname, email",
		query,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Nickname, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func scanChannel(row interface{ Scan(...any) error }) (Channel, error) {
	var c Channel
	err := row.Scan(&c.Id, &c.Name, &c.CreatorId, pq.Array(&c.Members), &c.CreatedAt)
	return c, err
}

func (db *PgChatRepository) CreateChannel(ctx context.Context, params CreateChannelParams) (Channel, error) {
	id, err := newChannelId()
	if err != nil {
		return Channel{}, fmt.Errorf("channel id: %w", err)
	}

	members := lo.Uniq(append([]string{params.CreatorId}, params.Members...))

	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO channels (id, name, creator_id, members) "+
			"VALUES ($1, $2, $3, $4) RETURNING "+channelColumns,
		id,
		params.Name,
		params.CreatorId,
		pq.Array(members),
	)

	c, err := scanChannel(row)
	switch pqErrorCode(err) {
	case pqForeignKeyViolation:
		return Channel{}, ErrNotFound
	case pqUniqueViolation:
		return Channel{}, ErrAlreadyExists
	}

	return c, err
}

func (db *PgChatRepository) GetChannel(ctx context.Context, id string) (Channel, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+channelColumns+" FROM channels WHERE id = $1 LIMIT 1",
		id,
	)

	c, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrNotFound
	}

	return c, err
}

func (db *PgChatRepository) ListChannels(ctx context.Context, member string) ([]Channel, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if member == "" {
		rows, err = db.conn.QueryContext(ctx,
			"SELECT "+channelColumns+" FROM channels ORDER BY created_at, id",
		)
	} else {
		rows, err = db.conn.QueryContext(ctx,
			"SELECT "+channelColumns+" FROM channels "+
				"WHERE $1 = ANY(members) ORDER BY created_at, id",
			member,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := []Channel{}
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}

	return channels, rows.Err()
}

func (db *PgChatRepository) AddMember(ctx context.Context, channelId, userId string) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE channels SET members = CASE WHEN $2::text = ANY(members) THEN members "+
			"ELSE array_append(members, $2::text) END WHERE id = $1",
		channelId,
		userId,
	)
	if err != nil {
		return err
	}

	return requireRow(res)
}

func (db *PgChatRepository) RemoveMember(ctx context.Context, channelId, userId string) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE channels SET members = array_remove(members, $2::text) WHERE id = $1",
		channelId,
		userId,
	)
	if err != nil {
		return err
	}

	return requireRow(res)
}

func (db *PgChatRepository) DeleteChannel(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM channels WHERE id = $1", id)
	if pqErrorCode(err) == pqForeignKeyViolation {
		return ErrChannelNotEmpty
	}
	if err != nil {
		return err
	}

	return requireRow(res)
}

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	err := row.Scan(&m.Id, &m.ChannelId, &m.Text, &m.UserId, &m.UserName, &m.CreatedAt)
	return m, err
}

func (db *PgChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	// created_at comes from the database clock so messages written by
	// different processes share one order; the id only breaks ties.
	id, err := newMessageId(time.Now())
	if err != nil {
		return Message{}, fmt.Errorf("message id: %w", err)
	}

	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (id, channel_id, text, user_id, user_name) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING "+messageColumns,
		id,
		params.ChannelId,
		params.Text,
		params.UserId,
		params.UserName,
	)

	m, err := scanMessage(row)
	if pqErrorCode(err) == pqForeignKeyViolation {
		return Message{}, ErrNotFound
	}

	return m, err
}

func (db *PgChatRepository) ListMessages(ctx context.Context, channelId string) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages "+
			"WHERE channel_id = $1 ORDER BY created_at, id",
		channelId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (db *PgChatRepository) DeleteMessage(ctx context.Context, channelId, messageId string) error {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM messages WHERE channel_id = $1 AND id = $2",
		channelId,
		messageId,
	)
	if err != nil {
		return err
	}

	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
