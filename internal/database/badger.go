package database

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/npezzotti/go-chatsync/internal/live"
	"github.com/samber/lo"
)

const maxTxnAttempts = 5

// BadgerChatRepository is an embedded document store. Writes run in
// optimistic transactions and are retried when they conflict with a
// concurrent commit, so member set updates never lose a writer.
type BadgerChatRepository struct {
	db    *badger.DB
	log   *log.Logger
	hub   *live.Hub
	clock monotonicClock
}

// NewBadgerChatRepository opens the store at path, or an in-memory store
// when path is empty.
func NewBadgerChatRepository(path string, logger *log.Logger) (*BadgerChatRepository, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	return &BadgerChatRepository{
		db:  db,
		log: logger,
		hub: live.NewHub(),
	}, nil
}

func userKey(id string) []byte       { return []byte("user:" + id) }
func emailKey(email string) []byte   { return []byte("email:" + strings.ToLower(email)) }
func channelKey(id string) []byte    { return []byte("channel:" + id) }
func messagePrefix(ch string) []byte { return []byte("msg:" + ch + ":") }
func seqKey(ch string) []byte        { return []byte("seq:" + ch) }

func messageKey(channelId, messageId string) []byte {
	return append(messagePrefix(channelId), messageId...)
}

// update runs fn in a read-write transaction, retrying on conflicts, and
// notifies topics once the transaction committed.
func (db *BadgerChatRepository) update(ctx context.Context, fn func(txn *badger.Txn) error, topics ...string) error {
	var err error
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}

		err = db.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return err
	}

	db.hub.Notify(topics...)
	return nil
}

func (db *BadgerChatRepository) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.db.View(fn)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func scanPrefix[T any](txn *badger.Txn, prefix []byte, fn func(T) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var v T
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}

	return nil
}

func (db *BadgerChatRepository) Ping(ctx context.Context) error {
	if db.db.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}

func (db *BadgerChatRepository) Close() error {
	return db.db.Close()
}

func (db *BadgerChatRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	u := User{
		Id:           newUserId(),
		Nickname:     params.Nickname,
		Email:        strings.ToLower(params.Email),
		PasswordHash: params.PasswordHash,
		CreatedAt:    db.clock.Now(),
	}

	err := db.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(emailKey(u.Email)); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(emailKey(u.Email), []byte(u.Id)); err != nil {
			return err
		}
		return setJSON(txn, userKey(u.Id), u)
	})
	if err != nil {
		return User{}, err
	}

	return u, nil
}

func (db *BadgerChatRepository) GetUserById(ctx context.Context, id string) (User, error) {
	var u User
	err := db.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, userKey(id), &u)
	})
	return u, err
}

func (db *BadgerChatRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := db.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(emailKey(email))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, userKey(string(id)), &u)
	})
	return u, err
}

func (db *BadgerChatRepository) SearchUsers(ctx context.Context, query string) ([]User, error) {
	q := strings.ToLower(query)

	var users []User
	err := db.view(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte("user:"), func(u User) error {
			if strings.Contains(strings.ToLower(u.Nickname), q) || strings.Contains(strings.ToLower(u.Email), q) {
				u.PasswordHash = ""
				users = append(users, u)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(users, func(a, b User) int {
		if c := strings.Compare(a.Nickname, b.Nickname); c != 0 {
			return c
		}
		return strings.Compare(a.Email, b.Email)
	})

	return users, nil
}

func (db *BadgerChatRepository) CreateChannel(ctx context.Context, params CreateChannelParams) (Channel, error) {
	id, err := newChannelId()
	if err != nil {
		return Channel{}, fmt.Errorf("channel id: %w", err)
	}

	c := Channel{
		Id:        id,
		Name:      params.Name,
		CreatorId: params.CreatorId,
		Members:   lo.Uniq(append([]string{params.CreatorId}, params.Members...)),
		CreatedAt: db.clock.Now(),
	}

	err = db.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(userKey(c.CreatorId)); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}

		if _, err := txn.Get(channelKey(c.Id)); err == nil {
			return ErrAlreadyExists
		}
		return setJSON(txn, channelKey(c.Id), c)
	}, ChannelsTopic)
	if err != nil {
		return Channel{}, err
	}

	return c, nil
}

func (db *BadgerChatRepository) GetChannel(ctx context.Context, id string) (Channel, error) {
	var c Channel
	err := db.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, channelKey(id), &c)
	})
	return c, err
}

func (db *BadgerChatRepository) ListChannels(ctx context.Context, member string) ([]Channel, error) {
	channels := []Channel{}
	err := db.view(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte("channel:"), func(c Channel) error {
			if member == "" || c.HasMember(member) {
				channels = append(channels, c)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(channels, compareChannels)
	return channels, nil
}

func (db *BadgerChatRepository) updateChannel(ctx context.Context, id string, fn func(c *Channel) bool) error {
	return db.update(ctx, func(txn *badger.Txn) error {
		var c Channel
		if err := getJSON(txn, channelKey(id), &c); err != nil {
			return err
		}
		if !fn(&c) {
			return nil
		}
		return setJSON(txn, channelKey(id), c)
	}, ChannelsTopic)
}

func (db *BadgerChatRepository) AddMember(ctx context.Context, channelId, userId string) error {
	return db.updateChannel(ctx, channelId, func(c *Channel) bool {
		if c.HasMember(userId) {
			return false
		}
		c.Members = append(c.Members, userId)
		return true
	})
}

func (db *BadgerChatRepository) RemoveMember(ctx context.Context, channelId, userId string) error {
	return db.updateChannel(ctx, channelId, func(c *Channel) bool {
		if !c.HasMember(userId) {
			return false
		}
		c.Members = lo.Without(c.Members, userId)
		return true
	})
}

func (db *BadgerChatRepository) DeleteChannel(ctx context.Context, id string) error {
	return db.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(channelKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}

		// reading the sequence key makes a concurrent CreateMessage commit
		// conflict with this transaction
		if _, err := txn.Get(seqKey(id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = messagePrefix(id)
		it := txn.NewIterator(opts)
		it.Seek(opts.Prefix)
		nonEmpty := it.ValidForPrefix(opts.Prefix)
		it.Close()
		if nonEmpty {
			return ErrChannelNotEmpty
		}

		if err := txn.Delete(seqKey(id)); err != nil {
			return err
		}
		return txn.Delete(channelKey(id))
	}, ChannelsTopic, MessagesTopic(id))
}

func (db *BadgerChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	var m Message
	err := db.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(channelKey(params.ChannelId)); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}

		var seq uint64
		item, err := txn.Get(seqKey(params.ChannelId))
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error {
				seq = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if err := txn.Set(seqKey(params.ChannelId), binary.BigEndian.AppendUint64(nil, seq+1)); err != nil {
			return err
		}

		now := db.clock.Now()
		id, err := newMessageId(now)
		if err != nil {
			return fmt.Errorf("message id: %w", err)
		}

		m = Message{
			Id:        id,
			ChannelId: params.ChannelId,
			Text:      params.Text,
			UserId:    params.UserId,
			UserName:  params.UserName,
			CreatedAt: now,
		}
		return setJSON(txn, messageKey(m.ChannelId, m.Id), m)
	}, MessagesTopic(params.ChannelId))
	if err != nil {
		return Message{}, err
	}

	return m, nil
}

func (db *BadgerChatRepository) ListMessages(ctx context.Context, channelId string) ([]Message, error) {
	messages := []Message{}
	err := db.view(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, messagePrefix(channelId), func(m Message) error {
			messages = append(messages, m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(messages, CompareMessages)
	return messages, nil
}

func (db *BadgerChatRepository) DeleteMessage(ctx context.Context, channelId, messageId string) error {
	return db.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(messageKey(channelId, messageId)); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(messageKey(channelId, messageId))
	}, MessagesTopic(channelId))
}

func (db *BadgerChatRepository) WatchChannels(ctx context.Context, member string) (*live.Subscription[[]Channel], error) {
	return live.Open(ctx, db.hub, db.log, ChannelsTopic, func(ctx context.Context) ([]Channel, error) {
		return db.ListChannels(ctx, member)
	})
}

func (db *BadgerChatRepository) WatchMessages(ctx context.Context, channelId string) (*live.Subscription[[]Message], error) {
	return live.Open(ctx, db.hub, db.log, MessagesTopic(channelId), func(ctx context.Context) ([]Message, error) {
		return db.ListMessages(ctx, channelId)
	})
}
