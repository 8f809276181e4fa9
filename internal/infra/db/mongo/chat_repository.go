package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rentchat/internal/app/messaging"
	"rentchat/internal/domain/chat"
)

// ChatRepository persists conversations in four collections. Timestamps are
// stored as unix milliseconds.
type ChatRepository struct {
	participants  *mongo.Collection
	services      *mongo.Collection
	conversations *mongo.Collection
	messages      *mongo.Collection
}

func NewChatRepository(db *mongo.Database) *ChatRepository {
	return &ChatRepository{
		participants:  db.Collection("chat_participants"),
		services:      db.Collection("chat_services"),
		conversations: db.Collection("chat_conversations"),
		messages:      db.Collection("chat_messages"),
	}
}

// EnsureIndexes creates the lookup and uniqueness indexes.
func (r *ChatRepository) EnsureIndexes(ctx context.Context) error {
	if _, err := r.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "participant_ids", Value: 1}, {Key: "last_message.created_at", Value: -1}}},
		{Keys: bson.D{{Key: "pair_key", Value: 1}, {Key: "service_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	}); err != nil {
		return fmt.Errorf("mongo: conversation indexes: %w", err)
	}
	if _, err := r.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}},
	}); err != nil {
		return fmt.Errorf("mongo: message indexes: %w", err)
	}
	return nil
}

func (r *ChatRepository) UpsertParticipant(ctx context.Context, p chat.Participant) error {
	doc := participantDocument{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		LastSeenAt:  toMillisPtr(p.LastSeenAt),
	}
	_, err := r.participants.UpdateByID(ctx, doc.ID, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	return err
}

func (r *ChatRepository) TouchParticipant(ctx context.Context, participantID string, at time.Time) error {
	res, err := r.participants.UpdateByID(ctx, participantID, bson.M{"$max": bson.M{"last_seen_at": at.UnixMilli()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func (r *ChatRepository) Participant(ctx context.Context, participantID string) (chat.Participant, error) {
	var doc participantDocument
	if err := r.participants.FindOne(ctx, bson.M{"_id": participantID}).Decode(&doc); err != nil {
		return chat.Participant{}, notFound(err)
	}
	return chat.Participant{
		ID:          doc.ID,
		DisplayName: doc.DisplayName,
		AvatarURL:   doc.AvatarURL,
		LastSeenAt:  fromMillisPtr(doc.LastSeenAt),
	}, nil
}

func (r *ChatRepository) UpsertService(ctx context.Context, svc chat.ServiceRef) error {
	_, err := r.services.UpdateByID(ctx, svc.ID, bson.M{"$set": serviceDocument{ID: svc.ID, Name: svc.Name}}, options.Update().SetUpsert(true))
	return err
}

func (r *ChatRepository) Service(ctx context.Context, serviceID string) (chat.ServiceRef, error) {
	var doc serviceDocument
	if err := r.services.FindOne(ctx, bson.M{"_id": serviceID}).Decode(&doc); err != nil {
		return chat.ServiceRef{}, notFound(err)
	}
	return chat.ServiceRef{ID: doc.ID, Name: doc.Name}, nil
}

func (r *ChatRepository) CreateConversation(ctx context.Context, rec messaging.ConversationRecord) error {
	_, err := r.conversations.InsertOne(ctx, newConversationDocument(rec))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("mongo: conversation for %v already exists: %w", rec.ParticipantIDs, err)
	}
	return err
}

func (r *ChatRepository) Conversation(ctx context.Context, conversationID string) (messaging.ConversationRecord, error) {
	var doc conversationDocument
	if err := r.conversations.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&doc); err != nil {
		return messaging.ConversationRecord{}, notFound(err)
	}
	return doc.toRecord(), nil
}

func (r *ChatRepository) FindConversation(ctx context.Context, participantIDs []string, serviceID string) (messaging.ConversationRecord, error) {
	var doc conversationDocument
	filter := bson.M{"pair_key": pairKey(participantIDs), "service_id": serviceID}
	if err := r.conversations.FindOne(ctx, filter).Decode(&doc); err != nil {
		return messaging.ConversationRecord{}, notFound(err)
	}
	return doc.toRecord(), nil
}

func (r *ChatRepository) ConversationsFor(ctx context.Context, participantID string) ([]messaging.ConversationRecord, error) {
	filter := bson.M{"participant_ids": participantID, "hidden_for": bson.M{"$ne": participantID}}
	cur, err := r.conversations.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []messaging.ConversationRecord
	for cur.Next(ctx) {
		var doc conversationDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toRecord())
	}
	return out, cur.Err()
}

func (r *ChatRepository) Hide(ctx context.Context, conversationID, participantID string) error {
	res, err := r.conversations.UpdateByID(ctx, conversationID, bson.M{"$addToSet": bson.M{"hidden_for": participantID}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func (r *ChatRepository) AppendMessage(ctx context.Context, msg chat.Message) error {
	if _, err := r.messages.InsertOne(ctx, newMessageDocument(msg)); err != nil {
		return err
	}
	at := msg.CreatedAt.UnixMilli()
	res, err := r.conversations.UpdateByID(ctx, msg.ConversationID, bson.M{
		"$set": bson.M{"hidden_for": bson.A{}},
		"$max": bson.M{"updated_at": at},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return chat.ErrNotFound
	}
	// only a message at least as new as the current summary replaces it
	filter := bson.M{
		"_id": msg.ConversationID,
		"$or": bson.A{
			bson.M{"last_message": nil},
			bson.M{"last_message.created_at": bson.M{"$lte": at}},
		},
	}
	_, err = r.conversations.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"last_message": newLastMessageDocument(msg.Summary())}})
	return err
}

func (r *ChatRepository) Messages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	cur, err := r.messages.Find(ctx, bson.M{"conversation_id": conversationID}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []chat.Message
	for cur.Next(ctx) {
		var doc messageDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toMessage())
	}
	return out, cur.Err()
}

func (r *ChatRepository) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error) {
	ms := at.UnixMilli()
	res, err := r.messages.UpdateMany(ctx, unreadFilter(conversationID, readerID), bson.M{"$set": bson.M{"read_at": ms}})
	if err != nil {
		return 0, err
	}
	if res.ModifiedCount > 0 {
		_, err = r.conversations.UpdateOne(ctx, bson.M{
			"_id":                     conversationID,
			"last_message.sender_id":  bson.M{"$ne": readerID},
			"last_message.read_at":    nil,
			"last_message.created_at": bson.M{"$lte": ms},
		}, bson.M{"$set": bson.M{"last_message.read_at": ms}})
		if err != nil {
			return 0, err
		}
	}
	return int(res.ModifiedCount), nil
}

func (r *ChatRepository) CountUnread(ctx context.Context, conversationID, readerID string) (int, error) {
	n, err := r.messages.CountDocuments(ctx, unreadFilter(conversationID, readerID))
	return int(n), err
}

func unreadFilter(conversationID, readerID string) bson.M {
	return bson.M{"conversation_id": conversationID, "sender_id": bson.M{"$ne": readerID}, "read_at": nil}
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.ErrNotFound
	}
	return err
}

func pairKey(participantIDs []string) string {
	return strings.Join(messaging.NormalizeParticipants(participantIDs), "|")
}

type participantDocument struct {
	ID          string `bson:"_id"`
	DisplayName string `bson:"display_name"`
	AvatarURL   string `bson:"avatar_url,omitempty"`
	LastSeenAt  *int64 `bson:"last_seen_at,omitempty"`
}

type serviceDocument struct {
	ID   string `bson:"_id"`
	Name string `bson:"name"`
}

type lastMessageDocument struct {
	ID        string `bson:"id"`
	Content   string `bson:"content"`
	SenderID  string `bson:"sender_id"`
	CreatedAt int64  `bson:"created_at"`
	ReadAt    *int64 `bson:"read_at"`
}

type conversationDocument struct {
	ID             string               `bson:"_id"`
	ParticipantIDs []string             `bson:"participant_ids"`
	PairKey        string               `bson:"pair_key"`
	ServiceID      string               `bson:"service_id"`
	LastMessage    *lastMessageDocument `bson:"last_message"`
	HiddenFor      []string             `bson:"hidden_for"`
	CreatedAt      int64                `bson:"created_at"`
	UpdatedAt      int64                `bson:"updated_at"`
}

type messageDocument struct {
	ID             string `bson:"_id"`
	ConversationID string `bson:"conversation_id"`
	SenderID       string `bson:"sender_id"`
	Content        string `bson:"content"`
	CreatedAt      int64  `bson:"created_at"`
	ReadAt         *int64 `bson:"read_at"`
}

func newConversationDocument(rec messaging.ConversationRecord) conversationDocument {
	hidden := rec.HiddenFor
	if hidden == nil {
		hidden = []string{}
	}
	return conversationDocument{
		ID:             rec.ID,
		ParticipantIDs: messaging.NormalizeParticipants(rec.ParticipantIDs),
		PairKey:        pairKey(rec.ParticipantIDs),
		ServiceID:      rec.ServiceID,
		LastMessage:    newLastMessageDocument(rec.LastMessage),
		HiddenFor:      hidden,
		CreatedAt:      rec.CreatedAt.UnixMilli(),
		UpdatedAt:      rec.UpdatedAt.UnixMilli(),
	}
}

func (d conversationDocument) toRecord() messaging.ConversationRecord {
	rec := messaging.ConversationRecord{
		ID:             d.ID,
		ParticipantIDs: append([]string(nil), d.ParticipantIDs...),
		ServiceID:      d.ServiceID,
		HiddenFor:      append([]string(nil), d.HiddenFor...),
		CreatedAt:      fromMillis(d.CreatedAt),
		UpdatedAt:      fromMillis(d.UpdatedAt),
	}
	if lm := d.LastMessage; lm != nil {
		rec.LastMessage = &chat.LastMessage{
			ID:        lm.ID,
			Content:   lm.Content,
			SenderID:  lm.SenderID,
			CreatedAt: fromMillis(lm.CreatedAt),
			ReadAt:    fromMillisPtr(lm.ReadAt),
		}
	}
	return rec
}

func newLastMessageDocument(lm *chat.LastMessage) *lastMessageDocument {
	if lm == nil {
		return nil
	}
	return &lastMessageDocument{
		ID:        lm.ID,
		Content:   lm.Content,
		SenderID:  lm.SenderID,
		CreatedAt: lm.CreatedAt.UnixMilli(),
		ReadAt:    toMillisPtr(lm.ReadAt),
	}
}

func newMessageDocument(m chat.Message) messageDocument {
	return messageDocument{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt.UnixMilli(),
		ReadAt:         toMillisPtr(m.ReadAt),
	}
}

func (d messageDocument) toMessage() chat.Message {
	return chat.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Content:        d.Content,
		CreatedAt:      fromMillis(d.CreatedAt),
		ReadAt:         fromMillisPtr(d.ReadAt),
	}
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func toMillisPtr(t *time.Time) *int64 {
	if t == nil || t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func fromMillisPtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

var _ messaging.Repository = (*ChatRepository)(nil)
