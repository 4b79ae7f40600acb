// Package mongorepo stores the board in MongoDB using the document layout of
// the "kanban" database: tasks, history_logs and audit_logs collections with
// camelCase fields.
package mongorepo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"taskboard/internal/domain"
	"taskboard/internal/repo"
)

const (
	DefaultDatabase = "kanban"

	tasksCollection   = "tasks"
	historyCollection = "history_logs"
	auditCollection   = "audit_logs"
)

type Store struct {
	client  *mongo.Client
	tasks   *mongo.Collection
	history *mongo.Collection
	audit   *mongo.Collection
}

var _ repo.Store = (*Store)(nil)

// Connect dials uri, pings the server and ensures the task id index.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		database = DefaultDatabase
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(database)
	s := &Store{
		client:  client,
		tasks:   db.Collection(tasksCollection),
		history: db.Collection(historyCollection),
		audit:   db.Collection(auditCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.tasks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("create task id index: %w", err)
	}
	if _, err := s.history.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "taskId", Value: 1}, {Key: "timestamp", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create history indexes: %w", err)
	}
	return nil
}

type taskDoc struct {
	ID                  string  `bson:"id"`
	Content             string  `bson:"content"`
	Username            string  `bson:"username"`
	Column              string  `bson:"column"`
	CreatedAt           string  `bson:"createdAt"`
	InProgressAt        *string `bson:"inProgressAt,omitempty"`
	EstimatedCompletion *string `bson:"estimatedCompletion,omitempty"`
	DoneAt              *string `bson:"doneAt,omitempty"`
}

func (d taskDoc) task() domain.Task {
	return domain.Task{
		ID:                  d.ID,
		Content:             d.Content,
		Username:            d.Username,
		Column:              domain.Column(d.Column),
		CreatedAt:           d.CreatedAt,
		InProgressAt:        d.InProgressAt,
		EstimatedCompletion: d.EstimatedCompletion,
		DoneAt:              d.DoneAt,
	}
}

type historyDoc struct {
	TaskID      string `bson:"taskId,omitempty"`
	TaskContent string `bson:"taskContent,omitempty"`
	ActionBy    string `bson:"actionBy"`
	TaskOwner   string `bson:"taskOwner,omitempty"`
	Action      string `bson:"action"`
	Timestamp   string `bson:"timestamp"`
}

func (d historyDoc) entry() domain.HistoryEntry {
	return domain.HistoryEntry{
		TaskID:      d.TaskID,
		TaskContent: d.TaskContent,
		ActionBy:    d.ActionBy,
		TaskOwner:   d.TaskOwner,
		Action:      d.Action,
		Timestamp:   d.Timestamp,
	}
}

type auditDoc struct {
	Username  string         `bson:"username"`
	Action    string         `bson:"action"`
	IP        string         `bson:"ip"`
	Timestamp string         `bson:"timestamp"`
	Extra     map[string]any `bson:"extra,omitempty"`
}

func (s *Store) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := s.tasks.InsertOne(ctx, taskDoc{
		ID:                  t.ID,
		Content:             t.Content,
		Username:            t.Username,
		Column:              string(t.Column),
		CreatedAt:           t.CreatedAt,
		InProgressAt:        t.InProgressAt,
		EstimatedCompletion: t.EstimatedCompletion,
		DoneAt:              t.DoneAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return repo.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var d taskDoc
	err := s.tasks.FindOne(ctx, bson.M{"id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Task{}, repo.ErrNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	return d.task(), nil
}

// UsernameFilter matches username exactly, ignoring case.
func UsernameFilter(username string) bson.M {
	return bson.M{"username": bson.M{
		"$regex":   "^" + regexp.QuoteMeta(username) + "$",
		"$options": "i",
	}}
}

func (s *Store) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	filter := bson.M{}
	if f.Username != "" {
		filter = UsernameFilter(f.Username)
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "id", Value: -1}})
	cur, err := s.tasks.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	res := []domain.Task{}
	for cur.Next(ctx) {
		var d taskDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		res = append(res, d.task())
	}
	return res, cur.Err()
}

// UpdateDocument converts u into a $set / $unset update.
func UpdateDocument(u repo.TaskUpdate) bson.M {
	set := bson.M{}
	unset := bson.M{}
	if u.Content != nil {
		set["content"] = *u.Content
	}
	if u.Username != nil {
		set["username"] = *u.Username
	}
	if u.Column != nil {
		set["column"] = string(*u.Column)
	}
	if u.CreatedAt != nil {
		set["createdAt"] = *u.CreatedAt
	}
	for key, f := range map[string]repo.Field{
		"inProgressAt":        u.InProgressAt,
		"estimatedCompletion": u.EstimatedCompletion,
		"doneAt":              u.DoneAt,
	} {
		switch {
		case !f.Set:
		case f.Value == nil:
			unset[key] = ""
		default:
			set[key] = *f.Value
		}
	}
	doc := bson.M{}
	if len(set) > 0 {
		doc["$set"] = set
	}
	if len(unset) > 0 {
		doc["$unset"] = unset
	}
	return doc
}

func (s *Store) UpdateTask(ctx context.Context, id string, u repo.TaskUpdate) error {
	if u.Empty() {
		_, err := s.GetTask(ctx, id)
		return err
	}
	res, err := s.tasks.UpdateOne(ctx, bson.M{"id": id}, UpdateDocument(u))
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if res.MatchedCount == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.tasks.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if res.DeletedCount == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) InsertHistory(ctx context.Context, e domain.HistoryEntry) (domain.HistoryEntry, error) {
	_, err := s.history.InsertOne(ctx, historyDoc{
		TaskID:      e.TaskID,
		TaskContent: e.TaskContent,
		ActionBy:    e.ActionBy,
		TaskOwner:   e.TaskOwner,
		Action:      e.Action,
		Timestamp:   e.Timestamp,
	})
	if err != nil {
		return e, fmt.Errorf("insert history: %w", err)
	}
	return e, nil
}

func (s *Store) LatestHistory(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findHistory(ctx, bson.M{}, opts)
}

func (s *Store) TaskHistory(ctx context.Context, taskIDs []string) (map[string][]domain.HistoryEntry, error) {
	out := make(map[string][]domain.HistoryEntry, len(taskIDs))
	if len(taskIDs) == 0 {
		return out, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	entries, err := s.findHistory(ctx, bson.M{"taskId": bson.M{"$in": taskIDs}}, opts)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		out[e.TaskID] = append(out[e.TaskID], e)
	}
	return out, nil
}

func (s *Store) findHistory(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]domain.HistoryEntry, error) {
	cur, err := s.history.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	res := []domain.HistoryEntry{}
	for cur.Next(ctx) {
		var d historyDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		res = append(res, d.entry())
	}
	return res, cur.Err()
}

func (s *Store) ClearHistory(ctx context.Context) (int64, error) {
	res, err := s.history.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) InsertAudit(ctx context.Context, e domain.AuditEntry) error {
	_, err := s.audit.InsertOne(ctx, auditDoc{
		Username:  e.Username,
		Action:    e.Action,
		IP:        e.IP,
		Timestamp: e.Timestamp,
		Extra:     e.Extra,
	})
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (s *Store) LatestAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.audit.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	res := []domain.AuditEntry{}
	for cur.Next(ctx) {
		var d auditDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		res = append(res, domain.AuditEntry{
			Username:  d.Username,
			Action:    d.Action,
			IP:        d.IP,
			Timestamp: d.Timestamp,
			Extra:     d.Extra,
		})
	}
	return res, cur.Err()
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
