package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"guitar-practice/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	referenceSongsCollection  = "reference_songs"
	userSongsCollection       = "user_songs"
	practiceResultsCollection = "practice_results"
)

type MongoClient struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoClient(uri, dbName string) (*MongoClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to MongoDB: %s", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("error pinging MongoDB: %s", err)
	}

	return &MongoClient{client: client, db: client.Database(dbName)}, nil
}

func (m *MongoClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func newDocumentID() string {
	return primitive.NewObjectID().Hex()
}

func (m *MongoClient) CreateReferenceSong(ctx context.Context, song *models.ReferenceSong) (string, error) {
	if song.ID == "" {
		song.ID = newDocumentID()
	}
	if song.CreatedAt.IsZero() {
		song.CreatedAt = time.Now()
	}

	_, err := m.db.Collection(referenceSongsCollection).InsertOne(ctx, song)
	if err != nil {
		return "", fmt.Errorf("error inserting reference song: %s", err)
	}
	return song.ID, nil
}

func (m *MongoClient) GetReferenceSong(ctx context.Context, id string) (*models.ReferenceSong, error) {
	var song models.ReferenceSong
	err := m.db.Collection(referenceSongsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&song)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error loading reference song: %s", err)
	}
	return &song, nil
}

func (m *MongoClient) ListReferenceSongs(ctx context.Context, activeOnly bool) ([]models.ReferenceSong, error) {
	filter := bson.M{}
	if activeOnly {
		filter["isActive"] = true
	}

	cursor, err := m.db.Collection(referenceSongsCollection).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("error listing reference songs: %s", err)
	}
	defer cursor.Close(ctx)

	var songs []models.ReferenceSong
	if err := cursor.All(ctx, &songs); err != nil {
		return nil, fmt.Errorf("error decoding reference songs: %s", err)
	}
	return songs, nil
}

func (m *MongoClient) DeleteReferenceSong(ctx context.Context, id string) error {
	_, err := m.db.Collection(referenceSongsCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("error deleting reference song: %s", err)
	}
	return nil
}

func (m *MongoClient) IncrementReferenceUsage(ctx context.Context, id string) error {
	_, err := m.db.Collection(referenceSongsCollection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"usageCount": 1}},
	)
	if err != nil {
		return fmt.Errorf("error incrementing usage count: %s", err)
	}
	return nil
}

func (m *MongoClient) CreateUserSong(ctx context.Context, song *models.UserSong) (string, error) {
	if song.ID == "" {
		song.ID = newDocumentID()
	}
	if song.CreatedAt.IsZero() {
		song.CreatedAt = time.Now()
	}

	_, err := m.db.Collection(userSongsCollection).InsertOne(ctx, song)
	if err != nil {
		return "", fmt.Errorf("error inserting user song: %s", err)
	}
	return song.ID, nil
}

func (m *MongoClient) GetUserSong(ctx context.Context, id string) (*models.UserSong, error) {
	var song models.UserSong
	err := m.db.Collection(userSongsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&song)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error loading user song: %s", err)
	}
	return &song, nil
}

func (m *MongoClient) ListUserSongs(ctx context.Context, ownerID string) ([]models.UserSong, error) {
	cursor, err := m.db.Collection(userSongsCollection).Find(ctx,
		bson.M{"ownerId": ownerID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("error listing user songs: %s", err)
	}
	defer cursor.Close(ctx)

	var songs []models.UserSong
	if err := cursor.All(ctx, &songs); err != nil {
		return nil, fmt.Errorf("error decoding user songs: %s", err)
	}
	return songs, nil
}

func (m *MongoClient) UpdateUserSongComparison(ctx context.Context, id string, result json.RawMessage, referenceSongID string) error {
	set := bson.M{"lastComparisonResult": result}
	if referenceSongID != "" {
		set["referenceSongId"] = referenceSongID
	}

	res, err := m.db.Collection(userSongsCollection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set": set,
			"$inc": bson.M{"comparisonCount": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("error updating user song comparison: %s", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("user song not found: %s", id)
	}
	return nil
}

func (m *MongoClient) DeleteUserSong(ctx context.Context, id string) error {
	_, err := m.db.Collection(userSongsCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("error deleting user song: %s", err)
	}
	return nil
}

func (m *MongoClient) SavePracticeResult(ctx context.Context, result *models.PracticeResult) (string, error) {
	if result.ID == "" {
		result.ID = newDocumentID()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}

	_, err := m.db.Collection(practiceResultsCollection).InsertOne(ctx, result)
	if err != nil {
		return "", fmt.Errorf("error inserting practice result: %s", err)
	}
	return result.ID, nil
}

func (m *MongoClient) ListPracticeResults(ctx context.Context, userID string, limit int64, lessonID string) ([]models.PracticeResult, error) {
	filter := bson.M{"userId": userID}
	if lessonID != "" {
		filter["lessonId"] = lessonID
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := m.db.Collection(practiceResultsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing practice results: %s", err)
	}
	defer cursor.Close(ctx)

	var results []models.PracticeResult
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("error decoding practice results: %s", err)
	}
	return results, nil
}

func (m *MongoClient) ListPracticeAudio(ctx context.Context, userID string) ([]models.PracticeResult, error) {
	cursor, err := m.db.Collection(practiceResultsCollection).Find(ctx,
		bson.M{
			"userId":         userID,
			"audio.publicId": bson.M{"$exists": true, "$ne": ""},
		},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("error listing practice audio: %s", err)
	}
	defer cursor.Close(ctx)

	var results []models.PracticeResult
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("error decoding practice audio: %s", err)
	}
	return results, nil
}

func (m *MongoClient) DeletePracticeResult(ctx context.Context, id string) error {
	_, err := m.db.Collection(practiceResultsCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("error deleting practice result: %s", err)
	}
	return nil
}
