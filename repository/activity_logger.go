package repository

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/gorm"

	"outreach/models"
)

// GormActivityLogger writes activity lines to the activity_logs table.
type GormActivityLogger struct {
	db     *gorm.DB
	logger *logrus.Entry
}

func NewGormActivityLogger(db *gorm.DB, logger *logrus.Entry) *GormActivityLogger {
	return &GormActivityLogger{db: db, logger: logger}
}

func (l *GormActivityLogger) LogActivity(ctx context.Context, entry models.ActivityLog) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := l.db.WithContext(ctx).Create(&entry).Error; err != nil {
		l.logger.WithError(err).WithField("message", entry.Message).Warn("Failed to write activity log")
	}
}

// MongoActivityLogger writes activity lines to the logs collection.
type MongoActivityLogger struct {
	coll   *mongo.Collection
	logger *logrus.Entry
}

func NewMongoActivityLogger(db *mongo.Database, logger *logrus.Entry) *MongoActivityLogger {
	return &MongoActivityLogger{coll: db.Collection("logs"), logger: logger}
}

// EnsureIndexes creates the lookup index used by log viewers.
func (l *MongoActivityLogger) EnsureIndexes(ctx context.Context) error {
	_, err := l.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
		Options: options.Index().SetName("user_created"),
	})
	return err
}

func (l *MongoActivityLogger) LogActivity(ctx context.Context, entry models.ActivityLog) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]interface{}{}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := l.coll.InsertOne(ctx, entry); err != nil {
		l.logger.WithError(err).WithField("message", entry.Message).Warn("Failed to write activity log")
	}
}
