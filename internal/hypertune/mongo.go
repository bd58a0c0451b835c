// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hypertune

import (
	"context"
	"time"

	"github.com/gomlx/foodclassifier/internal/runerr"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"k8s.io/klog/v2"
)

// MongoTimeout bounds connecting to MongoDB and each insert.
const MongoTimeout = 5 * time.Second

// MongoSink inserts one document per metric in a MongoDB collection, for tuning controllers that keep their
// trials there.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
}

var _ Sink = (*MongoSink)(nil)

// NewMongoSink connects to the MongoDB at uri, and checks the connection with a ping.
func NewMongoSink(ctx context.Context, uri, database, collection string) (*MongoSink, error) {
	if uri == "" || database == "" || collection == "" {
		return nil, errors.Wrap(runerr.ErrConfig, "MongoDB sink requires the URI, database and collection")
	}
	connectCtx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrapf(runerr.ErrStorage, "connecting to MongoDB: %v", err)
	}
	if err = client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrapf(runerr.ErrStorage, "pinging MongoDB: %v", err)
	}
	klog.V(1).Infof("hypertune: connected to MongoDB, reporting to %s.%s", database, collection)
	return &MongoSink{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// Write implements Sink.
func (s *MongoSink) Write(ctx context.Context, m Metric) error {
	ctx, cancel := context.WithTimeout(ctx, MongoTimeout)
	defer cancel()
	_, err := s.collection.InsertOne(ctx, metricDocument(m))
	if err != nil {
		return errors.Wrapf(runerr.ErrStorage, "inserting metric in MongoDB: %v", err)
	}
	return nil
}

func metricDocument(m Metric) bson.M {
	return bson.M{
		"trial":           m.Trial,
		"tag":             m.Tag,
		"value":           m.Value,
		"global_step":     m.GlobalStep,
		"timestamp":       m.Timestamp,
		"checkpoint_path": m.CheckpointPath,
	}
}

// Close implements Sink.
func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
