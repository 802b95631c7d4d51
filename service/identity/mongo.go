package identity

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

const (
	employeesCollection    = "employees"
	recognitionsCollection = "recognitions"
	mongoConnectTimeout    = 10 * time.Second
)

// mongoDirectory stores identities as employee documents and appends one
// recognition document per match.
type mongoDirectory struct {
	client       *mongo.Client
	employees    *mongo.Collection
	recognitions *mongo.Collection
}

func NewMongo(ctx context.Context, uri, database string) (Directory, error) {
	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, xerrors.Errorf("connecting to mongo: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, xerrors.Errorf("pinging mongo: %w", err)
	}

	db := client.Database(database)
	employees := db.Collection(employeesCollection)

	_, err = employees.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "employee_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		lgr.Logger.Warn("unable to ensure employee index", slog.Any("error", err))
	}

	lgr.Logger.Info("connected to mongo identity store",
		slog.String("database", database),
	)

	return &mongoDirectory{
		client:       client,
		employees:    employees,
		recognitions: db.Collection(recognitionsCollection),
	}, nil
}

func (d *mongoDirectory) ListKnownIdentities(ctx context.Context) ([]model.Identity, error) {
	cursor, err := d.employees.Find(ctx, bson.D{})
	if err != nil {
		return nil, xerrors.Errorf("finding employees: %w", err)
	}

	var identities []model.Identity
	if err := cursor.All(ctx, &identities); err != nil {
		return nil, xerrors.Errorf("decoding employees: %w", err)
	}

	return identities, nil
}

func (d *mongoDirectory) RecordMatch(ctx context.Context, recognition model.Recognition) error {
	if recognition.Status == "" {
		recognition.Status = model.RecognitionSuccess
	}

	if _, err := d.recognitions.InsertOne(ctx, recognition); err != nil {
		return xerrors.Errorf("inserting recognition for %s: %w", recognition.IdentityID, err)
	}
	return nil
}

func (d *mongoDirectory) Enroll(ctx context.Context, identity model.Identity) error {
	_, err := d.employees.UpdateOne(ctx,
		bson.D{{Key: "employee_id", Value: identity.ID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "name", Value: identity.Name},
			{Key: "face_encoding", Value: identity.Embedding},
		}}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return xerrors.Errorf("upserting employee %s: %w", identity.ID, err)
	}
	return nil
}

func (d *mongoDirectory) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}
