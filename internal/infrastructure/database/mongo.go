package database

import (
	"context"
	"log"
	"time"

	"accountanalytics/internal/config"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var Client *mongo.Client

// InitMongo 初始化 MongoDB 连接并创建索引
func InitMongo(cfg *config.MongoConfig) *mongo.Database {
	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetRetryWrites(true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.TimeoutSec)*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		log.Fatalf("连接 MongoDB 失败: %v", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		log.Fatalf("MongoDB ping 失败: %v", err)
	}

	db := client.Database(cfg.Database)

	if err := ensureIndexes(ctx, db.Collection(cfg.Collection)); err != nil {
		log.Fatalf("创建索引失败: %v", err)
	}

	Client = client
	log.Println("MongoDB 连接成功")
	return db
}

// ensureIndexes 创建查询面需要的二级索引
// 单字段索引覆盖范围/等值查询，复合索引覆盖模式+余额、账户+更新时间两类组合查询
func ensureIndexes(ctx context.Context, coll *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "totalBalance", Value: 1}}},
		{Keys: bson.D{{Key: "volatilityScore", Value: 1}}},
		{Keys: bson.D{{Key: "transactionCount", Value: 1}}},
		{Keys: bson.D{{Key: "spendingPattern", Value: 1}}},
		{Keys: bson.D{{Key: "primaryCategory", Value: 1}}},
		{Keys: bson.D{{Key: "lastTransactionDate", Value: 1}}},
		{Keys: bson.D{{Key: "lastUpdated", Value: 1}}},
		{Keys: bson.D{{Key: "spendingPattern", Value: 1}, {Key: "totalBalance", Value: 1}}},
		{Keys: bson.D{{Key: "accountId", Value: 1}, {Key: "lastUpdated", Value: 1}}},
	}

	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}

// CloseMongo 断开 MongoDB 连接
func CloseMongo(ctx context.Context) {
	if Client != nil {
		_ = Client.Disconnect(ctx)
	}
}
