package repository

import (
	"context"
	"time"

	"accountanalytics/internal/model"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AnalyticsRepository 聚合状态的权威存储（MongoDB）
// 文档以 accountId 为 _id，整篇文档原子替换，不做字段级增量更新 ——
// 折叠在内存中完成，落库的永远是一个完整且通过一致性校验的快照
type AnalyticsRepository struct {
	coll *mongo.Collection
}

func NewAnalyticsRepository(db *mongo.Database, collection string) *AnalyticsRepository {
	return &AnalyticsRepository{coll: db.Collection(collection)}
}

// GetByAccountID 按账户查询聚合状态，不存在时返回 (nil, nil)
func (r *AnalyticsRepository) GetByAccountID(ctx context.Context, accountID string) (*model.AccountAnalytics, error) {
	var doc analyticsDoc
	err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: accountID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}
	return doc.toModel()
}

// Upsert 以账户为 key 整篇替换，文档不存在时插入
func (r *AnalyticsRepository) Upsert(ctx context.Context, a *model.AccountAnalytics) error {
	doc, err := newAnalyticsDoc(a)
	if err != nil {
		return err
	}

	opts := options.Replace().SetUpsert(true)
	filter := bson.D{{Key: "_id", Value: a.AccountID}}

	if _, err := r.coll.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// ListByBalanceRange 余额范围查询
func (r *AnalyticsRepository) ListByBalanceRange(ctx context.Context, min, max decimal.Decimal, limit int64) ([]*model.AccountAnalytics, error) {
	lo, err := toDecimal128(min)
	if err != nil {
		return nil, err
	}
	hi, err := toDecimal128(max)
	if err != nil {
		return nil, err
	}

	filter := bson.D{{Key: "totalBalance", Value: bson.D{
		{Key: "$gte", Value: lo},
		{Key: "$lte", Value: hi},
	}}}

	return r.find(ctx, filter, options.Find().
		SetLimit(limit).
		SetSort(bson.D{{Key: "totalBalance", Value: -1}}))
}

// ListByVolatilityRange 波动率范围查询
func (r *AnalyticsRepository) ListByVolatilityRange(ctx context.Context, min, max decimal.Decimal, limit int64) ([]*model.AccountAnalytics, error) {
	lo, err := toDecimal128(min)
	if err != nil {
		return nil, err
	}
	hi, err := toDecimal128(max)
	if err != nil {
		return nil, err
	}

	filter := bson.D{{Key: "volatilityScore", Value: bson.D{
		{Key: "$gte", Value: lo},
		{Key: "$lte", Value: hi},
	}}}

	return r.find(ctx, filter, options.Find().
		SetLimit(limit).
		SetSort(bson.D{{Key: "volatilityScore", Value: -1}}))
}

// ListByPattern 按消费模式查询，minBalance 非空时叠加余额下限
// 与 (spendingPattern, totalBalance) 复合索引对应
func (r *AnalyticsRepository) ListByPattern(ctx context.Context, pattern string, minBalance *decimal.Decimal, limit int64) ([]*model.AccountAnalytics, error) {
	filter := bson.D{{Key: "spendingPattern", Value: pattern}}
	if minBalance != nil {
		lo, err := toDecimal128(*minBalance)
		if err != nil {
			return nil, err
		}
		filter = append(filter, bson.E{Key: "totalBalance", Value: bson.D{{Key: "$gte", Value: lo}}})
	}

	return r.find(ctx, filter, options.Find().
		SetLimit(limit).
		SetSort(bson.D{{Key: "totalBalance", Value: -1}}))
}

// ListByCategory 按主要消费类别查询
func (r *AnalyticsRepository) ListByCategory(ctx context.Context, category string, limit int64) ([]*model.AccountAnalytics, error) {
	filter := bson.D{{Key: "primaryCategory", Value: category}}
	return r.find(ctx, filter, options.Find().SetLimit(limit))
}

// ListUpdatedSince 查询某时间点之后更新过的账户
func (r *AnalyticsRepository) ListUpdatedSince(ctx context.Context, since time.Time, limit int64) ([]*model.AccountAnalytics, error) {
	filter := bson.D{{Key: "lastUpdated", Value: bson.D{{Key: "$gte", Value: since}}}}
	return r.find(ctx, filter, options.Find().
		SetLimit(limit).
		SetSort(bson.D{{Key: "lastUpdated", Value: -1}}))
}

func (r *AnalyticsRepository) find(ctx context.Context, filter bson.D, opts *options.FindOptions) ([]*model.AccountAnalytics, error) {
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer cursor.Close(ctx)

	var result []*model.AccountAnalytics
	for cursor.Next(ctx) {
		var doc analyticsDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.WithStack(err)
		}
		a, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	return result, nil
}
