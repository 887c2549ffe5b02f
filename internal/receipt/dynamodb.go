package receipt

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// DefaultUserIndex is the global secondary index keyed on user and date
const DefaultUserIndex = "user-index"

// Open bounds for date range queries on the index sort key
const (
	minDate = "0001-01-01"
	maxDate = "9999-12-31"
)

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoDB
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoDB implements the DB interface on a DynamoDB table keyed by receipt_id
type DynamoDB struct {
	client DynamoDBAPI
	table  string
	index  string
}

// NewDynamoDB creates a DynamoDB store. An empty index uses DefaultUserIndex.
func NewDynamoDB(client DynamoDBAPI, table string, index string) *DynamoDB {
	if index == "" {
		index = DefaultUserIndex
	}
	return &DynamoDB{client: client, table: table, index: index}
}

// amount stores a decimal as a DynamoDB number without float conversion
type amount decimal.Decimal

func (a amount) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: decimal.Decimal(a).String()}, nil
}

func (a *amount) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		*a = amount(decimal.Zero)
		return nil
	default:
		return fmt.Errorf("unsupported amount attribute %T", av)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("parsing amount %q: %w", raw, err)
	}
	*a = amount(d)
	return nil
}

type dynamoItem struct {
	Description string `dynamodbav:"description"`
	Price       amount `dynamodbav:"price"`
}

type dynamoReceipt struct {
	ReceiptID   string       `dynamodbav:"receipt_id"`
	User        string       `dynamodbav:"user"`
	Date        string       `dynamodbav:"date"`
	Vendor      string       `dynamodbav:"vendor"`
	Category    string       `dynamodbav:"category"`
	Status      string       `dynamodbav:"status"`
	Total       amount       `dynamodbav:"total"`
	Items       []dynamoItem `dynamodbav:"items"`
	Filename    string       `dynamodbav:"filename"`
	ContentType string       `dynamodbav:"content_type"`
	CreatedAt   time.Time    `dynamodbav:"created_at"`
	UpdatedAt   time.Time    `dynamodbav:"updated_at"`
}

func toDynamo(r *Receipt) dynamoReceipt {
	items := make([]dynamoItem, len(r.Items))
	for i, item := range r.Items {
		items[i] = dynamoItem{Description: item.Description, Price: amount(item.Price)}
	}
	return dynamoReceipt{
		ReceiptID:   r.ID,
		User:        r.UserID,
		Date:        r.DateString(),
		Vendor:      r.Vendor,
		Category:    r.Category,
		Status:      string(r.Status),
		Total:       amount(r.Total),
		Items:       items,
		Filename:    r.Filename,
		ContentType: r.ContentType,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func fromDynamo(d dynamoReceipt) (*Receipt, error) {
	date, err := time.Parse(DateLayout, d.Date)
	if err != nil {
		return nil, fmt.Errorf("parsing date of receipt %s: %w", d.ReceiptID, err)
	}
	items := make([]Item, len(d.Items))
	for i, item := range d.Items {
		items[i] = Item{Description: item.Description, Price: decimal.Decimal(item.Price)}
	}
	return &Receipt{
		ID:          d.ReceiptID,
		UserID:      d.User,
		Vendor:      d.Vendor,
		Date:        date,
		Category:    d.Category,
		Status:      Status(d.Status),
		Total:       decimal.Decimal(d.Total),
		Items:       items,
		Filename:    d.Filename,
		ContentType: d.ContentType,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

func (d *DynamoDB) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"receipt_id": &types.AttributeValueMemberS{Value: id},
	}
}

// SaveReceipt puts the receipt item, replacing any previous version
func (d *DynamoDB) SaveReceipt(ctx context.Context, receipt *Receipt) error {
	item, err := attributevalue.MarshalMap(toDynamo(receipt))
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("putting receipt %s: %w", receipt.ID, err)
	}
	return nil
}

// GetReceipt retrieves a receipt by ID
func (d *DynamoDB) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key:       d.key(id),
	})
	if err != nil {
		return nil, fmt.Errorf("getting receipt %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var item dynamoReceipt
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling receipt: %w", err)
	}
	return fromDynamo(item)
}

func dateBounds(start, end time.Time) (string, string) {
	from, to := minDate, maxDate
	if !start.IsZero() {
		from = start.Format(DateLayout)
	}
	if !end.IsZero() {
		to = end.Format(DateLayout)
	}
	return from, to
}

// ListReceipts queries the user index between the date bounds. Without a
// user it falls back to a filtered table scan.
func (d *DynamoDB) ListReceipts(ctx context.Context, userID string, start, end time.Time) ([]*Receipt, error) {
	from, to := dateBounds(start, end)

	var items []map[string]types.AttributeValue
	if userID != "" {
		keyCond := expression.Key("user").Equal(expression.Value(userID)).
			And(expression.Key("date").Between(expression.Value(from), expression.Value(to)))
		expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
		if err != nil {
			return nil, fmt.Errorf("building query: %w", err)
		}

		input := &dynamodb.QueryInput{
			TableName:                 aws.String(d.table),
			IndexName:                 aws.String(d.index),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}
		for {
			out, err := d.client.Query(ctx, input)
			if err != nil {
				return nil, fmt.Errorf("querying receipts for %s: %w", userID, err)
			}
			items = append(items, out.Items...)
			if len(out.LastEvaluatedKey) == 0 {
				break
			}
			input.ExclusiveStartKey = out.LastEvaluatedKey
		}
	} else {
		filter := expression.Name("date").Between(expression.Value(from), expression.Value(to))
		expr, err := expression.NewBuilder().WithFilter(filter).Build()
		if err != nil {
			return nil, fmt.Errorf("building scan: %w", err)
		}

		input := &dynamodb.ScanInput{
			TableName:                 aws.String(d.table),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}
		for {
			out, err := d.client.Scan(ctx, input)
			if err != nil {
				return nil, fmt.Errorf("scanning receipts: %w", err)
			}
			items = append(items, out.Items...)
			if len(out.LastEvaluatedKey) == 0 {
				break
			}
			input.ExclusiveStartKey = out.LastEvaluatedKey
		}
	}

	var rows []dynamoReceipt
	if err := attributevalue.UnmarshalListOfMaps(items, &rows); err != nil {
		return nil, fmt.Errorf("unmarshaling receipts: %w", err)
	}

	receipts := make([]*Receipt, 0, len(rows))
	for _, row := range rows {
		receipt, err := fromDynamo(row)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	sortReceipts(receipts)
	return receipts, nil
}

// DeleteReceipt removes a receipt item
func (d *DynamoDB) DeleteReceipt(ctx context.Context, id string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       d.key(id),
	})
	if err != nil {
		return fmt.Errorf("deleting receipt %s: %w", id, err)
	}
	return nil
}

// Close is a no-op; the client holds no connection
func (d *DynamoDB) Close() error {
	return nil
}
