package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"wattsup/internal/domain"
)

const (
	skPrefixTurn  = "TURN#"
	skPrediction  = "PREDICTION"
	defaultTTL    = 24 * time.Hour
	maxTurnsPerTx = 100
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client keeps per-session chat turns and the latest bill prediction in a
// single DynamoDB table. Items expire after the session TTL.
type Client struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// New creates a new repository Client. A non-positive ttl uses 24 hours.
func New(api dynamodbAPI, tableName string, ttl time.Duration) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Client{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// turnSK orders turns by time, then by position within one append.
func turnSK(ts time.Time, seq int) string {
	return fmt.Sprintf("%s%s#%03d", skPrefixTurn, ts.UTC().Format("2006-01-02T15:04:05.000000000Z"), seq)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(c.ttl).Unix()
}

// AppendTurns writes turns atomically, in order, after any existing history.
func (c *Client) AppendTurns(ctx context.Context, sessionID string, turns ...domain.ConversationTurn) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: AppendTurns: session id is required")
	}
	if len(turns) == 0 {
		return nil
	}
	if len(turns) > maxTurnsPerTx {
		return fmt.Errorf("repository: AppendTurns: %d turns exceeds %d per call", len(turns), maxTurnsPerTx)
	}

	now := c.now()
	ttl := c.ttlValue()
	items := make([]types.TransactWriteItem, 0, len(turns))
	for i, turn := range turns {
		if turn.CreatedAt.IsZero() {
			turn.CreatedAt = now
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                turnItem(sessionID, turnSK(now, i), turn, ttl),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: AppendTurns: %w", err)
	}
	return nil
}

// GetHistory returns up to limit of the most recent turns in chronological
// order. A non-positive limit returns the whole session.
func (c *Client) GetHistory(ctx context.Context, sessionID string, limit int) ([]domain.ConversationTurn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	var turns []domain.ConversationTurn
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: GetHistory query: %w", err)
		}
		for _, item := range out.Items {
			turn, err := itemToTurn(item)
			if err != nil {
				return nil, fmt.Errorf("repository: GetHistory unmarshal: %w", err)
			}
			turns = append(turns, turn)
		}
		if limit > 0 || len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}

	// Reverse to chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SavePrediction replaces the session's latest prediction.
func (c *Client) SavePrediction(ctx context.Context, sessionID string, p domain.TrendPrediction) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: SavePrediction: session id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      predictionItem(sessionID, p, c.ttlValue()),
	})
	if err != nil {
		return fmt.Errorf("repository: SavePrediction: %w", err)
	}
	return nil
}

// GetPrediction returns the session's latest prediction, if any.
func (c *Client) GetPrediction(ctx context.Context, sessionID string) (domain.TrendPrediction, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skPrediction},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.TrendPrediction{}, false, fmt.Errorf("repository: GetPrediction get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.TrendPrediction{}, false, nil
	}

	p, err := itemToPrediction(out.Item)
	if err != nil {
		return domain.TrendPrediction{}, false, fmt.Errorf("repository: GetPrediction decode: %w", err)
	}
	return p, true, nil
}

func turnItem(sessionID, sk string, turn domain.ConversationTurn, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":        &types.AttributeValueMemberS{Value: sk},
		"sessionId": &types.AttributeValueMemberS{Value: sessionID},
		"role":      &types.AttributeValueMemberS{Value: string(turn.Role)},
		"text":      &types.AttributeValueMemberS{Value: turn.Text},
		"createdAt": &types.AttributeValueMemberS{Value: turn.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

// itemToTurn converts a DynamoDB attribute map to a ConversationTurn.
func itemToTurn(item map[string]types.AttributeValue) (domain.ConversationTurn, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	if role != string(domain.RoleUser) && role != string(domain.RoleAssistant) {
		return domain.ConversationTurn{}, fmt.Errorf("repository: unknown role %q", role)
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	turn := domain.ConversationTurn{Role: domain.Role(role), Text: text}
	if created, err := strAttr(item, "createdAt"); err == nil {
		if ts, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
			turn.CreatedAt = ts
		}
	}
	return turn, nil
}

func predictionItem(sessionID string, p domain.TrendPrediction, ttl int64) map[string]types.AttributeValue {
	readings := make([]types.AttributeValue, 0, len(p.Readings))
	for _, r := range p.Readings {
		readings = append(readings, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"units": &types.AttributeValueMemberN{Value: formatFloat(r.Units)},
			"bill":  &types.AttributeValueMemberN{Value: formatFloat(r.Bill)},
		}})
	}
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":             &types.AttributeValueMemberS{Value: skPrediction},
		"sessionId":      &types.AttributeValueMemberS{Value: sessionID},
		"predictedUnits": &types.AttributeValueMemberN{Value: strconv.Itoa(p.PredictedUnits)},
		"predictedBill":  &types.AttributeValueMemberN{Value: formatFloat(p.PredictedBill)},
		"readings":       &types.AttributeValueMemberL{Value: readings},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

func itemToPrediction(item map[string]types.AttributeValue) (domain.TrendPrediction, error) {
	units, err := intAttr(item, "predictedUnits")
	if err != nil {
		return domain.TrendPrediction{}, err
	}
	bill, err := floatAttr(item, "predictedBill")
	if err != nil {
		return domain.TrendPrediction{}, err
	}
	p := domain.TrendPrediction{PredictedUnits: units, PredictedBill: bill}

	list, ok := item["readings"].(*types.AttributeValueMemberL)
	if !ok {
		return p, nil
	}
	for i, v := range list.Value {
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return domain.TrendPrediction{}, fmt.Errorf("repository: reading %d is not a map", i)
		}
		u, err := floatAttr(m.Value, "units")
		if err != nil {
			return domain.TrendPrediction{}, err
		}
		b, err := floatAttr(m.Value, "bill")
		if err != nil {
			return domain.TrendPrediction{}, err
		}
		p.Readings = append(p.Readings, domain.HistoricalReading{Units: u, Bill: b})
	}
	return p, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func numAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a number", key)
	}
	return n.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	raw, err := numAttr(item, key)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func floatAttr(item map[string]types.AttributeValue, key string) (float64, error) {
	raw, err := numAttr(item, key)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
